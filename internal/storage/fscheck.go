package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/shirou/gopsutil/v4/disk"
)

var networkFilesystems = map[string]struct{}{
	"afpfs":      {},
	"cifs":       {},
	"smb3":       {},
	"nfs":        {},
	"nfs4":       {},
	"smbfs":      {},
	"smb2":       {},
	"webdav":     {},
	"davfs":      {},
	"fuse.sshfs": {},
}

// validateSQLiteFilesystem ensures the settings database lives on a local
// filesystem.
func validateSQLiteFilesystem(path string) error {
	return validateSQLiteFilesystemWithDetector(path, detectFilesystemType)
}

func validateSQLiteFilesystemWithDetector(path string, detector func(string) (string, error)) error {
	if path == "" {
		return fmt.Errorf("sqlite path is empty")
	}

	inspectPath, err := nearestExistingPath(path)
	if err != nil {
		return fmt.Errorf("resolve state.path %q: %w", path, err)
	}

	fsType, err := detector(inspectPath)
	if err != nil {
		return fmt.Errorf("detect filesystem for %q: %w", inspectPath, err)
	}

	if isNetworkFilesystem(fsType) {
		return fmt.Errorf(
			"state.path %q is on network filesystem %q; the settings database needs a local filesystem for reliable locking. Point state.path at a local file (or pass --db /path/to/local/state.db)",
			path,
			fsType,
		)
	}

	return nil
}

// detectFilesystemType returns the filesystem type of the mount holding path.
func detectFilesystemType(path string) (string, error) {
	parts, err := disk.Partitions(true)
	if err != nil {
		return "", fmt.Errorf("list mounts: %w", err)
	}
	return mountFilesystem(path, parts), nil
}

// mountFilesystem picks the deepest mount point containing path.
func mountFilesystem(path string, parts []disk.PartitionStat) string {
	fsType := "unknown"
	best := -1
	for _, p := range parts {
		if !within(path, p.Mountpoint) {
			continue
		}
		if len(p.Mountpoint) > best {
			best = len(p.Mountpoint)
			fsType = p.Fstype
		}
	}
	return fsType
}

func within(path, mount string) bool {
	if mount == "" {
		return false
	}
	rel, err := filepath.Rel(mount, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func nearestExistingPath(path string) (string, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("absolute path: %w", err)
	}

	candidate := absPath
	for {
		_, err := os.Stat(candidate)
		if err == nil {
			return candidate, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("stat %q: %w", candidate, err)
		}

		parent := filepath.Dir(candidate)
		if parent == candidate {
			return "", fmt.Errorf("no existing parent for %q", absPath)
		}
		candidate = parent
	}
}

func isNetworkFilesystem(fsType string) bool {
	normalized := strings.TrimSpace(strings.ToLower(fsType))
	_, found := networkFilesystems[normalized]
	return found
}
