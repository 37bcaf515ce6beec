package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads and parses configuration from a file or a directory holding config.yaml.
// Values missing from the file keep their defaults.
func Load(configPath string) (*Config, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}
	if info.IsDir() {
		absPath = filepath.Join(absPath, "config.yaml")
		if _, err := os.Stat(absPath); err != nil {
			return nil, fmt.Errorf("directory provided but config.yaml not found: %s", absPath)
		}
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", absPath, err)
	}
	cfg.SourcePath = absPath

	// Relative state paths resolve against the config file location.
	if cfg.State.Path != "" && !filepath.IsAbs(cfg.State.Path) {
		cfg.State.Path = filepath.Join(filepath.Dir(absPath), cfg.State.Path)
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	interpolated := interpolateEnv(string(data))

	cfg := Defaults()
	if err := yaml.Unmarshal([]byte(interpolated), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	applyConfigDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DiscoverConfigPath finds the config by checking standard locations.
// Priority order: $DEVICEUI_CONFIG, ~/.config/deviceui, /etc/deviceui, ./config.yaml
func DiscoverConfigPath() (string, error) {
	if p := os.Getenv("DEVICEUI_CONFIG"); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	if homeDir, err := os.UserHomeDir(); err == nil {
		userConfigDir := filepath.Join(homeDir, ".config", "deviceui")
		if _, err := os.Stat(filepath.Join(userConfigDir, "config.yaml")); err == nil {
			return userConfigDir, nil
		}
	}

	systemConfigDir := "/etc/deviceui"
	if _, err := os.Stat(filepath.Join(systemConfigDir, "config.yaml")); err == nil {
		return systemConfigDir, nil
	}

	localConfigPath := "./config.yaml"
	if _, err := os.Stat(localConfigPath); err == nil {
		return localConfigPath, nil
	}

	return "", fmt.Errorf("no config found (checked: $DEVICEUI_CONFIG, ~/.config/deviceui, /etc/deviceui, ./config.yaml)")
}

// interpolateEnv replaces ${VAR} with the environment value (empty if unset).
func interpolateEnv(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		name := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(name)
	})
}

// applyConfigDefaults fills zero values that an explicit YAML block may have cleared.
func applyConfigDefaults(cfg *Config) {
	def := Defaults()

	if cfg.Service.Name == "" {
		cfg.Service.Name = def.Service.Name
	}
	if cfg.Service.LogLevel == "" {
		cfg.Service.LogLevel = def.Service.LogLevel
	}
	if cfg.Hub.SubjectPrefix == "" {
		cfg.Hub.SubjectPrefix = def.Hub.SubjectPrefix
	}
	if cfg.Hub.DefaultTimeout <= 0 {
		cfg.Hub.DefaultTimeout = def.Hub.DefaultTimeout
	}
	if cfg.UI.Mode == "" {
		cfg.UI.Mode = def.UI.Mode
	}
	if cfg.UI.HeartbeatInterval <= 0 {
		cfg.UI.HeartbeatInterval = def.UI.HeartbeatInterval
	}
	if cfg.UI.KillTimeout <= 0 {
		cfg.UI.KillTimeout = def.UI.KillTimeout
	}
	if cfg.UI.StepTimeout <= 0 {
		cfg.UI.StepTimeout = def.UI.StepTimeout
	}
	if cfg.UI.Handshake.MaxAttempts <= 0 {
		cfg.UI.Handshake.MaxAttempts = def.UI.Handshake.MaxAttempts
	}
	if cfg.UI.Handshake.Interval < 0 {
		cfg.UI.Handshake.Interval = def.UI.Handshake.Interval
	}
	if cfg.UI.Handshake.PingTimeout <= 0 {
		cfg.UI.Handshake.PingTimeout = def.UI.Handshake.PingTimeout
	}
	if cfg.UI.Sync.PullTimeout <= 0 {
		cfg.UI.Sync.PullTimeout = def.UI.Sync.PullTimeout
	}
	if cfg.UI.Sync.PushTimeout <= 0 {
		cfg.UI.Sync.PushTimeout = def.UI.Sync.PushTimeout
	}
	if cfg.Hub.Embedded {
		if cfg.Hub.Host == "" {
			cfg.Hub.Host = def.Hub.Host
		}
		if cfg.Hub.Port == 0 {
			cfg.Hub.Port = def.Hub.Port
		}
	}
}

func validate(cfg *Config) error {
	var errs []error

	if cfg.State.Path == "" {
		errs = append(errs, errors.New("state.path is required"))
	}
	if cfg.Hub.URL == "" && !cfg.Hub.Embedded {
		errs = append(errs, errors.New("hub.url is required unless hub.embedded is set"))
	}
	if strings.ContainsAny(cfg.Hub.SubjectPrefix, " *>") {
		errs = append(errs, fmt.Errorf("hub.subject_prefix %q contains invalid characters", cfg.Hub.SubjectPrefix))
	}
	if strings.TrimSpace(cfg.UI.Name) == "" {
		errs = append(errs, errors.New("ui.name is required"))
	}
	if strings.ContainsAny(cfg.UI.Name, " *>") {
		errs = append(errs, fmt.Errorf("ui.name %q contains invalid characters", cfg.UI.Name))
	}
	if len(cfg.UI.Command) == 0 || strings.TrimSpace(cfg.UI.Command[0]) == "" {
		errs = append(errs, errors.New("ui.command must name an executable"))
	}
	if cfg.Screen.Width <= 0 || cfg.Screen.Height <= 0 {
		errs = append(errs, fmt.Errorf("screen dimensions must be positive (got %dx%d)", cfg.Screen.Width, cfg.Screen.Height))
	}
	if cfg.API.Enabled && cfg.API.Listen == "" {
		errs = append(errs, errors.New("api.listen is required when api.enabled is set"))
	}
	for i, tok := range cfg.API.Auth.Tokens {
		if tok.Token == "" {
			errs = append(errs, fmt.Errorf("api.auth.tokens[%d]: token is empty", i))
		}
	}

	return errors.Join(errs...)
}
