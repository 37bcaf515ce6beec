package hub

import (
	"fmt"
	"strings"
)

// Subject returns the broker subject a command for endpoint is served on.
// Endpoint names may themselves contain dots (microdrop.command_plugin).
func Subject(prefix, endpoint, command string) string {
	if prefix == "" {
		return endpoint + "." + command
	}
	return prefix + "." + endpoint + "." + command
}

// ValidateName rejects names that would break subject routing.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("name is empty")
	}
	if strings.ContainsAny(name, " \t\r\n*>") {
		return fmt.Errorf("name %q contains whitespace or wildcard characters", name)
	}
	if strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".") || strings.Contains(name, "..") {
		return fmt.Errorf("name %q has an empty token", name)
	}
	return nil
}
