// Package doctor validates deviceui configuration beyond what loading
// enforces: that the device UI can actually be launched and reached.
package doctor

import (
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/mattjoyce/deviceui/internal/auth"
	"github.com/mattjoyce/deviceui/internal/config"
	"github.com/mattjoyce/deviceui/internal/hub"
)

// Result holds the outcome of a validation run.
type Result struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

// Doctor validates a loaded configuration.
type Doctor struct {
	cfg      *config.Config
	lookPath func(string) (string, error)
	getenv   func(string) string
	stat     func(string) (os.FileInfo, error)
}

// New creates a Doctor for cfg.
func New(cfg *config.Config) *Doctor {
	return &Doctor{
		cfg:      cfg,
		lookPath: exec.LookPath,
		getenv:   os.Getenv,
		stat:     os.Stat,
	}
}

// Validate runs all checks and returns a result.
func (d *Doctor) Validate() *Result {
	r := &Result{Valid: true}

	d.validateCommand(r)
	d.validateNames(r)
	d.validateHub(r)
	d.validateTimings(r)
	d.validateScreen(r)
	d.validateAPIConfig(r)
	d.validateTokenScopes(r)
	d.warnStateDir(r)
	d.warnFirstRun(r)
	d.warnDeprecatedSyntax(r)

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

// validateCommand checks that the device UI executable can be found.
func (d *Doctor) validateCommand(r *Result) {
	ui := d.cfg.UI
	if len(ui.Command) == 0 || ui.Command[0] == "" {
		d.addError(r, "ui", "ui.command", "ui.command must name an executable")
		return
	}
	if _, err := d.lookPath(ui.Command[0]); err != nil {
		d.addError(r, "ui", "ui.command", fmt.Sprintf("executable %q not found: %v", ui.Command[0], err))
	}
	if strings.TrimSpace(ui.Mode) == "" {
		d.addError(r, "ui", "ui.mode", "ui.mode is required")
	}
}

// validateNames checks every hub endpoint name the host will address.
func (d *Doctor) validateNames(r *Result) {
	if err := hub.ValidateName(d.cfg.UI.Name); err != nil {
		d.addError(r, "names", "ui.name", err.Error())
	}
	if err := hub.ValidateName(d.cfg.Service.Name); err != nil {
		d.addError(r, "names", "service.name", err.Error())
	} else if d.cfg.Service.Name == d.cfg.UI.Name {
		d.addError(r, "names", "service.name", "host and device UI cannot share a hub endpoint name")
	}
	if ep := d.cfg.Hub.CommandEndpoint; ep != "" {
		if err := hub.ValidateName(ep); err != nil {
			d.addError(r, "names", "hub.command_endpoint", err.Error())
		}
	}
	seen := map[string]bool{}
	for i, dep := range d.cfg.Dependencies {
		field := fmt.Sprintf("dependencies[%d]", i)
		if err := hub.ValidateName(dep); err != nil {
			d.addError(r, "names", field, err.Error())
			continue
		}
		if seen[dep] {
			d.addWarning(r, "names", field, fmt.Sprintf("dependency %q listed twice", dep))
		}
		if dep == d.cfg.UI.Name {
			d.addError(r, "names", field, "plugin cannot depend on itself")
		}
		seen[dep] = true
	}
}

// validateHub checks the address handed to the device UI.
func (d *Doctor) validateHub(r *Result) {
	h := d.cfg.Hub
	if h.Embedded {
		if h.Port == 0 || h.Port < -1 || h.Port > 65535 {
			d.addError(r, "hub", "hub.port", fmt.Sprintf("invalid embedded hub port %d", h.Port))
		}
		return
	}
	u, err := url.Parse(h.URL)
	if err != nil {
		d.addError(r, "hub", "hub.url", fmt.Sprintf("invalid hub url: %v", err))
		return
	}
	switch u.Scheme {
	case "nats", "tls", "ws", "wss":
	default:
		d.addError(r, "hub", "hub.url", fmt.Sprintf("unsupported hub url scheme %q", u.Scheme))
	}
	if u.Host == "" {
		d.addError(r, "hub", "hub.url", "hub url has no host")
	}
}

// validateTimings checks the handshake and heartbeat bounds.
func (d *Doctor) validateTimings(r *Result) {
	ui := d.cfg.UI
	hs := ui.Handshake
	if hs.MaxAttempts < 1 {
		d.addError(r, "timing", "ui.handshake.max_attempts", "at least one handshake attempt is required")
	}
	if hs.PingTimeout <= 0 {
		d.addError(r, "timing", "ui.handshake.ping_timeout", "ping_timeout must be positive")
	}
	worst := time.Duration(hs.MaxAttempts) * (hs.PingTimeout + hs.Interval)
	if worst > 5*time.Minute {
		d.addWarning(r, "timing", "ui.handshake",
			fmt.Sprintf("a failing handshake can take up to %s", worst))
	}
	if ui.HeartbeatInterval > 0 && ui.HeartbeatInterval < 100*time.Millisecond {
		d.addWarning(r, "timing", "ui.heartbeat_interval",
			fmt.Sprintf("heartbeat interval %s is very short", ui.HeartbeatInterval))
	}
	if ui.KillTimeout <= 0 {
		d.addError(r, "timing", "ui.kill_timeout", "kill_timeout must be positive")
	}
}

// validateScreen checks that default window geometry is usable.
func (d *Doctor) validateScreen(r *Result) {
	s := d.cfg.Screen
	if s.Width <= 0 || s.Height <= 0 {
		d.addError(r, "screen", "screen", fmt.Sprintf("screen dimensions must be positive (got %dx%d)", s.Width, s.Height))
		return
	}
	if float64(s.TitlebarHeight)*1.5 >= float64(s.Height) {
		d.addError(r, "screen", "screen.titlebar_height", "titlebar leaves no room for the default window height")
	}
}

// validateAPIConfig checks API server settings.
func (d *Doctor) validateAPIConfig(r *Result) {
	if !d.cfg.API.Enabled {
		return
	}
	if d.cfg.API.Listen == "" {
		d.addError(r, "api", "api.listen", "api.listen is required when API is enabled")
	}
	if d.cfg.API.Auth.APIKey == "" && len(d.cfg.API.Auth.Tokens) == 0 {
		d.addWarning(r, "api", "api.auth", "API enabled but no authentication configured; every /v1 request will be rejected")
	}
}

// validateTokenScopes checks scopes against the known resources.
func (d *Doctor) validateTokenScopes(r *Result) {
	known := map[string]bool{"*": true}
	for _, res := range auth.Resources {
		known[res+":ro"] = true
		known[res+":rw"] = true
	}
	for i, token := range d.cfg.API.Auth.Tokens {
		if token.Token == "" {
			d.addWarning(r, "env_vars", fmt.Sprintf("api.auth.tokens[%d].token", i),
				"token value is empty (possibly unresolved environment variable)")
		}
		for j, scope := range token.Scopes {
			if !known[strings.TrimSpace(scope)] {
				d.addError(r, "token_scopes", fmt.Sprintf("api.auth.tokens[%d].scopes[%d]", i, j),
					fmt.Sprintf("unknown scope %q (expected <%s>:ro|rw or *)", scope, strings.Join(auth.Resources, "|")))
			}
		}
	}
}

// warnStateDir warns when the state directory does not exist yet.
func (d *Doctor) warnStateDir(r *Result) {
	dir := filepath.Dir(d.cfg.State.Path)
	info, err := d.stat(dir)
	switch {
	case err != nil:
		d.addWarning(r, "state", "state.path", fmt.Sprintf("directory %q does not exist and will be created", dir))
	case !info.IsDir():
		d.addError(r, "state", "state.path", fmt.Sprintf("%q is not a directory", dir))
	}
}

// warnFirstRun warns when the first-run variable is set in this environment.
func (d *Doctor) warnFirstRun(r *Result) {
	name := d.cfg.UI.FirstRunEnv
	if name != "" && d.getenv(name) != "" {
		d.addWarning(r, "env_vars", "ui.first_run_env",
			fmt.Sprintf("%s is set; stored window geometry will be replaced by screen defaults", name))
	}
}

// warnDeprecatedSyntax warns about legacy config patterns.
func (d *Doctor) warnDeprecatedSyntax(r *Result) {
	if d.cfg.API.Auth.APIKey != "" && len(d.cfg.API.Auth.Tokens) > 0 {
		d.addWarning(r, "deprecated", "api.auth",
			"both api_key and tokens configured; prefer tokens array only")
	}
	if d.cfg.API.Auth.APIKey != "" && len(d.cfg.API.Auth.Tokens) == 0 {
		d.addWarning(r, "deprecated", "api.auth.api_key",
			"legacy api_key grants full access; migrate to tokens array with scopes")
	}
}

// FormatHuman returns a human-readable validation report.
func FormatHuman(r *Result) string {
	var b strings.Builder

	if r.Valid && len(r.Warnings) == 0 {
		b.WriteString("Configuration valid.\n")
		return b.String()
	}

	if r.Valid && len(r.Warnings) > 0 {
		b.WriteString("Configuration valid")
		fmt.Fprintf(&b, " (%d warning(s))\n", len(r.Warnings))
	}

	if !r.Valid {
		fmt.Fprintf(&b, "Configuration invalid (%d error(s), %d warning(s))\n", len(r.Errors), len(r.Warnings))
	}

	for _, e := range r.Errors {
		if e.Field != "" {
			fmt.Fprintf(&b, "  ERROR [%s] %s: %s\n", e.Category, e.Field, e.Message)
		} else {
			fmt.Fprintf(&b, "  ERROR [%s] %s\n", e.Category, e.Message)
		}
	}
	for _, w := range r.Warnings {
		if w.Field != "" {
			fmt.Fprintf(&b, "  WARN  [%s] %s: %s\n", w.Category, w.Field, w.Message)
		} else {
			fmt.Fprintf(&b, "  WARN  [%s] %s\n", w.Category, w.Message)
		}
	}

	return b.String()
}

// FormatJSON returns the result as indented JSON.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
