package config

import "time"

// Config represents the complete deviceui configuration.
type Config struct {
	Service      ServiceConfig `yaml:"service"`
	State        StateConfig   `yaml:"state"`
	Hub          HubConfig     `yaml:"hub"`
	UI           UIConfig      `yaml:"ui"`
	Screen       ScreenConfig  `yaml:"screen"`
	API          APIConfig     `yaml:"api,omitempty"`
	Dependencies []string      `yaml:"dependencies,omitempty"`

	// SourcePath is the resolved file the config was loaded from.
	SourcePath string `yaml:"-"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name     string `yaml:"name"`
	LogLevel string `yaml:"log_level"`
}

// StateConfig defines state storage settings.
type StateConfig struct {
	Path string `yaml:"path"`
}

// HubConfig defines how the host reaches the message hub.
type HubConfig struct {
	URL            string        `yaml:"url"`
	Embedded       bool          `yaml:"embedded"`
	Host           string        `yaml:"host,omitempty"`
	Port           int           `yaml:"port,omitempty"`
	SubjectPrefix  string        `yaml:"subject_prefix"`
	DefaultTimeout time.Duration `yaml:"default_timeout"`
	// CommandEndpoint receives the get_commands refresh once the UI is ready.
	CommandEndpoint string `yaml:"command_endpoint"`
}

// UIConfig defines the supervised device UI process.
type UIConfig struct {
	// Name identifies this plugin instance to the hub. The child registers
	// its endpoint under this name.
	Name string `yaml:"name"`
	// Command is the executable and its leading arguments; instance
	// arguments are appended by the supervisor.
	Command           []string        `yaml:"command"`
	Mode              string          `yaml:"mode"`
	Debug             bool            `yaml:"debug"`
	FirstRunEnv       string          `yaml:"first_run_env"`
	// AwaitDependencies delays enable until every dependency answers a
	// ping on the hub.
	AwaitDependencies bool            `yaml:"await_dependencies"`
	HeartbeatInterval time.Duration   `yaml:"heartbeat_interval"`
	KillTimeout       time.Duration   `yaml:"kill_timeout"`
	StepTimeout       time.Duration   `yaml:"step_timeout"`
	Handshake         HandshakeConfig `yaml:"handshake"`
	Sync              SyncConfig      `yaml:"sync"`
}

// HandshakeConfig bounds the liveness confirmation after spawn.
type HandshakeConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	Interval    time.Duration `yaml:"interval"`
	PingTimeout time.Duration `yaml:"ping_timeout"`
}

// SyncConfig defines settings synchronization timeouts.
type SyncConfig struct {
	PullTimeout time.Duration `yaml:"pull_timeout"`
	PushTimeout time.Duration `yaml:"push_timeout"`
}

// ScreenConfig describes the display used to compute default window allocation.
type ScreenConfig struct {
	Width          int `yaml:"width"`
	Height         int `yaml:"height"`
	Top            int `yaml:"top"`
	TitlebarHeight int `yaml:"titlebar_height"`
}

// APIConfig defines HTTP control API settings.
type APIConfig struct {
	Enabled bool          `yaml:"enabled"`
	Listen  string        `yaml:"listen"`
	Auth    APIAuthConfig `yaml:"auth"`
}

// APIAuthConfig defines API authentication settings.
type APIAuthConfig struct {
	// APIKey is the single bearer token with full access.
	// Prefer Tokens for scoped access.
	APIKey string     `yaml:"api_key"`
	Tokens []APIToken `yaml:"tokens,omitempty"`
}

// APIToken defines a bearer token and its scopes.
type APIToken struct {
	Token  string   `yaml:"token"`
	Scopes []string `yaml:"scopes"`
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:     "deviceui",
			LogLevel: "info",
		},
		State: StateConfig{
			Path: "./data/state.db",
		},
		Hub: HubConfig{
			URL:             "nats://127.0.0.1:4222",
			Embedded:        false,
			Host:            "127.0.0.1",
			Port:            4222,
			SubjectPrefix:   "hub",
			DefaultTimeout:  10 * time.Second,
			CommandEndpoint: "microdrop.command_plugin",
		},
		UI: UIConfig{
			Name:              "dmf_device_ui_plugin",
			Command:           []string{"python", "-m", "dmf_device_ui.bin.device_view"},
			Mode:              "fixed",
			FirstRunEnv:       "DEVICEUI_FIRST_RUN",
			HeartbeatInterval: 1 * time.Second,
			KillTimeout:       5 * time.Second,
			StepTimeout:       10 * time.Second,
			Handshake: HandshakeConfig{
				MaxAttempts: 20,
				Interval:    1 * time.Second,
				PingTimeout: 5 * time.Second,
			},
			Sync: SyncConfig{
				PullTimeout: 2 * time.Second,
				PushTimeout: 5 * time.Second,
			},
		},
		Screen: ScreenConfig{
			Width:          1920,
			Height:         1080,
			Top:            0,
			TitlebarHeight: 30,
		},
		API: APIConfig{
			Enabled: false,
			Listen:  "127.0.0.1:8080",
		},
		Dependencies: []string{
			"microdrop.zmq_hub_plugin",
			"microdrop.command_plugin",
			"droplet_planning_plugin",
		},
	}
}
