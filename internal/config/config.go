package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultTitle is the page title of the AngularJS TodoMVC app
const DefaultTitle = "AngularJS • TodoMVC"

// Config represents the todospec.yml configuration
type Config struct {
	Version    int                  `yaml:"version"`
	Settings   Settings             `yaml:"settings"`
	App        AppConfig            `yaml:"app"`
	Browser    Browser              `yaml:"browser"`
	Locators   Locators             `yaml:"locators"`
	Containers map[string]Container `yaml:"containers"`
	Features   Features             `yaml:"features"`
	Report     Report               `yaml:"report"`
	Parameters map[string]string    `yaml:"parameters"`
}

// AppConfig describes the application under test
type AppConfig struct {
	// Base URL of the app as seen from this host, used for the ready check
	BaseURL string `yaml:"base_url"`
	// URL the browser navigates to, when it differs from BaseURL, e.g.
	// http://host.testcontainers.internal:8000 for a browser in a container
	BrowserURL string `yaml:"browser_url,omitempty"`
	// Expected home page title
	Title string `yaml:"title,omitempty"`
	// Optional command serving the app locally
	Command string `yaml:"command,omitempty"`
	// Working directory for command
	WorkDir string            `yaml:"workdir,omitempty"`
	Env     map[string]string `yaml:"env,omitempty"`
	// Health check to verify app is ready
	Ready *ReadyCheck `yaml:"ready,omitempty"`
}

type ReadyCheck struct {
	// HTTP path polled on BaseURL
	Path string `yaml:"path,omitempty"`
	// Expected status (default 200)
	Status  int           `yaml:"status,omitempty"`
	Timeout time.Duration `yaml:"timeout,omitempty"`
}

// HomeURL is the URL the browser opens as the home page
func (a *AppConfig) HomeURL() string {
	if a.BrowserURL != "" {
		return a.BrowserURL
	}
	return a.BaseURL
}

// IsConfigured returns true if the app section has a command to run
func (a *AppConfig) IsConfigured() bool {
	return a.Command != ""
}

type Settings struct {
	Parallel    int           `yaml:"parallel"`
	FailFast    bool          `yaml:"fail_fast"`
	Output      string        `yaml:"output"`
	StepTimeout time.Duration `yaml:"step_timeout"`
	Settle      Settle        `yaml:"settle"`
}

// Settle controls how long page objects poll for the DOM to settle after
// navigation or a storage clear
type Settle struct {
	Interval time.Duration `yaml:"interval"`
	Timeout  time.Duration `yaml:"timeout"`
}

// Browser selects the automation backend and the capabilities to run
type Browser struct {
	// Driver: webdriver, playwright, chromedp
	Driver string `yaml:"driver"`
	// Remote endpoint (Selenium Grid URL, or CDP websocket for chromedp)
	RemoteURL string `yaml:"remote_url,omitempty"`
	// Container that provides the remote endpoint (overrides RemoteURL host)
	Container string `yaml:"container,omitempty"`
	// Path on the container endpoint, e.g. /wd/hub
	RemotePath   string       `yaml:"remote_path,omitempty"`
	Headless     *bool        `yaml:"headless,omitempty"`
	Args         []string     `yaml:"args,omitempty"`
	Capabilities []Capability `yaml:"capabilities"`
}

// IsHeadless reports whether browsers launch without a window (default true)
func (b *Browser) IsHeadless() bool {
	return b.Headless == nil || *b.Headless
}

// Capability is a named browser engine configuration
type Capability struct {
	Name    string         `yaml:"name"`
	Browser string         `yaml:"browser"`
	Version string         `yaml:"version,omitempty"`
	Options map[string]any `yaml:"options,omitempty"`
}

// Locators overrides the CSS selectors used by the home page object
type Locators struct {
	NewTodo string `yaml:"new_todo,omitempty"`
	Items   string `yaml:"items,omitempty"`
	Label   string `yaml:"label,omitempty"`
}

type Container struct {
	Image     string            `yaml:"image"`
	Env       map[string]string `yaml:"env"`
	Ports     []string          `yaml:"ports"`
	ShmSize   int64             `yaml:"shm_size,omitempty"`
	DependsOn []string          `yaml:"depends_on"`
	WaitFor   WaitStrategy      `yaml:"wait_for"`
	// Host ports reachable from inside the container at
	// host.testcontainers.internal
	HostAccessPorts []int `yaml:"host_access_ports,omitempty"`
}

type WaitStrategy struct {
	// Can be: port, log, http
	Type   string `yaml:"type"`
	Target string `yaml:"target"`
	// For HTTP
	Method string `yaml:"method,omitempty"`
	Path   string `yaml:"path,omitempty"`
	// Timeout for wait strategy
	Timeout time.Duration `yaml:"timeout"`
}

type Features struct {
	Paths []string `yaml:"paths"`
	Tags  string   `yaml:"tags"`
}

// Report configures structured results and the generated HTML report
type Report struct {
	Results      string `yaml:"results"`
	Dir          string `yaml:"dir"`
	AutoGenerate *bool  `yaml:"auto_generate,omitempty"`
}

// ShouldGenerate reports whether the HTML report is built after a run (default true)
func (r *Report) ShouldGenerate() bool {
	return r.AutoGenerate == nil || *r.AutoGenerate
}

// Load reads and parses the todospec.yml configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	return Parse(data)
}

// Parse decodes configuration bytes, applies defaults and validates the result
func Parse(data []byte) (*Config, error) {
	// Expand environment variables
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Version == 0 {
		c.Version = 1
	}
	if c.Settings.Parallel == 0 {
		c.Settings.Parallel = 1
	}
	if c.Settings.Output == "" {
		c.Settings.Output = "pretty"
	}
	if c.Settings.StepTimeout == 0 {
		c.Settings.StepTimeout = 30 * time.Second
	}
	if c.Settings.Settle.Interval == 0 {
		c.Settings.Settle.Interval = 100 * time.Millisecond
	}
	if c.Settings.Settle.Timeout == 0 {
		c.Settings.Settle.Timeout = 10 * time.Second
	}
	if c.App.Title == "" {
		c.App.Title = DefaultTitle
	}
	if c.App.Ready != nil {
		if c.App.Ready.Status == 0 {
			c.App.Ready.Status = 200
		}
		if c.App.Ready.Timeout == 0 {
			c.App.Ready.Timeout = 30 * time.Second
		}
	}
	if c.Browser.Driver == "" {
		c.Browser.Driver = "webdriver"
	}
	if len(c.Browser.Capabilities) == 0 {
		c.Browser.Capabilities = []Capability{{Name: "chrome", Browser: "chrome"}}
	}
	for i := range c.Browser.Capabilities {
		if c.Browser.Capabilities[i].Name == "" {
			c.Browser.Capabilities[i].Name = c.Browser.Capabilities[i].Browser
		}
	}
	if len(c.Features.Paths) == 0 {
		c.Features.Paths = []string{"./features"}
	}
	if c.Report.Results == "" {
		c.Report.Results = "./cucumber/results.json"
	}
	if c.Report.Dir == "" {
		c.Report.Dir = "./cucumber/report"
	}
	if c.Parameters == nil {
		c.Parameters = make(map[string]string)
	}
}

func (c *Config) validate() error {
	if c.Version != 1 {
		return fmt.Errorf("unsupported config version: %d (expected 1)", c.Version)
	}

	if !isValidDriver(c.Browser.Driver) {
		return fmt.Errorf("invalid browser driver: %s", c.Browser.Driver)
	}

	if c.Settings.Parallel < 0 {
		return fmt.Errorf("settings.parallel must be positive, got %d", c.Settings.Parallel)
	}

	seen := make(map[string]bool)
	for i, capability := range c.Browser.Capabilities {
		if capability.Browser == "" {
			return fmt.Errorf("capability %d has no browser", i)
		}
		if seen[capability.Name] {
			return fmt.Errorf("duplicate capability name %q", capability.Name)
		}
		seen[capability.Name] = true
	}

	if c.Browser.Container != "" {
		if _, ok := c.Containers[c.Browser.Container]; !ok {
			return fmt.Errorf("browser references unknown container %q", c.Browser.Container)
		}
	}

	// Validate container dependencies
	for name, cont := range c.Containers {
		if cont.Image == "" {
			return fmt.Errorf("container %q has no image", name)
		}
		for _, port := range cont.HostAccessPorts {
			if port < 1 || port > 65535 {
				return fmt.Errorf("container %q has invalid host access port %d", name, port)
			}
		}
		for _, dep := range cont.DependsOn {
			if _, ok := c.Containers[dep]; !ok {
				return fmt.Errorf("container %q depends on unknown container %q", name, dep)
			}
		}
	}

	return nil
}

// ValidDrivers returns all supported browser driver names
func ValidDrivers() []string {
	return []string{"webdriver", "playwright", "chromedp"}
}

func isValidDriver(name string) bool {
	for _, d := range ValidDrivers() {
		if d == name {
			return true
		}
	}
	return false
}

// Capability returns the capability with the given name
func (c *Config) Capability(name string) (Capability, bool) {
	for _, capability := range c.Browser.Capabilities {
		if capability.Name == name {
			return capability, true
		}
	}
	return Capability{}, false
}
