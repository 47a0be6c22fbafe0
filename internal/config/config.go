package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"runtime"
	"strings"
	"time"
)

var (
	// ErrNoFlagFormat is returned by Validate when no flag pattern was configured.
	ErrNoFlagFormat = errors.New("flag-format is required")
	// ErrOutputExists is returned when the output directory exists and force is off.
	ErrOutputExists = errors.New("output directory already exists")
)

// Config holds all the configuration for a Nightshade run.
// Fields are populated by Viper from flags, config file and environment.
type Config struct {
	Threads    int           // Number of worker goroutines
	OutDir     string        // Directory receiving artifacts and results
	Auto       bool          // Match every registered unit instead of only the requested ones
	Recurse    bool          // Queue data produced by units as new targets
	Force      bool          // Remove a pre-existing output directory
	MinData    int           // Minimum data length RegisterData bothers with
	MaxDepth   int           // Recursion ceiling
	FlagFormat string        // Regular expression describing a flag
	Timeout    time.Duration // Advisory per-unit timeout hint
	NoPriority bool          // Disable priority sorting of matched units

	Units   []string // Requested units (allow-list)
	Exclude []string // Units never matched

	// UnitOptions maps a unit name to its own key/value section
	// (e.g. "xor" -> {"key": "0x41"}).
	UnitOptions map[string]map[string]string

	// Networking, used when a target is a URL.
	UserAgent          string
	RequestTimeout     time.Duration
	MaxRetries         int
	RetryDelayMs       int
	MinRequestDelayMs  int
	ProxyInput         string // Raw input for proxies (URL, list, or file path)
	ParsedProxies      []ProxyEntry
	InsecureSkipVerify bool

	// Reporting and logging.
	OutputFile   string
	OutputFormat string
	Verbosity    string
	NoColor      bool
	Silent       bool
	Progress     bool
}

// ProxyEntry holds the parsed components of a proxy string.
type ProxyEntry struct {
	URL      string
	Scheme   string
	Host     string // host:port
	Username string
	Password string
}

// String returns the proxy URL string representation.
func (pe *ProxyEntry) String() string {
	if pe.URL != "" {
		return pe.URL
	}
	scheme := pe.Scheme
	if scheme == "" {
		scheme = "http"
	}
	userInfo := ""
	if pe.Username != "" {
		userInfo = pe.Username
		if pe.Password != "" {
			userInfo += ":" + pe.Password
		}
		userInfo += "@"
	}
	return fmt.Sprintf("%s://%s%s", scheme, userInfo, pe.Host)
}

// GetDefaultConfig returns a Config struct populated with default values.
// Viper in main.go sets the same defaults and overrides them with flags.
func GetDefaultConfig() *Config {
	return &Config{
		Threads:           runtime.NumCPU(),
		OutDir:            "./results",
		Auto:              false,
		Recurse:           true,
		Force:             false,
		MinData:           5,
		MaxDepth:          10,
		FlagFormat:        "",
		Timeout:           10 * time.Second,
		Units:             []string{},
		Exclude:           []string{},
		UnitOptions:       map[string]map[string]string{},
		UserAgent:         "Mozilla/5.0 (X11; Linux x86_64) Nightshade/1.0",
		RequestTimeout:    10 * time.Second,
		MaxRetries:        2,
		RetryDelayMs:      500,
		MinRequestDelayMs: 200,
		OutputFormat:      "text",
		Verbosity:         "info",
	}
}

// UnitOption looks up a key in the named unit's section.
func (c *Config) UnitOption(unit, key string) (string, bool) {
	section, ok := c.UnitOptions[strings.ToLower(unit)]
	if !ok {
		return "", false
	}
	v, ok := section[strings.ToLower(key)]
	return v, ok
}

// LoadLinesFromFile reads non-empty, non-comment lines from a file.
func LoadLinesFromFile(filePath string) ([]string, error) {
	content, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	lines := strings.Split(string(content), "\n")
	var result []string
	for _, line := range lines {
		trimmedLine := strings.TrimSpace(line)
		if trimmedLine != "" && !strings.HasPrefix(trimmedLine, "#") {
			result = append(result, trimmedLine)
		}
	}
	return result, nil
}

// DeduplicateStringSlice keeps the first occurrence of each item.
func DeduplicateStringSlice(s []string) []string {
	seen := make(map[string]struct{})
	result := []string{}
	for _, item := range s {
		if _, ok := seen[item]; !ok {
			seen[item] = struct{}{}
			result = append(result, item)
		}
	}
	return result
}

// Validate checks the Config after it has been populated by Viper.
// It does not touch the filesystem; the output directory check runs at start.
func (c *Config) Validate() error {
	if c.FlagFormat == "" {
		return ErrNoFlagFormat
	}
	if _, err := regexp.Compile(c.FlagFormat); err != nil {
		return fmt.Errorf("invalid flag-format %q: %w", c.FlagFormat, err)
	}
	if c.Threads <= 0 {
		return fmt.Errorf("threads must be positive")
	}
	if c.MaxDepth < 0 {
		return fmt.Errorf("max-depth cannot be negative")
	}
	if c.MinData < 0 {
		return fmt.Errorf("min-data cannot be negative")
	}
	if c.OutDir == "" {
		return fmt.Errorf("outdir cannot be empty")
	}
	if !c.Auto && len(c.Units) == 0 {
		return fmt.Errorf("no units requested and auto mode is disabled")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("maxRetries cannot be negative")
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("requestTimeout must be positive")
	}
	switch c.OutputFormat {
	case "text", "json", "yaml":
	default:
		return fmt.Errorf("unknown output format %q", c.OutputFormat)
	}
	return nil
}

// PrepareOutDir enforces the output directory policy: an existing directory
// is refused unless Force is set, in which case it is removed first.
func (c *Config) PrepareOutDir() error {
	if _, err := os.Stat(c.OutDir); err == nil {
		if !c.Force {
			return fmt.Errorf("%s: %w", c.OutDir, ErrOutputExists)
		}
		if err := os.RemoveAll(c.OutDir); err != nil {
			return fmt.Errorf("failed to remove output directory %s: %w", c.OutDir, err)
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("failed to stat output directory %s: %w", c.OutDir, err)
	}
	if err := os.MkdirAll(c.OutDir, 0750); err != nil {
		return fmt.Errorf("failed to create output directory %s: %w", c.OutDir, err)
	}
	return nil
}

// String (Config method) remains useful for debugging.
func (c *Config) String() string {
	return fmt.Sprintf("Threads: %d, OutDir: %s, Auto: %t, Recurse: %t, MaxDepth: %d, MinData: %d, FlagFormat: %q, Units: %v, Exclude: %v, Proxies (count): %d",
		c.Threads, c.OutDir, c.Auto, c.Recurse, c.MaxDepth, c.MinData, c.FlagFormat, c.Units, c.Exclude, len(c.ParsedProxies))
}
