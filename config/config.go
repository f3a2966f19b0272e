// Package config provides configuration for the flawless client.
//
// Config is the exported, usable configuration object, built from
// ReadConfig or Default.
//
// Internally, the package represents the json file as a separate struct type,
// configFile. This distinction keeps "unset" (nil) apart from zero values,
// which is what makes extending configurations possible.
package config

import (
	"encoding/json"
	"io/ioutil"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/samsarahq/go/oops"
)

// DefaultClientTimeout bounds a single delivery when no client_timeout is configured.
const DefaultClientTimeout = 2 * time.Second

// defaultHostport is the process-wide backend address, used when a Config
// does not name one explicitly.
var defaultHostport atomic.Value // string

func init() {
	defaultHostport.Store("")
}

// SetHostport sets the process-wide backend "host:port". It is meant to be
// called once at startup; it is safe to call concurrently, but the last
// caller wins.
func SetHostport(hostport string) {
	defaultHostport.Store(hostport)
}

// DefaultHostport returns the value set by SetHostport.
func DefaultHostport() string {
	return defaultHostport.Load().(string)
}

// configFile is the json representation for the flawless.json file format.
type configFile struct {
	configPath string

	Extends       *string  `json:"extends"`
	ClientTimeout *float64 `json:"client_timeout"`
	Hostport      *string  `json:"flawless_hostport"`
	ExcludeFiles  []string `json:"exclude_files"`
}

// Config defines client parameters. It is usually loaded via ReadConfig.
type Config struct {
	// ClientTimeout is the hard timeout of one record_error request.
	ClientTimeout time.Duration

	// Hostport overrides the process-wide backend address when set.
	Hostport string

	// ExcludeFiles is a set of globs; chain frames in matching files are
	// left out of reports.
	ExcludeFiles []string

	// ConfigPath is the path to the file from where this config was loaded.
	ConfigPath string
}

// Default returns a config with no explicit backend and the default timeout.
func Default() *Config {
	return &Config{ClientTimeout: DefaultClientTimeout}
}

// BackendHostport resolves the backend address: the explicit Hostport if
// any, else the process-wide default. It returns "" when neither is set.
func (c *Config) BackendHostport() string {
	if c != nil && c.Hostport != "" {
		return c.Hostport
	}
	return DefaultHostport()
}

// ToConfig converts a configFile representation to a usable Config.
func (c configFile) ToConfig() (*Config, error) {
	return Default().With(&c)
}

// With extends the base configuration with settings from the input configFile,
// returning a new config without modifying the original.
func (c *Config) With(configFile *configFile) (*Config, error) {
	copy := *c

	if timeout := configFile.ClientTimeout; timeout != nil {
		if *timeout <= 0 {
			return nil, oops.Errorf("client_timeout must be positive: %s", configFile.configPath)
		}
		copy.ClientTimeout = time.Duration(*timeout * float64(time.Second))
	}

	if hostport := configFile.Hostport; hostport != nil {
		copy.Hostport = *hostport
	}

	if configFile.ExcludeFiles != nil {
		merged := make([]string, 0, len(c.ExcludeFiles)+len(configFile.ExcludeFiles))
		seen := make(map[string]struct{})
		for _, glob := range append(append([]string{}, c.ExcludeFiles...), configFile.ExcludeFiles...) {
			if _, ok := seen[glob]; ok {
				continue
			}
			seen[glob] = struct{}{}
			merged = append(merged, glob)
		}
		copy.ExcludeFiles = merged
	}

	copy.ConfigPath = configFile.configPath

	return &copy, nil
}

// readConfigFile reads the configuration at configPath and returns the json file representation.
// Environment references like ${FLAWLESS_HOSTPORT} are expanded before parsing.
func readConfigFile(configPath string) (*configFile, error) {
	resolvedConfigPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, oops.Wrapf(err, "unable to resolve config file path")
	}

	content, err := ioutil.ReadFile(resolvedConfigPath)
	if err != nil {
		return nil, oops.Wrapf(err, "unable to read file")
	}

	configFile := configFile{configPath: resolvedConfigPath}
	if err := json.Unmarshal([]byte(os.ExpandEnv(string(content))), &configFile); err != nil {
		return nil, oops.Wrapf(err, "unable to parse json")
	}

	return &configFile, nil
}

// ReadConfig reads the configuration at configPath and returns a Config.
func ReadConfig(configPath string) (*Config, error) {
	configFile, err := readConfigFile(configPath)
	if err != nil {
		return nil, oops.Wrapf(err, "failed to read config file at %s", configPath)
	}

	if configFile.Extends == nil {
		config, err := configFile.ToConfig()
		if err != nil {
			return nil, oops.Wrapf(err, "failed to build config from %s", configFile.configPath)
		}
		return config, nil
	}

	extends, err := filepath.Abs(filepath.Join(filepath.Dir(configFile.configPath), *configFile.Extends))
	if err != nil {
		return nil, oops.Wrapf(err, "failed to resolve base config at %s", *configFile.Extends)
	}

	baseConfig, err := ReadConfig(extends)
	if err != nil {
		return nil, oops.Wrapf(err, "failed to read base config at %s", extends)
	}

	merged, err := baseConfig.With(configFile)
	if err != nil {
		return nil, oops.Wrapf(err, "failed to extend base config at %s", extends)
	}

	return merged, nil
}
