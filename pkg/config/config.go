package config

import (
	"io/ioutil"
	"os"
	"os/user"
	"path"

	"gopkg.in/yaml.v2"
)

const (
	configDir  string = ".unhusk"
	configFile string = "config.yml"
)

// Config defines all configuration options available to be set through the
// config file. Everything here is a session-level knob; protocol constants
// (chunk size, frame ceiling) are fixed by the bridge and never configurable.
type Config struct {
	// AgentAddr is the address of the channel endpoint exposed by the
	// instrumentation engine for an attached target.
	AgentAddr string `yaml:"agent-addr,omitempty"`
	// OEPTimeoutSeconds bounds how long a run waits for the target to
	// reach its original entry point. Zero waits forever.
	OEPTimeoutSeconds int `yaml:"oep-timeout-seconds,omitempty"`
	// Log enables logging, LogOutput selects the layers to log
	// (comma separated: wire, bridge, events, session).
	Log       bool   `yaml:"log,omitempty"`
	LogOutput string `yaml:"log-output,omitempty"`
}

// LoadConfig attempts to populate a Config object from the config.yml file.
// A missing file yields the zero config, not an error.
func LoadConfig() (*Config, error) {
	fullConfigFile, err := GetConfigFilePath(configFile)
	if err != nil {
		return &Config{}, err
	}

	data, err := ioutil.ReadFile(fullConfigFile)
	if err != nil {
		return &Config{}, nil
	}

	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return &Config{}, err
	}
	return &c, nil
}

// SaveConfig marshals c and writes it to the config file, creating the
// config directory if needed.
func SaveConfig(c *Config) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	if err := createConfigPath(); err != nil {
		return err
	}
	fullConfigFile, err := GetConfigFilePath(configFile)
	if err != nil {
		return err
	}
	return ioutil.WriteFile(fullConfigFile, data, 0644)
}

// GetConfigFilePath gets the full path to the given config file name.
func GetConfigFilePath(file string) (string, error) {
	usr, err := user.Current()
	if err != nil {
		return "", err
	}
	return path.Join(usr.HomeDir, configDir, file), nil
}

func createConfigPath() error {
	usr, err := user.Current()
	if err != nil {
		return err
	}
	return os.MkdirAll(path.Join(usr.HomeDir, configDir), 0700)
}
