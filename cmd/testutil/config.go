package main

import (
	"fmt"
	"net/url"
	"os"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

type extensionsConfig struct {
	Ack      bool `yaml:"ack"`
	Timesync bool `yaml:"timesync"`
	Replay   bool `yaml:"replay"`
}

type config struct {
	Hostname    string                 `yaml:"hostname"`
	Port        uint                   `yaml:"port"`
	EventBuffer uint                   `yaml:"buffer"`
	Protocol    string                 `yaml:"protocol"`
	Path        string                 `yaml:"path"`
	LogLevel    string                 `yaml:"log_level"`
	AccessToken string                 `yaml:"access_token"`
	MetricsAddr string                 `yaml:"metrics_addr"`
	Channels    []string               `yaml:"channels"`
	Extensions  extensionsConfig       `yaml:"extensions"`
	Options     map[string]interface{} `yaml:"options"`
}

func defaultConfig() config {
	return config{
		Protocol:    "https",
		Port:        80,
		EventBuffer: 100,
		LogLevel:    "error",
	}
}

// loadConfig reads a YAML file over the defaults
func loadConfig(path string) (config, error) {
	cfg := defaultConfig()
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing %s (%w)", path, err)
	}
	return cfg, nil
}

// override copies the values of the flags that were set on the command line
func (c *config) override(flags config, set map[string]bool) {
	if set["protocol"] {
		c.Protocol = flags.Protocol
	}
	if set["port"] {
		c.Port = flags.Port
	}
	if set["buffer"] {
		c.EventBuffer = flags.EventBuffer
	}
	if set["hostname"] {
		c.Hostname = flags.Hostname
	}
	if set["path"] {
		c.Path = flags.Path
	}
	if set["loglevel"] {
		c.LogLevel = flags.LogLevel
	}
	if set["token"] {
		c.AccessToken = flags.AccessToken
	}
	if set["metrics"] {
		c.MetricsAddr = flags.MetricsAddr
	}
	if set["ack"] {
		c.Extensions.Ack = flags.Extensions.Ack
	}
	if set["timesync"] {
		c.Extensions.Timesync = flags.Extensions.Timesync
	}
	if set["replay"] {
		c.Extensions.Replay = flags.Extensions.Replay
	}
	if len(flags.Channels) > 0 {
		c.Channels = flags.Channels
	}
}

func (c config) serverURL() string {
	u := url.URL{Scheme: c.Protocol, Host: fmt.Sprintf("%s:%d", c.Hostname, c.Port), Path: c.Path}
	return u.String()
}

func (c config) level() logrus.Level {
	switch c.LogLevel {
	case "debug":
		return logrus.DebugLevel
	case "info":
		return logrus.InfoLevel
	case "warn":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	case "fatal":
		return logrus.FatalLevel
	default:
		// Let's just skip panic as an option here
		return logrus.PanicLevel
	}
}
