package ztsock

import (
	"fmt"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/opd-ai/ztsock/engine"
	"github.com/opd-ai/ztsock/limits"
)

// Bounds for configuration values.
const (
	// DefaultPort is the engine's conventional physical port.
	DefaultPort = 9994
	// DefaultPollInterval is the first backoff step of the wait helpers.
	DefaultPollInterval = 50 * time.Millisecond
	// DefaultMaxPollInterval caps the wait helpers' backoff.
	DefaultMaxPollInterval = time.Second
	// MinPollInterval is the smallest accepted poll interval.
	MinPollInterval = time.Millisecond
	// PollIntervalCeiling is the largest accepted poll interval.
	PollIntervalCeiling = time.Minute
)

// Options configures a Node.
type Options struct {
	// Port is the physical port of the overlay engine. Zero picks one.
	Port uint16
	// StoragePath holds the identity and network memberships. Empty keeps
	// the identity in memory only.
	StoragePath string
	// Networks are joined by Start.
	Networks []uint64
	// PollInterval and MaxPollInterval bound the backoff used by
	// WaitOnline and WaitTransportReady between polls.
	PollInterval    time.Duration
	MaxPollInterval time.Duration
	// Hosts maps names to virtual addresses for net.Resolver.
	Hosts map[string][]string
	// EventHandler receives every engine event after the node processed it.
	EventHandler engine.EventHandler
	// Logger defaults to the logrus standard logger.
	Logger *logrus.Entry
}

// NewOptions returns the default options.
func NewOptions() *Options {
	return &Options{
		Port:            DefaultPort,
		PollInterval:    DefaultPollInterval,
		MaxPollInterval: DefaultMaxPollInterval,
	}
}

// fileOptions is the YAML form of Options.
type fileOptions struct {
	Port            *uint16             `yaml:"port"`
	StoragePath     string              `yaml:"storage_path"`
	PollInterval    string              `yaml:"poll_interval"`
	MaxPollInterval string              `yaml:"max_poll_interval"`
	Networks        []string            `yaml:"networks"`
	Hosts           map[string][]string `yaml:"hosts"`
}

// LoadOptions reads options from a YAML file. Unset fields keep their
// defaults. Network ids are hexadecimal strings.
//
//	port: 9994
//	storage_path: /var/lib/ztsock
//	poll_interval: 50ms
//	networks: ["8056c2e21c000001"]
//	hosts:
//	  db: ["10.147.17.5"]
func LoadOptions(path string) (*Options, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := limits.ValidateConfigFile(data); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}

	var fo fileOptions
	if err := yaml.Unmarshal(data, &fo); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	opts := NewOptions()
	if fo.Port != nil {
		opts.Port = *fo.Port
	}
	opts.StoragePath = fo.StoragePath
	if fo.PollInterval != "" {
		if opts.PollInterval, err = parsePollInterval(fo.PollInterval); err != nil {
			return nil, fmt.Errorf("config %s: poll_interval: %w", path, err)
		}
	}
	if fo.MaxPollInterval != "" {
		if opts.MaxPollInterval, err = parsePollInterval(fo.MaxPollInterval); err != nil {
			return nil, fmt.Errorf("config %s: max_poll_interval: %w", path, err)
		}
	}
	for _, s := range fo.Networks {
		id, err := ParseNetworkID(s)
		if err != nil {
			return nil, fmt.Errorf("config %s: %w", path, err)
		}
		opts.Networks = append(opts.Networks, id)
	}
	for name, addrs := range fo.Hosts {
		for _, a := range addrs {
			if _, err := netip.ParseAddr(a); err != nil {
				return nil, fmt.Errorf("config %s: host %q: %w", path, name, err)
			}
		}
	}
	opts.Hosts = fo.Hosts
	return opts, nil
}

// ParseNetworkID parses a 16 digit hexadecimal network id, with or without
// a 0x prefix.
func ParseNetworkID(s string) (uint64, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	id, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid network id %q: %w", s, err)
	}
	return id, nil
}

func parsePollInterval(s string) (time.Duration, error) {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < MinPollInterval || d > PollIntervalCeiling {
		return 0, fmt.Errorf("%v outside [%v, %v]", d, MinPollInterval, PollIntervalCeiling)
	}
	return d, nil
}

// ApplyEnvironment overrides opts from ZTS_PORT, ZTS_STORAGE_PATH and
// ZTS_POLL_INTERVAL. Invalid values are logged and ignored.
func ApplyEnvironment(opts *Options) {
	parsePortSetting(opts)
	parseStorageSetting(opts)
	parsePollSetting(opts)
}

func parsePortSetting(opts *Options) {
	portStr := os.Getenv("ZTS_PORT")
	if portStr == "" {
		return
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function":    "parsePortSetting",
			"env_var":     "ZTS_PORT",
			"value":       portStr,
			"error":       err.Error(),
			"using_value": opts.Port,
		}).Warn("Failed to parse ZTS_PORT environment variable, using default")
		return
	}
	opts.Port = uint16(port)
}

func parseStorageSetting(opts *Options) {
	if path := os.Getenv("ZTS_STORAGE_PATH"); path != "" {
		opts.StoragePath = path
	}
}

func parsePollSetting(opts *Options) {
	pollStr := os.Getenv("ZTS_POLL_INTERVAL")
	if pollStr == "" {
		return
	}
	d, err := parsePollInterval(pollStr)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function":    "parsePollSetting",
			"env_var":     "ZTS_POLL_INTERVAL",
			"value":       pollStr,
			"min":         MinPollInterval.String(),
			"max":         PollIntervalCeiling.String(),
			"error":       err.Error(),
			"using_value": opts.PollInterval.String(),
		}).Warn("ZTS_POLL_INTERVAL invalid or out of bounds, using default")
		return
	}
	opts.PollInterval = d
	if opts.MaxPollInterval < d {
		opts.MaxPollInterval = d
	}
}
