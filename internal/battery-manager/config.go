package manager

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/TheCacophonyProject/smart-battery-manager/charge"
	"github.com/TheCacophonyProject/smart-battery-manager/statestore"
	"github.com/google/go-cmp/cmp"
	"github.com/rjeczalik/notify"
	log "github.com/sirupsen/logrus"
)

var ErrInvalidConfig = errors.New("invalid config")

// errConfigChanged stops the daemon so the service manager restarts it with
// the new config.
var errConfigChanged = errors.New("config changed")

type Config struct {
	MaxTempTrigger          float64 `toml:"max-temp-trigger"`
	SafeTempResume          float64 `toml:"safe-temp-resume"`
	TargetLimit             int     `toml:"target-limit"`
	SailingFloor            int     `toml:"sailing-floor"`
	CheckIntervalSeconds    int     `toml:"check-interval-seconds"`
	TelemetryTimeoutSeconds int     `toml:"telemetry-timeout-seconds"`
	StateFile               string  `toml:"state-file"`
	BatteryCLI              string  `toml:"battery-cli"`

	History HistoryConfig `toml:"history"`
	MQTT    MQTTConfig    `toml:"mqtt"`
	HTTP    HTTPConfig    `toml:"http"`
	DBus    DBusConfig    `toml:"dbus"`
}

type HistoryConfig struct {
	Enable   bool   `toml:"enable"`
	File     string `toml:"file"`
	MaxLines int    `toml:"max-lines"`
}

type MQTTConfig struct {
	Enable          bool   `toml:"enable"`
	Broker          string `toml:"broker"`
	Username        string `toml:"username"`
	Password        string `toml:"password"`
	TopicPrefix     string `toml:"topic-prefix"`
	DiscoveryPrefix string `toml:"discovery-prefix"`
}

type HTTPConfig struct {
	Enable  bool   `toml:"enable"`
	Address string `toml:"address"`
}

type DBusConfig struct {
	Enable bool `toml:"enable"`
}

func DefaultConfig() Config {
	t := charge.DefaultThresholds()
	stateFile, err := statestore.DefaultPath()
	if err != nil {
		stateFile = filepath.Join("scripts", statestore.DefaultFileName)
	}
	return Config{
		MaxTempTrigger:          t.MaxTempTrigger,
		SafeTempResume:          t.SafeTempResume,
		TargetLimit:             t.TargetLimit,
		SailingFloor:            t.SailingFloor,
		CheckIntervalSeconds:    45,
		TelemetryTimeoutSeconds: 20,
		StateFile:               stateFile,
		History: HistoryConfig{
			File:     "~/scripts/battery_history.csv",
			MaxLines: 5000,
		},
		MQTT: MQTTConfig{
			Broker:          "tcp://localhost:1883",
			TopicPrefix:     "smart-battery-manager",
			DiscoveryPrefix: "homeassistant",
		},
		HTTP: HTTPConfig{
			Address: "127.0.0.1:9753",
		},
	}
}

func defaultConfigFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "smart-battery-manager", "config.toml")
}

func (c Config) Thresholds() charge.Thresholds {
	return charge.Thresholds{
		MaxTempTrigger: c.MaxTempTrigger,
		SafeTempResume: c.SafeTempResume,
		TargetLimit:    c.TargetLimit,
		SailingFloor:   c.SailingFloor,
	}
}

func (c Config) CheckInterval() time.Duration {
	return time.Duration(c.CheckIntervalSeconds) * time.Second
}

func (c Config) TelemetryTimeout() time.Duration {
	return time.Duration(c.TelemetryTimeoutSeconds) * time.Second
}

func (c Config) Validate() error {
	if err := c.Thresholds().Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if c.CheckIntervalSeconds <= 0 {
		return fmt.Errorf("%w: check-interval-seconds must be positive", ErrInvalidConfig)
	}
	if c.TelemetryTimeoutSeconds <= 0 {
		return fmt.Errorf("%w: telemetry-timeout-seconds must be positive", ErrInvalidConfig)
	}
	if c.StateFile == "" {
		return fmt.Errorf("%w: state-file is empty", ErrInvalidConfig)
	}
	if c.History.Enable && c.History.MaxLines <= 0 {
		return fmt.Errorf("%w: history max-lines must be positive", ErrInvalidConfig)
	}
	if c.MQTT.Enable && c.MQTT.Broker == "" {
		return fmt.Errorf("%w: mqtt is enabled without a broker", ErrInvalidConfig)
	}
	if c.HTTP.Enable && c.HTTP.Address == "" {
		return fmt.Errorf("%w: http is enabled without an address", ErrInvalidConfig)
	}
	return nil
}

// ParseConfig reads the config file over the defaults. A missing file gives
// the defaults.
func ParseConfig(path string) (*Config, error) {
	conf := DefaultConfig()
	if path != "" {
		md, err := toml.DecodeFile(path, &conf)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
		if err == nil {
			if undecoded := md.Undecoded(); len(undecoded) > 0 {
				keys := make([]string, 0, len(undecoded))
				for _, k := range undecoded {
					keys = append(keys, k.String())
				}
				sort.Strings(keys)
				return nil, fmt.Errorf("%w: unknown keys in %s: %s", ErrInvalidConfig, path, strings.Join(keys, ", "))
			}
		}
	}

	var err error
	if conf.StateFile, err = expandHome(conf.StateFile); err != nil {
		return nil, err
	}
	if conf.History.File, err = expandHome(conf.History.File); err != nil {
		return nil, err
	}
	if conf.BatteryCLI, err = expandHome(conf.BatteryCLI); err != nil {
		return nil, err
	}
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	return &conf, nil
}

func expandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}

// configChanged reparses the config file and compares it with the running
// config. overrides is applied to the new config first, as it was at startup.
func configChanged(conf *Config, path string, overrides func(*Config)) (bool, error) {
	newConfig, err := ParseConfig(path)
	if err != nil {
		return false, err
	}
	if overrides != nil {
		overrides(newConfig)
	}
	diff := cmp.Diff(conf, newConfig)
	log.Debug("Config diff: ", diff)
	return diff != "", nil
}

// watchConfig waits for the config file to be written. It returns
// errConfigChanged when the new file gives a different config.
func watchConfig(ctx context.Context, conf *Config, path string, overrides func(*Config)) error {
	fsEvents := make(chan notify.EventInfo, 1)
	if err := notify.Watch(path, fsEvents, notify.Write, notify.Create, notify.Rename); err != nil {
		return fmt.Errorf("failed to watch config %s: %w", path, err)
	}
	defer notify.Stop(fsEvents)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-fsEvents:
		}
		changed, err := configChanged(conf, path, overrides)
		if err != nil {
			log.Error("Error reloading config: ", err)
			continue
		}
		if changed {
			log.Info("Config changed. Exiting to allow the service to be restarted.")
			return errConfigChanged
		}
		log.Info("No relevant changes detected in config file.")
	}
}
