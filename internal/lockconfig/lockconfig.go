// Package lockconfig loads pkg/metadata/lock.Config and
// lock.SessionRegistryConfig from file, environment and defaults, and can
// watch the file for changes so an operator can tune lock limits without a
// restart.
package lockconfig

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/marmos91/dittofs/internal/logger"
	"github.com/marmos91/dittofs/pkg/metadata/lock"
)

// Settings bundles everything this package knows how to load from one file.
type Settings struct {
	Lock     lock.Config                `mapstructure:"lock" yaml:"lock"`
	Sessions lock.SessionRegistryConfig `mapstructure:"sessions" yaml:"sessions"`
}

// defaultSettings returns the hardcoded fallback used when no config file is
// present, mirroring lock.DefaultConfig/lock.DefaultSessionRegistryConfig.
func defaultSettings() *Settings {
	return &Settings{
		Lock:     lock.DefaultConfig(),
		Sessions: lock.DefaultSessionRegistryConfig(),
	}
}

// Load reads Settings from configPath (or the DITTOFS_LOCK_CONFIG env var,
// or ./lock.yaml if neither is set), overlaying LOCKCFG_-prefixed
// environment variables, e.g. LOCKCFG_LOCK_MAX_LOCKS_PER_FILE=2000, on the
// keys the file sets. If no file is found it returns the defaults and does
// not consult the environment.
func Load(configPath string) (*Settings, error) {
	v := viper.New()
	setupViper(v, configPath)

	found, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}
	if !found {
		return defaultSettings(), nil
	}

	var s Settings
	if err := v.Unmarshal(&s, viper.DecodeHook(durationDecodeHook())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal lock config: %w", err)
	}
	return &s, nil
}

// Watch loads Settings once and then invokes onChange every time the backing
// file is modified, for as long as the process runs. onChange receives the
// freshly reloaded Settings; decode errors are logged and skipped rather
// than propagated, since a malformed edit mid-save should not crash a
// running server. If no file is found it returns the defaults and watches
// nothing, so onChange is never called.
func Watch(configPath string, onChange func(*Settings)) (*Settings, error) {
	v := viper.New()
	setupViper(v, configPath)

	found, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}
	if !found {
		return defaultSettings(), nil
	}

	var initial Settings
	if err := v.Unmarshal(&initial, viper.DecodeHook(durationDecodeHook())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal lock config: %w", err)
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		var s Settings
		if err := v.Unmarshal(&s, viper.DecodeHook(durationDecodeHook())); err != nil {
			logger.Error("lock config reload failed, keeping previous settings", "path", e.Name, "error", err)
			return
		}
		logger.Info("lock config reloaded", "path", e.Name)
		onChange(&s)
	})
	v.WatchConfig()

	return &initial, nil
}

func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix("LOCKCFG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath == "" {
		configPath = os.Getenv("DITTOFS_LOCK_CONFIG")
	}
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("lock")
		v.SetConfigType("yaml")
	}
}

func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read lock config file: %w", err)
	}
	return true, nil
}

// durationDecodeHook lets config files write human-readable durations like
// "30s" for BlockingTimeout/TTL fields instead of raw nanosecond integers.
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}
