package config

import (
	"fmt"
	"os"
	"strconv"
)

// Where a key's effective value came from.
const (
	SourceDefault = "default"
	SourceFile    = "file"
	SourceEnv     = "env"
	SourceDerived = "derived"
)

// derivedKeys default relative to another setting rather than to a constant.
var derivedKeys = map[string]bool{
	"paths.settings_file": true,
	"paths.update_script": true,
	"log.file":            true,
}

// KeyInfo describes a config key for display purposes.
type KeyInfo struct {
	Key    string
	EnvVar string
	Value  string
	Source string
}

// ShowAll lists the non-secret keys of cfg with the source of each value.
// The environment wins over the config file, which wins over the default.
func ShowAll(cfg Config) []KeyInfo {
	return describeWith(newPlatformBackend(), cfg)
}

func describeWith(b ConfigBackend, cfg Config) []KeyInfo {
	var result []KeyInfo
	for _, s := range specs {
		if s.secret {
			continue
		}
		info := KeyInfo{
			Key:    s.key,
			EnvVar: s.env,
			Value:  fmt.Sprintf("%v", s.extract(cfg)),
			Source: SourceDefault,
		}
		switch {
		case s.env != "" && os.Getenv(s.env) != "":
			info.Source = SourceEnv
		case b.Has(s.key):
			info.Source = SourceFile
		case derivedKeys[s.key]:
			info.Source = SourceDerived
		}
		result = append(result, info)
	}
	return result
}

// SetKey validates value and writes it to the config file.
func SetKey(key, value string) error {
	return setKeyWith(newPlatformBackend(), key, value)
}

// UnsetKey removes key from the config file so its default applies again.
func UnsetKey(key string) error {
	return unsetKeyWith(newPlatformBackend(), key)
}

func lookupSpec(key string) (keySpec, error) {
	for _, s := range specs {
		if s.key != key {
			continue
		}
		if s.secret {
			return keySpec{}, fmt.Errorf("cannot set secret %q via config; use environment variable %s", key, s.env)
		}
		return s, nil
	}
	return keySpec{}, fmt.Errorf("unknown config key: %q", key)
}

func setKeyWith(b ConfigBackend, key, value string) error {
	s, err := lookupSpec(key)
	if err != nil {
		return err
	}
	if s.validate != nil {
		if err := s.validate(value); err != nil {
			return fmt.Errorf("invalid value for %s: %w", key, err)
		}
	}
	if s.typ == kInt {
		i, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid integer value for %s: %w", key, err)
		}
		return b.SetInt(key, i)
	}
	return b.SetString(key, value)
}

func unsetKeyWith(b ConfigBackend, key string) error {
	if _, err := lookupSpec(key); err != nil {
		return err
	}
	return b.Delete(key)
}

// ValidKeys returns the list of valid non-secret config key names.
func ValidKeys() []string {
	var keys []string
	for _, s := range specs {
		if !s.secret {
			keys = append(keys, s.key)
		}
	}
	return keys
}
