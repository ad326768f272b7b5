package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/parsers/yaml"
	env "github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	yamlv3 "gopkg.in/yaml.v3"
)

const (
	// EnvPrefix prefixes environment overrides, e.g. PIPE_UPDATER_SERVER_ADDRESS.
	EnvPrefix = "PIPE_UPDATER_"

	// LegacyLogEnv sets the log level; kept for existing unit files.
	LegacyLogEnv = "PROXY_LOG"
)

var errProviderReadUnsupported = errors.New("provider supports ReadBytes only")

// bytesProvider feeds pre-rendered YAML into koanf.
type bytesProvider []byte

func (b bytesProvider) ReadBytes() ([]byte, error) {
	return b, nil
}

func (b bytesProvider) Read() (map[string]any, error) {
	return nil, errProviderReadUnsupported
}

// Load reads configuration using three layers (highest precedence last):
//
//  1. Built-in defaults (Default)
//  2. The YAML file at path
//  3. Environment variables (PROXY_LOG, then PIPE_UPDATER_ prefix)
//
// When path is empty the DefaultConfigFilename is used, and if that file does
// not exist the built-in DefaultTarget is installed so the daemon behaves like
// an unconfigured updater.
func Load(path string) (*Config, error) {
	return load(path, true)
}

// ReadFile reads the YAML file at path over the built-in defaults, ignoring
// environment overrides. Use it when the file is rewritten with Save.
func ReadFile(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigFilename
	}

	return load(path, false)
}

func load(path string, environment bool) (*Config, error) {
	optional := path == ""
	if optional {
		path = DefaultConfigFilename
	}

	path = filepath.Clean(path)

	_, statErr := os.Stat(path)
	missing := errors.Is(statErr, os.ErrNotExist)

	if missing && !optional {
		return nil, fmt.Errorf("read settings: %w", statErr)
	}

	seed := Default()
	if missing {
		seed.Targets = []Target{DefaultTarget()}
	}

	defaults, err := yamlv3.Marshal(seed)
	if err != nil {
		return nil, fmt.Errorf("render defaults: %w", err)
	}

	k := koanf.New(".")

	if err = k.Load(bytesProvider(defaults), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if !missing {
		if err = k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("read settings %s: %w", path, err)
		}
	}

	if environment {
		if err = loadEnvironment(k); err != nil {
			return nil, err
		}
	}

	cfg := new(Config)

	if err = k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{
		Tag: "yaml",
		DecoderConfig: &mapstructure.DecoderConfig{
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				mapstructure.TextUnmarshallerHookFunc(),
				mapstructure.StringToSliceHookFunc(","),
			),
			Result:           cfg,
			WeaklyTypedInput: true,
		},
	}); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}

	if err = Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadEnvironment applies PROXY_LOG and PIPE_UPDATER_* variables.
func loadEnvironment(k *koanf.Koanf) error {
	if level := os.Getenv(LegacyLogEnv); level != "" {
		if err := k.Set("log.level", level); err != nil {
			return fmt.Errorf("apply %s: %w", LegacyLogEnv, err)
		}
	}

	envLookup := buildEnvLookup(k.Keys())

	if err := k.Load(env.Provider(".", env.Opt{
		Prefix: EnvPrefix,
		TransformFunc: func(key, value string) (string, any) {
			key = strings.ToLower(strings.TrimPrefix(key, EnvPrefix))

			if koanfKey, ok := envLookup[key]; ok {
				return koanfKey, value
			}

			return strings.ReplaceAll(key, "_", "."), value
		},
	}), nil); err != nil {
		return fmt.Errorf("read environment: %w", err)
	}

	return nil
}

// buildEnvLookup maps env-style keys ("download_retry_max_attempts") to koanf
// keys ("download.retry.max_attempts") so underscores inside field names survive.
func buildEnvLookup(keys []string) map[string]string {
	lookup := make(map[string]string, len(keys))
	for _, key := range keys {
		lookup[strings.ReplaceAll(key, ".", "_")] = key
	}

	return lookup
}
