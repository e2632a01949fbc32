// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/ffav/internal/log"
)

// EnvPrefix marks the environment keys owned by ffav.
const EnvPrefix = "FFAV_"

// EnvConfigPath names the config file when no --config flag is given.
const EnvConfigPath = EnvPrefix + "CONFIG"

// ParseString reads key from the environment, falling back to defaultValue
// when it is unset or empty. The chosen source is logged at debug level.
func ParseString(key, defaultValue string) string {
	return parseEnv(key, defaultValue, func(s string) (string, error) { return s, nil }, (*zerolog.Event).Str)
}

// ParseInt falls back to defaultValue on unset, empty or malformed input.
func ParseInt(key string, defaultValue int) int {
	return parseEnv(key, defaultValue, strconv.Atoi, (*zerolog.Event).Int)
}

// ParseDuration accepts Go duration syntax ("250ms", "2s").
func ParseDuration(key string, defaultValue time.Duration) time.Duration {
	return parseEnv(key, defaultValue, time.ParseDuration, (*zerolog.Event).Dur)
}

// ParseBool accepts the strconv.ParseBool spellings.
func ParseBool(key string, defaultValue bool) bool {
	return parseEnv(key, defaultValue, strconv.ParseBool, (*zerolog.Event).Bool)
}

func ParseFloat(key string, defaultValue float64) float64 {
	return parseEnv(key, defaultValue, func(s string) (float64, error) {
		return strconv.ParseFloat(s, 64)
	}, (*zerolog.Event).Float64)
}

func parseEnv[T any](key string, defaultValue T, parse func(string) (T, error), field func(*zerolog.Event, string, T) *zerolog.Event) T {
	logger := log.WithComponent("config")
	raw, ok := os.LookupEnv(key)
	raw = strings.TrimSpace(raw)
	if !ok || raw == "" {
		field(logger.Debug().Str("key", key), "default", defaultValue).
			Str("source", "default").
			Msg("using default value")
		return defaultValue
	}
	v, err := parse(raw)
	if err != nil {
		field(logger.Warn().Str("key", key).Str("value", raw), "default", defaultValue).
			Err(err).
			Msg("invalid environment value, using default")
		return defaultValue
	}
	field(logger.Debug().Str("key", key), "value", v).
		Str("source", "environment").
		Msg("using environment variable")
	return v
}

// unknownEnvKeys lists FFAV_* keys in environ that no loader step consumed.
func unknownEnvKeys(environ []string, consumed map[string]struct{}) []string {
	var out []string
	for _, kv := range environ {
		key, _, _ := strings.Cut(kv, "=")
		if !strings.HasPrefix(key, EnvPrefix) {
			continue
		}
		if _, ok := consumed[key]; !ok {
			out = append(out, key)
		}
	}
	return out
}
