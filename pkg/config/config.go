package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// GetString returns the variable's value, or fallback when it is unset.
// A variable set to the empty string counts as set.
func GetString(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

// GetInt parses the variable as a base-10 int.
func GetInt(key string, fallback int) int {
	return parsed(key, fallback, strconv.Atoi)
}

// GetBool parses the variable with strconv.ParseBool.
func GetBool(key string, fallback bool) bool {
	return parsed(key, fallback, strconv.ParseBool)
}

// GetDuration parses a Go duration string such as "90s" or "168h".
func GetDuration(key string, fallback time.Duration) time.Duration {
	return parsed(key, fallback, time.ParseDuration)
}

// GetList splits a comma separated variable, dropping blank entries.
func GetList(key string, fallback []string) []string {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if out == nil {
		out = []string{}
	}
	return out
}

// parsed returns fallback when the variable is unset or does not parse. A bad
// value is logged.
func parsed[T any](key string, fallback T, parse func(string) (T, error)) T {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	v, err := parse(strings.TrimSpace(value))
	if err != nil {
		slog.Warn("ignoring invalid environment value", "key", key, "error", err)
		return fallback
	}
	return v
}
