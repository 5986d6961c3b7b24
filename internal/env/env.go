// Package env reads typed configuration values from the process environment.
// A variable that is set but empty counts as set.
package env

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// String returns the value of key, or def when key is unset.
func String(key string, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

// Strings splits a comma separated value, dropping blank entries.
func Strings(key string, def []string) []string {
	v, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func Duration(key string, def time.Duration) (time.Duration, error) {
	return lookup(key, def, "a duration", time.ParseDuration)
}

func Bool(key string, def bool) (bool, error) {
	return lookup(key, def, "a boolean", strconv.ParseBool)
}

func Int(key string, def int) (int, error) {
	return lookup(key, def, "an integer", strconv.Atoi)
}

// lookup parses key with parse. The error names the variable and the
// rejected value so it reads like the other configuration errors.
func lookup[T any](key string, def T, kind string, parse func(string) (T, error)) (T, error) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return def, nil
	}
	out, err := parse(strings.TrimSpace(v))
	if err != nil {
		var zero T
		return zero, fmt.Errorf("%s must be %s, got %q", key, kind, v)
	}
	return out, nil
}
