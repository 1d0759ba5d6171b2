package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"weaver/internal/pkg/errors"
)

func Env(k, def string) string {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	return v
}

// MustEnv returns a VALIDATION_ERROR naming k when it is unset.
func MustEnv(k string) (string, error) {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return "", errors.ValidationField(k, "missing env: "+k)
	}
	return v, nil
}

func BoolEnv(k string, def bool) (bool, error) {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def, errors.ValidationField(k, k+" must be a boolean, got "+strconv.Quote(v))
	}
	return b, nil
}

func IntEnv(k string, def int) (int, error) {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def, errors.ValidationField(k, k+" must be an integer, got "+strconv.Quote(v))
	}
	return n, nil
}

// DurationEnv accepts Go durations ("90s", "5m") or a bare number of milliseconds.
func DurationEnv(k string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def, nil
	}
	if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def, errors.ValidationField(k, k+" must be a duration, got "+strconv.Quote(v))
	}
	return d, nil
}

// ListEnv splits a comma separated value, dropping blanks.
func ListEnv(k string, def []string) []string {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if s := strings.TrimSpace(part); s != "" {
			out = append(out, s)
		}
	}
	return out
}
