package layers

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/kparichay/nntrainer/internal/nn"
)

// SplitProperty parses one "key=value" configuration string.
func SplitProperty(prop string) (key, value string, err error) {
	k, v, found := strings.Cut(prop, "=")
	k, v = strings.TrimSpace(k), strings.TrimSpace(v)
	if !found || k == "" || v == "" {
		return "", "", fmt.Errorf("%w: malformed property %q, want key=value",
			nn.ErrInvalidArgument, prop)
	}
	return k, v, nil
}

// ParseUint parses a positive integer property value.
func ParseUint(key, value string) (int, error) {
	n, err := strconv.Atoi(value)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%w: property %s=%q, want a positive integer",
			nn.ErrInvalidArgument, key, value)
	}
	return n, nil
}

// ParseBool parses a boolean property value.
func ParseBool(key, value string) (bool, error) {
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("%w: property %s=%q, want a boolean",
			nn.ErrInvalidArgument, key, value)
	}
	return b, nil
}

// ParseFloat parses a float property value.
func ParseFloat(key, value string) (float32, error) {
	f, err := strconv.ParseFloat(value, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: property %s=%q, want a number",
			nn.ErrInvalidArgument, key, value)
	}
	return float32(f), nil
}
