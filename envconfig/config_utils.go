// config_utils.go - generic getters and config export helpers.
//
// This module contains:
// - BoolWithDefault/Bool: boolean getters with a default value
// - String: string getter
// - Uint/Uint64: integer getters with a default value
// - EnvVar: metadata struct for one environment variable
// - AsMap: every known configuration knob as a map
// - Values: every known configuration value as a string map
package envconfig

import (
	"fmt"
	"log/slog"
	"strconv"
)

// =============================================================================
// Boolean getters
// =============================================================================

// BoolWithDefault returns a function reading a bool with a default value.
func BoolWithDefault(k string) func(defaultValue bool) bool {
	return func(defaultValue bool) bool {
		if s := Var(k); s != "" {
			b, err := strconv.ParseBool(s)
			if err != nil {
				return true
			}
			return b
		}
		return defaultValue
	}
}

// Bool returns a function reading a bool, defaulting to false.
func Bool(k string) func() bool {
	withDefault := BoolWithDefault(k)
	return func() bool {
		return withDefault(false)
	}
}

// =============================================================================
// String getters
// =============================================================================

// String returns a function reading a raw string value.
func String(s string) func() string {
	return func() string {
		return Var(s)
	}
}

// =============================================================================
// Integer getters
// =============================================================================

// Uint returns a function reading a uint with a default value.
func Uint(key string, defaultValue uint) func() uint {
	return func() uint {
		if s := Var(key); s != "" {
			if n, err := strconv.ParseUint(s, 10, 64); err != nil {
				slog.Warn("invalid environment variable, using default", "key", key, "value", s, "default", defaultValue)
			} else {
				return uint(n)
			}
		}
		return defaultValue
	}
}

// Uint64 returns a function reading a uint64 with a default value.
func Uint64(key string, defaultValue uint64) func() uint64 {
	return func() uint64 {
		if s := Var(key); s != "" {
			if n, err := strconv.ParseUint(s, 10, 64); err != nil {
				slog.Warn("invalid environment variable, using default", "key", key, "value", s, "default", defaultValue)
			} else {
				return n
			}
		}
		return defaultValue
	}
}

// =============================================================================
// Export structures and functions
// =============================================================================

// EnvVar describes one environment variable along with its current value.
type EnvVar struct {
	Name        string
	Value       any
	Description string
}

// AsMap returns every configuration knob this server recognizes, keyed by
// its environment variable name.
func AsMap() map[string]EnvVar {
	return map[string]EnvVar{
		"CALCSERVER_LOG_LEVEL":  {"CALCSERVER_LOG_LEVEL", LogLevel(), "Log level: debug, info, warn, error (default info)"},
		"CALCSERVER_MAX_QUEUE":  {"CALCSERVER_MAX_QUEUE", MaxQueue(), "Configured mpsync pending marker queue depth, not read by mpsync (default 512)"},
		"CALCSERVER_HOST_RANK":  {"CALCSERVER_HOST_RANK", HostRank(), "Rank override for this process in a multi-process sync group (default 0)"},
		"CALCSERVER_KERNEL_DIR": {"CALCSERVER_KERNEL_DIR", KernelDir(), "Kernel source directory, logged at startup only (default \"kernels\")"},
		"CALCSERVER_PROFILE":    {"CALCSERVER_PROFILE", Profile(), "Substage profiling toggle, not read by pipeline"},
	}
}

// Values returns every configuration value as a string map, suitable for
// logging at startup.
func Values() map[string]string {
	vals := make(map[string]string)
	for k, v := range AsMap() {
		vals[k] = fmt.Sprintf("%v", v.Value)
	}
	return vals
}
