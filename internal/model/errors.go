package model

import "fmt"

// ConfigError reports malformed step registry, threshold, or mapping-rule
// data. It is raised at startup or resolve time and is never retried.
type ConfigError struct {
	Subject string // e.g. "step file_type_detection", "rule r-12"
	Reason  string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config error: %s: %s", e.Subject, e.Reason)
}

// NewConfigError builds a ConfigError.
func NewConfigError(subject, format string, args ...any) *ConfigError {
	return &ConfigError{Subject: subject, Reason: fmt.Sprintf(format, args...)}
}
