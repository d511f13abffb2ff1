package layout

import "fmt"

// ConfigError reports an invalid layout or paper setting. Configuration is
// rejected up front, before any ingestion or pagination work, and is never
// silently replaced with a default.
type ConfigError struct {
	Field  string
	Value  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Reason)
}
