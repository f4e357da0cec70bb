package sourcecache

import (
	"errors"
	"fmt"
)

// ErrClosed is returned by manager operations after Close.
var ErrClosed = errors.New("sourcecache: manager is closed")

// ConfigError reports a configuration that can never be valid (unknown
// source or backend kind). It is returned loudly from administrative calls:
// a misconfigured cache is a setup bug, not a runtime condition to tolerate.
type ConfigError struct {
	Source Source
	Kind   Kind
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("sourcecache: invalid config for source %q (kind %q): %s", e.Source, e.Kind, e.Reason)
}

// BackendUnavailableError wraps a store failure at the backend boundary.
// Hot-path callers never see it (the cache degrades to recomputation);
// administrative callers do.
type BackendUnavailableError struct {
	Source Source
	Kind   Kind
	Err    error
}

func (e *BackendUnavailableError) Error() string {
	return fmt.Sprintf("sourcecache: backend %q unavailable for source %q: %v", e.Kind, e.Source, e.Err)
}

func (e *BackendUnavailableError) Unwrap() error { return e.Err }
