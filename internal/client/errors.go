package client

import (
	"errors"
	"fmt"
)

// ErrMaxReconnectAttempts is delivered to change listeners when the manager
// gives up reconnecting.
var ErrMaxReconnectAttempts = errors.New("max reconnection attempts reached")

// ConfigError means Connect was called without enough configuration to try.
// No connection attempt is made.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("platform sync not configured: %s %s", e.Field, e.Reason)
}

// ConnectError wraps a failed dial or a dropped connection.
type ConnectError struct {
	URL string
	Err error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect %s: %v", e.URL, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }
