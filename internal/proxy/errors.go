package proxy

import (
	"errors"
	"fmt"
)

const (
	ReasonArguments   = "Arguments error"
	ReasonDeviceCheck = "Device check failed"
)

// ConstructionError is returned when a proxy device cannot be created.
// Nothing acquired during the attempt is left open.
type ConstructionError struct {
	Reason string
	Err    error
}

func (e *ConstructionError) Error() string {
	if e.Err == nil {
		return e.Reason
	}

	return fmt.Sprintf("%s: %s", e.Reason, e.Err.Error())
}

func (e *ConstructionError) Unwrap() error {
	return e.Err
}

var (
	ErrClosed         = errors.New("proxy device already closed")
	ErrTargetExists   = errors.New("target already exists")
	ErrTargetNotFound = errors.New("target not found")
	ErrInvalidName    = errors.New("invalid target name")
)
