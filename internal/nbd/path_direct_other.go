//go:build !linux
// +build !linux

package nbd

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

type DirectPathMount struct {
	Backend Backend
}

func NewDirectPathMount(b Backend, _ *DevicePool, _ *zap.Logger, _ MountConfig) *DirectPathMount {
	return &DirectPathMount{Backend: b}
}

func (d *DirectPathMount) Open(context.Context) (uint32, error) {
	return 0, errors.New("platform does not support direct path mount")
}

func (d *DirectPathMount) Close(context.Context) error {
	return errors.New("platform does not support direct path mount")
}
