package nbd

import (
	"go.uber.org/zap"

	"github.com/e2b-dev/infra/packages/blockproxy/internal/proxy"
)

const (
	defaultBlockSize   = 4096
	defaultConnections = 4
)

// Backend is what a DirectPathMount exposes through the kernel.
type Backend interface {
	Handler
	Size() (int64, error)
	Capabilities() proxy.Capabilities
}

type MountConfig struct {
	BlockSize   uint64
	Connections int
}

func (c MountConfig) withDefaults() MountConfig {
	if c.BlockSize == 0 {
		c.BlockSize = defaultBlockSize
	}

	if c.Connections <= 0 {
		c.Connections = defaultConnections
	}

	return c
}

// MountFactory exposes every proxy device created by a registry as /dev/nbdX.
func MountFactory(pool *DevicePool, logger *zap.Logger, cfg MountConfig) proxy.MountFactory {
	return func(d *proxy.Device) proxy.Mount {
		return NewDirectPathMount(d, pool, logger, cfg)
	}
}
