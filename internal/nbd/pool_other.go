//go:build !linux
// +build !linux

package nbd

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

var errUnsupported = errors.New("platform does not support nbd")

type ErrDeviceInUse struct{}

func (ErrDeviceInUse) Error() string {
	return "device in use"
}

type (
	DevicePath = string
	DeviceSlot = uint32
)

type DevicePool struct{}

func NewDevicePool(_ *zap.Logger, _ metric.MeterProvider) (*DevicePool, error) {
	return nil, errUnsupported
}

func (d *DevicePool) Populate() error {
	return errUnsupported
}

func (d *DevicePool) GetDevice(context.Context) (DeviceSlot, error) {
	return 0, errUnsupported
}

func (d *DevicePool) ReleaseDevice(context.Context, DeviceSlot) error {
	return errUnsupported
}

func (d *DevicePool) Close() {}

func GetDevicePath(DeviceSlot) DevicePath {
	return ""
}

func GetDeviceSlot(DevicePath) (DeviceSlot, error) {
	return 0, errUnsupported
}
