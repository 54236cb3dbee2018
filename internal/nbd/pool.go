//go:build linux
// +build linux

package nbd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bits-and-blooms/bitset"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const (
	// maxSlotsReady is the number of slots that are ready to be used.
	maxSlotsReady = 64

	SlotsReadyMeterName = "blockproxy.nbd.slots.ready"

	populateBackoff = 100 * time.Millisecond
	releaseInterval = 10 * time.Millisecond
)

// ErrNoFreeSlots is returned when there are no free slots.
// You can retry the request after some time.
type ErrNoFreeSlots struct{}

func (ErrNoFreeSlots) Error() string {
	return "no free slots"
}

// ErrDeviceInUse is returned when the device that you wanted to release is still in use.
// You can retry the request after ensuring that the device is not in use anymore.
type ErrDeviceInUse struct{}

func (ErrDeviceInUse) Error() string {
	return "device in use"
}

type (
	// DevicePath is the path to the nbd device.
	DevicePath = string
	// DeviceSlot is the slot number of the nbd device.
	DeviceSlot = uint32
)

// DevicePool requires the nbd module to be loaded before running.
//
// Use `sudo modprobe nbd nbds_max=64` to make devices available.
type DevicePool struct {
	ctx    context.Context
	cancel context.CancelFunc
	logger *zap.Logger

	// We use the bitset to speedup the free device lookup.
	usedSlots *bitset.BitSet
	mu        sync.Mutex

	slots chan DeviceSlot
	done  chan struct{}

	slotCounter metric.Int64UpDownCounter
}

func NewDevicePool(logger *zap.Logger, meterProvider metric.MeterProvider) (*DevicePool, error) {
	maxDevices, err := getMaxDevices()
	if err != nil {
		return nil, fmt.Errorf("failed to get current max devices: %w", err)
	}

	if maxDevices == 0 {
		return nil, fmt.Errorf("nbd module is not loaded or max devices is set to 0")
	}

	counter, err := meterProvider.Meter("internal.nbd").Int64UpDownCounter(SlotsReadyMeterName,
		metric.WithDescription("Number of nbd slots ready to be used."),
		metric.WithUnit("{slot}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get nbd slot pool counter: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	pool := &DevicePool{
		ctx:         ctx,
		cancel:      cancel,
		logger:      logger,
		usedSlots:   bitset.New(maxDevices),
		slots:       make(chan DeviceSlot, maxSlotsReady),
		done:        make(chan struct{}),
		slotCounter: counter,
	}

	go func() {
		defer close(pool.done)

		err := pool.Populate()
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("failed during populating device pool", zap.Error(err))
		}
	}()

	return pool, nil
}

func getMaxDevices() (uint, error) {
	data, err := os.ReadFile("/sys/module/nbd/parameters/nbds_max")

	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}

	if err != nil {
		return 0, fmt.Errorf("failed to read nbds_max: %w", err)
	}

	maxDevices, err := strconv.ParseUint(strings.TrimSpace(string(data)), 10, 0)
	if err != nil {
		return 0, fmt.Errorf("failed to parse nbds_max: %w", err)
	}

	return uint(maxDevices), nil
}

// Populate keeps the ready channel filled until the pool is closed.
func (d *DevicePool) Populate() error {
	defer close(d.slots)

	for {
		select {
		case <-d.ctx.Done():
			return d.ctx.Err()
		default:
		}

		device, err := d.getFreeDeviceSlot()
		if err != nil {
			d.logger.Debug("[nbd pool]: failed to find a free slot", zap.Error(err))

			select {
			case <-d.ctx.Done():
				return d.ctx.Err()
			case <-time.After(populateBackoff):
			}

			continue
		}

		select {
		case <-d.ctx.Done():
			d.clearSlot(*device)

			return d.ctx.Err()
		case d.slots <- *device:
			d.slotCounter.Add(d.ctx, 1)
		}
	}
}

// The following files and resources are useful for checking if the device is free:
// /sys/devices/virtual/block/nbdX/pid
// /sys/block/nbdX/pid
// /sys/block/nbdX/size
// nbd-client -c
// https://unix.stackexchange.com/questions/33508/check-which-network-block-devices-are-in-use
func (d *DevicePool) isDeviceFree(slot DeviceSlot) (bool, error) {
	// Continue only if the file doesn't exist.
	pidFile := fmt.Sprintf("/sys/block/nbd%d/pid", slot)

	_, err := os.Stat(pidFile)
	if err == nil {
		// File is present, therefore the device is in use.
		return false, nil
	}

	if !os.IsNotExist(err) {
		return false, fmt.Errorf("failed to stat pid file: %w", err)
	}

	sizeFile := fmt.Sprintf("/sys/block/nbd%d/size", slot)

	data, err := os.ReadFile(sizeFile)
	if err != nil {
		return false, fmt.Errorf("failed to read size file: %w", err)
	}

	size, err := strconv.ParseUint(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return false, fmt.Errorf("failed to parse size: %w", err)
	}

	return size == 0, nil
}

func (d *DevicePool) clearSlot(slot DeviceSlot) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.usedSlots.Clear(uint(slot))
}

func (d *DevicePool) getMaybeEmptySlot(start DeviceSlot) (DeviceSlot, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	slot, ok := d.usedSlots.NextClear(uint(start))
	if !ok || slot >= d.usedSlots.Len() {
		return 0, false
	}

	d.usedSlots.Set(slot)

	return uint32(slot), true
}

func (d *DevicePool) getFreeDeviceSlot() (*DeviceSlot, error) {
	start := uint32(0)

	for {
		slot, ok := d.getMaybeEmptySlot(start)
		if !ok {
			return nil, ErrNoFreeSlots{}
		}

		free, err := d.isDeviceFree(slot)
		if err != nil {
			d.clearSlot(slot)

			return nil, fmt.Errorf("failed to check if device is free: %w", err)
		}

		if !free {
			// We clear the slot even though it is not free to prevent accidental accumulation of slots.
			d.clearSlot(slot)

			start = slot + 1

			continue
		}

		return &slot, nil
	}
}

// GetDevice takes a free slot, waiting until one is ready or ctx is done.
func (d *DevicePool) GetDevice(ctx context.Context) (DeviceSlot, error) {
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case slot, ok := <-d.slots:
		if !ok {
			return 0, errors.New("device pool is closed")
		}

		d.slotCounter.Add(d.ctx, -1)

		return slot, nil
	}
}

// ReleaseDevice returns the slot to the pool. It retries while the kernel
// still reports the device in use, until ctx is done.
func (d *DevicePool) ReleaseDevice(ctx context.Context, idx DeviceSlot) error {
	ticker := time.NewTicker(releaseInterval)
	defer ticker.Stop()

	for {
		free, err := d.isDeviceFree(idx)
		if err != nil {
			return fmt.Errorf("failed to check if device is free: %w", err)
		}

		if free {
			d.clearSlot(idx)

			return nil
		}

		select {
		case <-ctx.Done():
			return errors.Join(ErrDeviceInUse{}, ctx.Err())
		case <-ticker.C:
		}
	}
}

// Close stops populating and releases the slots nobody took.
func (d *DevicePool) Close() {
	d.cancel()
	<-d.done

	for slot := range d.slots {
		d.clearSlot(slot)
		d.slotCounter.Add(context.Background(), -1)
	}
}

func GetDevicePath(slot DeviceSlot) DevicePath {
	return fmt.Sprintf("/dev/nbd%d", slot)
}

var reSlot = regexp.MustCompile(`^/dev/nbd(\d+)$`)

func GetDeviceSlot(path DevicePath) (DeviceSlot, error) {
	matches := reSlot.FindStringSubmatch(path)
	if len(matches) != 2 {
		return 0, fmt.Errorf("invalid nbd path: %s", path)
	}

	slot, err := strconv.ParseUint(matches[1], 10, 32)
	if err != nil {
		return 0, fmt.Errorf("failed to parse slot from path: %w", err)
	}

	return DeviceSlot(slot), nil
}
