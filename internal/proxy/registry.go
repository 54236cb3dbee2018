package proxy

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	cmap "github.com/orcaman/concurrent-map/v2"
	"go.uber.org/zap"

	"github.com/e2b-dev/infra/packages/blockproxy/internal/stats"
)

// Mount exposes a proxy device to consumers outside the process.
type Mount interface {
	Open(ctx context.Context) (uint32, error)
	Close(ctx context.Context) error
}

type MountFactory func(d *Device) Mount

type Target struct {
	Name   string
	Device *Device

	mount      Mount
	mountIndex uint32
}

type TargetInfo struct {
	Name     string  `json:"name"`
	DeviceID string  `json:"device_id"`
	Backing  string  `json:"backing"`
	Size     int64   `json:"size"`
	NBDIndex *uint32 `json:"nbd_index,omitempty"`
}

func (t *Target) Info() TargetInfo {
	size, _ := t.Device.Size()

	info := TargetInfo{
		Name:     t.Name,
		DeviceID: t.Device.ID().String(),
		Backing:  t.Device.Path(),
		Size:     size,
	}

	if t.mount != nil {
		idx := t.mountIndex
		info.NBDIndex = &idx
	}

	return info
}

// Registry keeps the named proxy devices of the process, like the device
// table kept by dmsetup.
type Registry struct {
	targets cmap.ConcurrentMap[string, *Target]

	store  *stats.Store
	logger *zap.Logger
	mounts MountFactory
	opts   []Option
}

// NewRegistry creates an empty registry. mounts may be nil, in which case
// devices are only reachable in-process.
func NewRegistry(store *stats.Store, logger *zap.Logger, mounts MountFactory, opts ...Option) *Registry {
	return &Registry{
		targets: cmap.New[*Target](),
		store:   store,
		logger:  logger,
		mounts:  mounts,
		opts:    append([]Option{WithLogger(logger)}, opts...),
	}
}

func (r *Registry) Create(ctx context.Context, name string, args []string) (*Target, error) {
	if name == "" || strings.ContainsAny(name, "/ \t\n") {
		return nil, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}

	if r.targets.Has(name) {
		return nil, fmt.Errorf("%w: %s", ErrTargetExists, name)
	}

	device, err := New(ctx, r.store, args, r.opts...)
	if err != nil {
		return nil, err
	}

	t := &Target{
		Name:   name,
		Device: device,
	}

	if r.mounts != nil {
		mount := r.mounts(device)

		idx, err := mount.Open(ctx)
		if err != nil {
			return nil, errors.Join(fmt.Errorf("failed to mount target %s: %w", name, err), device.Close(ctx))
		}

		t.mount = mount
		t.mountIndex = idx
	}

	if !r.targets.SetIfAbsent(name, t) {
		return nil, errors.Join(fmt.Errorf("%w: %s", ErrTargetExists, name), r.teardown(ctx, t))
	}

	r.logger.Info("target created", zap.String("target", name), zap.Stringer("type", Type))

	return t, nil
}

func (r *Registry) Get(name string) (*Target, bool) {
	return r.targets.Get(name)
}

func (r *Registry) Remove(ctx context.Context, name string) error {
	t, ok := r.targets.Pop(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrTargetNotFound, name)
	}

	err := r.teardown(ctx, t)
	if err != nil {
		return fmt.Errorf("failed to remove target %s: %w", name, err)
	}

	r.logger.Info("target removed", zap.String("target", name))

	return nil
}

func (r *Registry) List() []*Target {
	targets := make([]*Target, 0, r.targets.Count())
	for _, t := range r.targets.Items() {
		targets = append(targets, t)
	}

	slices.SortFunc(targets, func(a, b *Target) int {
		return strings.Compare(a.Name, b.Name)
	})

	return targets
}

// Close removes every target.
func (r *Registry) Close(ctx context.Context) error {
	var errs []error

	for _, t := range r.List() {
		err := r.Remove(ctx, t.Name)
		if err != nil && !errors.Is(err, ErrTargetNotFound) {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func (r *Registry) teardown(ctx context.Context, t *Target) error {
	var errs []error

	if t.mount != nil {
		err := t.mount.Close(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("error closing mount: %w", err))
		}
	}

	err := t.Device.Close(ctx)
	if err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}
