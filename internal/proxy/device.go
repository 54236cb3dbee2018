package proxy

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/e2b-dev/infra/packages/blockproxy/internal/block"
	"github.com/e2b-dev/infra/packages/blockproxy/internal/stats"
)

const defaultMaxInflight = 256

var tracer = otel.Tracer("github.com/e2b-dev/infra/packages/blockproxy/internal/proxy")

// Opener opens the backing device named by path.
type Opener func(path string, mode block.Mode) (block.Device, error)

func openFile(path string, mode block.Mode) (block.Device, error) {
	return block.Open(path, mode)
}

type options struct {
	logger      *zap.Logger
	mode        block.Mode
	maxInflight int64
	open        Opener
}

type Option func(*options)

func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

func WithMode(mode block.Mode) Option {
	return func(o *options) {
		o.mode = mode
	}
}

// WithMaxInflight bounds the requests running on the backing device at once.
func WithMaxInflight(n int64) Option {
	return func(o *options) {
		o.maxInflight = n
	}
}

func WithOpener(open Opener) Option {
	return func(o *options) {
		o.open = open
	}
}

// Device is a proxy in front of exactly one backing device. It counts the
// requests it receives in a shared stats.Store and forwards them unchanged.
type Device struct {
	id   uuid.UUID
	path string
	caps Capabilities

	store   *stats.Store
	backing *block.Queue

	logger *zap.Logger
	closed atomic.Bool
}

var _ block.Submitter = (*Device)(nil)

// New constructs a proxy device. args must hold exactly one element, the
// path of the backing device.
func New(ctx context.Context, store *stats.Store, args []string, opts ...Option) (d *Device, err error) {
	_, span := tracer.Start(ctx, "proxy-device-new")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "proxy device construction failed")
		}

		span.End()
	}()

	o := options{
		logger:      zap.NewNop(),
		mode:        block.ReadWrite,
		maxInflight: defaultMaxInflight,
		open:        openFile,
	}
	for _, opt := range opts {
		opt(&o)
	}

	if len(args) != 1 {
		return nil, &ConstructionError{
			Reason: ReasonArguments,
			Err:    fmt.Errorf("expected 1 argument, got %d", len(args)),
		}
	}

	path := args[0]
	span.SetAttributes(attribute.String("backing", path))

	dev, err := o.open(path, o.mode)
	if err != nil {
		return nil, &ConstructionError{Reason: ReasonDeviceCheck, Err: err}
	}

	backing, err := block.NewQueue(dev, o.maxInflight)
	if err != nil {
		return nil, &ConstructionError{Reason: ReasonDeviceCheck, Err: errors.Join(err, dev.Close())}
	}

	id := uuid.New()
	logger := o.logger.With(zap.String("device_id", id.String()), zap.String("backing", path))

	logger.Info("proxy device created",
		zap.String("size", humanize.IBytes(uint64(backing.Size()))),
		zap.Stringer("mode", o.mode),
	)

	return &Device{
		id:   id,
		path: path,
		caps: Capabilities{
			DiscardsSupported:  true,
			NumDiscardRequests: 1,
		},
		store:   store,
		backing: backing,
		logger:  logger,
	}, nil
}

func (d *Device) ID() uuid.UUID {
	return d.id
}

func (d *Device) Path() string {
	return d.path
}

func (d *Device) Capabilities() Capabilities {
	return d.caps
}

func (d *Device) Size() (int64, error) {
	return d.backing.Size(), nil
}

// Close releases the backing device. Callers must stop submitting requests
// before closing; the proxy itself does not drain.
func (d *Device) Close(ctx context.Context) error {
	if !d.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}

	ctx, span := tracer.Start(ctx, "proxy-device-close")
	defer span.End()

	err := d.backing.Close(ctx)
	if err != nil {
		span.RecordError(err)

		return fmt.Errorf("failed to close backing device: %w", err)
	}

	d.logger.Info("proxy device closed")

	return nil
}
