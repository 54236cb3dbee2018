//go:build linux
// +build linux

package nbd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"os"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/Merovius/nbd/nbdnl"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	connectTimeout = 30 * time.Second

	// disconnectTimeout should not be necessary if the disconnect is reliable
	disconnectTimeout = 30 * time.Second
)

var tracer = otel.Tracer("github.com/e2b-dev/infra/packages/blockproxy/internal/nbd")

type DirectPathMount struct {
	cancelfn   context.CancelFunc
	devicePool *DevicePool
	logger     *zap.Logger

	Backend     Backend
	deviceIndex uint32
	blockSize   uint64
	connections int

	dispatchers []*Dispatch
	socksClient []*os.File
	socksServer []io.Closer

	handlersWg sync.WaitGroup
}

func NewDirectPathMount(b Backend, devicePool *DevicePool, logger *zap.Logger, cfg MountConfig) *DirectPathMount {
	cfg = cfg.withDefaults()

	return &DirectPathMount{
		Backend:     b,
		blockSize:   cfg.BlockSize,
		connections: cfg.Connections,
		devicePool:  devicePool,
		logger:      logger,
		socksClient: make([]*os.File, 0),
		socksServer: make([]io.Closer, 0),
		deviceIndex: math.MaxUint32,
	}
}

func (d *DirectPathMount) serverFlags() nbdnl.ServerFlags {
	flags := nbdnl.FlagHasFlags | nbdnl.FlagCanMulticonn | nbdnl.FlagSendFUA

	if d.Backend.Capabilities().DiscardsSupported {
		flags |= nbdnl.FlagSendTrim
	}

	return flags
}

func (d *DirectPathMount) Open(ctx context.Context) (retDeviceIndex uint32, err error) {
	ctx, span := tracer.Start(ctx, "direct-path-mount-open")
	defer span.End()

	// The handlers outlive Open, so they must not stop with the caller's context.
	handlerCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	d.cancelfn = cancel

	defer func() {
		// Set the device index to the one returned, correctly capture error values
		d.deviceIndex = retDeviceIndex
		d.logger.Debug("opening direct path mount", zap.Uint32("device_index", d.deviceIndex), zap.Error(err))
	}()

	size, err := d.Backend.Size()
	if err != nil {
		return math.MaxUint32, err
	}

	span.AddEvent("got backend size")

	deviceIndex := uint32(math.MaxUint32)

	for {
		deviceIndex, err = d.devicePool.GetDevice(ctx)
		if err != nil {
			return math.MaxUint32, err
		}

		span.AddEvent("got device index", trace.WithAttributes(attribute.Int64("device_index", int64(deviceIndex))))

		d.socksClient = make([]*os.File, 0)
		d.socksServer = make([]io.Closer, 0)
		d.dispatchers = make([]*Dispatch, 0)

		for i := range d.connections {
			// Create the socket pairs
			sockPair, err := syscall.Socketpair(syscall.AF_UNIX, syscall.SOCK_STREAM, 0)
			if err != nil {
				closeErr := closeSocketPairs(d.socksClient, d.socksServer)
				releaseErr := d.devicePool.ReleaseDevice(ctx, deviceIndex)

				return math.MaxUint32, errors.Join(err, closeErr, releaseErr)
			}

			client := os.NewFile(uintptr(sockPair[0]), "client")
			server := os.NewFile(uintptr(sockPair[1]), "server")
			serverc, err := net.FileConn(server)
			if err != nil {
				client.Close()
				server.Close()
				closeErr := closeSocketPairs(d.socksClient, d.socksServer)
				releaseErr := d.devicePool.ReleaseDevice(ctx, deviceIndex)

				return math.MaxUint32, errors.Join(err, closeErr, releaseErr)
			}
			server.Close()

			dispatch := NewDispatch(serverc, d.Backend, d.logger)
			// Start reading commands on the socket and dispatching them to the proxy device
			d.handlersWg.Go(func() {
				handleErr := dispatch.Handle(handlerCtx)
				// The error is expected to happen if the nbd (socket connection) is closed
				d.logger.Info("closing handler for NBD commands",
					zap.Error(handleErr),
					zap.Uint32("device_index", deviceIndex),
					zap.Int("socket_index", i),
				)
			})

			d.socksServer = append(d.socksServer, serverc)
			d.socksClient = append(d.socksClient, client)
			d.dispatchers = append(d.dispatchers, dispatch)
		}

		opts := []nbdnl.ConnectOption{
			nbdnl.WithBlockSize(d.blockSize),
			nbdnl.WithTimeout(connectTimeout),
			nbdnl.WithDeadconnTimeout(connectTimeout),
		}

		idx, connectErr := nbdnl.Connect(deviceIndex, d.socksClient, uint64(size), 0, d.serverFlags(), opts...)
		if connectErr == nil {
			// The idx should be the same as deviceIndex, because we are connecting to it,
			// but we will use the one returned by nbdnl
			deviceIndex = idx

			break
		}

		d.logger.Error("error opening NBD, retrying", zap.Error(connectErr), zap.Uint32("device_index", deviceIndex))

		// Sometimes (rare), there seems to be a BADF error here. Lets just retry for now...
		err := closeSocketPairs(d.socksClient, d.socksServer)
		if err != nil {
			d.logger.Error("error closing socket pairs on error opening NBD", zap.Error(err))
		}

		d.handlersWg.Wait()

		err = d.devicePool.ReleaseDevice(ctx, deviceIndex)
		if err != nil {
			d.logger.Error("error opening NBD, error releasing device", zap.Error(err), zap.Uint32("device_index", deviceIndex))
		}

		if strings.Contains(connectErr.Error(), "invalid argument") {
			return math.MaxUint32, connectErr
		}

		select {
		case <-ctx.Done():
			return math.MaxUint32, errors.Join(connectErr, ctx.Err())
		case <-time.After(25 * time.Millisecond):
		}
	}

	// Wait until it's connected...
	for {
		select {
		case <-ctx.Done():
			return math.MaxUint32, ctx.Err()
		default:
		}

		s, err := nbdnl.Status(deviceIndex)
		if err == nil && s.Connected {
			break
		}

		time.Sleep(100 * time.Microsecond)
	}

	span.AddEvent("connected to NBD")

	d.logger.Info("target exposed over nbd", zap.String("path", GetDevicePath(deviceIndex)))

	return deviceIndex, nil
}

func (d *DirectPathMount) Close(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "direct-path-mount-close")
	defer span.End()

	var errs []error

	idx := d.deviceIndex

	// First cancel the context, which will stop the handlers from reading new requests
	if d.cancelfn != nil {
		d.cancelfn()
	}

	// Disconnect NBD first so the kernel stops issuing requests
	if idx != math.MaxUint32 {
		span.AddEvent("disconnecting NBD")

		err := disconnectNBDWithTimeout(ctx, idx, disconnectTimeout)
		if err != nil {
			errs = append(errs, fmt.Errorf("error disconnecting NBD: %w", err))
		}
	}

	// Close all server socket pairs...
	for _, v := range d.socksServer {
		err := v.Close()
		if err != nil {
			errs = append(errs, fmt.Errorf("error closing server pair: %w", err))
		}
	}

	span.AddEvent("await handlers return")
	d.handlersWg.Wait()

	// Replies to a closed socket fail fast, this only waits for running requests
	span.AddEvent("waiting for pending responses")
	for _, dispatch := range d.dispatchers {
		dispatch.Drain()
	}

	for _, v := range d.socksClient {
		err := v.Close()
		if err != nil {
			errs = append(errs, fmt.Errorf("error closing socket pair client: %w", err))
		}
	}

	// Release the device back to the pool, retry if it is in use
	if idx != math.MaxUint32 {
		releaseCtx, cancel := context.WithTimeout(ctx, disconnectTimeout)
		defer cancel()

		err := d.devicePool.ReleaseDevice(releaseCtx, idx)
		if err != nil {
			errs = append(errs, fmt.Errorf("error releasing nbd device: %w", err))
		}
	}

	d.deviceIndex = math.MaxUint32

	return errors.Join(errs...)
}

func disconnectNBDWithTimeout(ctx context.Context, deviceIndex uint32, timeout time.Duration) error {
	err := nbdnl.Disconnect(deviceIndex)
	if err != nil {
		return err
	}

	// Wait until it's completely disconnected...
	ctxTimeout, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	for {
		select {
		case <-ctxTimeout.Done():
			return ctxTimeout.Err()
		default:
		}

		s, err := nbdnl.Status(deviceIndex)
		if err == nil && !s.Connected {
			return nil
		}

		time.Sleep(100 * time.Microsecond)
	}
}

func closeSocketPairs(socksClient []*os.File, socksServer []io.Closer) error {
	var errs []error
	for _, sock := range socksClient {
		if sock != nil {
			errs = append(errs, sock.Close())
		}
	}
	for _, sock := range socksServer {
		if sock != nil {
			errs = append(errs, sock.Close())
		}
	}

	return errors.Join(errs...)
}
