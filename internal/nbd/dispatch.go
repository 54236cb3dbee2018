package nbd

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"

	"github.com/e2b-dev/infra/packages/blockproxy/internal/block"
)

var ErrShuttingDown = errors.New("shutting down. Cannot serve any new requests")

// Handler receives every request read from the NBD socket. It must not
// block; the reply is written when the request is ended.
type Handler interface {
	Handle(req *block.Request) block.Disposition
}

const (
	// TODO: Look into optimizing the buffer reads by increasing the buffer size by 28 bytes,
	// to account for a request that is 28 bytes of header + 4MB of data (this seems to be preferred kernel buffer size).
	dispatchBufferSize = 4 * 1024 * 1024
	// https://sourceforge.net/p/nbd/mailman/message/35081223/
	// 32MB is the maximum buffer size for a single request that should be universally supported.
	dispatchMaxWriteBufferSize = 32 * 1024 * 1024

	requestHeaderSize  = 28
	responseHeaderSize = 16
)

// NBD Commands
const (
	NBDCmdRead        = 0
	NBDCmdWrite       = 1
	NBDCmdDisconnect  = 2
	NBDCmdFlush       = 3
	NBDCmdTrim        = 4
	NBDCmdCache       = 5
	NBDCmdWriteZeroes = 6
)

// NBD Command flags
const (
	NBDCmdFlagFUA = 1 << 0
)

const (
	NBDRequestMagic  = 0x25609513
	NBDResponseMagic = 0x67446698
)

// nbdEIO is the only error the dispatcher replies with.
const nbdEIO = 5

// NBD Request packet
type Request struct {
	Magic  uint32
	Flags  uint16
	Type   uint16
	Handle uint64
	From   uint64
	Length uint32
}

func (r *Request) decode(header []byte) {
	r.Magic = binary.BigEndian.Uint32(header)
	r.Flags = binary.BigEndian.Uint16(header[4:6])
	r.Type = binary.BigEndian.Uint16(header[6:8])
	r.Handle = binary.BigEndian.Uint64(header[8:16])
	r.From = binary.BigEndian.Uint64(header[16:24])
	r.Length = binary.BigEndian.Uint32(header[24:28])
}

func opFromCommand(cmd uint16) block.Op {
	switch cmd {
	case NBDCmdRead:
		return block.OpRead
	case NBDCmdWrite:
		return block.OpWrite
	case NBDCmdTrim:
		return block.OpDiscard
	}

	return block.OpOther
}

type Dispatch struct {
	fp               io.ReadWriter
	responseHeader   []byte
	writeLock        sync.Mutex
	handler          Handler
	logger           *zap.Logger
	pendingResponses sync.WaitGroup
	shuttingDown     bool
	shuttingDownLock sync.Mutex
	fatal            chan error
}

func NewDispatch(fp io.ReadWriter, handler Handler, logger *zap.Logger) *Dispatch {
	d := &Dispatch{
		responseHeader: make([]byte, responseHeaderSize),
		fp:             fp,
		handler:        handler,
		logger:         logger,
		fatal:          make(chan error, 1),
	}

	binary.BigEndian.PutUint32(d.responseHeader, NBDResponseMagic)

	return d
}

// Drain stops accepting requests and waits until every reply was written.
func (d *Dispatch) Drain() {
	d.shuttingDownLock.Lock()
	d.shuttingDown = true
	defer d.shuttingDownLock.Unlock()

	// Wait for any pending responses
	d.pendingResponses.Wait()
}

func (d *Dispatch) writeResponse(respError uint32, respHandle uint64, chunk []byte) error {
	d.writeLock.Lock()
	defer d.writeLock.Unlock()

	binary.BigEndian.PutUint32(d.responseHeader[4:], respError)
	binary.BigEndian.PutUint64(d.responseHeader[8:], respHandle)

	_, err := d.fp.Write(d.responseHeader)
	if err != nil {
		return err
	}

	if len(chunk) > 0 {
		_, err = d.fp.Write(chunk)
		if err != nil {
			return err
		}
	}

	return nil
}

// Handle reads requests from the socket until the client disconnects, the
// context is cancelled or a reply cannot be written.
func (d *Dispatch) Handle(ctx context.Context) error {
	buffer := make([]byte, dispatchBufferSize)
	wp := 0

	request := Request{}

	for {
		n, err := d.fp.Read(buffer[wp:])
		if err != nil {
			return err
		}
		wp += n

		// Now go through processing complete packets
		rp := 0
		for {
			// Check if there is a fatal error from an async reply to return
			select {
			case err := <-d.fatal:
				return err
			case <-ctx.Done():
				return ctx.Err()
			default:
			}

			// Make sure we have a complete header
			if wp-rp < requestHeaderSize {
				break // Try again when we have more data...
			}

			request.decode(buffer[rp : rp+requestHeaderSize])

			if request.Magic != NBDRequestMagic {
				return fmt.Errorf("received invalid MAGIC")
			}

			rp += requestHeaderSize

			var data []byte

			switch request.Type {
			case NBDCmdDisconnect:
				return nil // All done
			case NBDCmdWrite:
				if request.Length > dispatchMaxWriteBufferSize {
					return fmt.Errorf("nbd write request length %d exceeds maximum %d", request.Length, dispatchMaxWriteBufferSize)
				}

				data = make([]byte, request.Length)

				dataCopied := copy(data, buffer[rp:wp])

				rp += dataCopied

				// We need to wait for more data here, otherwise we will deadlock if the buffer is Xmb and the length is Xmb because of the header's extra 28 bytes needed.
				for dataCopied < int(request.Length) {
					n, err := d.fp.Read(data[dataCopied:])
					if err != nil {
						return fmt.Errorf("nbd write read error: %w", err)
					}

					dataCopied += n

					select {
					case err := <-d.fatal:
						return err
					case <-ctx.Done():
						return ctx.Err()
					default:
					}
				}
			}

			err := d.submit(request, data)
			if err != nil {
				return err
			}
		}
		// Now we need to move any partial to the start
		if rp != 0 && rp != wp {
			copy(buffer, buffer[rp:wp])
		}
		wp -= rp
	}
}

func (d *Dispatch) submit(header Request, data []byte) error {
	d.shuttingDownLock.Lock()
	if d.shuttingDown {
		d.shuttingDownLock.Unlock()

		return ErrShuttingDown
	}

	d.pendingResponses.Add(1)
	d.shuttingDownLock.Unlock()

	req := block.NewRequest(header.Handle, opFromCommand(header.Type), int64(header.From), header.Length, d.reply)
	req.Data = data

	if header.Flags&NBDCmdFlagFUA != 0 {
		req.Flags |= block.FlagFUA
	}

	d.handler.Handle(req)

	return nil
}

// reply runs when a request ends, on whichever goroutine ended it.
func (d *Dispatch) reply(req *block.Request, reqErr error) {
	defer d.pendingResponses.Done()

	var (
		code  uint32
		chunk []byte
	)

	if reqErr != nil {
		code = nbdEIO

		d.logger.Debug("nbd request failed",
			zap.Stringer("op", req.Op),
			zap.Uint64("handle", req.ID),
			zap.Error(reqErr),
		)
	} else if req.Op == block.OpRead {
		chunk = req.Data[:req.Length]
	}

	err := d.writeResponse(code, req.ID, chunk)
	if err != nil {
		select {
		case d.fatal <- err:
		default:
			d.logger.Error("nbd error writing reply", zap.Error(err))
		}
	}
}
