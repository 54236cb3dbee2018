package proxy

import (
	"go.uber.org/zap"

	"github.com/e2b-dev/infra/packages/blockproxy/internal/block"
	"github.com/e2b-dev/infra/packages/blockproxy/internal/stats"
)

// Handle classifies one request, counts it and either forwards it to the
// backing device or ends it with block.ErrRejected. It never waits for the
// backing device.
//
// Reads marked as read-ahead and any operation other than read, write and
// discard are rejected. Discards are forwarded without being counted.
func (d *Device) Handle(req *block.Request) block.Disposition {
	d.trace(req)

	switch req.Op {
	case block.OpRead:
		if req.ReadAhead() {
			return d.reject(req)
		}

		d.store.Add(stats.Read, uint64(req.Length))
	case block.OpWrite:
		d.store.Add(stats.Write, uint64(req.Length))
	case block.OpDiscard:
	default:
		return d.reject(req)
	}

	req.Target = d.backing
	req.Target.Submit(req)

	return block.Forwarded
}

// Submit lets a Device be the target of another device.
func (d *Device) Submit(req *block.Request) {
	d.Handle(req)
}

func (d *Device) reject(req *block.Request) block.Disposition {
	req.End(block.ErrRejected)

	return block.Rejected
}

func (d *Device) trace(req *block.Request) {
	if ce := d.logger.Check(zap.DebugLevel, "proxy request"); ce != nil {
		ce.Write(
			zap.Stringer("op", req.Op),
			zap.Uint32("size", req.Length),
			zap.Uint64("request_id", req.ID),
			zap.Bool("read_ahead", req.ReadAhead()),
		)
	}
}
