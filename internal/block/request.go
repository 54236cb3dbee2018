package block

import (
	"sync/atomic"
)

// Op is the operation a request carries. It is decided once, when the
// request enters the proxy.
type Op uint8

const (
	OpOther Op = iota
	OpRead
	OpWrite
	OpDiscard
)

func (o Op) String() string {
	switch o {
	case OpRead:
		return "read"
	case OpWrite:
		return "write"
	case OpDiscard:
		return "discard"
	}

	return "other"
}

type Flags uint16

const (
	// FlagReadAhead marks a speculative read the issuer can afford to lose.
	FlagReadAhead Flags = 1 << iota
	// FlagFUA asks for the write to be durable before it completes.
	FlagFUA
)

type Disposition uint8

const (
	Forwarded Disposition = iota
	Rejected
)

func (d Disposition) String() string {
	if d == Forwarded {
		return "forwarded"
	}

	return "rejected"
}

// Submitter is the entry point of a device. Submit must not wait for the
// request to complete; completion is reported through Request.End.
type Submitter interface {
	Submit(req *Request)
}

type EndFunc func(req *Request, err error)

type Request struct {
	ID     uint64
	Op     Op
	Flags  Flags
	Offset int64
	// Length is the number of bytes the request covers. For reads and writes
	// it matches len(Data).
	Length uint32
	Data   []byte

	// Target is the device the request is addressed to.
	Target Submitter

	end   EndFunc
	ended atomic.Bool
}

func NewRequest(id uint64, op Op, offset int64, length uint32, end EndFunc) *Request {
	return &Request{
		ID:     id,
		Op:     op,
		Offset: offset,
		Length: length,
		end:    end,
	}
}

func (r *Request) ReadAhead() bool {
	return r.Flags&FlagReadAhead != 0
}

// End completes the request. Only the first call has an effect.
func (r *Request) End(err error) {
	if !r.ended.CompareAndSwap(false, true) {
		return
	}

	if r.end != nil {
		r.end(r, err)
	}
}
