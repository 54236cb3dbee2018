package stats

import (
	"sync/atomic"
)

// Category is the kind of request a counter pair tracks.
type Category uint8

const (
	Read Category = iota
	Write
)

func (c Category) String() string {
	switch c {
	case Read:
		return "read"
	case Write:
		return "write"
	}

	return "unknown"
}

type counter struct {
	reqs  atomic.Uint64
	bytes atomic.Uint64
}

// Store holds the request counters shared by every proxy device in the process.
//
// Counters are only ever mutated with atomic adds. The request count and the
// byte total of a category are two separate adds, so a reader may see one
// without the other.
type Store struct {
	read  counter
	write counter
}

func NewStore() *Store {
	return &Store{}
}

// Add counts one request of the given category carrying n bytes.
func (s *Store) Add(c Category, n uint64) {
	var ctr *counter

	switch c {
	case Read:
		ctr = &s.read
	case Write:
		ctr = &s.write
	default:
		return
	}

	ctr.reqs.Add(1)
	ctr.bytes.Add(n)
}

// Snapshot is a point-in-time copy of the counters. Fields are loaded
// independently and may be slightly skewed under concurrent writers.
type Snapshot struct {
	ReadCount  uint64 `json:"read_count"`
	ReadBytes  uint64 `json:"read_bytes"`
	WriteCount uint64 `json:"write_count"`
	WriteBytes uint64 `json:"write_bytes"`
}

func (s *Store) Snapshot() Snapshot {
	return Snapshot{
		ReadCount:  s.read.reqs.Load(),
		ReadBytes:  s.read.bytes.Load(),
		WriteCount: s.write.reqs.Load(),
		WriteBytes: s.write.bytes.Load(),
	}
}

func (s *Store) Report() Report {
	return NewReport(s.Snapshot())
}
