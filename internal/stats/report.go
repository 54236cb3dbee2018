package stats

import (
	"fmt"
	"io"
	"strings"
)

type Line struct {
	Reqs    uint64 `json:"reqs"`
	AvgSize uint64 `json:"avg_size"`
}

// Report is the derived, human-facing view of a Snapshot.
type Report struct {
	Read  Line `json:"read"`
	Write Line `json:"write"`
	Total Line `json:"total"`
}

func NewReport(s Snapshot) Report {
	totalCount := s.ReadCount + s.WriteCount
	totalBytes := s.ReadBytes + s.WriteBytes

	return Report{
		Read:  Line{Reqs: s.ReadCount, AvgSize: avg(s.ReadBytes, s.ReadCount)},
		Write: Line{Reqs: s.WriteCount, AvgSize: avg(s.WriteBytes, s.WriteCount)},
		Total: Line{Reqs: totalCount, AvgSize: avg(totalBytes, totalCount)},
	}
}

// avg truncates and is 0 for an empty counter.
func avg(bytes, count uint64) uint64 {
	if count == 0 {
		return 0
	}

	return bytes / count
}

func (r Report) WriteTo(w io.Writer) (int64, error) {
	n, err := fmt.Fprintf(w,
		"read:\n reqs: %d\n avg size: %d\n"+
			"write:\n reqs: %d\n avg size: %d\n"+
			"total:\n reqs: %d\n avg size: %d\n",
		r.Read.Reqs, r.Read.AvgSize,
		r.Write.Reqs, r.Write.AvgSize,
		r.Total.Reqs, r.Total.AvgSize,
	)

	return int64(n), err
}

func (r Report) String() string {
	var b strings.Builder

	_, _ = r.WriteTo(&b)

	return b.String()
}
