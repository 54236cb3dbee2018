package proxy

import (
	"fmt"
)

type Feature uint32

const (
	// FeatureNoWait means requests are handed to the backing device without
	// ever waiting on it.
	FeatureNoWait Feature = 1 << iota
)

type TargetType struct {
	Name     string
	Version  [3]uint32
	Features Feature
}

var Type = TargetType{
	Name:     "dmp",
	Version:  [3]uint32{1, 0, 0},
	Features: FeatureNoWait,
}

func (t TargetType) VersionString() string {
	return fmt.Sprintf("%d.%d.%d", t.Version[0], t.Version[1], t.Version[2])
}

func (t TargetType) String() string {
	return fmt.Sprintf("%s v%s", t.Name, t.VersionString())
}

// Capabilities is what a constructed device advertises to its consumers.
type Capabilities struct {
	DiscardsSupported bool
	// NumDiscardRequests is how many discard requests the device issues to
	// the backing device per incoming discard.
	NumDiscardRequests uint32
}
