// Package common holds the small value types shared across every tier of the
// fabric: the planner (fuse), the scanners (hbee) and the combiners (hcomb).
package common

import "fmt"

// QueryId is the correlation key for one user query across all tiers, for the
// lifetime of that query. It is opaque to every component except the
// registries that index by it.
type QueryId string

// SizedFile describes one object in the backing object store. It is
// immutable once constructed.
type SizedFile struct {
	Key    string
	Length uint64
}

func (f SizedFile) String() string {
	return fmt.Sprintf("%s(%d bytes)", f.Key, f.Length)
}

// HCombAddress is the network address of a combiner, assigned to a zone by
// the planner and handed to every scanner in that zone.
type HCombAddress struct {
	Host string
	Port int
}

func (a HCombAddress) String() string {
	return fmt.Sprintf("%s:%d", a.Host, a.Port)
}

// BuzzStepType distinguishes the two stages of a query.
type BuzzStepType int

const (
	// StepScan is executed on the wide, fan-out scanner tier.
	StepScan BuzzStepType = iota
	// StepMerge is executed on the narrow, fan-in combiner tier.
	StepMerge
)

func (t BuzzStepType) String() string {
	switch t {
	case StepScan:
		return "scan"
	case StepMerge:
		return "merge"
	default:
		return "unknown"
	}
}

// BuzzStep is one SQL stage of a query. The core accepts exactly the
// sequence [StepScan, StepMerge].
type BuzzStep struct {
	SQL  string
	Name string
	Type BuzzStepType
}
