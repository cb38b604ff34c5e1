// Package buzzerrors classifies every error the fabric can produce into the
// five kinds of spec.md §7: Plan, IO, Execution, Internal and RemoteFail.
//
// Construction goes through cockroachdb/errors so every error carries a
// stack trace from the point it was raised, which matters here because
// errors routinely cross goroutine and RPC boundaries before they are
// logged or reported to the end user.
package buzzerrors

import (
	"github.com/cockroachdb/errors"
)

// Kind is one of the five error kinds of spec.md §7.
type Kind int

const (
	// KindUnknown is the zero value; Classify never returns it for a
	// non-nil error constructed through this package, but callers of
	// Classify may see it for errors that didn't originate here.
	KindUnknown Kind = iota
	KindPlan
	KindIO
	KindExecution
	KindInternal
	KindRemoteFail
)

func (k Kind) String() string {
	switch k {
	case KindPlan:
		return "Plan"
	case KindIO:
		return "IO"
	case KindExecution:
		return "Execution"
	case KindInternal:
		return "Internal"
	case KindRemoteFail:
		return "RemoteFail"
	default:
		return "Unknown"
	}
}

type kindMarker struct{ kind Kind }

func (m *kindMarker) Error() string { return m.kind.String() }

// kindSentinels are never surfaced directly; they are wrapped with
// errors.Mark so that errors.Is(err, kindSentinel) can classify arbitrarily
// wrapped errors.
var (
	planSentinel       = &kindMarker{KindPlan}
	ioSentinel         = &kindMarker{KindIO}
	executionSentinel  = &kindMarker{KindExecution}
	internalSentinel   = &kindMarker{KindInternal}
	remoteFailSentinel = &kindMarker{KindRemoteFail}
)

func newKind(sentinel error, format string, args ...any) error {
	return errors.Mark(errors.NewWithDepthf(1, format, args...), sentinel)
}

// Plan reports an error rejected by the planner: a multi-input plan, a
// missing table, a step sequence other than [Scan, Merge].
func Plan(format string, args ...any) error { return newKind(planSentinel, format, args...) }

// IO reports an object-store failure, surfaced per RangeCache interval.
func IO(format string, args ...any) error { return newKind(ioSentinel, format, args...) }

// Execution reports an error raised inside the columnar reader or a merge
// plan.
func Execution(format string, args ...any) error { return newKind(executionSentinel, format, args...) }

// Internal reports a violated invariant: zero partitions, a missing
// ScanTable leaf, a duplicate execute for a query id.
func Internal(format string, args ...any) error { return newKind(internalSentinel, format, args...) }

// RemoteFail wraps a FAIL action received from a scanner.
func RemoteFail(format string, args ...any) error {
	return newKind(remoteFailSentinel, format, args...)
}

// WrapIO marks an existing error (typically from the object-store client)
// as an IO error without discarding its message or cause chain.
func WrapIO(err error) error {
	if err == nil {
		return nil
	}
	return errors.Mark(errors.WithStack(err), ioSentinel)
}

// WrapExecution marks an existing error as an Execution error.
func WrapExecution(err error) error {
	if err == nil {
		return nil
	}
	return errors.Mark(errors.WithStack(err), executionSentinel)
}

// Classify reports the Kind of err, walking its cause chain. Errors not
// constructed through this package classify as KindUnknown.
func Classify(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	switch {
	case errors.Is(err, planSentinel):
		return KindPlan
	case errors.Is(err, ioSentinel):
		return KindIO
	case errors.Is(err, executionSentinel):
		return KindExecution
	case errors.Is(err, internalSentinel):
		return KindInternal
	case errors.Is(err, remoteFailSentinel):
		return KindRemoteFail
	default:
		return KindUnknown
	}
}

// IsPlan, IsIO, IsExecution, IsInternal and IsRemoteFail are convenience
// predicates over Classify, used at tier boundaries that only care about
// one kind (e.g. the planner only ever returns Plan errors to its caller).
func IsPlan(err error) bool       { return Classify(err) == KindPlan }
func IsIO(err error) bool         { return Classify(err) == KindIO }
func IsExecution(err error) bool  { return Classify(err) == KindExecution }
func IsInternal(err error) bool   { return Classify(err) == KindInternal }
func IsRemoteFail(err error) bool { return Classify(err) == KindRemoteFail }
