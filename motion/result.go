package motion

import (
	"fmt"
	"time"

	"github.com/arloliu/go-monochromator/device"
)

// ResultKind classifies a Result.
type ResultKind int

const (
	// InProgress means the move is still outstanding.
	InProgress ResultKind = iota
	// Done means the move completed and the position was confirmed.
	Done
	// Failed means the move ended with an error.
	Failed
)

func (k ResultKind) String() string {
	switch k {
	case InProgress:
		return "IN_PROGRESS"
	case Done:
		return "DONE"
	case Failed:
		return "FAILED"
	default:
		return fmt.Sprintf("ResultKind(%d)", int(k))
	}
}

// Result is the state of a move as observed by Poll or Wait.
type Result struct {
	Kind ResultKind
	// Progress counts the status polls that found the controller still moving. It only
	// increases while the move is outstanding.
	Progress uint64
	// Elapsed is the time since the move started, or its total duration once ended.
	Elapsed time.Duration
	// Step names the step being executed, or the last one executed.
	Step string
	// Position is the confirmed position when Kind is Done.
	Position device.Position
	// Err is the failure when Kind is Failed.
	Err error
}

func (r Result) IsDone() bool       { return r.Kind == Done }
func (r Result) IsFailed() bool     { return r.Kind == Failed }
func (r Result) IsInProgress() bool { return r.Kind == InProgress }

func (r Result) String() string {
	switch r.Kind {
	case Done:
		return fmt.Sprintf("done after %s at %s", r.Elapsed, r.Position)
	case Failed:
		return fmt.Sprintf("failed after %s in %s: %v", r.Elapsed, r.Step, r.Err)
	default:
		return fmt.Sprintf("in progress (%s, poll %d, %s)", r.Step, r.Progress, r.Elapsed)
	}
}
