package loop

import "fmt"

// Stage names the part of a session's tick that failed.
type Stage int

const (
	StageMixer Stage = iota
	StageTransform
	StageRender
)

func (s Stage) String() string {
	switch s {
	case StageMixer:
		return "mixer"
	case StageTransform:
		return "transform"
	case StageRender:
		return "render"
	}
	return fmt.Sprintf("Stage(%d)", int(s))
}

// TickFault reports a session that failed during a tick. The session is
// unregistered before the fault is delivered.
type TickFault struct {
	Handle  Handle
	Session string
	Stage   Stage
	Tick    uint64
	Err     error
}

func (f *TickFault) Error() string {
	return fmt.Sprintf("session %q (%d) %v fault on tick %d: %v", f.Session, f.Handle, f.Stage, f.Tick, f.Err)
}

func (f *TickFault) Unwrap() error {
	return f.Err
}

// PanicError carries a value recovered from a panicking callback.
type PanicError struct {
	Value any
}

func (p *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", p.Value)
}
