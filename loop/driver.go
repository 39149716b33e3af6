package loop

import (
	"fmt"
	"log/slog"
	"sync"
)

// Handle identifies a registered session. Handles are never reused.
type Handle uint64

// State is the run state of the driver and so of every session it holds.
type State int

const (
	Stopped State = iota
	Running
)

func (s State) String() string {
	if s == Running {
		return "running"
	}
	return "stopped"
}

// A Mixer advances animation clip playback by a time delta in seconds.
type Mixer interface {
	Advance(deltaSeconds float64) error
}

// RenderFunc renders one session's scene through its camera.
type RenderFunc func() error

// SessionOptions describes a session to register. Mixer, Entity and Render
// are all optional. Behaviour only takes effect when Entity is set.
type SessionOptions struct {
	Name      string
	Mixer     Mixer
	Entity    Entity
	Behaviour Behaviour
	Render    RenderFunc
}

// SessionInfo is a read-only view of a registered session.
type SessionInfo struct {
	Handle  Handle  `json:"handle"`
	Name    string  `json:"name"`
	Ticks   uint64  `json:"ticks"`
	Elapsed float64 `json:"elapsed"`
}

type session struct {
	handle     Handle
	name       string
	clockStart float64
	previous   float64
	ticks      uint64
	mixer      Mixer
	entity     Entity
	behaviour  Behaviour
	render     RenderFunc
	removed    bool
}

// Driver advances registered sessions once per frame and reschedules itself
// until stopped.
type Driver struct {
	clock     Clock
	scheduler Scheduler
	logger    *slog.Logger

	mu         sync.Mutex
	sessions   []*session
	byHandle   map[Handle]*session
	nextHandle Handle
	running    bool
	pending    FrameID
	generation uint64
	frames     uint64
	onFault    func(TickFault)
}

// NewDriver creates a stopped Driver. A nil logger logs to slog.Default().
func NewDriver(clock Clock, scheduler Scheduler, logger *slog.Logger) *Driver {
	d := new(Driver)
	d.clock = clock
	d.scheduler = scheduler
	d.logger = logger
	if d.logger == nil {
		d.logger = slog.Default()
	}
	d.byHandle = make(map[Handle]*session)
	return d
}

// OnFault sets the function that receives session faults. It is called on
// the frame goroutine after the faulting session has been unregistered.
func (d *Driver) OnFault(fn func(TickFault)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onFault = fn
}

// Register adds a session. Its clock starts now and it is first advanced on
// the next frame if the driver is running.
func (d *Driver) Register(opts SessionOptions) Handle {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.nextHandle++
	s := &session{
		handle:     d.nextHandle,
		name:       opts.Name,
		clockStart: d.clock.ElapsedSeconds(),
		mixer:      opts.Mixer,
		entity:     opts.Entity,
		behaviour:  opts.Behaviour.clone(),
		render:     opts.Render,
	}
	if s.name == "" {
		s.name = fmt.Sprintf("session-%d", s.handle)
	}
	d.sessions = append(d.sessions, s)
	d.byHandle[s.handle] = s
	d.logger.Debug("session registered", "session", s.name, "handle", s.handle)
	return s.handle
}

// Unregister removes a session. Unknown handles are ignored.
func (d *Driver) Unregister(h Handle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.remove(h)
}

func (d *Driver) remove(h Handle) *session {
	s, ok := d.byHandle[h]
	if !ok {
		return nil
	}
	s.removed = true
	delete(d.byHandle, h)
	for i, other := range d.sessions {
		if other == s {
			d.sessions = append(d.sessions[:i:i], d.sessions[i+1:]...)
			break
		}
	}
	return s
}

// SetBehaviour replaces the procedural behaviour of a session from its next
// tick. It reports false for unknown handles.
func (d *Driver) SetBehaviour(h Handle, b Behaviour) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.byHandle[h]
	if !ok {
		return false
	}
	s.behaviour = b.clone()
	return true
}

// Start begins requesting frames. Calling Start while running does nothing.
func (d *Driver) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return
	}
	d.running = true
	d.request()
}

// Stop cancels the pending frame. A tick already in progress completes but
// does not reschedule.
func (d *Driver) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.running = false
	d.generation++
	if d.pending != 0 {
		d.scheduler.CancelFrame(d.pending)
		d.pending = 0
	}
}

// State reports whether the driver is running.
func (d *Driver) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return Running
	}
	return Stopped
}

// Frames returns the number of ticks handled so far.
func (d *Driver) Frames() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.frames
}

// Sessions lists registered sessions in registration order.
func (d *Driver) Sessions() []SessionInfo {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]SessionInfo, 0, len(d.sessions))
	for _, s := range d.sessions {
		out = append(out, SessionInfo{Handle: s.handle, Name: s.name, Ticks: s.ticks, Elapsed: s.previous})
	}
	return out
}

// request must be called with d.mu held.
func (d *Driver) request() {
	d.generation++
	gen := d.generation
	d.pending = d.scheduler.RequestFrame(func() { d.tick(gen) })
}

func (d *Driver) tick(gen uint64) {
	d.mu.Lock()
	if !d.running || gen != d.generation {
		d.mu.Unlock()
		return
	}
	d.pending = 0
	d.frames++
	sessions := append([]*session(nil), d.sessions...)
	d.mu.Unlock()

	for _, s := range sessions {
		d.mu.Lock()
		removed := s.removed
		behaviour := s.behaviour
		tick := s.ticks + 1
		d.mu.Unlock()
		if removed {
			continue
		}

		elapsed, fault := d.step(s, behaviour, tick)
		if fault != nil {
			d.fail(fault)
			continue
		}

		d.mu.Lock()
		s.previous = elapsed
		s.ticks = tick
		d.mu.Unlock()
	}

	d.mu.Lock()
	if d.running && d.pending == 0 && gen == d.generation {
		d.request()
	}
	d.mu.Unlock()
}

// step advances one session by one frame. Errors and panics from the
// session's collaborators come back as a fault.
func (d *Driver) step(s *session, b Behaviour, tick uint64) (elapsed float64, fault *TickFault) {
	stage := StageMixer
	defer func() {
		if r := recover(); r != nil {
			fault = s.fault(stage, tick, &PanicError{Value: r})
		}
	}()

	elapsed = d.clock.ElapsedSeconds() - s.clockStart
	if elapsed < s.previous {
		elapsed = s.previous
	}
	delta := elapsed - s.previous

	if s.mixer != nil {
		if err := s.mixer.Advance(delta); err != nil {
			return elapsed, s.fault(stage, tick, err)
		}
	}

	stage = StageTransform
	if s.entity != nil {
		if err := b.apply(s.entity.Transform(), elapsed); err != nil {
			return elapsed, s.fault(stage, tick, err)
		}
	}

	stage = StageRender
	if s.render != nil {
		if err := s.render(); err != nil {
			return elapsed, s.fault(stage, tick, err)
		}
	}
	return elapsed, nil
}

func (s *session) fault(stage Stage, tick uint64, err error) *TickFault {
	return &TickFault{Handle: s.handle, Session: s.name, Stage: stage, Tick: tick, Err: err}
}

func (d *Driver) fail(f *TickFault) {
	d.mu.Lock()
	d.remove(f.Handle)
	handler := d.onFault
	d.mu.Unlock()

	d.logger.Error("session fault", "session", f.Session, "handle", f.Handle,
		"stage", f.Stage.String(), "tick", f.Tick, "err", f.Err)
	if handler != nil {
		handler(*f)
	}
}
