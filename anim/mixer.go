package anim

import (
	"errors"
	"fmt"
	"math"

	"github.com/fogleman/ease"
)

// ErrInvalidDelta is returned when a mixer is advanced by a negative or
// non-finite time step.
var ErrInvalidDelta = errors.New("invalid time delta")

// A Clip is a named animation of fixed length in seconds.
type Clip struct {
	Name     string
	Duration float64
}

// An Action plays one Clip on a Mixer.
type Action struct {
	clip    Clip
	time    float64
	playing bool
	fadeIn  float64
	faded   float64
}

// Play starts the action from its current time.
func (a *Action) Play() *Action {
	a.playing = true
	return a
}

// Stop halts the action and rewinds it.
func (a *Action) Stop() *Action {
	a.playing = false
	a.time = 0
	a.faded = 0
	return a
}

// FadeIn ramps the action's weight from zero to one over seconds.
func (a *Action) FadeIn(seconds float64) *Action {
	a.fadeIn = seconds
	a.faded = 0
	return a
}

func (a *Action) Clip() Clip { return a.clip }

// Time is the action's position within its clip.
func (a *Action) Time() float64 { return a.time }

func (a *Action) Playing() bool { return a.playing }

// Weight is the action's blend weight.
func (a *Action) Weight() float64 {
	if !a.playing {
		return 0
	}
	if a.fadeIn <= 0 || a.faded >= a.fadeIn {
		return 1
	}
	return ease.InOutQuad(a.faded / a.fadeIn)
}

func (a *Action) advance(delta float64) {
	if !a.playing {
		return
	}
	a.faded += delta
	a.time += delta
	if a.clip.Duration > 0 {
		a.time = math.Mod(a.time, a.clip.Duration)
	}
}

// ActionState is a snapshot of one action.
type ActionState struct {
	Clip   string
	Time   float64
	Weight float64
}

// Mixer plays looping clip actions. It is advanced once per frame by the
// session that owns it.
type Mixer struct {
	actions   []*Action
	time      float64
	timeScale float64
}

// NewMixer creates a Mixer with a time scale of one.
func NewMixer() *Mixer {
	m := new(Mixer)
	m.timeScale = 1
	return m
}

// ClipAction returns the action for clip, creating it on first use.
func (m *Mixer) ClipAction(clip Clip) *Action {
	for _, a := range m.actions {
		if a.clip.Name == clip.Name {
			return a
		}
	}
	a := &Action{clip: clip}
	m.actions = append(m.actions, a)
	return a
}

// PlayAll starts an action for every clip.
func (m *Mixer) PlayAll(clips []Clip) {
	for _, c := range clips {
		m.ClipAction(c).Play()
	}
}

// SetTimeScale scales every future Advance. Negative scales are rejected.
func (m *Mixer) SetTimeScale(scale float64) error {
	if scale < 0 || math.IsNaN(scale) || math.IsInf(scale, 0) {
		return fmt.Errorf("time scale %v: %w", scale, ErrInvalidDelta)
	}
	m.timeScale = scale
	return nil
}

// Time is the total scaled time the mixer has advanced.
func (m *Mixer) Time() float64 {
	return m.time
}

// Advance moves every playing action forward by deltaSeconds.
func (m *Mixer) Advance(deltaSeconds float64) error {
	if deltaSeconds < 0 || math.IsNaN(deltaSeconds) || math.IsInf(deltaSeconds, 0) {
		return fmt.Errorf("advance by %v: %w", deltaSeconds, ErrInvalidDelta)
	}
	scaled := deltaSeconds * m.timeScale
	m.time += scaled
	for _, a := range m.actions {
		a.advance(scaled)
	}
	return nil
}

// States snapshots every action in creation order.
func (m *Mixer) States() []ActionState {
	out := make([]ActionState, 0, len(m.actions))
	for _, a := range m.actions {
		out = append(out, ActionState{Clip: a.clip.Name, Time: a.time, Weight: a.Weight()})
	}
	return out
}
