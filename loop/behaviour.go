package loop

import (
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// Axis selects one component of a vector.
type Axis int

const (
	AxisX Axis = iota
	AxisY
	AxisZ
)

func (a Axis) String() string {
	switch a {
	case AxisX:
		return "x"
	case AxisY:
		return "y"
	case AxisZ:
		return "z"
	}
	return fmt.Sprintf("Axis(%d)", int(a))
}

// ParseAxis parses "x", "y" or "z".
func ParseAxis(s string) (Axis, error) {
	switch s {
	case "x", "X":
		return AxisX, nil
	case "y", "Y":
		return AxisY, nil
	case "z", "Z":
		return AxisZ, nil
	}
	return 0, fmt.Errorf("unknown axis %q", s)
}

// Transform is the position, euler rotation (radians, XYZ order) and scale
// of an entity.
type Transform struct {
	Position mgl64.Vec3
	Rotation mgl64.Vec3
	Scale    mgl64.Vec3
}

// NewTransform returns an identity Transform.
func NewTransform() Transform {
	return Transform{Scale: mgl64.Vec3{1, 1, 1}}
}

// An Entity owns a Transform that procedural behaviours may change.
type Entity interface {
	Transform() *Transform
}

// RotationDrift adds Velocity to the rotation once per tick. The increment
// is per frame, not per second, so the spin rate follows the frame rate.
type RotationDrift struct {
	Velocity mgl64.Vec3
}

// Oscillation sets the position on Axis to Amplitude*sin(Frequency*t) where
// t is the session's elapsed seconds.
type Oscillation struct {
	Axis      Axis
	Amplitude float64
	Frequency float64
}

// Offset returns the oscillation's position at elapsed seconds.
func (o Oscillation) Offset(elapsed float64) float64 {
	return o.Amplitude * math.Sin(o.Frequency*elapsed)
}

// Behaviour is the procedural animation attached to a session's entity.
type Behaviour struct {
	Drift        *RotationDrift
	Oscillations []Oscillation
}

// IsZero reports whether the behaviour changes nothing.
func (b Behaviour) IsZero() bool {
	return b.Drift == nil && len(b.Oscillations) == 0
}

func (b Behaviour) clone() Behaviour {
	out := Behaviour{}
	if b.Drift != nil {
		d := *b.Drift
		out.Drift = &d
	}
	if len(b.Oscillations) > 0 {
		out.Oscillations = append([]Oscillation(nil), b.Oscillations...)
	}
	return out
}

// apply advances t by one tick at the given elapsed time.
func (b Behaviour) apply(t *Transform, elapsed float64) error {
	if b.IsZero() {
		return nil
	}
	if t == nil {
		return fmt.Errorf("entity has no transform")
	}
	if b.Drift != nil {
		t.Rotation = t.Rotation.Add(b.Drift.Velocity)
	}
	for _, o := range b.Oscillations {
		if o.Axis < AxisX || o.Axis > AxisZ {
			return fmt.Errorf("oscillation on %v", o.Axis)
		}
		t.Position[o.Axis] = o.Offset(elapsed)
	}
	return nil
}
