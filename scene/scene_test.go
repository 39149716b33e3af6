package scene

import (
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/lucasb-eyer/go-colorful"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matt-g-everett/sceneloop/loop"
)

var _ loop.Entity = (*Node)(nil)

func TestMatrix(t *testing.T) {
	n := NewNode("model")
	assert.True(t, n.Matrix().ApproxEqual(mgl64.Ident4()))

	tr := n.Transform()
	tr.Position = mgl64.Vec3{1, 2, 3}
	tr.Rotation = mgl64.Vec3{0, math.Pi / 2, 0}
	tr.Scale = mgl64.Vec3{2.5, 2.5, 2.5}

	p := mgl64.TransformCoordinate(mgl64.Vec3{1, 0, 0}, n.Matrix())
	assert.True(t, p.ApproxEqualThreshold(mgl64.Vec3{1, 2, 0.5}, 1e-9), "got %v", p)
}

func TestApplyMaterialToMeshesOnly(t *testing.T) {
	root := NewNode("root")
	a := NewNode("a")
	a.Mesh = true
	b := NewNode("b")
	c := NewNode("c")
	c.Mesh = true
	b.Add(c)
	root.Add(a, b)

	colour, err := colorful.Hex("#93e7cf")
	require.NoError(t, err)
	count := root.ApplyMaterial(Material{Colour: colour, Metalness: 1, Roughness: 0.1})

	assert.Equal(t, 2, count)
	require.NotNil(t, a.Material)
	assert.Equal(t, "#93e7cf", a.Material.Colour.Hex())
	assert.Nil(t, b.Material)
	assert.NotSame(t, a.Material, c.Material)
}

func TestFind(t *testing.T) {
	s := New("offf", colorful.Color{})
	arm := NewNode("arm")
	body := NewNode("body")
	body.Add(arm)
	s.Add(body)

	assert.Same(t, arm, s.Find("arm"))
	assert.Same(t, s.Root, s.Find("offf"))
	assert.Nil(t, s.Find("tail"))
}

func TestProjection(t *testing.T) {
	c := Camera{FOV: 75, Aspect: 1.5, Near: 0.1, Far: 1000}
	m := c.Projection()
	assert.InDelta(t, 1/math.Tan(mgl64.DegToRad(75)/2), m.At(1, 1), 1e-9)
}

func TestEulerXYZInvertsAnglesToQuat(t *testing.T) {
	for _, angles := range []mgl64.Vec3{
		{0, 0, 0},
		{0.3, -0.7, 1.1},
		{-2.5, 1.2, 0.4},
		{0, math.Pi / 2, 0},
	} {
		q := mgl64.AnglesToQuat(angles.X(), angles.Y(), angles.Z(), mgl64.XYZ)
		got := EulerXYZ(q)
		assert.True(t, got.ApproxEqualThreshold(angles, 1e-6), "angles %v got %v", angles, got)
	}
}

func TestSetMatrixRoundTrip(t *testing.T) {
	src := NewNode("src")
	tr := src.Transform()
	tr.Position = mgl64.Vec3{1, -2, 3}
	tr.Rotation = mgl64.Vec3{0.2, 0.4, -0.6}
	tr.Scale = mgl64.Vec3{2, 0.5, 1.5}

	dst := NewNode("dst")
	dst.SetMatrix(src.Matrix())

	got := dst.Transform()
	assert.True(t, got.Position.ApproxEqualThreshold(tr.Position, 1e-9), "position %v", got.Position)
	assert.True(t, got.Scale.ApproxEqualThreshold(tr.Scale, 1e-9), "scale %v", got.Scale)
	assert.True(t, got.Rotation.ApproxEqualThreshold(tr.Rotation, 1e-9), "rotation %v", got.Rotation)
	assert.True(t, dst.Matrix().ApproxEqualThreshold(src.Matrix(), 1e-9))
}
