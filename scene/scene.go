package scene

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/lucasb-eyer/go-colorful"

	"github.com/matt-g-everett/sceneloop/loop"
)

// Material is the surface override applied to mesh nodes.
type Material struct {
	Colour    colorful.Color
	Metalness float64
	Roughness float64
}

// Node is an element of a scene graph. It satisfies loop.Entity.
type Node struct {
	Name     string
	Mesh     bool
	Material *Material
	Children []*Node

	transform loop.Transform
}

// NewNode creates a Node with an identity transform.
func NewNode(name string) *Node {
	n := new(Node)
	n.Name = name
	n.transform = loop.NewTransform()
	return n
}

// Transform returns the node's mutable local transform.
func (n *Node) Transform() *loop.Transform {
	return &n.transform
}

// Add appends children to the node.
func (n *Node) Add(children ...*Node) {
	n.Children = append(n.Children, children...)
}

// Matrix returns the node's local matrix: translate, then XYZ euler
// rotation, then scale.
func (n *Node) Matrix() mgl64.Mat4 {
	t := n.transform
	translate := mgl64.Translate3D(t.Position.X(), t.Position.Y(), t.Position.Z())
	rotate := mgl64.AnglesToQuat(t.Rotation.X(), t.Rotation.Y(), t.Rotation.Z(), mgl64.XYZ).Mat4()
	scale := mgl64.Scale3D(t.Scale.X(), t.Scale.Y(), t.Scale.Z())
	return translate.Mul4(rotate).Mul4(scale)
}

// SetMatrix decomposes a translate, rotate, scale matrix into the node's
// transform. Shear is discarded.
func (n *Node) SetMatrix(m mgl64.Mat4) {
	t := &n.transform
	t.Position = m.Col(3).Vec3()
	t.Scale = mgl64.Vec3{m.Col(0).Vec3().Len(), m.Col(1).Vec3().Len(), m.Col(2).Vec3().Len()}

	r := mgl64.Ident4()
	for i := 0; i < 3; i++ {
		if t.Scale[i] != 0 {
			r.SetCol(i, m.Col(i).Mul(1/t.Scale[i]))
		}
	}
	t.Rotation = eulerFromRotation(r)
}

// EulerXYZ returns the XYZ euler angles of q. It inverts
// mgl64.AnglesToQuat(x, y, z, mgl64.XYZ).
func EulerXYZ(q mgl64.Quat) mgl64.Vec3 {
	return eulerFromRotation(q.Normalize().Mat4())
}

// eulerFromRotation reads angles from a pure rotation R = Rx*Ry*Rz.
func eulerFromRotation(r mgl64.Mat4) mgl64.Vec3 {
	sy := mgl64.Clamp(r.At(0, 2), -1, 1)
	y := math.Asin(sy)
	if math.Abs(sy) < 0.9999999 {
		return mgl64.Vec3{math.Atan2(-r.At(1, 2), r.At(2, 2)), y, math.Atan2(-r.At(0, 1), r.At(0, 0))}
	}
	// gimbal lock: fold all roll into x
	return mgl64.Vec3{math.Atan2(r.At(2, 1), r.At(1, 1)), y, 0}
}

// Walk visits n and its descendants depth first. Returning false from fn
// skips the node's children.
func (n *Node) Walk(fn func(*Node) bool) {
	if !fn(n) {
		return
	}
	for _, c := range n.Children {
		c.Walk(fn)
	}
}

// ApplyMaterial gives every mesh under n its own copy of m and returns how
// many meshes were changed.
func (n *Node) ApplyMaterial(m Material) int {
	count := 0
	n.Walk(func(node *Node) bool {
		if node.Mesh {
			mat := m
			node.Material = &mat
			count++
		}
		return true
	})
	return count
}

// Camera is a perspective camera.
type Camera struct {
	FOV      float64
	Aspect   float64
	Near     float64
	Far      float64
	Position mgl64.Vec3
}

// Projection returns the camera's perspective matrix.
func (c Camera) Projection() mgl64.Mat4 {
	return mgl64.Perspective(mgl64.DegToRad(c.FOV), c.Aspect, c.Near, c.Far)
}

// LightKind distinguishes light types.
type LightKind string

const (
	AmbientLight     LightKind = "ambient"
	DirectionalLight LightKind = "directional"
)

// Light is a scene light.
type Light struct {
	Kind      LightKind
	Colour    colorful.Color
	Intensity float64
	Position  mgl64.Vec3
}

// Scene holds everything rendered into one target.
type Scene struct {
	Name   string
	Clear  colorful.Color
	Lights []Light
	Root   *Node
}

// New creates an empty Scene.
func New(name string, clear colorful.Color) *Scene {
	s := new(Scene)
	s.Name = name
	s.Clear = clear
	s.Root = NewNode(name)
	return s
}

// Add attaches nodes to the scene root.
func (s *Scene) Add(nodes ...*Node) {
	s.Root.Add(nodes...)
}

// Find returns the first node with the given name.
func (s *Scene) Find(name string) *Node {
	var found *Node
	s.Root.Walk(func(n *Node) bool {
		if found != nil {
			return false
		}
		if n.Name == name {
			found = n
			return false
		}
		return true
	})
	return found
}
