package stream

import (
	"encoding/binary"
	"errors"
	"math"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/lucasb-eyer/go-colorful"

	"github.com/matt-g-everett/sceneloop/anim"
	"github.com/matt-g-everett/sceneloop/scene"
)

const frameMagic uint16 = 0x5346

var errFrameTooLarge = errors.New("frame field too large")

// NodeState is one scene node as it appears in a Frame.
type NodeState struct {
	Name     string
	World    mgl64.Mat4
	Material *scene.Material
}

// Frame is a snapshot of one scene as seen through its camera.
type Frame struct {
	Scene    string
	Sequence uint64
	Clear    colorful.Color
	Camera   mgl64.Vec3
	Nodes    []NodeState
	Clips    []anim.ActionState
}

// NewFrame snapshots s. World matrices are accumulated from the root.
func NewFrame(s *scene.Scene, c *scene.Camera, sequence uint64) *Frame {
	f := new(Frame)
	f.Scene = s.Name
	f.Sequence = sequence
	f.Clear = s.Clear
	if c != nil {
		f.Camera = c.Position
	}
	f.addNode(s.Root, mgl64.Ident4())
	return f
}

func (f *Frame) addNode(n *scene.Node, parent mgl64.Mat4) {
	world := parent.Mul4(n.Matrix())
	f.Nodes = append(f.Nodes, NodeState{Name: n.Name, World: world, Material: n.Material})
	for _, c := range n.Children {
		f.addNode(c, world)
	}
}

// MarshalBinary converts a Frame into little endian binary data.
//
//	u16 magic, str scene, u64 sequence, rgb clear, 3×f32 camera,
//	u16 n, n×(str name, 16×f32 world column major, u8 hasMaterial[, rgb, f32 metalness, f32 roughness]),
//	u16 m, m×(str clip, f32 time, f32 weight)
//
// where str is a u16 length followed by UTF-8 bytes.
func (f *Frame) MarshalBinary() (data []byte, err error) {
	if len(f.Nodes) > math.MaxUint16 || len(f.Clips) > math.MaxUint16 {
		return nil, errFrameTooLarge
	}

	data = make([]byte, 0, 64+len(f.Nodes)*80)
	data = binary.LittleEndian.AppendUint16(data, frameMagic)
	if data, err = appendString(data, f.Scene); err != nil {
		return nil, err
	}
	data = binary.LittleEndian.AppendUint64(data, f.Sequence)
	data = appendColour(data, f.Clear)
	for _, v := range f.Camera {
		data = appendFloat(data, v)
	}

	data = binary.LittleEndian.AppendUint16(data, uint16(len(f.Nodes)))
	for _, n := range f.Nodes {
		if data, err = appendString(data, n.Name); err != nil {
			return nil, err
		}
		for _, v := range n.World {
			data = appendFloat(data, v)
		}
		if n.Material == nil {
			data = append(data, 0)
			continue
		}
		data = append(data, 1)
		data = appendColour(data, n.Material.Colour)
		data = appendFloat(data, n.Material.Metalness)
		data = appendFloat(data, n.Material.Roughness)
	}

	data = binary.LittleEndian.AppendUint16(data, uint16(len(f.Clips)))
	for _, c := range f.Clips {
		if data, err = appendString(data, c.Clip); err != nil {
			return nil, err
		}
		data = appendFloat(data, c.Time)
		data = appendFloat(data, c.Weight)
	}

	return data, nil
}

func appendString(data []byte, s string) ([]byte, error) {
	if len(s) > math.MaxUint16 {
		return nil, errFrameTooLarge
	}
	data = binary.LittleEndian.AppendUint16(data, uint16(len(s)))
	return append(data, s...), nil
}

func appendColour(data []byte, c colorful.Color) []byte {
	r, g, b := c.Clamped().RGB255()
	return append(data, r, g, b)
}

func appendFloat(data []byte, v float64) []byte {
	return binary.LittleEndian.AppendUint32(data, math.Float32bits(float32(v)))
}
