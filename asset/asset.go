package asset

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/qmuntal/gltf"

	"github.com/matt-g-everett/sceneloop/anim"
	"github.com/matt-g-everett/sceneloop/scene"
)

// LoadError reports a model that could not be loaded.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load %s: %v", e.Path, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// Options adjust a model as it is loaded.
type Options struct {
	// Scale is applied uniformly to the model root. Zero means 1.
	Scale float64
}

// Model is a loaded glTF scene with its animation clips.
type Model struct {
	Root   *scene.Node
	Clips  []anim.Clip
	Meshes int
}

// Load opens a .gltf or .glb file and converts its default scene.
func Load(path string, opts Options) (*Model, error) {
	doc, err := gltf.Open(path)
	if err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}

	m, err := convert(doc, opts)
	if err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}
	return m, nil
}

func convert(doc *gltf.Document, opts Options) (*Model, error) {
	if len(doc.Scenes) == 0 {
		return nil, fmt.Errorf("no scenes")
	}
	sceneIndex := 0
	if doc.Scene != nil {
		sceneIndex = int(*doc.Scene)
	}
	if sceneIndex < 0 || sceneIndex >= len(doc.Scenes) {
		return nil, fmt.Errorf("default scene %d out of range", sceneIndex)
	}
	src := doc.Scenes[sceneIndex]

	m := new(Model)
	m.Root = scene.NewNode(src.Name)
	scale := opts.Scale
	if scale == 0 {
		scale = 1
	}
	m.Root.Transform().Scale = mgl64.Vec3{scale, scale, scale}

	visited := make(map[int]bool)
	for _, idx := range src.Nodes {
		child, err := convertNode(doc, int(idx), visited, m)
		if err != nil {
			return nil, err
		}
		m.Root.Add(child)
	}

	for i, a := range doc.Animations {
		clip, err := convertAnimation(doc, i, a)
		if err != nil {
			return nil, err
		}
		m.Clips = append(m.Clips, clip)
	}
	return m, nil
}

func convertNode(doc *gltf.Document, idx int, visited map[int]bool, m *Model) (*scene.Node, error) {
	if idx < 0 || idx >= len(doc.Nodes) {
		return nil, fmt.Errorf("node %d out of range", idx)
	}
	if visited[idx] {
		return nil, fmt.Errorf("node %d appears twice in the hierarchy", idx)
	}
	visited[idx] = true

	src := doc.Nodes[idx]
	name := src.Name
	if name == "" {
		name = fmt.Sprintf("node-%d", idx)
	}
	n := scene.NewNode(name)
	if src.Mesh != nil {
		n.Mesh = true
		m.Meshes++
	}
	applyTransform(n, src)
	for _, c := range src.Children {
		child, err := convertNode(doc, int(c), visited, m)
		if err != nil {
			return nil, err
		}
		n.Add(child)
	}
	return n, nil
}

// applyTransform copies a glTF node's local transform. A non-identity
// matrix takes precedence over translation, rotation and scale.
func applyTransform(n *scene.Node, src *gltf.Node) {
	var mat mgl64.Mat4
	for i, v := range src.Matrix {
		mat[i] = float64(v)
	}
	if mat != (mgl64.Mat4{}) && mat != mgl64.Ident4() {
		n.SetMatrix(mat)
		return
	}

	t := n.Transform()
	for i, v := range src.Translation {
		t.Position[i] = float64(v)
	}
	var scale mgl64.Vec3
	for i, v := range src.Scale {
		scale[i] = float64(v)
	}
	if scale != (mgl64.Vec3{}) {
		t.Scale = scale
	}
	var r [4]float64
	for i, v := range src.Rotation {
		r[i] = float64(v)
	}
	if r != [4]float64{} {
		q := mgl64.Quat{W: r[3], V: mgl64.Vec3{r[0], r[1], r[2]}}
		t.Rotation = scene.EulerXYZ(q)
	}
}

// convertAnimation measures a clip as the latest keyframe across its
// samplers.
func convertAnimation(doc *gltf.Document, i int, a *gltf.Animation) (anim.Clip, error) {
	clip := anim.Clip{Name: a.Name}
	if clip.Name == "" {
		clip.Name = fmt.Sprintf("clip-%d", i)
	}
	for _, s := range a.Samplers {
		input := int(s.Input)
		if input < 0 || input >= len(doc.Accessors) {
			return clip, fmt.Errorf("animation %q: accessor %d out of range", clip.Name, input)
		}
		acc := doc.Accessors[input]
		if len(acc.Max) == 0 {
			continue
		}
		if end := float64(acc.Max[0]); end > clip.Duration {
			clip.Duration = end
		}
	}
	return clip, nil
}
