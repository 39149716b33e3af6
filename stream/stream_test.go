package stream

import (
	"encoding/binary"
	"errors"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/lucasb-eyer/go-colorful"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matt-g-everett/sceneloop/anim"
	"github.com/matt-g-everett/sceneloop/loop"
	"github.com/matt-g-everett/sceneloop/scene"
)

type fakePublisher struct {
	topics   []string
	payloads [][]byte
	err      error
	failures int
}

func (p *fakePublisher) Publish(topic string, payload []byte) error {
	if p.err != nil {
		return p.err
	}
	if p.failures > 0 {
		p.failures--
		return errors.New("connection lost")
	}
	p.topics = append(p.topics, topic)
	p.payloads = append(p.payloads, payload)
	return nil
}

func testScene(t *testing.T) (*scene.Scene, *scene.Node) {
	background, err := colorful.Hex("#d1ccb8")
	require.NoError(t, err)
	sc := scene.New("offf", background)
	model := scene.NewNode("model")
	model.Mesh = true
	model.Transform().Position = mgl64.Vec3{0, 0.5, 0}
	sc.Add(model)
	return sc, model
}

func TestFrameWorldMatrices(t *testing.T) {
	sc, model := testScene(t)
	sc.Root.Transform().Scale = mgl64.Vec3{2, 2, 2}
	child := scene.NewNode("child")
	child.Transform().Position = mgl64.Vec3{1, 0, 0}
	model.Add(child)

	f := NewFrame(sc, &scene.Camera{Position: mgl64.Vec3{0, 0, 5}}, 7)
	require.Len(t, f.Nodes, 3)
	assert.Equal(t, []string{"offf", "model", "child"}, []string{f.Nodes[0].Name, f.Nodes[1].Name, f.Nodes[2].Name})

	origin := mgl64.TransformCoordinate(mgl64.Vec3{}, f.Nodes[2].World)
	assert.True(t, origin.ApproxEqual(mgl64.Vec3{2, 1, 0}), "got %v", origin)
	assert.Equal(t, mgl64.Vec3{0, 0, 5}, f.Camera)
}

func TestFrameMarshalHeader(t *testing.T) {
	sc, _ := testScene(t)
	f := NewFrame(sc, nil, 42)
	b, err := f.MarshalBinary()
	require.NoError(t, err)

	assert.Equal(t, frameMagic, binary.LittleEndian.Uint16(b[0:]))
	assert.Equal(t, uint16(4), binary.LittleEndian.Uint16(b[2:]))
	assert.Equal(t, "offf", string(b[4:8]))
	assert.Equal(t, uint64(42), binary.LittleEndian.Uint64(b[8:]))
	assert.Equal(t, []byte{0xd1, 0xcc, 0xb8}, b[16:19])

	// header, camera, node count, two nodes without material, clip count
	size := 19 + 12 + 2 + (2 + 4 + 64 + 1) + (2 + 5 + 64 + 1) + 2
	assert.Len(t, b, size)
}

func TestFrameMarshalMaterialAndClips(t *testing.T) {
	sc, model := testScene(t)
	colour, _ := colorful.Hex("#93e7cf")
	model.ApplyMaterial(scene.Material{Colour: colour, Metalness: 1, Roughness: 0.1})

	f := NewFrame(sc, nil, 1)
	f.Clips = []anim.ActionState{{Clip: "Spin", Time: 0.25, Weight: 1}}
	b, err := f.MarshalBinary()
	require.NoError(t, err)

	tail := b[len(b)-(2+2+4+4+4):]
	assert.Equal(t, uint16(1), binary.LittleEndian.Uint16(tail))
	assert.Equal(t, "Spin", string(tail[4:8]))
	assert.Equal(t, float32(0.25), math.Float32frombits(binary.LittleEndian.Uint32(tail[8:])))

	material := b[len(b)-len(tail)-12 : len(b)-len(tail)]
	assert.Equal(t, byte(1), material[0])
	assert.Equal(t, []byte{0x93, 0xe7, 0xcf}, material[1:4])
	assert.Equal(t, float32(1), math.Float32frombits(binary.LittleEndian.Uint32(material[4:])))
}

func TestStreamerPublishesSequencedFrames(t *testing.T) {
	sc, _ := testScene(t)
	p := new(fakePublisher)
	s := NewStreamer(p, "scenes", discard)
	m := anim.NewMixer()
	m.PlayAll([]anim.Clip{{Name: "Spin", Duration: 1}})
	s.TrackClips("offf", m)

	render := s.RenderFunc(sc, &scene.Camera{})
	require.NoError(t, render())
	require.NoError(t, render())

	assert.Equal(t, []string{"scenes/offf/frame", "scenes/offf/frame"}, p.topics)
	assert.Equal(t, uint64(2), binary.LittleEndian.Uint64(p.payloads[1][8:]))
}

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func TestStreamerDropsUndeliveredFrames(t *testing.T) {
	sc, _ := testScene(t)
	s := NewStreamer(&fakePublisher{err: errors.New("not connected")}, "scenes", discard)
	assert.NoError(t, s.Render(sc, nil))
	assert.NoError(t, s.Render(sc, nil))
	assert.Equal(t, uint64(2), s.Dropped())
}

func TestSessionSurvivesFailedPublish(t *testing.T) {
	sc, model := testScene(t)
	p := &fakePublisher{failures: 1}
	s := NewStreamer(p, "scenes", discard)

	clock := new(loop.ManualClock)
	sched := new(loop.ManualScheduler)
	d := loop.NewDriver(clock, sched, discard)
	var faults []loop.TickFault
	d.OnFault(func(f loop.TickFault) { faults = append(faults, f) })
	d.Register(loop.SessionOptions{Name: sc.Name, Entity: model, Render: s.RenderFunc(sc, nil)})
	d.Start()
	for i := 0; i < 3; i++ {
		clock.Advance(1.0 / 60)
		sched.Step()
	}

	assert.Empty(t, faults)
	require.Len(t, d.Sessions(), 1)
	assert.Equal(t, uint64(3), d.Sessions()[0].Ticks)
	assert.Equal(t, uint64(1), s.Dropped())
	require.Len(t, p.payloads, 2)
	assert.Equal(t, uint64(2), binary.LittleEndian.Uint64(p.payloads[0][8:]))
}

type fakeToken struct {
	done bool
	err  error
}

func (t fakeToken) WaitTimeout(time.Duration) bool { return t.done }
func (t fakeToken) Error() error                  { return t.err }

func TestWaitDelivery(t *testing.T) {
	refused := errors.New("not authorised")
	assert.NoError(t, waitDelivery(fakeToken{done: true}, time.Millisecond))
	assert.ErrorIs(t, waitDelivery(fakeToken{done: true, err: refused}, time.Millisecond), refused)
	assert.ErrorIs(t, waitDelivery(fakeToken{}, time.Millisecond), ErrDeliveryTimeout)
}

func TestStreamerAsSessionRender(t *testing.T) {
	sc, model := testScene(t)
	p := new(fakePublisher)
	s := NewStreamer(p, "scenes", discard)

	clock := new(loop.ManualClock)
	sched := new(loop.ManualScheduler)
	d := loop.NewDriver(clock, sched, nil)
	d.Register(loop.SessionOptions{
		Name:      sc.Name,
		Entity:    model,
		Behaviour: loop.Behaviour{Drift: &loop.RotationDrift{Velocity: mgl64.Vec3{0, 0.01, 0}}},
		Render:    s.RenderFunc(sc, nil),
	})
	d.Start()
	for i := 0; i < 3; i++ {
		clock.Advance(1.0 / 60)
		sched.Step()
	}

	assert.Len(t, p.payloads, 3)
	assert.InDelta(t, 0.03, model.Transform().Rotation.Y(), 1e-12)
}

const testConfig = `
mqtt:
  url: tcp://broker:1883
  qos: 1
scenes:
  - name: offf
    model: models/OFFF.glb
    scale: 2.5
    clear: "#d1ccb8"
    camera: {position: [0, 0, 5]}
    lights:
      - {kind: directional, colour: "#ffffff", intensity: 250, position: [5, 10, 20]}
    material: {colour: "#93e7cf", metalness: 1, roughness: 0.1}
    rotation: [0, 0.01, 0]
    oscillations:
      - {axis: y, amplitude: 0.1, frequency: 0.5}
  - model: models/houdini.glb
`

func writeConfig(t *testing.T, content string) string {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestReadConfig(t *testing.T) {
	c, err := ReadConfig(writeConfig(t, testConfig))
	require.NoError(t, err)

	assert.Equal(t, "tcp://broker:1883", c.Mqtt.URL)
	assert.Equal(t, byte(1), c.Mqtt.QoS)
	assert.Equal(t, "scenes", c.Mqtt.Topics.Frames)
	assert.Equal(t, "scenes/debug", c.Mqtt.Topics.Debug)
	assert.Equal(t, 60.0, c.Loop.FrameRate)
	assert.Equal(t, ":3000", c.Http.Addr)

	require.Len(t, c.Scenes, 2)
	offf := c.Scenes[0]
	assert.Equal(t, "#d1ccb8", offf.Clear.Hex())
	assert.Equal(t, 2.5, offf.Scale)

	b, err := offf.Behaviour()
	require.NoError(t, err)
	require.NotNil(t, b.Drift)
	assert.Equal(t, mgl64.Vec3{0, 0.01, 0}, b.Drift.Velocity)
	assert.Equal(t, []loop.Oscillation{{Axis: loop.AxisY, Amplitude: 0.1, Frequency: 0.5}}, b.Oscillations)

	cam := offf.NewCamera()
	assert.Equal(t, 75.0, cam.FOV)
	assert.InDelta(t, 1.5, cam.Aspect, 1e-12)

	sc := offf.NewScene()
	require.Len(t, sc.Lights, 1)
	assert.Equal(t, scene.DirectionalLight, sc.Lights[0].Kind)

	mat, ok := offf.MaterialOverride()
	require.True(t, ok)
	assert.Equal(t, "#93e7cf", mat.Colour.Hex())

	houdini := c.Scenes[1]
	assert.Equal(t, "scene-2", houdini.Name)
	assert.Equal(t, 1.0, houdini.Scale)
	_, ok = houdini.MaterialOverride()
	assert.False(t, ok)
	hb, err := houdini.Behaviour()
	require.NoError(t, err)
	assert.True(t, hb.IsZero())
}

func TestReadConfigEnvOverrides(t *testing.T) {
	t.Setenv("SCENELOOP_MQTT_URL", "tcp://elsewhere:1883")
	t.Setenv("SCENELOOP_MQTT_TOPIC_FRAMES", "lab/scenes")
	t.Setenv("SCENELOOP_LOOP_FRAME_RATE", "30")
	t.Setenv("SCENELOOP_HTTP_ADDR", ":8080")

	c, err := ReadConfig(writeConfig(t, testConfig))
	require.NoError(t, err)
	assert.Equal(t, "tcp://elsewhere:1883", c.Mqtt.URL)
	assert.Equal(t, "lab/scenes", c.Mqtt.Topics.Frames)
	assert.Equal(t, 30.0, c.Loop.FrameRate)
	assert.Equal(t, ":8080", c.Http.Addr)
	assert.Equal(t, byte(1), c.Mqtt.QoS)
}

func TestReadConfigErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"bad colour", "scenes:\n  - clear: \"not-a-colour\"\n"},
		{"bad axis", "scenes:\n  - oscillations: [{axis: w, amplitude: 1}]\n"},
		{"bad light", "scenes:\n  - lights: [{kind: spot}]\n"},
		{"duplicate", "scenes:\n  - name: a\n  - name: a\n"},
		{"qos", "mqtt:\n  qos: 3\n"},
		{"slash in name", "scenes:\n  - name: a/b\n"},
		{"plus in name", "scenes:\n  - name: a+\n"},
		{"hash in name", "scenes:\n  - name: \"#\"\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadConfig(writeConfig(t, tt.content))
			assert.Error(t, err)
		})
	}

	_, err := ReadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
