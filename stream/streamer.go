package stream

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/eclipse/paho.mqtt.golang"

	"github.com/matt-g-everett/sceneloop/anim"
	"github.com/matt-g-everett/sceneloop/scene"
)

// A Publisher sends a payload to a topic.
type Publisher interface {
	Publish(topic string, payload []byte) error
}

// ErrDeliveryTimeout is returned when a publish is not acknowledged in time.
var ErrDeliveryTimeout = errors.New("mqtt delivery timed out")

// MqttPublisher publishes over an MQTT client. Each publish waits at most
// timeout for delivery so a slow broker cannot stall the frame loop. QoS 0
// completes as soon as the message is written and suits frame traffic.
type MqttPublisher struct {
	client  mqtt.Client
	qos     byte
	timeout time.Duration
}

// NewMqttPublisher creates an MqttPublisher. A zero timeout waits one second.
func NewMqttPublisher(client mqtt.Client, qos byte, timeout time.Duration) *MqttPublisher {
	p := new(MqttPublisher)
	p.client = client
	p.qos = qos
	p.timeout = timeout
	if p.timeout <= 0 {
		p.timeout = time.Second
	}
	return p
}

func (p *MqttPublisher) Publish(topic string, payload []byte) error {
	return waitDelivery(p.client.Publish(topic, p.qos, false, payload), p.timeout)
}

type deliveryToken interface {
	WaitTimeout(time.Duration) bool
	Error() error
}

func waitDelivery(token deliveryToken, timeout time.Duration) error {
	if !token.WaitTimeout(timeout) {
		return ErrDeliveryTimeout
	}
	return token.Error()
}

// A ClipSource reports the state of a scene's animation clips.
type ClipSource interface {
	States() []anim.ActionState
}

// Streamer renders scenes by streaming their frames to a display client.
// Frames that cannot be delivered are dropped and counted; the next frame
// supersedes them.
type Streamer struct {
	publisher Publisher
	prefix    string
	logger    *slog.Logger

	mu        sync.Mutex
	sequences map[string]uint64
	clips     map[string]ClipSource
	failing   map[string]bool
	dropped   uint64
}

// NewStreamer creates an instance of a Streamer. Frames for scene "x" go to
// "<prefix>/x/frame".
func NewStreamer(publisher Publisher, prefix string, logger *slog.Logger) *Streamer {
	s := new(Streamer)
	s.publisher = publisher
	s.prefix = prefix
	s.logger = logger
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.failing = make(map[string]bool)
	s.sequences = make(map[string]uint64)
	s.clips = make(map[string]ClipSource)
	return s
}

// Topic returns the frame topic of a scene.
func (s *Streamer) Topic(sceneName string) string {
	return fmt.Sprintf("%s/%s/frame", s.prefix, sceneName)
}

// TrackClips includes the clip states of src in every frame of the scene.
func (s *Streamer) TrackClips(sceneName string, src ClipSource) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clips[sceneName] = src
}

// Render sends one frame of sc seen through cam.
func (s *Streamer) Render(sc *scene.Scene, cam *scene.Camera) error {
	s.mu.Lock()
	s.sequences[sc.Name]++
	sequence := s.sequences[sc.Name]
	src := s.clips[sc.Name]
	s.mu.Unlock()

	f := NewFrame(sc, cam, sequence)
	if src != nil {
		f.Clips = src.States()
	}
	b, err := f.MarshalBinary()
	if err != nil {
		return fmt.Errorf("marshal frame %d of %s: %w", sequence, sc.Name, err)
	}
	s.delivered(sc.Name, sequence, s.publisher.Publish(s.Topic(sc.Name), b))
	return nil
}

// delivered records the outcome of a publish, logging only when a scene's
// delivery starts failing or recovers.
func (s *Streamer) delivered(sceneName string, sequence uint64, err error) {
	s.mu.Lock()
	wasFailing := s.failing[sceneName]
	s.failing[sceneName] = err != nil
	if err != nil {
		s.dropped++
	}
	s.mu.Unlock()

	switch {
	case err != nil && !wasFailing:
		s.logger.Warn("frame delivery failing", "scene", sceneName, "sequence", sequence, "err", err)
	case err == nil && wasFailing:
		s.logger.Info("frame delivery recovered", "scene", sceneName, "sequence", sequence)
	}
}

// Dropped returns how many frames could not be delivered.
func (s *Streamer) Dropped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// RenderFunc binds a scene and camera into a zero-argument render.
func (s *Streamer) RenderFunc(sc *scene.Scene, cam *scene.Camera) func() error {
	return func() error {
		return s.Render(sc, cam)
	}
}
