package debug

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/eclipse/paho.mqtt.golang"
	"github.com/go-gl/mathgl/mgl64"
	"gopkg.in/yaml.v2"

	"github.com/matt-g-everett/sceneloop/loop"
	"github.com/matt-g-everett/sceneloop/stream"
)

// ErrUnknownScene is returned for tweaks naming a scene that is not bound or
// whose session has gone.
var ErrUnknownScene = errors.New("unknown scene")

// Tweak changes the procedural animation of one scene. Unset fields are
// left alone. A zero rotation removes the drift and an empty oscillation
// list removes the oscillations.
type Tweak struct {
	Scene        string                     `json:"scene" yaml:"scene"`
	Reset        bool                       `json:"reset" yaml:"reset"`
	Rotation     *[3]float64                `json:"rotation" yaml:"rotation"`
	Oscillations []stream.OscillationConfig `json:"oscillations" yaml:"oscillations"`
}

// TweakFile is the layout of a watched tweak file.
type TweakFile struct {
	Tweaks []Tweak `yaml:"tweaks"`
}

// A Target accepts behaviour changes for a session.
type Target interface {
	SetBehaviour(h loop.Handle, b loop.Behaviour) bool
}

type binding struct {
	handle  loop.Handle
	base    loop.Behaviour
	current loop.Behaviour
}

// Panel applies debug tweaks to running sessions.
type Panel struct {
	target Target
	logger *slog.Logger

	mu       sync.Mutex
	bindings map[string]*binding
}

// NewPanel creates a Panel. A nil logger logs to slog.Default().
func NewPanel(target Target, logger *slog.Logger) *Panel {
	p := new(Panel)
	p.target = target
	p.logger = logger
	if p.logger == nil {
		p.logger = slog.Default()
	}
	p.bindings = make(map[string]*binding)
	return p
}

// Bind makes a session tweakable under a scene name. base is the behaviour
// a Reset tweak restores.
func (p *Panel) Bind(name string, h loop.Handle, base loop.Behaviour) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.bindings[name] = &binding{handle: h, base: base, current: base}
}

// Behaviour returns the behaviour last applied to a scene.
func (p *Panel) Behaviour(name string) (loop.Behaviour, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	b, ok := p.bindings[name]
	if !ok {
		return loop.Behaviour{}, false
	}
	return b.current, true
}

// ApplyTweak applies one tweak.
func (p *Panel) ApplyTweak(t Tweak) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	bound, ok := p.bindings[t.Scene]
	if !ok {
		return fmt.Errorf("tweak %q: %w", t.Scene, ErrUnknownScene)
	}

	next := bound.current
	if t.Reset {
		next = bound.base
	}
	if t.Rotation != nil {
		v := mgl64.Vec3(*t.Rotation)
		if v == (mgl64.Vec3{}) {
			next.Drift = nil
		} else {
			next.Drift = &loop.RotationDrift{Velocity: v}
		}
	}
	if t.Oscillations != nil {
		next.Oscillations = nil
		for _, oc := range t.Oscillations {
			o, err := oc.Oscillation()
			if err != nil {
				return fmt.Errorf("tweak %q: %w", t.Scene, err)
			}
			next.Oscillations = append(next.Oscillations, o)
		}
	}

	if !p.target.SetBehaviour(bound.handle, next) {
		delete(p.bindings, t.Scene)
		return fmt.Errorf("tweak %q: %w", t.Scene, ErrUnknownScene)
	}
	bound.current = next
	p.logger.Info("tweak applied", "scene", t.Scene, "handle", bound.handle)
	return nil
}

// Apply applies a JSON encoded Tweak.
func (p *Panel) Apply(payload []byte) error {
	var t Tweak
	if err := json.Unmarshal(payload, &t); err != nil {
		return fmt.Errorf("decode tweak: %w", err)
	}
	return p.ApplyTweak(t)
}

// ApplyFile applies every tweak in a YAML tweak file.
func (p *Panel) ApplyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read tweaks: %w", err)
	}
	var f TweakFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("decode tweaks %s: %w", path, err)
	}
	var errs []error
	for _, t := range f.Tweaks {
		if err := p.ApplyTweak(t); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (p *Panel) handleMessage(client mqtt.Client, msg mqtt.Message) {
	p.logger.Debug("tweak received", "topic", msg.Topic(), "id", msg.MessageID())
	if err := p.Apply(msg.Payload()); err != nil {
		p.logger.Warn("tweak rejected", "topic", msg.Topic(), "err", err)
	}
}

// Subscribe receives JSON tweaks from an MQTT topic.
func (p *Panel) Subscribe(client mqtt.Client, topic string) error {
	token := client.Subscribe(topic, 0, p.handleMessage)
	token.Wait()
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribe %s: %w", topic, err)
	}
	return nil
}
