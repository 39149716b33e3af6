package stream

import (
	"fmt"
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/go-gl/mathgl/mgl64"
	"github.com/lucasb-eyer/go-colorful"
	"gopkg.in/yaml.v2"

	"github.com/matt-g-everett/sceneloop/loop"
	"github.com/matt-g-everett/sceneloop/scene"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "SCENELOOP_"

type Config struct {
	Mqtt   MqttConfig    `yaml:"mqtt"`
	Loop   LoopConfig    `yaml:"loop"`
	Http   HttpConfig    `yaml:"http"`
	Debug  DebugConfig   `yaml:"debug"`
	Scenes []SceneConfig `yaml:"scenes"`
}

type MqttConfig struct {
	URL      string       `yaml:"url" env:"URL"`
	ClientID string       `yaml:"clientId" env:"CLIENT_ID"`
	Username string       `yaml:"username" env:"USERNAME"`
	Password string       `yaml:"password" env:"PASSWORD"`
	QoS      byte         `yaml:"qos" env:"QOS"`
	Topics   TopicsConfig `yaml:"topics" envPrefix:"TOPIC_"`
}

type TopicsConfig struct {
	Frames string `yaml:"frames" env:"FRAMES"`
	Debug  string `yaml:"debug" env:"DEBUG"`
}

type LoopConfig struct {
	FrameRate float64 `yaml:"frameRate" env:"FRAME_RATE"`
}

type HttpConfig struct {
	Addr   string `yaml:"addr" env:"ADDR"`
	Static string `yaml:"static" env:"STATIC"`
}

type DebugConfig struct {
	TweakFile string `yaml:"tweakFile" env:"TWEAK_FILE"`
}

// SceneConfig describes one scene session.
type SceneConfig struct {
	Name         string              `yaml:"name"`
	Model        string              `yaml:"model"`
	Scale        float64             `yaml:"scale"`
	Clear        Colour              `yaml:"clear"`
	Size         SizeConfig          `yaml:"size"`
	Camera       CameraConfig        `yaml:"camera"`
	Lights       []LightConfig       `yaml:"lights"`
	Material     *MaterialConfig     `yaml:"material"`
	FadeIn       float64             `yaml:"fadeIn"`
	Rotation     *[3]float64         `yaml:"rotation"`
	Oscillations []OscillationConfig `yaml:"oscillations"`
}

type SizeConfig struct {
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
}

type CameraConfig struct {
	FOV      float64    `yaml:"fov"`
	Near     float64    `yaml:"near"`
	Far      float64    `yaml:"far"`
	Position [3]float64 `yaml:"position"`
}

type LightConfig struct {
	Kind      string     `yaml:"kind"`
	Colour    Colour     `yaml:"colour"`
	Intensity float64    `yaml:"intensity"`
	Position  [3]float64 `yaml:"position"`
}

type MaterialConfig struct {
	Colour    Colour  `yaml:"colour"`
	Metalness float64 `yaml:"metalness"`
	Roughness float64 `yaml:"roughness"`
}

// OscillationConfig is a sine offset along one axis.
type OscillationConfig struct {
	Axis      string  `yaml:"axis" json:"axis"`
	Amplitude float64 `yaml:"amplitude" json:"amplitude"`
	Frequency float64 `yaml:"frequency" json:"frequency"`
}

// Oscillation converts the config into a loop.Oscillation.
func (o OscillationConfig) Oscillation() (loop.Oscillation, error) {
	axis, err := loop.ParseAxis(o.Axis)
	if err != nil {
		return loop.Oscillation{}, err
	}
	return loop.Oscillation{Axis: axis, Amplitude: o.Amplitude, Frequency: o.Frequency}, nil
}

// ReadConfig decodes a YAML config file and applies environment overrides
// and defaults.
func ReadConfig(path string) (Config, error) {
	var c Config
	f, err := os.Open(path)
	if err != nil {
		return c, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&c); err != nil {
		return c, fmt.Errorf("decode config %s: %w", path, err)
	}
	if err := c.ApplyEnv(); err != nil {
		return c, err
	}
	c.ApplyDefaults()
	return c, c.Validate()
}

// ApplyEnv overrides settings from SCENELOOP_* environment variables.
func (c *Config) ApplyEnv() error {
	sections := []struct {
		prefix string
		target any
	}{
		{"MQTT_", &c.Mqtt},
		{"LOOP_", &c.Loop},
		{"HTTP_", &c.Http},
		{"DEBUG_", &c.Debug},
	}
	for _, s := range sections {
		if err := env.ParseWithOptions(s.target, env.Options{Prefix: EnvPrefix + s.prefix}); err != nil {
			return fmt.Errorf("parse env: %w", err)
		}
	}
	return nil
}

// ApplyDefaults fills unset settings.
func (c *Config) ApplyDefaults() {
	if c.Mqtt.ClientID == "" {
		c.Mqtt.ClientID = "sceneloop"
	}
	if c.Mqtt.Topics.Frames == "" {
		c.Mqtt.Topics.Frames = "scenes"
	}
	if c.Mqtt.Topics.Debug == "" {
		c.Mqtt.Topics.Debug = "scenes/debug"
	}
	if c.Loop.FrameRate <= 0 {
		c.Loop.FrameRate = 60
	}
	if c.Http.Addr == "" {
		c.Http.Addr = ":3000"
	}
	if c.Http.Static == "" {
		c.Http.Static = "client/dist"
	}
	for i := range c.Scenes {
		s := &c.Scenes[i]
		if s.Name == "" {
			s.Name = fmt.Sprintf("scene-%d", i+1)
		}
		if s.Scale == 0 {
			s.Scale = 1
		}
		if s.Size.Width == 0 || s.Size.Height == 0 {
			s.Size = SizeConfig{Width: 600, Height: 400}
		}
		if s.Camera.FOV == 0 {
			s.Camera.FOV = 75
		}
		if s.Camera.Near == 0 {
			s.Camera.Near = 0.1
		}
		if s.Camera.Far == 0 {
			s.Camera.Far = 1000
		}
	}
}

// Validate checks settings that cannot be defaulted.
func (c *Config) Validate() error {
	if c.Mqtt.QoS > 2 {
		return fmt.Errorf("mqtt qos %d out of range", c.Mqtt.QoS)
	}
	names := make(map[string]bool)
	for _, s := range c.Scenes {
		if names[s.Name] {
			return fmt.Errorf("duplicate scene %q", s.Name)
		}
		names[s.Name] = true
		if strings.ContainsAny(s.Name, "/+#") {
			return fmt.Errorf("scene %q: name must not contain MQTT topic separators or wildcards", s.Name)
		}
		if _, err := s.Behaviour(); err != nil {
			return fmt.Errorf("scene %q: %w", s.Name, err)
		}
		for _, l := range s.Lights {
			if _, err := parseLightKind(l.Kind); err != nil {
				return fmt.Errorf("scene %q: %w", s.Name, err)
			}
		}
	}
	return nil
}

// Behaviour returns the procedural animation of the scene's model.
func (s SceneConfig) Behaviour() (loop.Behaviour, error) {
	var b loop.Behaviour
	if s.Rotation != nil {
		b.Drift = &loop.RotationDrift{Velocity: mgl64.Vec3(*s.Rotation)}
	}
	for _, oc := range s.Oscillations {
		o, err := oc.Oscillation()
		if err != nil {
			return b, err
		}
		b.Oscillations = append(b.Oscillations, o)
	}
	return b, nil
}

// NewCamera returns the scene's camera.
func (s SceneConfig) NewCamera() *scene.Camera {
	return &scene.Camera{
		FOV:      s.Camera.FOV,
		Aspect:   float64(s.Size.Width) / float64(s.Size.Height),
		Near:     s.Camera.Near,
		Far:      s.Camera.Far,
		Position: mgl64.Vec3(s.Camera.Position),
	}
}

// NewScene returns an empty scene with the configured lights.
func (s SceneConfig) NewScene() *scene.Scene {
	sc := scene.New(s.Name, s.Clear.Color)
	for _, l := range s.Lights {
		kind, _ := parseLightKind(l.Kind)
		sc.Lights = append(sc.Lights, scene.Light{
			Kind:      kind,
			Colour:    l.Colour.Color,
			Intensity: l.Intensity,
			Position:  mgl64.Vec3(l.Position),
		})
	}
	return sc
}

// MaterialOverride returns the material for the scene's meshes, if any.
func (s SceneConfig) MaterialOverride() (scene.Material, bool) {
	if s.Material == nil {
		return scene.Material{}, false
	}
	return scene.Material{
		Colour:    s.Material.Colour.Color,
		Metalness: s.Material.Metalness,
		Roughness: s.Material.Roughness,
	}, true
}

func parseLightKind(s string) (scene.LightKind, error) {
	switch k := scene.LightKind(s); k {
	case scene.AmbientLight, scene.DirectionalLight:
		return k, nil
	}
	return "", fmt.Errorf("unknown light kind %q", s)
}

// Colour is a colour written as a hex string such as "#d1ccb8".
type Colour struct {
	colorful.Color
}

func (c *Colour) UnmarshalText(text []byte) error {
	col, err := colorful.Hex(string(text))
	if err != nil {
		return err
	}
	c.Color = col
	return nil
}

func (c *Colour) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	return c.UnmarshalText([]byte(s))
}

func (c Colour) MarshalText() ([]byte, error) {
	return []byte(c.Hex()), nil
}
