package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/eclipse/paho.mqtt.golang"

	"github.com/matt-g-everett/sceneloop/anim"
	"github.com/matt-g-everett/sceneloop/api"
	"github.com/matt-g-everett/sceneloop/asset"
	"github.com/matt-g-everett/sceneloop/debug"
	"github.com/matt-g-everett/sceneloop/loop"
	"github.com/matt-g-everett/sceneloop/stream"
)

type app struct {
	Config    stream.Config
	Client    mqtt.Client
	Publisher stream.Publisher
	Streamer  *stream.Streamer
	Scheduler *loop.TickerScheduler
	Driver    *loop.Driver
	Panel     *debug.Panel
	logger    *slog.Logger
}

func newApp(config stream.Config, logger *slog.Logger) *app {
	a := new(app)
	a.Config = config
	a.logger = logger
	return a
}

func (a *app) handleOnConnect(client mqtt.Client) {
	a.logger.Info("connected", "broker", a.Config.Mqtt.URL)
	if err := a.Panel.Subscribe(client, a.Config.Mqtt.Topics.Debug); err != nil {
		a.logger.Error("debug subscription failed", "err", err)
	}
}

func (a *app) handleFault(f loop.TickFault) {
	topic := fmt.Sprintf("%s/%s/fault", a.Config.Mqtt.Topics.Frames, f.Session)
	payload, _ := json.Marshal(map[string]any{
		"session": f.Session,
		"stage":   f.Stage.String(),
		"tick":    f.Tick,
		"error":   f.Err.Error(),
	})
	if err := a.Publisher.Publish(topic, payload); err != nil {
		a.logger.Warn("fault report not delivered", "session", f.Session, "err", err)
	}
}

// registerScene loads a scene's model and registers its session. A model
// that fails to load is reported and the scene renders empty.
func (a *app) registerScene(cfg stream.SceneConfig) {
	sc := cfg.NewScene()
	cam := cfg.NewCamera()
	behaviour, _ := cfg.Behaviour()

	opts := loop.SessionOptions{
		Name:   cfg.Name,
		Render: a.Streamer.RenderFunc(sc, cam),
	}

	if cfg.Model != "" {
		model, err := asset.Load(cfg.Model, asset.Options{Scale: cfg.Scale})
		if err != nil {
			a.logger.Error("model load failed", "scene", cfg.Name, "err", err)
		} else {
			if mat, ok := cfg.MaterialOverride(); ok {
				n := model.Root.ApplyMaterial(mat)
				a.logger.Debug("material override", "scene", cfg.Name, "meshes", n)
			}
			sc.Add(model.Root)

			mixer := anim.NewMixer()
			mixer.PlayAll(model.Clips)
			if cfg.FadeIn > 0 {
				for _, c := range model.Clips {
					mixer.ClipAction(c).FadeIn(cfg.FadeIn)
				}
			}
			a.Streamer.TrackClips(cfg.Name, mixer)

			opts.Mixer = mixer
			opts.Entity = model.Root
			opts.Behaviour = behaviour
			a.logger.Info("model loaded", "scene", cfg.Name, "path", cfg.Model,
				"meshes", model.Meshes, "clips", len(model.Clips))
		}
	}

	h := a.Driver.Register(opts)
	a.Panel.Bind(cfg.Name, h, behaviour)
}

func (a *app) run(ctx context.Context) error {
	if token := a.Client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("connect %s: %w", a.Config.Mqtt.URL, token.Error())
	}
	defer a.Client.Disconnect(250)

	server := api.NewApi(a.Driver, a.Config.Http.Static, a.logger)
	go func() {
		if err := server.Serve(ctx, a.Config.Http.Addr); err != nil {
			a.logger.Error("status server stopped", "err", err)
		}
	}()

	if a.Config.Debug.TweakFile != "" {
		go func() {
			err := a.Panel.Watch(ctx, a.Config.Debug.TweakFile)
			if err != nil && !errors.Is(err, context.Canceled) {
				a.logger.Error("tweak watcher stopped", "err", err)
			}
		}()
	}

	a.Driver.Start()
	defer a.Driver.Stop()

	a.logger.Info("running", "scenes", len(a.Config.Scenes), "frameRate", a.Config.Loop.FrameRate)
	err := a.Scheduler.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func main() {
	configPath := flag.String("config", "config.yaml", "YAML config file.")
	verbose := flag.Bool("v", false, "Log debug messages.")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	logger := slog.New(handler)
	slog.SetDefault(logger)
	mqtt.ERROR = slog.NewLogLogger(handler, slog.LevelError)

	config, err := stream.ReadConfig(*configPath)
	if err != nil {
		logger.Error("config", "err", err)
		os.Exit(1)
	}

	a := newApp(config, logger)
	options := mqtt.NewClientOptions().
		AddBroker(a.Config.Mqtt.URL).
		SetClientID(a.Config.Mqtt.ClientID).
		SetUsername(a.Config.Mqtt.Username).
		SetPassword(a.Config.Mqtt.Password).
		SetKeepAlive(30 * time.Second).
		SetPingTimeout(5 * time.Second).
		SetOnConnectHandler(a.handleOnConnect)
	a.Client = mqtt.NewClient(options)
	a.Scheduler = loop.NewTickerScheduler(a.Config.Loop.FrameRate)
	a.Publisher = stream.NewMqttPublisher(a.Client, a.Config.Mqtt.QoS, a.Scheduler.Interval())
	a.Streamer = stream.NewStreamer(a.Publisher, a.Config.Mqtt.Topics.Frames, logger)

	a.Driver = loop.NewDriver(loop.NewClock(), a.Scheduler, logger)
	a.Driver.OnFault(a.handleFault)
	a.Panel = debug.NewPanel(a.Driver, logger)

	for _, sc := range a.Config.Scenes {
		a.registerScene(sc)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.run(ctx); err != nil {
		logger.Error("stopped", "err", err)
		os.Exit(1)
	}
}
