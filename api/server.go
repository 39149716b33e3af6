package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/matt-g-everett/sceneloop/loop"
)

// A SessionLister reports the driver's state and sessions.
type SessionLister interface {
	State() loop.State
	Frames() uint64
	Sessions() []loop.SessionInfo
}

// Status is the body of GET /api/sessions.
type Status struct {
	State    string             `json:"state"`
	Frames   uint64             `json:"frames"`
	Sessions []loop.SessionInfo `json:"sessions"`
}

type Api struct {
	lister    SessionLister
	staticDir string
	logger    *slog.Logger
}

func NewApi(lister SessionLister, staticDir string, logger *slog.Logger) *Api {
	a := new(Api)
	a.lister = lister
	a.staticDir = staticDir
	a.logger = logger
	if a.logger == nil {
		a.logger = slog.Default()
	}
	return a
}

// Handler serves the static client and the status endpoint.
func (a *Api) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/sessions", a.handleSessions)
	if a.staticDir != "" {
		mux.Handle("/", http.FileServer(http.Dir(a.staticDir)))
	}
	return mux
}

func (a *Api) handleSessions(w http.ResponseWriter, r *http.Request) {
	status := Status{
		State:    a.lister.State().String(),
		Frames:   a.lister.Frames(),
		Sessions: a.lister.Sessions(),
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(status); err != nil {
		a.logger.Warn("write status", "err", err)
	}
}

// Serve listens on addr until ctx is done.
func (a *Api) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: a.Handler(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdown)
	}()

	a.logger.Info("listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
