package app

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/pprof"
	"strings"
	"sync"
	"time"

	"pulsebot/internal/config"
	"pulsebot/internal/policy"
	"pulsebot/internal/scheduler"
	"pulsebot/pkg/logx"
)

// adminServer is a small operator surface: manual cycle trigger,
// scheduler status, per-pair preference edits and ignore feedback.
// It is off by default and meant for localhost binds only.
type adminServer struct {
	log    logx.Logger
	sched  *scheduler.Service
	engine *policy.Engine

	mu     sync.Mutex
	srv    *http.Server
	addr   string
	runCtx context.Context
}

func newAdminServer(log logx.Logger, sched *scheduler.Service, engine *policy.Engine) *adminServer {
	return &adminServer{
		log:    log,
		sched:  sched,
		engine: engine,
		runCtx: context.Background(),
	}
}

// SetRunContext sets the context manual cycles run under, so that an
// operator-triggered cycle is cancelled on shutdown rather than tied to
// the HTTP request.
func (s *adminServer) SetRunContext(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runCtx = ctx
}

func (s *adminServer) Apply(ctx context.Context, cfg config.AdminConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()

	addr := cfg.Address
	if addr == "" {
		addr = "127.0.0.1:8090"
	}
	if !cfg.Enabled {
		s.stopLocked()
		return
	}
	if s.srv != nil && s.addr == addr {
		return
	}
	s.stopLocked()

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		s.log.Error("admin listen failed", logx.String("addr", addr), logx.Err(err))
		return
	}

	srv := &http.Server{
		Handler:           s.routes(cfg.Pprof),
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.srv = srv
	s.addr = addr

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("admin server stopped", logx.Err(err))
		}
	}()
	s.log.Info("admin server listening", logx.String("addr", addr))
}

func (s *adminServer) Stop(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

func (s *adminServer) stopLocked() {
	if s.srv == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_ = s.srv.Shutdown(shutdownCtx)
	s.srv = nil
	s.addr = ""
}

func (s *adminServer) routes(withPprof bool) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/cycle/trigger", s.handleTrigger)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/preferences", s.handleGetPreferences)
	mux.HandleFunc("PUT /api/preferences", s.handlePutPreferences)
	mux.HandleFunc("POST /api/ignore", s.handleIgnore)
	if withPprof {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}
	return mux
}

func (s *adminServer) handleTrigger(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	ctx := s.runCtx
	s.mu.Unlock()

	rep, err := s.sched.TriggerNow(ctx)
	switch {
	case errors.Is(err, scheduler.ErrCycleActive):
		httpError(w, http.StatusConflict, "a cycle is already running")
	case err != nil:
		httpError(w, http.StatusInternalServerError, err.Error())
	default:
		writeJSON(w, http.StatusOK, rep)
	}
}

func (s *adminServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.sched.Status())
}

type preferencePayload struct {
	Enabled         bool `json:"enabled"`
	QuietStart      int  `json:"quiet_start"`
	QuietEnd        int  `json:"quiet_end"`
	MaxPerDay       int  `json:"max_per_day"`
	CooldownMinutes int  `json:"cooldown_minutes"`
}

func (s *adminServer) handleGetPreferences(w http.ResponseWriter, r *http.Request) {
	key, ok := pairKey(w, r)
	if !ok {
		return
	}
	p, err := s.engine.Preferences(r.Context(), key)
	if err != nil {
		httpError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, preferencePayload{
		Enabled:         p.Enabled,
		QuietStart:      p.Quiet.Start,
		QuietEnd:        p.Quiet.End,
		MaxPerDay:       p.MaxPerDay,
		CooldownMinutes: p.CooldownMinutes,
	})
}

func (s *adminServer) handlePutPreferences(w http.ResponseWriter, r *http.Request) {
	key, ok := pairKey(w, r)
	if !ok {
		return
	}
	var body preferencePayload
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		httpError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}
	p := policy.Preference{
		Enabled:         body.Enabled,
		Quiet:           policy.QuietHours{Start: body.QuietStart, End: body.QuietEnd},
		MaxPerDay:       body.MaxPerDay,
		CooldownMinutes: body.CooldownMinutes,
	}
	if err := s.engine.UpdatePreferences(r.Context(), key, p); err != nil {
		httpError(w, http.StatusBadRequest, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *adminServer) handleIgnore(w http.ResponseWriter, r *http.Request) {
	var body struct {
		UserID      string `json:"user_id"`
		CommunityID string `json:"community_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httpError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}
	if strings.TrimSpace(body.UserID) == "" || strings.TrimSpace(body.CommunityID) == "" {
		httpError(w, http.StatusBadRequest, "user_id and community_id are required")
		return
	}
	key := policy.Key{UserID: body.UserID, CommunityID: body.CommunityID}
	if err := s.engine.RecordIgnore(r.Context(), key); err != nil {
		httpError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func pairKey(w http.ResponseWriter, r *http.Request) (policy.Key, bool) {
	q := r.URL.Query()
	user, community := q.Get("user"), q.Get("community")
	if user == "" || community == "" {
		httpError(w, http.StatusBadRequest, "user and community query params are required")
		return policy.Key{}, false
	}
	return policy.Key{UserID: user, CommunityID: community}, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
