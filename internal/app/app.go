package app

import (
	"context"
	"fmt"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"pulsebot/internal/behavior"
	"pulsebot/internal/config"
	"pulsebot/internal/eventbus"
	"pulsebot/internal/oracle"
	"pulsebot/internal/policy"
	"pulsebot/internal/runtime/supervisor"
	"pulsebot/internal/scheduler"
	"pulsebot/internal/storage"
	"pulsebot/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	store  storage.Store
	engine *policy.Engine
	sched  *scheduler.Service
	admin  *adminServer
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))
	cfgm.SetLogger(logSvc.Logger().With(logx.String("comp", "config")))

	busyTimeout, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: busyTimeout,
	}, logSvc.Logger().With(logx.String("comp", "storage")))
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	oracleTimeout, err := config.ParseDurationOrDefault("oracle.timeout", cfg.Oracle.Timeout, 30*time.Second)
	if err != nil {
		return nil, err
	}
	oracleClient, err := oracle.NewClient(oracle.Config{
		APIKey:          cfg.Oracle.APIKey,
		Model:           cfg.Oracle.Model,
		BaseURL:         cfg.Oracle.BaseURL,
		Timeout:         oracleTimeout,
		RatePerSec:      cfg.Oracle.RatePerSec,
		MaxOutputTokens: cfg.Oracle.MaxOutputTokens,
		Temperature:     cfg.Oracle.Temperature,
	}, logSvc.Logger().With(logx.String("comp", "oracle")))
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	loc := time.Local
	if tz := cfg.Scheduler.Timezone; tz != "" {
		if loc, err = time.LoadLocation(tz); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("scheduler.timezone: %w", err)
		}
	}

	ignoreWindow, err := config.ParseDurationOrDefault("policy.ignore_window", cfg.Policy.IgnoreWindow, 6*time.Hour)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	engine := policy.NewEngine(store,
		logSvc.Logger().With(logx.String("comp", "policy")),
		policy.WithDefaults(preferenceFromConfig(cfg.Policy.Defaults)),
		policy.WithCacheSize(cfg.Policy.CacheSize),
		policy.WithIgnorePolicy(ignoreWindow, cfg.Policy.IgnoreThreshold),
		policy.WithLocation(loc),
	)

	builder := behavior.NewContextBuilder(store, store,
		logSvc.Logger().With(logx.String("comp", "context")))

	bus := eventbus.New()
	sched := scheduler.New(scheduler.Config{
		Enabled:    cfg.Scheduler.Enabled,
		Spec:       cfg.Scheduler.Spec,
		Workers:    cfg.Scheduler.Workers,
		Timezone:   cfg.Scheduler.Timezone,
		RunOnStart: cfg.Scheduler.RunOnStart,
	}, scheduler.Deps{
		Directory: store,
		Contexts:  builder,
		Oracle:    oracleClient,
		Gate:      engine,
		Sink: &storeSink{
			store: store,
			log:   logSvc.Logger().With(logx.String("comp", "delivery")),
		},
		Bus: bus,
	}, logSvc.Logger().With(logx.String("comp", "scheduler")))

	a := &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		engine:  engine,
		sched:   sched,
	}
	a.admin = newAdminServer(logSvc.Logger().With(logx.String("comp", "admin")), sched, engine)
	return a, nil
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log))

	a.sup.Go("config-watch", a.cfgm.Watch)
	a.sup.Go("config-apply", a.applyLoop)

	if err := a.sched.Start(a.sup.Context()); err != nil {
		return err
	}

	a.admin.SetRunContext(a.sup.Context())
	a.admin.Apply(a.sup.Context(), a.cfgm.Get().Admin)

	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)
	a.log.Info("started")
	return nil
}

func (a *App) Stop(ctx context.Context) error {
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	a.sched.Stop(ctx)
	a.admin.Stop(ctx)
	if a.sup != nil {
		_ = a.sup.Stop(ctx)
	}
	if err := a.store.Close(); err != nil {
		a.log.Warn("closing storage", logx.Err(err))
	}
	a.log.Info("stopped")
	return a.logs.Close()
}

// applyLoop propagates hot-reloaded config to the services that support
// runtime reconfiguration. Oracle and storage settings require a
// restart and are deliberately not re-applied here.
func (a *App) applyLoop(ctx context.Context) error {
	ch := a.cfgm.Subscribe(4)
	defer a.cfgm.Unsubscribe(ch)

	for {
		select {
		case <-ctx.Done():
			return nil
		case cfg, ok := <-ch:
			if !ok {
				return nil
			}
			a.logs.Apply(logx.Config{
				Level:   cfg.Logging.Level,
				Console: cfg.Logging.Console,
				File: logx.FileConfig{
					Enabled: cfg.Logging.File.Enabled,
					Path:    cfg.Logging.File.Path,
				},
			})
			a.sched.Apply(scheduler.Config{Workers: cfg.Scheduler.Workers})
			a.admin.Apply(ctx, cfg.Admin)
			a.log.Info("config applied")
		}
	}
}

// Bus exposes the operational event stream (skip reasons, cycle
// summaries) to embedders.
func (a *App) Bus() eventbus.Bus { return a.bus }

func preferenceFromConfig(pc config.PreferenceConfig) policy.Preference {
	p := policy.DefaultPreference()
	if pc.Enabled != nil {
		p.Enabled = *pc.Enabled
	}
	if pc.QuietStart != nil {
		p.Quiet.Start = *pc.QuietStart
	}
	if pc.QuietEnd != nil {
		p.Quiet.End = *pc.QuietEnd
	}
	if pc.MaxPerDay != nil {
		p.MaxPerDay = *pc.MaxPerDay
	}
	if pc.CooldownMinutes != nil {
		p.CooldownMinutes = *pc.CooldownMinutes
	}
	return p
}

// storeSink persists hand-offs for in-app consumption. Actual transport
// (push, email, socket) is owned by external subsystems reading the
// deliveries table.
type storeSink struct {
	store storage.Store
	log   logx.Logger
}

func (s *storeSink) Deliver(ctx context.Context, h scheduler.Handoff) error {
	err := s.store.SaveDelivery(ctx, storage.Delivery{
		ID:          h.ID,
		UserID:      h.UserID,
		CommunityID: h.CommunityID,
		Message:     h.Message,
		Priority:    string(h.Priority),
		Tone:        string(h.Tone),
		CreatedAt:   h.Timestamp,
	})
	if err != nil {
		return err
	}
	s.log.Debug("delivery recorded",
		logx.String("user", h.UserID),
		logx.String("priority", string(h.Priority)))
	return nil
}
