package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/christopherklint97/convene/internal/ai"
	"github.com/christopherklint97/convene/internal/calendar"
	"github.com/christopherklint97/convene/internal/config"
	"github.com/christopherklint97/convene/internal/dialogue"
	"github.com/christopherklint97/convene/internal/directory"
	"github.com/christopherklint97/convene/internal/logging"
	"github.com/christopherklint97/convene/internal/msgraph"
	"github.com/christopherklint97/convene/internal/notify"
	"github.com/christopherklint97/convene/internal/session"
	"github.com/christopherklint97/convene/internal/store"
)

// services holds everything a conversation needs, opened from config.
type services struct {
	cfg     *config.Config
	logger  *slog.Logger
	logFile *os.File
	db      *store.DB
	dir     *directory.Directory
	amqp    *notify.AMQP
	manager *session.Manager
	stop    context.CancelFunc
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

func openLogger(cfg *config.Config) (*slog.Logger, *os.File) {
	logger, f, err := logging.OpenFile(cfg.Log.File, cfg.Log.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: logging disabled: %v\n", err)
		return logging.Discard(), nil
	}
	return logger, f
}

func openDirectory(cfg *config.Config, logger *slog.Logger) *directory.Directory {
	ttl := time.Duration(cfg.Directory.ReloadSeconds) * time.Second
	return directory.New(cfg.Directory.Path, ttl, logger.With("component", "directory"))
}

func newProvider(cfg *config.Config, logger *slog.Logger) (ai.Provider, error) {
	logger = logger.With("component", "ai", "provider", cfg.AI.Provider)
	switch cfg.AI.Provider {
	case "claude-cli":
		return ai.NewClaudeCLI(cfg.AI.Model, logger), nil
	default:
		if cfg.AI.APIKey == "" {
			return nil, fmt.Errorf("OpenAI API key not configured, set OPENAI_API_KEY or ai.api_key in 'convene config'")
		}
		return ai.NewOpenAI(cfg.AI.APIKey, cfg.AI.BaseURL, cfg.AI.Model, logger), nil
	}
}

func newGraphAuth(cfg *config.Config, logger *slog.Logger) (*msgraph.Auth, error) {
	if cfg.Calendar.Graph.ClientID == "" {
		return nil, fmt.Errorf("calendar.graph.client_id not configured")
	}
	dir, err := config.ConfigDir()
	if err != nil {
		return nil, err
	}
	tokens := msgraph.NewTokenStore(dir)
	return msgraph.NewAuth(cfg.Calendar.Graph.ClientID, cfg.Calendar.Graph.TenantID, tokens, logger), nil
}

func newCalendar(cfg *config.Config, logger *slog.Logger) (dialogue.Calendar, error) {
	logger = logger.With("component", "calendar", "backend", cfg.Calendar.Backend)
	if cfg.Calendar.Backend == "graph" {
		auth, err := newGraphAuth(cfg, logger)
		if err != nil {
			return nil, err
		}
		return msgraph.NewClient(auth, logger), nil
	}
	var busy []string
	if cfg.Calendar.BusySource != "" {
		busy = []string{cfg.Calendar.BusySource}
	}
	return calendar.NewICS(cfg.Calendar.Path, busy, logger), nil
}

func newNotifier(ctx context.Context, cfg *config.Config, logger *slog.Logger) (notify.Multi, *notify.AMQP) {
	notifiers := notify.Multi{notify.NewLog(logger.With("component", "notify"))}
	if cfg.Notifications.Desktop {
		notifiers = append(notifiers, notify.NewDesktop())
	}
	if cfg.Notifications.AMQPURL == "" {
		return notifiers, nil
	}
	broker, err := notify.DialAMQP(ctx, cfg.Notifications.AMQPURL, cfg.Notifications.Exchange,
		cfg.Notifications.RoutingKey, 3, logger.With("component", "amqp"))
	if err != nil {
		logger.Warn("meeting events will not be published", "error", err)
		return notifiers, nil
	}
	return append(notifiers, broker), broker
}

func engineOptions(cfg *config.Config) (dialogue.Options, error) {
	hours, err := calendar.ParseWorkingHours(cfg.Schedule.WorkStart, cfg.Schedule.WorkEnd, cfg.Schedule.WorkDays,
		time.Duration(cfg.Schedule.SlotIncrementMinutes)*time.Minute)
	if err != nil {
		return dialogue.Options{}, fmt.Errorf("parsing working hours: %w", err)
	}
	return dialogue.Options{
		DefaultDuration:           cfg.Schedule.DefaultDurationMinutes,
		DurationPolicy:            dialogue.DurationPolicy(cfg.Schedule.DurationPolicy),
		Hours:                     hours,
		MaxSlotOffers:             cfg.Schedule.MaxSlotOffers,
		MaxDisambiguationAttempts: cfg.Dialogue.DisambiguationAttempts,
		CallTimeout:               cfg.CallTimeout(),
		HistoryTurns:              cfg.Dialogue.HistoryTurns,
		Location:                  cfg.Location(),
		Privileged:                cfg.Directory.Privileged,
		Organizer:                 notify.Person{Name: cfg.User.Name, Email: cfg.User.Email},
	}, nil
}

// openServices wires config into a session manager backed by the local database.
func openServices(ctx context.Context) (*services, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger, logFile := openLogger(cfg)
	rt := &services{cfg: cfg, logger: logger, logFile: logFile}

	fail := func(err error) (*services, error) {
		rt.Close()
		return nil, err
	}

	opts, err := engineOptions(cfg)
	if err != nil {
		return fail(err)
	}
	provider, err := newProvider(cfg, logger)
	if err != nil {
		return fail(err)
	}
	cal, err := newCalendar(cfg, logger)
	if err != nil {
		return fail(err)
	}

	dataDir, err := config.ConfigDir()
	if err != nil {
		return fail(err)
	}
	rt.db, err = store.Open(dataDir)
	if err != nil {
		return fail(fmt.Errorf("opening database: %w", err))
	}

	rt.dir = openDirectory(cfg, logger)
	bg, stop := context.WithCancel(context.WithoutCancel(ctx))
	rt.stop = stop
	if cfg.Directory.Watch {
		go func() {
			if err := rt.dir.Watch(bg); err != nil {
				logger.Warn("address book watcher stopped", "error", err)
			}
		}()
	}

	notifiers, broker := newNotifier(ctx, cfg, logger)
	rt.amqp = broker

	engine := dialogue.New(dialogue.Deps{
		Parser:    provider,
		Confirmer: ai.NewConfirmer(provider, logger),
		Directory: rt.dir,
		Calendar:  cal,
		Meetings:  rt.db,
		Notifier:  notifiers,
		Ledger:    rt.db.Commits(),
	}, opts, logger.With("component", "dialogue"))

	idle := time.Duration(cfg.Dialogue.LaneIdleSeconds) * time.Second
	rt.manager = session.NewManager(engine, session.NewDBStates(rt.db), idle, logger.With("component", "session"))
	return rt, nil
}

func (rt *services) Close() {
	if rt.manager != nil {
		rt.manager.Close()
	}
	if rt.stop != nil {
		rt.stop()
	}
	if rt.amqp != nil {
		if err := rt.amqp.Close(); err != nil {
			rt.logger.Warn("closing broker connection", "error", err)
		}
	}
	if rt.db != nil {
		rt.db.Close()
	}
	if rt.logFile != nil {
		rt.logFile.Close()
	}
}
