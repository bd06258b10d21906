package main

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	pkgerrors "github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/zhouzirui/foodbot/internal/config"
	"github.com/zhouzirui/foodbot/internal/handler/telegram"
	"github.com/zhouzirui/foodbot/internal/handler/web"
	"github.com/zhouzirui/foodbot/internal/locales"
	"github.com/zhouzirui/foodbot/internal/model/review"
	"github.com/zhouzirui/foodbot/internal/queue"
	"github.com/zhouzirui/foodbot/internal/service/ai"
	"github.com/zhouzirui/foodbot/internal/service/portal"
	"github.com/zhouzirui/foodbot/internal/service/recommend"
	"github.com/zhouzirui/foodbot/internal/service/reservation"
	sessionsvc "github.com/zhouzirui/foodbot/internal/service/session"
	"github.com/zhouzirui/foodbot/internal/store/cache"
	"github.com/zhouzirui/foodbot/internal/store/sqlite"
)

// Options are the command line overrides.
type Options struct {
	HTTPAddr   string
	LogLevel   string
	NoTelegram bool
}

// Run loads the configuration, wires every component and blocks until ctx
// is cancelled.
func (o *Options) Run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return pkgerrors.Wrap(err, "failed to load configuration")
	}
	o.apply(cfg)

	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		return pkgerrors.Wrapf(err, "invalid log level %q", cfg.LogLevel)
	}
	log.SetLevel(level)

	// Background workers stop with ctx, also when the listener fails.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	db, err := sqlite.Open(cfg.Store.Path)
	if err != nil {
		return err
	}
	defer db.Close()

	var reviews review.Store = db
	if rdb := cache.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB); rdb != nil {
		defer rdb.Close()
		reviews = cache.NewAggregateStore(db, rdb, cfg.Redis.TTL)
		log.WithField("addr", cfg.Redis.Addr).Info("aggregate cache enabled")
	}

	var notifier reservation.Notifier
	if cfg.Queue.URL != "" {
		notifier = queue.NewPublisher(cfg.Queue.URL)
		log.Info("reservation events will be published to RabbitMQ")
	}

	text := locales.Get()
	recommender := recommend.NewAdapter(newGenerator(ctx, cfg.AI, text.Recommend.System), reviews, recommend.Config{
		MaxComments:    cfg.Recommend.MaxComments,
		MaxPromptRunes: cfg.Recommend.MaxPromptRunes,
		Timeout:        cfg.AI.Timeout,
		Fallback:       text.Recommend.Fallback,
	})

	portals := func() (reservation.PortalClient, error) {
		c, err := portal.New(portal.Config{BaseURL: cfg.Portal.BaseURL, Timeout: cfg.Portal.Timeout})
		if err != nil {
			return nil, err
		}
		return c, nil
	}
	workflowCfg := reservation.Config{
		AuthAttempts: cfg.Portal.AuthAttempts,
		RetryBackoff: cfg.Portal.RetryBackoff,
	}

	var wg sync.WaitGroup

	// One session manager per gateway: user ids of different transports
	// never collide.
	newWorkflow := func(gw reservation.Gateway) (*reservation.Workflow, *sessionsvc.Manager) {
		sessions := sessionsvc.NewManager()
		wg.Add(1)
		go func() {
			defer wg.Done()
			sessions.RunSweeper(ctx, cfg.Session.SweepInterval, cfg.Session.IdleTTL)
		}()
		return reservation.New(reservation.Deps{
			Sessions:    sessions,
			Gateway:     gw,
			Portals:     portals,
			Reviews:     reviews,
			Recommender: recommender,
			Notifier:    notifier,
		}, workflowCfg), sessions
	}

	hub := web.NewHub()
	webFlow, webSessions := newWorkflow(hub)
	hub.Attach(webFlow)
	defer webSessions.CloseAll()

	if cfg.Telegram.Enabled() {
		bot, err := telegram.New(cfg.Telegram.Token)
		if err != nil {
			return err
		}
		tgFlow, tgSessions := newWorkflow(bot)
		defer tgSessions.CloseAll()

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := bot.Run(ctx, tgFlow); err != nil {
				log.WithError(err).Error("telegram gateway stopped")
			}
		}()
	} else {
		log.Info("telegram gateway disabled")
	}

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           web.NewRouter(reviews, hub, db),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.WithField("addr", cfg.Server.Addr).Info("foodbot listening")
	err = runServer(ctx, srv)
	cancel()
	wg.Wait()
	return err
}

func (o *Options) apply(cfg *config.Config) {
	if o.HTTPAddr != "" {
		cfg.Server.Addr = o.HTTPAddr
	}
	if o.LogLevel != "" {
		cfg.LogLevel = o.LogLevel
	}
	if o.NoTelegram {
		cfg.Telegram.Token = ""
	}
}

// newGenerator picks the recommendation backend. It returns nil when the
// backend is not configured; the adapter then answers with its fallback.
func newGenerator(ctx context.Context, cfg config.AIConfig, system string) recommend.Generator {
	if !cfg.Enabled() {
		log.WithField("provider", cfg.Provider).Info("recommendation service not configured, using fallback text")
		return nil
	}

	switch cfg.Provider {
	case config.ProviderOpenAI:
		return ai.NewOpenAIGenerator(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey, cfg.OpenAIModel, system)
	default:
		gen, err := ai.NewArkGenerator(ctx, cfg, system)
		if err != nil {
			log.WithError(err).Warn("failed to initialize ark model, using fallback text")
			return nil
		}
		return gen
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
