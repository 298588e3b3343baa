package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/jessevdk/go-flags"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"nuclight.org/gatekeeper/app/activity"
	"nuclight.org/gatekeeper/app/admission"
	"nuclight.org/gatekeeper/app/bot"
	"nuclight.org/gatekeeper/app/captcha"
	"nuclight.org/gatekeeper/app/commands"
	"nuclight.org/gatekeeper/app/config"
	"nuclight.org/gatekeeper/app/discord"
	"nuclight.org/gatekeeper/app/metrics"
	"nuclight.org/gatekeeper/app/platform"
	"nuclight.org/gatekeeper/app/reports"
	"nuclight.org/gatekeeper/app/state"
	"nuclight.org/gatekeeper/app/storage"
	"nuclight.org/gatekeeper/app/tasks"
	"nuclight.org/gatekeeper/app/telegram"
	"nuclight.org/gatekeeper/app/trust"
	"nuclight.org/gatekeeper/app/verification"
	"nuclight.org/gatekeeper/app/verifylog"
	"nuclight.org/gatekeeper/pkg/logger"
	"nuclight.org/gatekeeper/pkg/ocr"
	"nuclight.org/gatekeeper/pkg/phash"
	"nuclight.org/gatekeeper/pkg/waiter"
)

var opts struct {
	Platform string `long:"platform" env:"PLATFORM" default:"discord" choice:"discord" choice:"telegram" description:"chat platform to connect to"`

	DiscordToken       string `long:"discord-token" env:"DISCORD_TOKEN" description:"discord bot token"`
	TelegramAPIToken   string `long:"telegram-api-token" env:"TELEGRAM_API_TOKEN" description:"telegram api token"`
	TelegramWorkersNum int    `long:"telegram-workers-num" env:"TELEGRAM_WORKERS_NUM" default:"5" description:"number of workers for telegram bot"`

	DBPath     string `long:"db-path" env:"DB_PATH" default:"./db/gatekeeper.sqlite" description:"path to the sqlite database file"`
	PolicyPath string `long:"policy-path" env:"POLICY_PATH" required:"true" description:"path to the guild policy yaml file"`

	OCRAPIKey   string  `long:"ocr-api-key" env:"OCR_API_KEY" required:"true" description:"ocr.space api key"`
	ImageKitKey string  `long:"imagekit-key" env:"IMAGEKIT_PRIVATE_KEY" required:"true" description:"imagekit private key used for photo hashes"`
	ImageKitRPS float64 `long:"imagekit-rps" env:"IMAGEKIT_RPS" default:"5" description:"photo hash requests per second"`

	FlushInterval time.Duration `long:"flush-interval" env:"FLUSH_INTERVAL" default:"5m" description:"message count flush interval"`
	ShutdownWait  time.Duration `long:"shutdown-wait" env:"SHUTDOWN_WAIT" default:"30s" description:"how long to wait for running tasks on shutdown"`

	SentryDSN   string `long:"sentry-dsn" env:"SENTRY_DSN" description:"sentry dsn, reporting is off when empty"`
	MetricsAddr string `long:"metrics-addr" env:"METRICS_ADDR" default:":9090" description:"prometheus metrics listen address, off when empty"`
	LogLevel    string `long:"log-level" env:"LOG_LEVEL" default:"info" description:"debug, info, warn or error"`
}

var Revision = "dev"

// client is what main needs from a platform adapter beyond the actions.
type client interface {
	platform.Actions
	Start(ctx context.Context) error
}

func main() {
	_, err := flags.Parse(&opts)
	if err != nil {
		os.Exit(1)
	}

	log := logger.NewLogger(opts.LogLevel)
	log.Info("starting bot", "revision", Revision, "platform", opts.Platform)

	if opts.SentryDSN != "" {
		err = sentry.Init(sentry.ClientOptions{Dsn: opts.SentryDSN, Release: Revision})
		if err != nil {
			log.Error("initializing sentry", "error", err)
			os.Exit(1)
		}
		defer sentry.Flush(2 * time.Second)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	db, err := storage.NewSQLite(ctx, opts.DBPath)
	if err != nil {
		log.Error("creating sqlite3 database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("closing sqlite3 database", "error", err)
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	st := state.New()
	loader := &config.Loader{Log: log, Path: opts.PolicyPath, Banned: db, State: st}
	if err = loader.Reload(ctx); err != nil {
		log.Error("loading guild policies", "error", err)
		os.Exit(1)
	}

	var (
		messages  = &waiter.Hub[platform.MessageCreated]{Log: log}
		reactions = &waiter.Hub[platform.ReactionAdded]{Log: log}
		buttons   = &waiter.Hub[platform.ButtonPressed]{Log: log}
		group     = &tasks.Group{Log: log, Metrics: m}
		httpc     = &http.Client{Timeout: 30 * time.Second}
	)

	tracker := &activity.Tracker{Log: log, Store: db, FlushInterval: opts.FlushInterval}
	hasher := phash.NewClient(opts.ImageKitKey, httpc, phash.Options{RPS: opts.ImageKitRPS})
	ocrClient := ocr.NewClient(opts.OCRAPIKey, httpc)

	var (
		cl   client
		stop func()
	)

	switch opts.Platform {
	case "telegram":
		tg := &telegram.Client{Log: log, APIToken: opts.TelegramAPIToken, WorkersNum: opts.TelegramWorkersNum}
		cl, stop = tg, tg.Stop
	default:
		dc := &discord.Client{Log: log, Token: opts.DiscordToken}
		cl = dc
		stop = func() {
			if err := dc.Stop(); err != nil {
				log.Error("closing discord session", "error", err)
			}
		}
	}

	journal := &verifylog.Journal{Log: log, Actions: cl}

	workflow := &reports.Workflow{
		Log:      log,
		State:    st,
		Actions:  cl,
		Store:    db,
		Detector: &reports.Detector{Log: log, OCR: ocrClient, Metrics: m},
		Locator:  reports.NewLocator(),
		Resolver: &reports.Resolver{Log: log, Members: cl, Messages: tracker},
		Picker:   &reports.Picker{Log: log, Actions: cl, Reactions: reactions},
		Messages: messages,
		Metrics:  m,
	}

	orchestrator := &verification.Orchestrator{
		Log:   log,
		State: st,
		Admission: &admission.Checker{
			Log:     log,
			Actions: cl,
			Checks:  admission.NewChecks(log, hasher, db, m),
			Metrics: m,
		},
		Scorer: &trust.Scorer{Words: trust.DefaultWordlist(), Messages: tracker},
		Captcha: &captcha.Engine{
			Log:     log,
			Actions: cl,
			Buttons: buttons,
			Journal: journal,
			Metrics: m,
		},
		Impersonation: workflow,
		Actions:       cl,
		Journal:       journal,
		Tasks:         group,
		Metrics:       m,
	}

	router := &bot.Router{
		Log:          log,
		Verification: orchestrator,
		Reports:      workflow,
		Commands: &commands.Commands{
			Log:      log,
			State:    st,
			Actions:  cl,
			Hasher:   hasher,
			Photos:   db,
			Reloader: loader,
		},
		Activity:  tracker,
		Tasks:     group,
		Messages:  messages,
		Reactions: reactions,
		Buttons:   buttons,
	}

	switch c := cl.(type) {
	case *telegram.Client:
		c.Handler = router
	case *discord.Client:
		c.Handler = router
	}

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		tracker.Run(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		reloadOnHangup(ctx, log, loader)
	}()

	metricsServer := serveMetrics(log, reg)

	if err = cl.Start(ctx); err != nil {
		log.Error("starting bot", "error", err)
		cancel()
		wg.Wait()
		os.Exit(1)
	}

	group.Go("startup-reconcile", func() {
		n, err := orchestrator.Reconcile(ctx)
		if err != nil {
			log.Warn("reconciling pending members", "error", err)
		}
		log.Info("pending members reconciled", "members", n)
	})

	<-ctx.Done()
	log.Info("stopping bot")

	stop()

	if !group.WaitTimeout(opts.ShutdownWait) {
		log.Warn("tasks still running after shutdown wait", "wait", opts.ShutdownWait)
	}

	wg.Wait()

	if metricsServer != nil {
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			log.Error("stopping metrics server", "error", err)
		}
		cancelShutdown()
	}
}

func reloadOnHangup(ctx context.Context, log logger.Logger, loader *config.Loader) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			if err := loader.Reload(ctx); err != nil {
				log.Error("reloading guild policies", "error", err)
			}
		}
	}
}

func serveMetrics(log logger.Logger, reg *prometheus.Registry) *http.Server {
	if opts.MetricsAddr == "" {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              opts.MetricsAddr,
		Handler:           mux,
		ReadHeaderTimeout: 60 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		log.Info("serving prometheus metrics", "addr", opts.MetricsAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("serving metrics", "error", err)
		}
	}()

	return srv
}
