package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Kerhoff/wishsync/internal/api"
	"github.com/Kerhoff/wishsync/internal/auth"
	"github.com/Kerhoff/wishsync/internal/collab"
	"github.com/Kerhoff/wishsync/internal/config"
	"github.com/Kerhoff/wishsync/internal/discovery"
	"github.com/Kerhoff/wishsync/internal/localstore"
	"github.com/Kerhoff/wishsync/internal/metrics"
	"github.com/Kerhoff/wishsync/internal/notify"
	"github.com/Kerhoff/wishsync/internal/repository"
	"github.com/Kerhoff/wishsync/internal/repository/memory"
	"github.com/Kerhoff/wishsync/internal/repository/postgres"
	"github.com/Kerhoff/wishsync/internal/service"
	"github.com/Kerhoff/wishsync/internal/session"
	"github.com/Kerhoff/wishsync/internal/telegram"
)

const shutdownTimeout = 10 * time.Second

var (
	serveInMemory bool
	servePolicy   string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the sync agent and its HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, l, err := setup()
		if err != nil {
			return err
		}
		if servePolicy != "" {
			cfg.LoginPolicy = servePolicy
		}
		return serve(cmd.Context(), cfg, l)
	},
}

func init() {
	serveCmd.Flags().BoolVar(&serveInMemory, "in-memory", false, "keep the remote store in memory instead of PostgreSQL")
	serveCmd.Flags().StringVar(&servePolicy, "policy", "", "login policy, strict or optimistic (overrides LOGIN_POLICY)")
	rootCmd.AddCommand(serveCmd)
}

type remoteRepos struct {
	accounts repository.AccountRepository
	profiles repository.ProfileRepository
	lists    repository.ListRepository
	wishes   repository.WishRepository
	close    func() error
}

func openRemote(cfg *config.Config, l *logrus.Logger) (*remoteRepos, error) {
	if serveInMemory {
		l.Warn("Using the in-memory remote store, data is lost on exit")
		mem := memory.New()
		return &remoteRepos{
			accounts: mem.Accounts(),
			profiles: mem.Profiles(),
			lists:    mem.Lists(),
			wishes:   mem.Wishes(),
			close:    func() error { return nil },
		}, nil
	}

	db, err := config.NewDatabase(cfg.DatabaseURL, l)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(cfg.MigrationsPath); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &remoteRepos{
		accounts: postgres.NewAccountRepository(db.DB),
		profiles: postgres.NewProfileRepository(db.DB),
		lists:    postgres.NewListRepository(db.DB),
		wishes:   postgres.NewWishRepository(db.DB),
		close:    db.Close,
	}, nil
}

// openTransport picks NATS, then the websocket relay, then an in-process hub
func openTransport(cfg *config.Config, l *logrus.Logger) (collab.Transport, func(), error) {
	switch {
	case cfg.NATSURL != "":
		t, err := collab.ConnectNATS(cfg.NATSURL)
		if err != nil {
			return nil, nil, err
		}
		l.WithField("url", cfg.NATSURL).Info("Collaboration over NATS")
		return t, func() { _ = t.Close() }, nil
	case cfg.CollabURL != "":
		l.WithField("url", cfg.CollabURL).Info("Collaboration over websocket relay")
		return &collab.WebsocketTransport{URL: cfg.CollabURL}, func() {}, nil
	default:
		l.Info("Collaboration limited to this process")
		return collab.NewMemoryHub(), func() {}, nil
	}
}

func serve(ctx context.Context, cfg *config.Config, l *logrus.Logger) error {
	if serveInMemory {
		if cfg.JWTSecret == "" {
			return fmt.Errorf("JWT_SECRET environment variable is required")
		}
	} else if err := cfg.ValidateServe(); err != nil {
		return err
	}
	policy, err := session.ParseLoginPolicy(cfg.LoginPolicy)
	if err != nil {
		return err
	}

	l.Info("Starting wishsync...")

	remote, err := openRemote(cfg, l)
	if err != nil {
		return err
	}
	defer remote.close()

	opts := auth.DefaultOptions([]byte(cfg.JWTSecret))
	opts.SessionTTL = cfg.SessionTTL
	provider, err := auth.NewService(remote.accounts, opts, l)
	if err != nil {
		return err
	}

	durable, err := localstore.Open(cfg.DurablePath())
	if err != nil {
		return err
	}
	defer durable.Close()
	sessionStore, err := localstore.OpenSession()
	if err != nil {
		return err
	}
	defer sessionStore.Close()

	transport, closeTransport, err := openTransport(cfg, l)
	if err != nil {
		return err
	}
	defer closeTransport()

	var scraper *discovery.Scraper
	if cfg.ScraperAPIKey != "" {
		scraper = discovery.NewScraper(cfg.ScraperAPIURL, cfg.ScraperAPIKey, l)
	}

	var sinks []notify.Sink
	if cfg.TelegramEnabled() {
		bot, err := telegram.NewBot(cfg.TelegramToken, cfg.TelegramChatID, l)
		if err != nil {
			return err
		}
		sinks = append(sinks, bot)
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, err := service.New(ctx, service.Deps{
		Provider:     provider,
		Profiles:     remote.profiles,
		Lists:        remote.lists,
		Wishes:       remote.wishes,
		Durable:      durable,
		SessionStore: sessionStore,
		Transport:    transport,
		Policy:       policy,
		Catalog:      discovery.NewCatalog(discovery.DefaultDelay),
		Scraper:      scraper,
		PushSinks:    sinks,
	}, l)
	if err != nil {
		return err
	}
	defer svc.Close()

	snap, err := svc.Restore(ctx)
	if err != nil {
		l.WithError(err).Warn("Failed to restore session")
	}
	l.WithField("state", snap.State).Info("Session restored")

	go svc.StartNotifier(ctx)

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           api.NewServer(svc, l).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	metricsServer := &http.Server{
		Addr:              ":" + cfg.PrometheusPort,
		Handler:           metrics.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	for _, srv := range []*http.Server{httpServer, metricsServer} {
		go func(srv *http.Server) {
			l.Infof("HTTP server listening on %s", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				l.Errorf("HTTP server error: %v", err)
				stop()
			}
		}(srv)
	}

	l.Info("wishsync started successfully")

	<-ctx.Done()

	l.Info("Shutting down HTTP servers...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	for _, srv := range []*http.Server{httpServer, metricsServer} {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			l.WithError(err).Warn("HTTP server shutdown failed")
		}
	}

	l.Info("wishsync stopped")
	return nil
}
