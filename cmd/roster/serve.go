package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/calebford/roster/internal/activity"
	"github.com/calebford/roster/internal/api"
	"github.com/calebford/roster/internal/auth"
	"github.com/calebford/roster/internal/billing"
	"github.com/calebford/roster/internal/config"
	"github.com/calebford/roster/internal/crypto"
	"github.com/calebford/roster/internal/customer"
	"github.com/calebford/roster/internal/metrics"
	"github.com/calebford/roster/internal/ratelimit"
	"github.com/calebford/roster/internal/team"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the Roster API server",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	// .env is optional and only used in development.
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.Database.URL)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		return err
	}
	slog.Info("connected to database")

	cipher, err := crypto.NewCipher(cfg.Auth.TokenKey)
	if err != nil {
		return err
	}
	if cipher == nil {
		slog.Warn("token encryption disabled, set ROSTER_TOKEN_KEY in production")
	}

	customerStore := customer.NewStore(pool, cipher, cfg.Auth.SessionTTL, cfg.Auth.OTPTTL)
	teamStore := team.NewStore(pool)
	billingStore := billing.NewStore(pool)

	var provider billing.Provider
	if cfg.Billing.SecretKey != "" {
		provider = billing.NewClient(cfg.Billing.APIBase, cfg.Billing.SecretKey, cfg.Billing.Timeout, logger)
	} else {
		slog.Warn("billing provider disabled, seat counts will not be pushed")
	}
	reconciler := billing.NewReconciler(billingStore, provider, logger)

	teamService := team.NewService(teamStore, reconciler)

	activityStore := activity.NewStore(pool)
	recorder := activity.NewRecorder(activityStore, cfg.Activity.BatchSize, cfg.Activity.FlushInterval)
	go recorder.Start(ctx)

	m := metrics.New()
	m.RegisterDBPoolCollector(func() (total, idle, acquired int32) {
		stat := pool.Stat()
		return stat.TotalConns(), stat.IdleConns(), stat.AcquiredConns()
	})

	router := api.NewRouter(api.RouterDeps{
		Customers:      customerStore,
		Teams:          teamStore,
		TeamService:    teamService,
		Billing:        billingStore,
		Reconciler:     reconciler,
		Activity:       activityStore,
		Recorder:       recorder,
		CodeSender:     &auth.LogSender{Logger: logger},
		OAuth:          auth.NewOAuth(cfg.OAuth),
		Metrics:        m,
		OTPLimiter:     ratelimit.New(cfg.RateLimit.OTPPerWindow, cfg.RateLimit.Window),
		InviteLimiter:  ratelimit.New(cfg.RateLimit.InvitePerWindow, cfg.RateLimit.Window),
		WebhookSecret:  cfg.Billing.WebhookSecret,
		SessionTTL:     cfg.Auth.SessionTTL,
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		DBPing:         pool.Ping,
	})

	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("server starting", "addr", cfg.Addr())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-sigCh
	slog.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	recorder.Stop()

	return srv.Shutdown(shutdownCtx)
}
