// Command wellnessd serves the Wellness ID enrollment and login API.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/driver/postgres"
	gormdb "gorm.io/gorm"

	wid "github.com/purelife/wellnessid"
	oagw "github.com/purelife/wellnessid/oauth2"
	"github.com/purelife/wellnessid/stores"
	gormstores "github.com/purelife/wellnessid/stores/gorm"
	"github.com/purelife/wellnessid/verify"
)

type config struct {
	Addr        string `env:"WELLNESSD_ADDR" envDefault:":8080"`
	MetricsAddr string `env:"WELLNESSD_METRICS_ADDR" envDefault:":9090"`

	// DatabaseURL selects the postgres backend. When empty the server falls
	// back to the filesystem store at StoragePath, which is only meant for
	// local development.
	DatabaseURL string `env:"WELLNESSD_DATABASE_URL"`
	StoragePath string `env:"WELLNESSD_STORAGE_PATH" envDefault:"./data"`

	JWTSecretKey string `env:"WELLNESSID_JWT_SECRET_KEY"`

	ShutdownTimeout time.Duration `env:"WELLNESSD_SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, nil)))

	var cfg config
	if err := env.Parse(&cfg); err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	accounts, linkTokens, err := buildStores(&cfg)
	if err != nil {
		slog.Error("store initialization failed", "err", err)
		os.Exit(1)
	}

	codec := &wid.TokenCodec{SecretKey: cfg.JWTSecretKey}
	enrollment := &wid.Enrollment{
		Accounts: accounts,
		Providers: map[wid.Provider]oagw.Gateway{
			wid.ProviderKakao: oagw.NewKakao("", "", ""),
			wid.ProviderNaver: oagw.NewNaver("", "", ""),
		},
		Verifier:   verify.NewHTTPGateway("", "", ""),
		LinkTokens: linkTokens,
		Login: &wid.Login{
			Accounts: accounts,
			Limiter:  wid.NewLoginLimiter(),
		},
	}

	service := &wid.Service{
		Enrollment: enrollment,
		Codec:      codec,
		Metrics:    wid.NewMetrics(nil),
	}

	server := &http.Server{
		Addr:         cfg.Addr,
		Handler:      service.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	metricsRouter := mux.NewRouter()
	metricsRouter.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{Addr: cfg.MetricsAddr, Handler: metricsRouter}

	go func() {
		slog.Info("metrics listening", "addr", cfg.MetricsAddr)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server failed", "err", err)
		}
	}()

	go func() {
		slog.Info("wellnessd listening", "addr", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server failed", "err", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	slog.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		slog.Warn("shutdown incomplete", "err", err)
	}
	metricsServer.Shutdown(ctx)
}

func buildStores(cfg *config) (wid.AccountStore, wid.LinkTokenStore, error) {
	if cfg.DatabaseURL == "" {
		slog.Warn("no database configured, using filesystem store", "path", cfg.StoragePath)
		return stores.NewFSAccountStore(cfg.StoragePath), stores.NewFSLinkTokenStore(cfg.StoragePath), nil
	}

	db, err := gormdb.Open(postgres.Open(cfg.DatabaseURL), &gormdb.Config{
		TranslateError: true,
	})
	if err != nil {
		return nil, nil, err
	}
	if err := gormstores.AutoMigrate(db); err != nil {
		return nil, nil, err
	}
	return gormstores.NewAccountStore(db), gormstores.NewLinkTokenStore(db), nil
}
