package main

import (
	"context"
	"log"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/ledgerline/bankcore/internal/api"
	"github.com/ledgerline/bankcore/internal/config"
	"github.com/ledgerline/bankcore/internal/domain"
	"github.com/ledgerline/bankcore/internal/notify"
	"github.com/ledgerline/bankcore/internal/service"
	"github.com/ledgerline/bankcore/internal/store"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	logger, err := buildLogger(cfg.Env)
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	ctx := context.Background()

	var st store.Store
	if cfg.DBSource != "" {
		pg, err := store.NewPostgres(ctx, cfg.DBSource)
		if err != nil {
			logger.Fatal("unable to connect to database", zap.Error(err))
		}
		if err := pg.EnsureSchema(ctx); err != nil {
			logger.Fatal("schema setup failed", zap.Error(err))
		}
		st = pg
	} else {
		logger.Warn("DB_SOURCE not set, using in-memory store (state is lost on restart)")
		st = store.NewMemory()
	}
	defer st.Close()

	var notifier notify.Notifier
	if cfg.SMTPHost != "" {
		notifier = notify.NewSMTP(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPass, cfg.SMTPFrom)
	} else {
		logger.Warn("SMTP_HOST not set, verification codes go to the log")
		notifier = notify.NewLog(logger)
	}

	tokens := service.NewTokenManager(cfg.JWTSecret)
	auth := service.NewAuthService(st, tokens, notifier, domain.CentsFromDecimal(cfg.InitialDeposit), logger)
	ledger := service.NewLedgerService(st, logger)
	handler := api.NewHandler(auth, ledger, tokens, logger)

	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})
	handler.Routes(r)

	logger.Info("server starting", zap.String("port", cfg.Port), zap.String("env", cfg.Env))
	if err := http.ListenAndServe(":"+cfg.Port, r); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}

func buildLogger(env string) (*zap.Logger, error) {
	if env == "production" {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}
