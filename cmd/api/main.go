package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/punchamoorthee/chatpay/internal/api"
	"github.com/punchamoorthee/chatpay/internal/config"
	"github.com/punchamoorthee/chatpay/internal/dialogue"
	"github.com/punchamoorthee/chatpay/internal/domain"
	"github.com/punchamoorthee/chatpay/internal/gateway"
	"github.com/punchamoorthee/chatpay/internal/groups"
	"github.com/punchamoorthee/chatpay/internal/ledger"
	"github.com/punchamoorthee/chatpay/internal/logging"
	"github.com/punchamoorthee/chatpay/internal/metrics"
	"github.com/punchamoorthee/chatpay/internal/service"
	"github.com/punchamoorthee/chatpay/internal/session"
	"github.com/punchamoorthee/chatpay/internal/store"
)

// backend is the durable side: ledger rows plus saved contacts.
type backend interface {
	ledger.Store
	service.ContactBook
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	log, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Fatal("server stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	clock := domain.SystemClock{}

	// Initialize Layers
	db, closeDB, err := openBackend(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeDB()

	sessions, err := openSessions(ctx, cfg, clock, log)
	if err != nil {
		return err
	}

	led := ledger.New(db, clock, log)
	grp := groups.NewCoordinator(cfg.GroupRetention, clock, log)
	history := session.NewScratch[[]gateway.Turn](cfg.DialogueTTL, clock)
	codes := session.NewScratch[service.PaymentCode](cfg.PaymentCodeTTL, clock)

	messenger := gateway.NewMessenger(gateway.Options{
		BaseURL: cfg.MessagingBaseURL, Token: cfg.MessagingToken, Timeout: cfg.ExternalTimeout, Logger: log,
	})
	settlement := gateway.NewSettlement(gateway.Options{
		BaseURL: cfg.SettlementBaseURL, Token: cfg.SettlementToken, Timeout: cfg.ExternalTimeout, Logger: log,
	})
	nlu := gateway.NewNLU(gateway.Options{
		BaseURL: cfg.NLUBaseURL, Token: cfg.NLUAPIKey, Timeout: cfg.ExternalTimeout, Logger: log,
	}, cfg.NLUModel)

	reconciler := service.NewReconciler(led, grp, service.NewNotifier(messenger, log), log)
	transfers := service.NewTransferService(led, grp, settlement, reconciler, service.TransferConfig{
		Ceiling:       cfg.TransferCeiling,
		Minimum:       cfg.TransferMinimum,
		CallbackURL:   cfg.CallbackURL,
		SubmitTimeout: cfg.ExternalTimeout,
	}, log)
	conversation := service.NewConversation(service.ConversationDeps{
		Engine:      dialogue.NewEngine(sessions, dialogue.LocaleFor(cfg.Locale), log),
		Sessions:    sessions,
		NLU:         nlu,
		Messenger:   messenger,
		Settlement:  settlement,
		Transfers:   transfers,
		Ledger:      led,
		Contacts:    db,
		History:     history,
		Codes:       codes,
		CallbackURL: cfg.CallbackURL,
		Logger:      log,
	})

	// Background upkeep
	janitor := session.NewJanitor(cfg.SweepInterval, clock, log)
	janitor.Register("pending", sessions)
	janitor.Register("history", history)
	janitor.Register("payment_codes", codes)
	janitor.Register("groups", grp)
	go janitor.Run(ctx)
	go led.RunPurge(ctx, time.Hour, cfg.TxRetention)

	// Router
	// Webhook jobs may make several external calls in a row.
	dispatcher := api.NewDispatcher(cfg.DispatchConcurrency, 4*cfg.ExternalTimeout, log)
	handler := api.NewHandler(api.Deps{
		Ledger:        led,
		Groups:        grp,
		Reconciler:    reconciler,
		Conversation:  conversation,
		Dispatcher:    dispatcher,
		WebhookSecret: cfg.WebhookSecret,
		Logger:        log,
	})
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           api.NewRouter(handler),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.Info("server starting", zap.String("port", cfg.Port), zap.String("locale", cfg.Locale))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", zap.Error(err))
	}
	dispatcher.Wait()
	return nil
}

func openBackend(ctx context.Context, cfg *config.Config, log *zap.Logger) (backend, func(), error) {
	if cfg.DBSource == "" {
		log.Warn("DB_SOURCE not set, using the in-memory ledger")
		return store.NewMemoryStore(), func() {}, nil
	}
	db, err := store.NewStore(ctx, cfg.DBSource)
	if err != nil {
		return nil, nil, err
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, nil, err
	}
	return db, db.Close, nil
}

// sessionStore is a session.Store the janitor can sweep.
type sessionStore interface {
	session.Store
	session.Sweeper
}

func openSessions(ctx context.Context, cfg *config.Config, clock domain.Clock, log *zap.Logger) (sessionStore, error) {
	policy := session.DefaultPolicy(cfg.ConfirmationTTL)
	if cfg.RedisAddr == "" {
		return session.NewMemoryStore(policy, clock, func(id domain.Identity, e session.Entry) {
			metrics.SessionEvictions.WithLabelValues(string(e.Kind)).Inc()
			log.Debug("pending action expired", zap.String("identity", string(id)), zap.String("kind", string(e.Kind)))
		}), nil
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return session.NewRedisStore(client, policy, clock), nil
}
