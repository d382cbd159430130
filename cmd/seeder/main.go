package main

import (
	"context"
	"flag"
	"fmt"

	"go.uber.org/zap"

	"github.com/punchamoorthee/chatpay/internal/config"
	"github.com/punchamoorthee/chatpay/internal/domain"
	"github.com/punchamoorthee/chatpay/internal/logging"
	"github.com/punchamoorthee/chatpay/internal/store"
)

var (
	total          int
	initialBalance int64
	firstPhone     int64
)

func init() {
	flag.IntVar(&total, "identities", 1000, "Number of identities to seed")
	flag.Int64Var(&initialBalance, "balance", 100_000, "Starting balance in centavos")
	flag.Int64Var(&firstPhone, "first-phone", 5511900000000, "Phone number of the first identity")
}

func main() {
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	log, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	if cfg.DBSource == "" {
		log.Fatal("DB_SOURCE is required for seeding")
	}

	ctx := context.Background()
	db, err := store.NewStore(ctx, cfg.DBSource)
	if err != nil {
		log.Fatal("unable to connect to database", zap.Error(err))
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		log.Fatal("migration failed", zap.Error(err))
	}

	log.Info("seeding identities", zap.Int("identities", total), zap.Int64("balance", initialBalance))
	balances := make(map[domain.Identity]int64, total)
	for i := 0; i < total; i++ {
		balances[domain.Identity(fmt.Sprintf("%d", firstPhone+int64(i)))] = initialBalance
	}

	n, err := db.SeedIdentities(ctx, balances)
	if err != nil {
		log.Fatal("seeding failed", zap.Error(err))
	}
	log.Info("seeding done", zap.Int64("inserted", n), zap.Int("skipped", total-int(n)))
}
