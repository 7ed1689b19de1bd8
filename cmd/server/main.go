package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/karoocap/foliotrack/internal/config"
	httpapi "github.com/karoocap/foliotrack/internal/http"
	"github.com/karoocap/foliotrack/internal/ledger"
	"github.com/karoocap/foliotrack/internal/logger"
	"github.com/karoocap/foliotrack/internal/pricing"
	"github.com/karoocap/foliotrack/internal/repository"
	"github.com/karoocap/foliotrack/internal/repository/memory"
	"github.com/karoocap/foliotrack/internal/repository/postgres"
	"github.com/karoocap/foliotrack/internal/service"
)

func main() {
	cfg := config.Load()
	log := logger.New(cfg.Environment)
	priceSvc := pricing.NewRandomService(cfg.PriceTTL)

	var store repository.Store
	if cfg.UseInMemoryStore {
		log.Warn("DATABASE_URL not set, using in-memory store. Data will reset on restart.")
		store = memory.New()
	} else {
		db, err := sql.Open("postgres", cfg.DBURL)
		if err != nil {
			log.WithError(err).Fatal("failed to connect to postgres")
		}
		if err := db.Ping(); err != nil {
			log.WithError(err).Fatal("postgres ping failed")
		}
		store = postgres.New(db)
		defer db.Close()
		log.Info("connected to postgres")
	}

	opts := ledger.Options{TransferInBasis: ledger.TransferBasisCarried}
	if cfg.TransferInBasis == "market" {
		opts.TransferInBasis = ledger.TransferBasisMarket
	}

	svc := service.NewPortfolioService(store, priceSvc, log, opts, cfg.BaseCurrency)
	router := httpapi.Router(svc, log)

	if cfg.SchedulerInterval > 0 {
		go runScheduler(svc, log, cfg.SchedulerInterval)
	}

	addr := fmt.Sprintf(":%s", cfg.Port)
	log.Infof("foliotrack ledger service listening on %s", addr)
	if err := router.Run(addr); err != nil {
		log.WithError(err).Error("server stopped")
		os.Exit(1)
	}
}

// runScheduler periodically processes due recurring rules for every known
// portfolio. Firing cadence is best-effort: a missed tick is caught up on
// the next one because rule advancement is anchored to scheduled dates.
func runScheduler(svc *service.PortfolioService, log *logrus.Logger, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for range ticker.C {
		ctx := context.Background()
		portfolios, err := svc.Portfolios(ctx)
		if err != nil {
			log.Errorf("scheduler pass: list portfolios: %v", err)
			continue
		}
		asOf := time.Now().UTC()
		for _, id := range portfolios {
			if _, err := svc.ProcessDueRules(ctx, id, asOf); err != nil {
				log.Errorf("scheduler pass: portfolio %s: %v", id, err)
			}
		}
	}
}
