package main

import (
	"context"
	"errors"
	"log"
	"os/signal"
	"syscall"

	"github.com/digkill/aicollect/internal/config"
	"github.com/digkill/aicollect/internal/conversation"
	"github.com/digkill/aicollect/internal/database"
	"github.com/digkill/aicollect/internal/line"
	"github.com/digkill/aicollect/internal/repository"
	"github.com/digkill/aicollect/internal/service"
	"github.com/digkill/aicollect/internal/storage"
	"github.com/digkill/aicollect/internal/stripe"
	"github.com/digkill/aicollect/internal/webhook"
	"github.com/digkill/aicollect/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logr := logger.New()

	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatalf("database connect: %v", err)
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := database.Migrate(ctx, db); err != nil {
		log.Fatalf("database migrate: %v", err)
	}

	lineClient := line.NewClient(cfg, logr)
	stripeClient := stripe.NewClient(cfg, logr)

	companyRepo := repository.NewCompanyRepository(db)
	subscriptionRepo := repository.NewSubscriptionRepository(db)
	usageRepo := repository.NewUsageRepository(db)
	stateRepo := repository.NewStateRepository(db)

	ledgerService := service.NewLedgerService(cfg, logr, usageRepo, subscriptionRepo, stripeClient)
	adminService := service.NewAdminService(cfg, logr, companyRepo, usageRepo, ledgerService, stripeClient)

	engine := conversation.NewEngine(cfg, logr, lineClient, companyRepo, stateRepo, usageRepo, ledgerService, stripeClient)
	reconciler := service.NewReconcilerService(cfg, logr, companyRepo, subscriptionRepo, stripeClient, engine)

	var archive *storage.Archive
	if cfg.ArchiveEnabled() {
		archive, err = storage.NewArchive(cfg)
		if err != nil {
			log.Fatalf("storage archive: %v", err)
		}
	}

	server := webhook.NewServer(cfg, logr, engine, reconciler, adminService, archive)
	if err := server.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logr.Error("server stopped", "err", err)
	}
}
