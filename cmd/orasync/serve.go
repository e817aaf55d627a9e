package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/ora-app/orasync/internal/config"
	"github.com/ora-app/orasync/internal/friends"
	"github.com/ora-app/orasync/internal/gcal"
	"github.com/ora-app/orasync/internal/oauthstate"
	"github.com/ora-app/orasync/internal/syncer"
	"github.com/ora-app/orasync/internal/token"
	"github.com/ora-app/orasync/internal/webapp"
)

// serve hosts the OAuth consent callback and runs scheduled availability
// sweeps until interrupted.
func serve(cfg *config.Config) {
	if cfg.StateSecret == "" {
		log.Fatalf("Error: state_secret must be configured for serve mode")
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Error building logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	db := openStore(cfg)
	defer db.Close()

	exchanger := token.NewExchanger(cfg.ClientID, cfg.ClientSecret)
	factory := func(ctx context.Context, accessToken string) (syncer.FreeBusyProvider, error) {
		return gcal.NewWithToken(ctx, accessToken)
	}
	sync := syncer.New(db, db, db, exchanger, factory, cfg.Sync, logger)
	sched := syncer.NewScheduler(sync, logger)

	flows := friends.NewFlowRegistry()
	friendSvc := friends.New(db, db, nil, logger)
	signer := oauthstate.NewSigner([]byte(cfg.StateSecret), cfg.Sync.StateTTL())
	acl := func(ctx context.Context, accessToken string) (webapp.ACLGranter, error) {
		return gcal.NewWithToken(ctx, accessToken)
	}

	server := webapp.NewServer(cfg, db, db, friendSvc, flows, signer, exchanger, acl, sched, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := server.Run(ctx); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
}
