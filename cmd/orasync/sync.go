package main

import (
	"context"
	"fmt"
	"log"

	"github.com/ora-app/orasync/internal/config"
	"github.com/ora-app/orasync/internal/gcal"
	"github.com/ora-app/orasync/internal/store"
	"github.com/ora-app/orasync/internal/syncer"
	"github.com/ora-app/orasync/internal/token"
)

func newSyncer(cfg *config.Config, db *store.DB) *syncer.Syncer {
	exchanger := token.NewExchanger(cfg.ClientID, cfg.ClientSecret)
	factory := func(ctx context.Context, accessToken string) (syncer.FreeBusyProvider, error) {
		return gcal.NewWithToken(ctx, accessToken)
	}
	return syncer.New(db, db, db, exchanger, factory, cfg.Sync, nil)
}

func syncAccount(cfg *config.Config, args []string) {
	force := false
	var rest []string
	for _, a := range args {
		if a == "--force" {
			force = true
			continue
		}
		rest = append(rest, a)
	}
	if len(rest) < 1 {
		log.Fatalf("Usage: orasync sync [--force] <uid>")
	}
	uid := rest[0]

	db := openStore(cfg)
	defer db.Close()

	fmt.Printf("🚀 Syncing availability for account %s...\n", uid)
	outcome, err := newSyncer(cfg, db).SyncUser(context.Background(), uid, force)
	if err != nil {
		log.Fatalf("Error syncing account: %v", err)
	}
	switch outcome {
	case syncer.OutcomeSynced:
		fmt.Printf("✅ Availability published for the next %d days\n", cfg.Sync.HorizonDays)
	case syncer.OutcomeSkipped:
		fmt.Println("  ⚠️ Recent sync found, skipping (use --force to override)")
	case syncer.OutcomeRevoked:
		fmt.Println("  ❗️ Calendar grant was revoked. Run orasync connect to reconnect.")
	}
}

func sweepAccounts(cfg *config.Config) {
	db := openStore(cfg)
	defer db.Close()

	fmt.Println("🚀 Starting availability sweep...")
	summary := newSyncer(cfg, db).Sweep(context.Background())

	printVerbosely(1, "  📅 Synced: %d\n", summary.Synced)
	for _, uid := range summary.Revoked {
		fmt.Printf("  ❗️ Grant revoked for account %s, sync disabled\n", uid)
	}
	for _, f := range summary.Failed {
		fmt.Printf("  ❌ Account %s failed: %v\n", f.UID, f.Err)
	}
	fmt.Printf("✅ Sweep finished: %d synced, %d revoked, %d failed\n",
		summary.Synced, len(summary.Revoked), len(summary.Failed))
}
