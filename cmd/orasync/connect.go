package main

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/ora-app/orasync/internal/config"
	"github.com/ora-app/orasync/internal/errs"
	"github.com/ora-app/orasync/internal/model"
	"github.com/ora-app/orasync/internal/token"
)

// promptForCode prints the consent URL and reads the authorization code back,
// the interactive half of the token lifecycle.
func promptForCode(authURL string) (string, error) {
	fmt.Printf("Go to the following link in your browser then type the "+
		"authorization code: \n%v\n", authURL)
	var authCode string
	if _, err := fmt.Scan(&authCode); err != nil {
		return "", err
	}
	return authCode, nil
}

func connectAccount(cfg *config.Config, args []string) {
	silent := false
	var rest []string
	for _, a := range args {
		if a == "--silent" {
			silent = true
			continue
		}
		rest = append(rest, a)
	}
	if len(rest) < 1 {
		log.Fatalf("Usage: orasync connect [--silent] <uid> [email]")
	}
	uid := rest[0]

	db := openStore(cfg)
	defer db.Close()
	ctx := context.Background()

	if _, err := db.Get(ctx, uid); err != nil {
		if len(rest) < 2 {
			log.Fatalf("Unknown account %s: pass an email to create it", uid)
		}
		if err := db.Upsert(ctx, &model.User{UID: uid, Email: rest[1]}); err != nil {
			log.Fatalf("Error creating account: %v", err)
		}
		printVerbosely(1, "👤 Created account %s (%s)\n", uid, rest[1])
	}

	margin := cfg.Sync.TokenExpiryMargin()
	manager := token.NewManager(oauthConfig(cfg), db, db, uid, margin, promptForCode)

	mode := token.Interactive
	if silent {
		mode = token.Silent
	}
	fmt.Printf("🚀 Connecting calendar for account %s...\n", uid)
	tok, err := manager.Acquire(ctx, mode)
	if err != nil {
		log.Fatalf("Error acquiring token: %v", err)
	}
	if tok == nil {
		fmt.Println("  ❗️ Silent reconnection declined by the provider. Run connect without --silent.")
		return
	}

	if err := db.SetConsent(ctx, uid, model.ConsentGranted, true); err != nil {
		log.Fatalf("Error recording consent: %v", err)
	}
	fmt.Printf("✅ Calendar connected for account %s (token valid until %s)\n",
		uid, tok.ExpiresAt.Format("15:04:05"))
}

func disconnectAccount(cfg *config.Config, args []string) {
	if len(args) < 1 {
		log.Fatalf("Usage: orasync disconnect <uid>")
	}
	uid := args[0]

	db := openStore(cfg)
	defer db.Close()
	ctx := context.Background()

	manager := token.NewManager(oauthConfig(cfg), db, db, uid, cfg.Sync.TokenExpiryMargin(), nil)
	if err := manager.Disconnect(ctx); err != nil {
		log.Fatalf("Error disconnecting: %v", err)
	}
	if err := db.SetConsent(ctx, uid, model.ConsentNone, false); err != nil && !errors.Is(err, errs.ErrNotFound) {
		log.Fatalf("Error clearing consent: %v", err)
	}
	fmt.Printf("✅ Calendar disconnected for account %s\n", uid)
}
