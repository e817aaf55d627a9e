// Command orasync manages ORA calendar availability: account connection,
// availability syncs, friend calendar sharing and the consent-callback
// server.
package main

import (
	"fmt"
	"log"
	"os"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"

	"github.com/ora-app/orasync/internal/config"
	"github.com/ora-app/orasync/internal/store"
)

var verbosityLevel int

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: orasync (connect|disconnect|sync|sweep|event|serve|friends|status)")
		os.Exit(1)
	}

	cfg, err := config.Read(".orasync.toml")
	if err != nil {
		cfg, err = config.Read(os.Getenv("HOME") + "/" + ".orasync.toml")
		if err != nil {
			log.Fatalf("Error reading config file: %v", err)
		}
	}
	verbosityLevel = cfg.VerbosityLevel

	command := os.Args[1]
	args := os.Args[2:]
	switch command {
	case "connect":
		connectAccount(cfg, args)
	case "disconnect":
		disconnectAccount(cfg, args)
	case "sync":
		syncAccount(cfg, args)
	case "sweep":
		sweepAccounts(cfg)
	case "event":
		createEvent(cfg, args)
	case "serve":
		serve(cfg)
	case "friends":
		friendsCommand(cfg, args)
	case "status":
		showStatus(cfg, args)
	default:
		fmt.Printf("Unknown command: %s\n", command)
		os.Exit(1)
	}
}

func openStore(cfg *config.Config) *store.DB {
	db, err := store.Open(cfg.DBPath)
	if err != nil {
		log.Fatalf("Error opening database: %v", err)
	}
	return db
}

func oauthConfig(cfg *config.Config) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint:     google.Endpoint,
		RedirectURL:  cfg.RedirectURL,
		Scopes:       []string{calendar.CalendarScope},
	}
}

func printVerbosely(verbosity int, format string, a ...interface{}) {
	// Print only if verbosity is at or above the configured level.
	// 0 - critical output only
	// 1 - per-account progress
	// 2 - per-day and per-request detail
	if verbosity <= verbosityLevel {
		fmt.Printf(format, a...)
	}
}
