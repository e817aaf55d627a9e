package main

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/ora-app/orasync/internal/config"
	"github.com/ora-app/orasync/internal/errs"
	"github.com/ora-app/orasync/internal/model"
)

func requireArgs(args []string, n int, usage string) {
	if len(args) < n {
		log.Fatalf("Usage: %s", usage)
	}
}

func consentLabel(status model.ConsentStatus) string {
	if status == model.ConsentNone {
		return "none"
	}
	return string(status)
}

func showStatus(cfg *config.Config, args []string) {
	requireArgs(args, 1, "orasync status <uid> [day]")
	uid := args[0]

	db := openStore(cfg)
	defer db.Close()
	ctx := context.Background()

	u, err := db.Get(ctx, uid)
	if err != nil {
		log.Fatalf("Error loading account: %v", err)
	}

	fmt.Printf("👤 %s (%s)\n", u.UID, u.Email)
	fmt.Printf("  Consent: %s, sync enabled: %v, connected: %v\n",
		consentLabel(u.CalendarConsentStatus), u.CalendarSyncEnabled, u.Connected)
	if u.LastCalendarSyncAt.IsZero() {
		fmt.Println("  Last sync: never")
	} else {
		fmt.Printf("  Last sync: %s\n", u.LastCalendarSyncAt.Format("2006-01-02 15:04:05"))
	}

	if len(args) < 2 {
		return
	}
	day := args[1]
	doc, err := db.Day(ctx, uid, uid, day)
	if errors.Is(err, errs.ErrNotFound) {
		fmt.Printf("  No availability stored for %s\n", day)
		return
	}
	if err != nil {
		log.Fatalf("Error loading availability: %v", err)
	}

	busy := 0
	for _, s := range doc.Slots {
		if s.State == model.SlotBusy {
			busy++
			printVerbosely(2, "    ⏰ busy %s–%s\n",
				s.Start.Format("15:04"), s.End.Format("15:04"))
		}
	}
	fmt.Printf("  📅 %s: %d/%d slots busy (updated %s)\n",
		day, busy, len(doc.Slots), doc.UpdatedAt.Format("15:04:05"))
}
