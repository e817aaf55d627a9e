package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/ora-app/orasync/internal/config"
	"github.com/ora-app/orasync/internal/errs"
	"github.com/ora-app/orasync/internal/gcal"
	"github.com/ora-app/orasync/internal/model"
	"github.com/ora-app/orasync/internal/schedule"
	"github.com/ora-app/orasync/internal/token"
)

// createEvent inserts an event on the account's calendar, checking for
// conflicts first. --force creates anyway and just warns.
func createEvent(cfg *config.Config, args []string) {
	force := false
	allDay := false
	var rest []string
	for _, a := range args {
		switch a {
		case "--force":
			force = true
		case "--all-day":
			allDay = true
		default:
			rest = append(rest, a)
		}
	}
	if len(rest) < 3 {
		log.Fatalf("Usage: orasync event [--force] [--all-day] <uid> <summary> <start> [end]")
	}
	uid, summary := rest[0], rest[1]

	draft := model.EventDraft{Summary: summary, AllDay: allDay}
	draft.Start = parseEventTime(rest[2], allDay)
	if len(rest) > 3 {
		draft.End = parseEventTime(rest[3], allDay)
	}

	db := openStore(cfg)
	defer db.Close()
	ctx := context.Background()

	manager := token.NewManager(oauthConfig(cfg), db, db, uid, cfg.Sync.TokenExpiryMargin(), nil)
	tok, err := manager.Current(ctx)
	if err != nil {
		log.Fatalf("Error loading session: %v", err)
	}
	if !manager.Valid(tok) {
		tok, err = manager.Acquire(ctx, token.Silent)
		if err != nil {
			log.Fatalf("Error reacquiring token: %v", err)
		}
		if tok == nil {
			log.Fatalf("No usable session for %s: run orasync connect first", uid)
		}
	}

	client, err := gcal.NewWithToken(ctx, tok.AccessToken)
	if err != nil {
		log.Fatalf("Error building calendar client: %v", err)
	}
	checker := schedule.NewChecker(client, cfg.Sync)

	fmt.Printf("🚀 Creating event %q for account %s...\n", summary, uid)
	created, err := createWithSession(ctx, manager, checker, draft, force)
	var conflict *schedule.ConflictError
	switch {
	case errors.As(err, &conflict):
		fmt.Printf("  ❗️ Conflicts with %d existing event(s):\n", len(conflict.Conflicts))
		for _, ev := range conflict.Conflicts {
			fmt.Printf("    ⏰ %s (%s–%s)\n", ev.Summary,
				ev.Start.Format("15:04"), ev.End.Format("15:04"))
		}
		fmt.Println("  Re-run with --force to create anyway.")
		return
	case errors.Is(err, errs.ErrSessionExpired):
		log.Fatalf("Session rejected by the provider and cleared. Run orasync connect %s to reauthorize.", uid)
	case err != nil:
		log.Fatalf("Error creating event: %v", err)
	}
	fmt.Printf("✅ Event created: %s (%s–%s)\n", created.Summary,
		created.Start.Format("2006-01-02 15:04"), created.End.Format("15:04"))
}

// createWithSession runs the conflict-checked insert and routes provider
// rejections through the token lifecycle, so a stale session token never
// survives a 401.
func createWithSession(ctx context.Context, manager *token.Manager, checker *schedule.Checker, draft model.EventDraft, force bool) (*model.Event, error) {
	created, err := checker.Create(ctx, draft, force)
	if err != nil {
		return nil, manager.HandleUnauthorized(ctx, err)
	}
	return created, nil
}

func parseEventTime(s string, allDay bool) time.Time {
	layouts := []string{time.RFC3339, "2006-01-02 15:04", "2006-01-02T15:04"}
	if allDay {
		layouts = []string{"2006-01-02"}
	}
	for _, layout := range layouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t
		}
	}
	log.Fatalf("Error: cannot parse time %q", s)
	return time.Time{}
}
