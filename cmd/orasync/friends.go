package main

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/ora-app/orasync/internal/config"
	"github.com/ora-app/orasync/internal/errs"
	"github.com/ora-app/orasync/internal/friends"
	"github.com/ora-app/orasync/internal/oauthstate"
	"github.com/ora-app/orasync/internal/store"
)

func friendsCommand(cfg *config.Config, args []string) {
	if len(args) < 1 {
		fmt.Println("Usage: orasync friends (request|accept|decline|cancel|remove|list|search|enable-share|share-status) ...")
		return
	}

	db := openStore(cfg)
	defer db.Close()
	flows := friends.NewFlowRegistry()
	svc := friends.New(db, db, &shareStarter{cfg: cfg, flows: flows}, nil)
	ctx := context.Background()

	switch args[0] {
	case "request":
		requireArgs(args, 3, "orasync friends request <from> <to>")
		sendRequest(ctx, svc, args[1], args[2])
	case "accept":
		requireArgs(args, 3, "orasync friends accept <from> <viewer>")
		if _, err := svc.Accept(ctx, args[1], args[2]); err != nil {
			log.Fatalf("Error accepting request: %v", err)
		}
		fmt.Printf("✅ Friend request from %s accepted\n", args[1])
	case "decline":
		requireArgs(args, 3, "orasync friends decline <from> <viewer>")
		if err := svc.Decline(ctx, args[1], args[2]); err != nil {
			log.Fatalf("Error declining request: %v", err)
		}
		fmt.Printf("✅ Friend request from %s declined\n", args[1])
	case "cancel":
		requireArgs(args, 3, "orasync friends cancel <from> <to>")
		if err := svc.Cancel(ctx, args[1], args[2]); err != nil {
			log.Fatalf("Error cancelling request: %v", err)
		}
		fmt.Printf("✅ Friend request to %s cancelled\n", args[2])
	case "remove":
		requireArgs(args, 3, "orasync friends remove <uid> <friend>")
		if err := svc.Remove(ctx, args[1], args[2]); err != nil {
			log.Fatalf("Error removing friend: %v", err)
		}
		fmt.Printf("✅ Friend %s removed\n", args[2])
	case "list":
		requireArgs(args, 2, "orasync friends list <uid>")
		listFriends(ctx, svc, args[1])
	case "search":
		requireArgs(args, 2, "orasync friends search <email>")
		u, err := svc.SearchByEmail(ctx, args[1])
		if errors.Is(err, errs.ErrNotFound) {
			fmt.Println("  ⚠️ No account with that email")
			return
		}
		if err != nil {
			log.Fatalf("Error searching: %v", err)
		}
		fmt.Printf("👤 %s (%s)\n", u.UID, u.Email)
	case "enable-share":
		requireArgs(args, 3, "orasync friends enable-share <uid> <friend>")
		enableShare(cfg, db, args[1], args[2])
	case "share-status":
		requireArgs(args, 3, "orasync friends share-status <uid> <friend>")
		own, err := svc.CheckOwnShare(ctx, args[1], args[2])
		if err != nil {
			log.Fatalf("Error checking share: %v", err)
		}
		if own {
			fmt.Printf("✅ You are sharing your calendar with %s\n", args[2])
		} else {
			fmt.Printf("⚠️ You are not sharing your calendar with %s yet\n", args[2])
		}
	default:
		fmt.Printf("Unknown friends command: %s\n", args[0])
	}
}

func sendRequest(ctx context.Context, svc *friends.Service, from, to string) {
	_, err := svc.SendRequest(ctx, from, to)
	switch {
	case errors.Is(err, errs.ErrAlreadyPending):
		fmt.Println("  ⚠️ Request already pending")
	case errors.Is(err, errs.ErrAlreadyFriends):
		fmt.Println("  ⚠️ You are already friends")
	case errors.Is(err, errs.ErrIncomingExists):
		fmt.Printf("  ⚠️ %s already sent you a request, accept that one instead\n", to)
	case err != nil:
		log.Fatalf("Error sending request: %v", err)
	default:
		fmt.Printf("✅ Friend request sent to %s\n", to)
	}
}

func listFriends(ctx context.Context, svc *friends.Service, uid string) {
	entries, err := svc.ListFriends(ctx, uid)
	if err != nil {
		log.Fatalf("Error listing friends: %v", err)
	}
	incoming, err := svc.Incoming(ctx, uid)
	if err != nil {
		log.Fatalf("Error listing pending requests: %v", err)
	}
	if len(entries) == 0 && len(incoming) == 0 {
		fmt.Println("No friends yet.")
		return
	}
	for _, e := range entries {
		shareYou, shareFriend := "✗", "✗"
		if e.CalendarSharedByYou {
			shareYou = "✓"
		}
		if e.CalendarSharedByFriend {
			shareFriend = "✓"
		}
		fmt.Printf("👤 %s  (you share: %s, shares with you: %s)\n", e.FriendUID, shareYou, shareFriend)
	}
	for _, r := range incoming {
		fmt.Printf("📥 %s sent you a request (accept with `orasync friends accept %s %s`)\n",
			r.FromUID, r.FromUID, uid)
	}
}

// shareStarter opens a consent flow after an accept and prints the URL the
// acceptor must visit to share back.
type shareStarter struct {
	cfg   *config.Config
	flows *friends.FlowRegistry
}

func (s *shareStarter) StartShare(_ context.Context, uid, friendUID string) {
	flow := s.flows.Open(uid, friendUID)
	url, err := shareConsentURL(s.cfg, flow)
	if err != nil {
		fmt.Printf("  ⚠️ Cannot start calendar sharing: %v\n", err)
		fmt.Println("  ↪️ Run `orasync friends enable-share` once configured")
		return
	}
	fmt.Printf("  ↪️ Share your calendar back with %s by visiting:\n%v\n", friendUID, url)
}

// shareConsentURL signs a friend-share state bound to flow and returns the
// provider consent URL carrying it. The serve-mode callback settles the flow
// by the embedded id.
func shareConsentURL(cfg *config.Config, flow *friends.ShareFlow) (string, error) {
	if cfg.StateSecret == "" {
		return "", errors.New("state_secret must be configured for calendar sharing")
	}
	signer := oauthstate.NewSigner([]byte(cfg.StateSecret), cfg.Sync.StateTTL())
	state, err := signer.Sign(flow.UID, flow.FriendUID, oauthstate.FlowFriendShare, flow.ID)
	if err != nil {
		return "", err
	}
	return oauthConfig(cfg).AuthCodeURL(state), nil
}

// enableShare opens a consent flow, prints its URL and waits for the window
// to complete, falling back to a poll of the persisted share flag.
func enableShare(cfg *config.Config, db *store.DB, uid, friendUID string) {
	svc := friends.New(db, db, nil, nil)
	ctx := context.Background()
	if _, err := svc.CheckOwnShare(ctx, uid, friendUID); err != nil {
		if errors.Is(err, errs.ErrFriendshipNotFound) {
			log.Fatalf("Error: no accepted friendship between %s and %s", uid, friendUID)
		}
		log.Fatalf("Error checking friendship: %v", err)
	}

	flows := friends.NewFlowRegistry()
	flow := flows.Open(uid, friendUID)
	url, err := shareConsentURL(cfg, flow)
	if err != nil {
		log.Fatalf("Error: %v", err)
	}
	fmt.Printf("Go to the following link in your browser to share your calendar with %s:\n%v\n", friendUID, url)
	fmt.Printf("The consent link expires in %d minutes.\n", cfg.Sync.StateTTLMinutes)

	fmt.Println("⏳ Waiting for consent to complete...")
	shared, err := svc.AwaitShare(ctx, flow, cfg.Sync.ConsentTimeout(), cfg.Sync.ConsentPollDelay())
	if err != nil {
		log.Fatalf("Error waiting for consent: %v", err)
	}
	if shared {
		fmt.Printf("✅ Calendar shared with %s\n", friendUID)
	} else {
		fmt.Printf("⚠️ Consent not completed yet. Run `orasync friends share-status %s %s` to check later.\n",
			uid, friendUID)
	}
}
