// Package webapp hosts the server side of the OAuth consent round-trip: the
// redirect target that exchanges authorization codes, persists refresh
// credentials and completes friend calendar-share grants.
package webapp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"

	"github.com/ora-app/orasync/internal/config"
	"github.com/ora-app/orasync/internal/errs"
	"github.com/ora-app/orasync/internal/friends"
	"github.com/ora-app/orasync/internal/model"
	"github.com/ora-app/orasync/internal/oauthstate"
	"github.com/ora-app/orasync/internal/store"
	"github.com/ora-app/orasync/internal/syncer"
)

// CodeExchanger exchanges an authorization code at the provider's token
// endpoint.
type CodeExchanger interface {
	ExchangeCode(ctx context.Context, code, redirectURI string) (*model.SessionToken, string, error)
}

// ACLGranter grants a friend read access on the sharing user's calendar.
type ACLGranter interface {
	GrantReader(ctx context.Context, email string) error
}

// ACLFactory builds an ACLGranter around a fresh access token.
type ACLFactory func(ctx context.Context, accessToken string) (ACLGranter, error)

// Server is the consent-callback HTTP server. In serve mode it also hosts
// the sweep scheduler.
type Server struct {
	cfg      *config.Config
	users    store.UserStore
	tokens   store.TokenStore
	friends  *friends.Service
	flows    *friends.FlowRegistry
	signer   *oauthstate.Signer
	exchange CodeExchanger
	acl      ACLFactory
	sched    *syncer.Scheduler
	log      *zap.Logger
}

func NewServer(cfg *config.Config, users store.UserStore, tokens store.TokenStore,
	friendSvc *friends.Service, flows *friends.FlowRegistry, signer *oauthstate.Signer,
	exchange CodeExchanger, acl ACLFactory, sched *syncer.Scheduler, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		cfg:      cfg,
		users:    users,
		tokens:   tokens,
		friends:  friendSvc,
		flows:    flows,
		signer:   signer,
		exchange: exchange,
		acl:      acl,
		sched:    sched,
		log:      log,
	}
}

// ConsentURL builds the provider consent URL for the given signed state.
func (s *Server) ConsentURL(state string) string {
	oc := &oauth2.Config{
		ClientID:     s.cfg.ClientID,
		ClientSecret: s.cfg.ClientSecret,
		Endpoint:     google.Endpoint,
		RedirectURL:  s.cfg.RedirectURL,
		Scopes:       []string{calendar.CalendarScope},
	}
	return oc.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// Routes returns the server's mux.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/callback", s.handleCallback)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	return mux
}

// Run serves until ctx is cancelled, then shuts down gracefully. The sweep
// scheduler starts and stops with the server.
func (s *Server) Run(ctx context.Context) error {
	if s.sched != nil {
		if err := s.sched.Start(s.cfg.SweepCron); err != nil {
			return fmt.Errorf("starting sweep scheduler: %w", err)
		}
		defer s.sched.Stop()
	}

	srv := &http.Server{Addr: s.cfg.Listen, Handler: s.Routes()}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	s.log.Info("callback server listening", zap.String("addr", s.cfg.Listen))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// handleCallback is the OAuth consent redirect target. It verifies the
// signed state, exchanges the code, persists the refresh credential
// (carrying forward a previously stored one when the provider omits a new
// one), records the granted consent, and for friend-share flows grants the
// calendar ACL, gated on the friendship still being accepted at callback
// time. The browser-side completion signal is a same-tab redirect carrying
// a query-flag result.
func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	if errCode := q.Get("error"); errCode != "" {
		s.finish(w, r, nil, fmt.Errorf("provider declined: %s", errCode))
		return
	}

	claims, err := s.signer.Verify(q.Get("state"))
	if err != nil {
		s.log.Warn("callback with invalid state", zap.Error(err))
		http.Error(w, "invalid or expired state", http.StatusBadRequest)
		return
	}
	code := q.Get("code")
	if code == "" {
		s.finish(w, r, claims, errors.New("missing authorization code"))
		return
	}

	tok, refresh, err := s.exchange.ExchangeCode(ctx, code, s.cfg.RedirectURL)
	if err != nil {
		s.finish(w, r, claims, fmt.Errorf("code exchange: %w", err))
		return
	}

	// Providers omit the refresh token on re-consent; keep the stored one.
	if refresh == "" {
		prev, err := s.tokens.RefreshToken(ctx, claims.UID)
		if err != nil && !errors.Is(err, errs.ErrNotFound) {
			s.finish(w, r, claims, err)
			return
		}
		refresh = prev
	}
	if refresh != "" {
		if err := s.tokens.PutRefreshToken(ctx, claims.UID, refresh); err != nil {
			s.finish(w, r, claims, err)
			return
		}
	}
	if err := s.users.SetConsent(ctx, claims.UID, model.ConsentGranted, true); err != nil {
		s.finish(w, r, claims, err)
		return
	}
	if err := s.users.SetConnected(ctx, claims.UID, true); err != nil {
		s.finish(w, r, claims, err)
		return
	}

	if claims.Flow == oauthstate.FlowFriendShare {
		err = s.completeFriendShare(ctx, claims, tok.AccessToken)
	}
	s.finish(w, r, claims, err)
}

// completeFriendShare grants the friend read access and records the
// sharer's own share flag. Re-checks the friendship at callback time: the
// request may have been removed while the consent window was open.
func (s *Server) completeFriendShare(ctx context.Context, claims *oauthstate.Claims, accessToken string) error {
	friendUID := claims.FriendUID
	if friendUID == "" {
		return errors.New("friend-share state without friendUid")
	}
	if _, err := s.friends.CheckOwnShare(ctx, claims.UID, friendUID); err != nil {
		if errors.Is(err, errs.ErrFriendshipNotFound) {
			return fmt.Errorf("friendship no longer accepted: %w", err)
		}
		return err
	}

	friend, err := s.users.Get(ctx, friendUID)
	if err != nil {
		return fmt.Errorf("loading friend %s: %w", friendUID, err)
	}

	granter, err := s.acl(ctx, accessToken)
	if err != nil {
		return err
	}
	if err := granter.GrantReader(ctx, friend.Email); err != nil {
		return fmt.Errorf("acl grant: %w", err)
	}

	return s.friends.SetOwnShare(ctx, claims.UID, friendUID, true)
}

// finish delivers the browser-side completion signal and settles any
// waiting consent flow.
func (s *Server) finish(w http.ResponseWriter, r *http.Request, claims *oauthstate.Claims, err error) {
	result := "ok"
	if err != nil {
		result = "error"
		s.log.Warn("consent callback failed", zap.Error(err))
	}

	if claims != nil && claims.FlowID != "" {
		if flow := s.flows.Lookup(claims.FlowID); flow != nil {
			flow.Complete(err)
			s.flows.Remove(claims.FlowID)
		}
	}

	dest := url.Values{}
	if claims != nil && claims.Flow == oauthstate.FlowFriendShare {
		dest.Set("share", result)
	} else {
		dest.Set("connect", result)
	}
	http.Redirect(w, r, "/?"+dest.Encode(), http.StatusFound)
}
