package token

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2/google"

	"github.com/ora-app/orasync/internal/errs"
	"github.com/ora-app/orasync/internal/model"
)

// Exchanger performs the raw form-encoded token-endpoint round-trips the
// background sweep needs: refresh-token exchange without a browser session.
type Exchanger struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
	HTTPClient   *http.Client

	now func() time.Time
}

// NewExchanger builds an Exchanger against the Google token endpoint.
func NewExchanger(clientID, clientSecret string) *Exchanger {
	return &Exchanger{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     google.Endpoint.TokenURL,
		HTTPClient:   http.DefaultClient,
		now:          time.Now,
	}
}

type tokenResponse struct {
	AccessToken      string `json:"access_token"`
	ExpiresIn        int    `json:"expires_in"`
	RefreshToken     string `json:"refresh_token"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// Refresh exchanges a refresh token for a short-lived access token.
// Revocation surfaces as an error whose message carries the provider's
// error code, so IsRevocation can reclassify it.
func (e *Exchanger) Refresh(ctx context.Context, refreshToken string) (*model.SessionToken, error) {
	form := url.Values{
		"client_id":     {e.ClientID},
		"client_secret": {e.ClientSecret},
		"refresh_token": {refreshToken},
		"grant_type":    {"refresh_token"},
	}
	return e.post(ctx, form)
}

// ExchangeCode exchanges an authorization code (OAuth consent callback path).
// Returns the token plus the refresh token, which may be empty when the
// provider chose not to issue a new one.
func (e *Exchanger) ExchangeCode(ctx context.Context, code, redirectURI string) (*model.SessionToken, string, error) {
	form := url.Values{
		"client_id":     {e.ClientID},
		"client_secret": {e.ClientSecret},
		"code":          {code},
		"redirect_uri":  {redirectURI},
		"grant_type":    {"authorization_code"},
	}
	tok, refresh, err := e.roundTrip(ctx, form)
	if err != nil {
		return nil, "", err
	}
	return tok, refresh, nil
}

func (e *Exchanger) post(ctx context.Context, form url.Values) (*model.SessionToken, error) {
	tok, _, err := e.roundTrip(ctx, form)
	return tok, err
}

func (e *Exchanger) roundTrip(ctx context.Context, form url.Values) (*model.SessionToken, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.TokenURL,
		strings.NewReader(form.Encode()))
	if err != nil {
		return nil, "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := e.httpClient().Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("token endpoint: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, "", err
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, "", &errs.ProviderError{Status: resp.StatusCode, Body: string(body)}
	}
	if tr.Error != "" {
		return nil, "", fmt.Errorf("token endpoint: %s: %s", tr.Error, tr.ErrorDescription)
	}
	if resp.StatusCode/100 != 2 {
		return nil, "", &errs.ProviderError{Status: resp.StatusCode, Body: string(body)}
	}
	if tr.AccessToken == "" {
		return nil, "", &errs.ProviderError{Status: resp.StatusCode, Body: "token response missing access_token"}
	}

	expiry := e.clock().Add(time.Duration(tr.ExpiresIn) * time.Second)
	return &model.SessionToken{AccessToken: tr.AccessToken, ExpiresAt: expiry}, tr.RefreshToken, nil
}

func (e *Exchanger) httpClient() *http.Client {
	if e.HTTPClient != nil {
		return e.HTTPClient
	}
	return http.DefaultClient
}

func (e *Exchanger) clock() time.Time {
	if e.now != nil {
		return e.now()
	}
	return time.Now()
}
