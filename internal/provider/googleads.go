package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/tidwall/gjson"
	"golang.org/x/oauth2"

	"github.com/storeops/adconnect/internal/config"
	"github.com/storeops/adconnect/internal/credential"
)

const (
	googleAuthURL  = "https://accounts.google.com/o/oauth2/v2/auth"
	googleTokenURL = "https://oauth2.googleapis.com/token"
)

var googleDefaultScopes = []string{"https://www.googleapis.com/auth/adwords"}

// GoogleAds handles the Google Ads OAuth contract: offline-access
// consent, expires_in seconds, and a refresh response that may carry a
// rotated refresh token which must replace the stored one.
//
// Customer account listing requires a developer token and the Ads API
// proper, so the exchange reports no account candidates; the dashboard
// binds a customer ID entered by the operator.
type GoogleAds struct {
	clientID     string
	clientSecret string
	authURL      string
	tokenURL     string
	scopes       []string
	client       *tokenClient
	logger       *slog.Logger
}

func NewGoogleAds(clientID, clientSecret string, settings config.ProviderSettings, client *tokenClient, logger *slog.Logger) *GoogleAds {
	g := &GoogleAds{
		clientID:     clientID,
		clientSecret: clientSecret,
		authURL:      googleAuthURL,
		tokenURL:     googleTokenURL,
		scopes:       googleDefaultScopes,
		client:       client,
		logger:       logger,
	}
	applySettings(&g.authURL, &g.tokenURL, nil, &g.scopes, settings)
	return g
}

func (g *GoogleAds) Name() credential.Provider { return credential.ProviderGoogleAds }

func (g *GoogleAds) AuthCodeURL(state, redirectURI string) string {
	cfg := oauth2.Config{
		ClientID:    g.clientID,
		Endpoint:    oauth2.Endpoint{AuthURL: g.authURL, TokenURL: g.tokenURL},
		Scopes:      g.scopes,
		RedirectURL: redirectURI,
	}
	// Offline access with forced consent, or Google omits the refresh
	// token on repeat authorizations.
	return cfg.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.SetAuthURLParam("prompt", "consent"))
}

type googleTokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

func (g *GoogleAds) ExchangeCode(ctx context.Context, code, redirectURI string) (*Grant, error) {
	form := url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"redirect_uri":  {redirectURI},
		"client_id":     {g.clientID},
		"client_secret": {g.clientSecret},
	}

	return g.tokenCall(ctx, form)
}

func (g *GoogleAds) Refresh(ctx context.Context, secret string) (*Grant, error) {
	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {secret},
		"client_id":     {g.clientID},
		"client_secret": {g.clientSecret},
	}

	return g.tokenCall(ctx, form)
}

func (g *GoogleAds) tokenCall(ctx context.Context, form url.Values) (*Grant, error) {
	res, err := g.client.postForm(ctx, g.tokenURL, form)
	if err != nil {
		return nil, err
	}
	if res.Status != 200 {
		return nil, g.errorFrom(res)
	}

	var tr googleTokenResponse
	if err := json.Unmarshal(res.Body, &tr); err != nil {
		return nil, fmt.Errorf("decoding google token response: %w", err)
	}
	if tr.AccessToken == "" {
		return nil, &Error{Provider: g.Name(), StatusCode: res.Status, Message: "token response missing access_token"}
	}

	return &Grant{
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
		ExpiresIn:    tr.ExpiresIn,
	}, nil
}

func (g *GoogleAds) errorFrom(res *httpResult) error {
	return &Error{
		Provider:   g.Name(),
		StatusCode: res.Status,
		Code:       gjson.GetBytes(res.Body, "error").String(),
		Message:    sanitizeBody(res.Body),
	}
}

func (g *GoogleAds) Classify(err error) Classification {
	var pe *Error
	if !errors.As(err, &pe) {
		return ClassTransient
	}

	if pe.StatusCode == 429 || pe.StatusCode >= 500 {
		return ClassTransient
	}

	switch pe.Code {
	case "invalid_grant":
		// Revoked refresh token, or the user removed the app's access.
		return ClassReauth
	case "invalid_client", "unauthorized_client", "unsupported_grant_type", "invalid_scope":
		return ClassPermanent
	}

	if pe.StatusCode == 401 {
		return ClassReauth
	}

	return ClassTransient
}
