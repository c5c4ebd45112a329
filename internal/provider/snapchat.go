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
	snapchatAuthURL  = "https://accounts.snapchat.com/login/oauth2/authorize"
	snapchatTokenURL = "https://accounts.snapchat.com/login/oauth2/access_token"
	snapchatAPIURL   = "https://adsapi.snapchat.com/v1"
)

var snapchatDefaultScopes = []string{"snapchat-marketing-api"}

// Snapchat exchanges and refreshes Snap Marketing API tokens. Snapchat
// rotates the refresh token on every refresh; the returned token must
// overwrite the stored one or the chain breaks.
type Snapchat struct {
	clientID     string
	clientSecret string
	authURL      string
	tokenURL     string
	apiURL       string
	scopes       []string
	client       *tokenClient
	logger       *slog.Logger
}

func NewSnapchat(clientID, clientSecret string, settings config.ProviderSettings, client *tokenClient, logger *slog.Logger) *Snapchat {
	s := &Snapchat{
		clientID:     clientID,
		clientSecret: clientSecret,
		authURL:      snapchatAuthURL,
		tokenURL:     snapchatTokenURL,
		apiURL:       snapchatAPIURL,
		scopes:       snapchatDefaultScopes,
		client:       client,
		logger:       logger,
	}
	applySettings(&s.authURL, &s.tokenURL, &s.apiURL, &s.scopes, settings)
	return s
}

func (s *Snapchat) Name() credential.Provider { return credential.ProviderSnapchat }

func (s *Snapchat) AuthCodeURL(state, redirectURI string) string {
	cfg := oauth2.Config{
		ClientID: s.clientID,
		Endpoint: oauth2.Endpoint{AuthURL: s.authURL, TokenURL: s.tokenURL},
		Scopes:   s.scopes,
	}
	cfg.RedirectURL = redirectURI
	return cfg.AuthCodeURL(state)
}

// snapchatTokenResponse is the token endpoint payload for both grants.
type snapchatTokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

func (s *Snapchat) ExchangeCode(ctx context.Context, code, redirectURI string) (*Grant, error) {
	form := url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"redirect_uri":  {redirectURI},
		"client_id":     {s.clientID},
		"client_secret": {s.clientSecret},
	}

	grant, err := s.tokenCall(ctx, form)
	if err != nil {
		return nil, err
	}

	grant.Accounts = s.listAdAccounts(ctx, grant.AccessToken)

	return grant, nil
}

func (s *Snapchat) Refresh(ctx context.Context, secret string) (*Grant, error) {
	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {secret},
		"client_id":     {s.clientID},
		"client_secret": {s.clientSecret},
	}

	return s.tokenCall(ctx, form)
}

func (s *Snapchat) tokenCall(ctx context.Context, form url.Values) (*Grant, error) {
	res, err := s.client.postForm(ctx, s.tokenURL, form)
	if err != nil {
		return nil, err
	}
	if res.Status != 200 {
		return nil, s.errorFrom(res)
	}

	var tr snapchatTokenResponse
	if err := json.Unmarshal(res.Body, &tr); err != nil {
		return nil, fmt.Errorf("decoding snapchat token response: %w", err)
	}
	if tr.AccessToken == "" {
		return nil, &Error{Provider: s.Name(), StatusCode: res.Status, Message: "token response missing access_token"}
	}

	return &Grant{
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
		ExpiresIn:    tr.ExpiresIn,
	}, nil
}

// listAdAccounts discovers the ad accounts visible to a fresh token so
// the dashboard can offer the account-selection step. Failures here do
// not fail the handshake; the credential just carries no candidates.
func (s *Snapchat) listAdAccounts(ctx context.Context, accessToken string) []credential.Account {
	res, err := s.client.get(ctx, s.apiURL+"/me/organizations?with_ad_accounts=true", accessToken, nil)
	if err != nil || res.Status != 200 {
		s.logger.Warn("snapchat ad account listing failed", slog.Any("error", err))
		return nil
	}

	var accounts []credential.Account
	gjson.GetBytes(res.Body, "organizations.#.organization.ad_accounts").ForEach(func(_, orgAccounts gjson.Result) bool {
		orgAccounts.ForEach(func(_, a gjson.Result) bool {
			accounts = append(accounts, credential.Account{
				ID:   a.Get("id").String(),
				Name: a.Get("name").String(),
			})
			return true
		})
		return true
	})

	return accounts
}

func (s *Snapchat) errorFrom(res *httpResult) error {
	return &Error{
		Provider:   s.Name(),
		StatusCode: res.Status,
		Code:       gjson.GetBytes(res.Body, "error").String(),
		Message:    sanitizeBody(res.Body),
	}
}

func (s *Snapchat) Classify(err error) Classification {
	var pe *Error
	if !errors.As(err, &pe) {
		return ClassTransient
	}

	if pe.StatusCode == 429 || pe.StatusCode >= 500 {
		return ClassTransient
	}

	switch pe.Code {
	case "invalid_grant":
		// Revoked or expired refresh token.
		return ClassReauth
	case "invalid_client", "unauthorized_client", "unsupported_grant_type":
		return ClassPermanent
	}

	if pe.StatusCode == 401 {
		return ClassReauth
	}

	return ClassTransient
}

// applySettings overlays non-zero catalog overrides on an adapter's
// endpoint defaults. Nil destinations mark fields the adapter has no
// use for (TikTok has no scopes, Meta derives its token URL).
func applySettings(authURL, tokenURL, apiURL *string, scopes *[]string, settings config.ProviderSettings) {
	if authURL != nil && settings.AuthURL != "" {
		*authURL = settings.AuthURL
	}
	if tokenURL != nil && settings.TokenURL != "" {
		*tokenURL = settings.TokenURL
	}
	if apiURL != nil && settings.APIURL != "" {
		*apiURL = settings.APIURL
	}
	if scopes != nil && len(settings.Scopes) > 0 {
		*scopes = settings.Scopes
	}
}
