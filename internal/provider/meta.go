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
	metaAuthURL = "https://www.facebook.com/v19.0/dialog/oauth"
	metaAPIURL  = "https://graph.facebook.com/v19.0"
)

var metaDefaultScopes = []string{"ads_read", "ads_management", "business_management"}

// Meta implements the Graph API token contract. Meta issues no refresh
// token: the code exchange yields a short-lived token which is
// immediately traded for a long-lived one (~60 days), and "refresh" is
// a re-extension of the current long-lived token through the same
// fb_exchange_token endpoint before it expires.
type Meta struct {
	appID     string
	appSecret string
	authURL   string
	apiURL    string
	scopes    []string
	client    *tokenClient
	logger    *slog.Logger
}

func NewMeta(appID, appSecret string, settings config.ProviderSettings, client *tokenClient, logger *slog.Logger) *Meta {
	m := &Meta{
		appID:     appID,
		appSecret: appSecret,
		authURL:   metaAuthURL,
		apiURL:    metaAPIURL,
		scopes:    metaDefaultScopes,
		client:    client,
		logger:    logger,
	}
	applySettings(&m.authURL, nil, &m.apiURL, &m.scopes, settings)
	return m
}

func (m *Meta) Name() credential.Provider { return credential.ProviderMeta }

func (m *Meta) tokenURL() string { return m.apiURL + "/oauth/access_token" }

func (m *Meta) AuthCodeURL(state, redirectURI string) string {
	cfg := oauth2.Config{
		ClientID:    m.appID,
		Endpoint:    oauth2.Endpoint{AuthURL: m.authURL, TokenURL: m.tokenURL()},
		Scopes:      m.scopes,
		RedirectURL: redirectURI,
	}
	return cfg.AuthCodeURL(state)
}

type metaTokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

// ExchangeCode performs the two-step Meta handshake: code for a
// short-lived token, then the fb_exchange_token call for the
// long-lived one that is actually stored.
func (m *Meta) ExchangeCode(ctx context.Context, code, redirectURI string) (*Grant, error) {
	shortLived, err := m.tokenCall(ctx, url.Values{
		"client_id":     {m.appID},
		"client_secret": {m.appSecret},
		"redirect_uri":  {redirectURI},
		"code":          {code},
	})
	if err != nil {
		return nil, fmt.Errorf("exchanging code for short-lived token: %w", err)
	}

	grant, err := m.extend(ctx, shortLived.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("extending to long-lived token: %w", err)
	}

	grant.Accounts = m.listAdAccounts(ctx, grant.AccessToken)

	return grant, nil
}

// Refresh re-extends the current long-lived token. The secret is the
// access token itself; Meta has no refresh token.
func (m *Meta) Refresh(ctx context.Context, secret string) (*Grant, error) {
	return m.extend(ctx, secret)
}

func (m *Meta) extend(ctx context.Context, accessToken string) (*Grant, error) {
	return m.tokenCall(ctx, url.Values{
		"grant_type":        {"fb_exchange_token"},
		"client_id":         {m.appID},
		"client_secret":     {m.appSecret},
		"fb_exchange_token": {accessToken},
	})
}

func (m *Meta) tokenCall(ctx context.Context, form url.Values) (*Grant, error) {
	res, err := m.client.postForm(ctx, m.tokenURL(), form)
	if err != nil {
		return nil, err
	}
	if res.Status != 200 {
		return nil, m.errorFrom(res)
	}

	var tr metaTokenResponse
	if err := json.Unmarshal(res.Body, &tr); err != nil {
		return nil, fmt.Errorf("decoding meta token response: %w", err)
	}
	if tr.AccessToken == "" {
		return nil, &Error{Provider: m.Name(), StatusCode: res.Status, Message: "token response missing access_token"}
	}

	return &Grant{
		AccessToken: tr.AccessToken,
		ExpiresIn:   tr.ExpiresIn,
	}, nil
}

// listAdAccounts fetches the ad accounts the token can manage.
// Non-fatal: a credential without candidates still connects, and the
// select-account step accepts any ID.
func (m *Meta) listAdAccounts(ctx context.Context, accessToken string) []credential.Account {
	res, err := m.client.get(ctx, m.apiURL+"/me/adaccounts?fields=id,name", accessToken, nil)
	if err != nil || res.Status != 200 {
		m.logger.Warn("meta ad account listing failed", slog.Any("error", err))
		return nil
	}

	var accounts []credential.Account
	gjson.GetBytes(res.Body, "data").ForEach(func(_, a gjson.Result) bool {
		accounts = append(accounts, credential.Account{
			ID:   a.Get("id").String(),
			Name: a.Get("name").String(),
		})
		return true
	})

	return accounts
}

func (m *Meta) errorFrom(res *httpResult) error {
	return &Error{
		Provider:   m.Name(),
		StatusCode: res.Status,
		Code:       gjson.GetBytes(res.Body, "error.code").String(),
		Message:    sanitizeBody(res.Body),
	}
}

func (m *Meta) Classify(err error) Classification {
	var pe *Error
	if !errors.As(err, &pe) {
		return ClassTransient
	}

	if pe.StatusCode == 429 || pe.StatusCode >= 500 {
		return ClassTransient
	}

	switch pe.Code {
	case "190", "102":
		// 190: invalid or expired access token; 102: session invalid.
		// The user must re-consent.
		return ClassReauth
	case "4", "17", "32", "613":
		// Application, user, page, and custom rate limits.
		return ClassTransient
	case "1", "2":
		// API unknown / API service: Meta's "try again later" codes.
		return ClassTransient
	case "101":
		// Invalid app ID: deployment misconfiguration.
		return ClassPermanent
	}

	if pe.StatusCode == 401 {
		return ClassReauth
	}
	if pe.StatusCode == 400 {
		return ClassPermanent
	}

	return ClassTransient
}
