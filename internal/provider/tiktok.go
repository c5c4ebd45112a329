package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/tidwall/gjson"

	"github.com/storeops/adconnect/internal/config"
	"github.com/storeops/adconnect/internal/credential"
	apperrors "github.com/storeops/adconnect/internal/errors"
)

const (
	tiktokAuthURL = "https://business-api.tiktok.com/portal/auth"
	tiktokAPIURL  = "https://business-api.tiktok.com/open_api/v1.3"
)

// TikTok implements the Business API token contract. One authorization
// covers every advertiser account the user manages: the exchange
// returns a single long-lived token plus the advertiser ID list, and
// there is no refresh endpoint; an invalid token means reconnect.
// TikTok also reports no expiry, so the stored credential carries none
// and is revalidated opportunistically on use.
type TikTok struct {
	appID     string
	appSecret string
	authURL   string
	apiURL    string
	client    *tokenClient
	logger    *slog.Logger
}

func NewTikTok(appID, appSecret string, settings config.ProviderSettings, client *tokenClient, logger *slog.Logger) *TikTok {
	t := &TikTok{
		appID:     appID,
		appSecret: appSecret,
		authURL:   tiktokAuthURL,
		apiURL:    tiktokAPIURL,
		client:    client,
		logger:    logger,
	}
	applySettings(&t.authURL, nil, &t.apiURL, nil, settings)
	return t
}

func (t *TikTok) Name() credential.Provider { return credential.ProviderTikTok }

// AuthCodeURL builds the Business API portal URL. TikTok names the
// client parameter app_id, so this cannot go through oauth2.Config.
func (t *TikTok) AuthCodeURL(state, redirectURI string) string {
	q := url.Values{
		"app_id":       {t.appID},
		"state":        {state},
		"redirect_uri": {redirectURI},
	}
	return t.authURL + "?" + q.Encode()
}

// tiktokEnvelope is the outer response shape of every Business API
// endpoint: HTTP 200 with an application-level code, 0 on success.
type tiktokEnvelope struct {
	Code    int64           `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type tiktokTokenData struct {
	AccessToken   string   `json:"access_token"`
	AdvertiserIDs []string `json:"advertiser_ids"`
}

func (t *TikTok) ExchangeCode(ctx context.Context, code, _ string) (*Grant, error) {
	res, err := t.client.postJSON(ctx, t.apiURL+"/oauth2/access_token/", map[string]string{
		"app_id":    t.appID,
		"secret":    t.appSecret,
		"auth_code": code,
	})
	if err != nil {
		return nil, err
	}

	env, err := t.envelope(res)
	if err != nil {
		return nil, err
	}

	var data tiktokTokenData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return nil, fmt.Errorf("decoding tiktok token data: %w", err)
	}
	if data.AccessToken == "" {
		return nil, &Error{Provider: t.Name(), StatusCode: res.Status, Message: "token response missing access_token"}
	}

	return &Grant{
		AccessToken: data.AccessToken,
		// ExpiresIn stays zero: TikTok reports no expiry.
		Accounts: t.advertiserAccounts(ctx, data.AccessToken, data.AdvertiserIDs),
	}, nil
}

// Refresh always demands a new handshake: TikTok has no refresh
// endpoint, and only a revalidation failure lands here.
func (t *TikTok) Refresh(_ context.Context, _ string) (*Grant, error) {
	return nil, fmt.Errorf("tiktok issues non-refreshable tokens: %w", apperrors.ErrReauthRequired)
}

// advertiserAccounts resolves advertiser names for the IDs returned by
// the exchange. On failure it falls back to bare IDs; the handshake
// still succeeds.
func (t *TikTok) advertiserAccounts(ctx context.Context, accessToken string, ids []string) []credential.Account {
	fallback := make([]credential.Account, 0, len(ids))
	for _, id := range ids {
		fallback = append(fallback, credential.Account{ID: id})
	}

	q := url.Values{"app_id": {t.appID}, "secret": {t.appSecret}}
	res, err := t.client.get(ctx, t.apiURL+"/oauth2/advertiser/get/?"+q.Encode(), "", map[string]string{
		"Access-Token": accessToken,
	})
	if err != nil || res.Status != 200 || gjson.GetBytes(res.Body, "code").Int() != 0 {
		t.logger.Warn("tiktok advertiser listing failed", slog.Any("error", err))
		return fallback
	}

	var accounts []credential.Account
	gjson.GetBytes(res.Body, "data.list").ForEach(func(_, a gjson.Result) bool {
		accounts = append(accounts, credential.Account{
			ID:   a.Get("advertiser_id").String(),
			Name: a.Get("advertiser_name").String(),
		})
		return true
	})

	if len(accounts) == 0 {
		return fallback
	}
	return accounts
}

func (t *TikTok) envelope(res *httpResult) (*tiktokEnvelope, error) {
	if res.Status != 200 {
		return nil, &Error{
			Provider:   t.Name(),
			StatusCode: res.Status,
			Message:    sanitizeBody(res.Body),
		}
	}

	var env tiktokEnvelope
	if err := json.Unmarshal(res.Body, &env); err != nil {
		return nil, fmt.Errorf("decoding tiktok response: %w", err)
	}

	if env.Code != 0 {
		return nil, &Error{
			Provider:   t.Name(),
			StatusCode: res.Status,
			Code:       fmt.Sprintf("%d", env.Code),
			Message:    sanitizeBody([]byte(env.Message)),
		}
	}

	return &env, nil
}

func (t *TikTok) Classify(err error) Classification {
	if errors.Is(err, apperrors.ErrReauthRequired) {
		return ClassReauth
	}

	var pe *Error
	if !errors.As(err, &pe) {
		return ClassTransient
	}

	if pe.StatusCode == 429 || pe.StatusCode >= 500 {
		return ClassTransient
	}

	switch pe.Code {
	case "40100", "40102", "40104", "40105":
		// Expired auth code, revoked or invalid access token.
		return ClassReauth
	case "40001", "40002":
		// Parameter and app misconfiguration errors.
		return ClassPermanent
	case "40016", "40133":
		// Throttling.
		return ClassTransient
	}

	return ClassTransient
}
