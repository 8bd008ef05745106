package twitchapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strings"
	"time"
)

// DefaultValidateURL is the Twitch OAuth token validation endpoint.
const DefaultValidateURL = "https://id.twitch.tv/oauth2/validate"

// ChatReadScope is the user token scope needed to read chat over IRC.
const ChatReadScope = "chat:read"

// ErrInvalidUserToken is returned when Twitch rejects the bot's user token.
var ErrInvalidUserToken = errors.New("twitch user token invalid")

// Validation is the decoded /oauth2/validate response.
type Validation struct {
	ClientID  string   `json:"client_id"`
	Login     string   `json:"login"`
	UserID    string   `json:"user_id"`
	Scopes    []string `json:"scopes"`
	ExpiresIn int      `json:"expires_in"`
}

// ExpiresAt returns the absolute expiry of the validated token.
func (v *Validation) ExpiresAt() time.Time { return ComputeExpiry(v.ExpiresIn) }

// CanReadChat reports whether the token carries ChatReadScope.
func (v *Validation) CanReadChat() bool { return slices.Contains(v.Scopes, ChatReadScope) }

// Validator checks bot user tokens.
type Validator struct {
	HTTPClient *http.Client
	// URL overrides DefaultValidateURL.
	URL string
}

// Validate checks token (with or without the "oauth:" IRC prefix). A 401
// from Twitch is reported as ErrInvalidUserToken.
func (v *Validator) Validate(ctx context.Context, token string) (*Validation, error) {
	token = strings.TrimPrefix(strings.TrimSpace(token), "oauth:")
	if token == "" {
		return nil, fmt.Errorf("%w: empty token", ErrInvalidUserToken)
	}
	u := v.URL
	if u == "" {
		u = DefaultValidateURL
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "OAuth "+token)
	hc := v.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}
	resp, err := hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer closeBody(resp)
	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized:
		return nil, ErrInvalidUserToken
	default:
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("twitch token validation failed: %s: %s", resp.Status, string(b))
	}
	var res Validation
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return nil, err
	}
	return &res, nil
}

// ComputeExpiry returns absolute expiry time from seconds, defaulting to +60m when unknown.
func ComputeExpiry(seconds int) time.Time {
	if seconds <= 0 {
		return time.Now().Add(60 * time.Minute)
	}
	return time.Now().Add(time.Duration(seconds) * time.Second)
}
