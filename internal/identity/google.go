package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"

	"github.com/kjstillabower/weather-dashboard/internal/circuitbreaker"
)

const googleUserInfoURL = "https://www.googleapis.com/oauth2/v2/userinfo"

// GoogleConfig configures the Google OAuth 2.0 provider. The URL fields override
// Google's endpoints, for tests.
type GoogleConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string

	AuthBaseURL string
	TokenURL    string
	UserInfoURL string

	// Breaker, when set, guards the token and userinfo calls. Only provider
	// outages count towards tripping it.
	Breaker *circuitbreaker.CircuitBreaker
}

// GoogleProvider signs users in with the authorization-code flow. Only the profile
// is kept; tokens are discarded after the userinfo call.
type GoogleProvider struct {
	client      *http.Client
	oauth       *oauth2.Config
	userInfoURL string
	breaker     *circuitbreaker.CircuitBreaker
}

// NewGoogleProvider creates a GoogleProvider. hc carries the token and userinfo
// requests; nil means http.DefaultClient.
func NewGoogleProvider(hc *http.Client, cfg GoogleConfig) *GoogleProvider {
	if hc == nil {
		hc = http.DefaultClient
	}
	endpoint := endpoints.Google
	if cfg.AuthBaseURL != "" {
		endpoint.AuthURL = cfg.AuthBaseURL
	}
	if cfg.TokenURL != "" {
		endpoint.TokenURL = cfg.TokenURL
	}
	userInfoURL := cfg.UserInfoURL
	if userInfoURL == "" {
		userInfoURL = googleUserInfoURL
	}
	return &GoogleProvider{
		client: hc,
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint:     endpoint,
			Scopes:       []string{"openid", "email", "profile"},
		},
		userInfoURL: userInfoURL,
		breaker:     cfg.Breaker,
	}
}

func (p *GoogleProvider) Name() string {
	return "google"
}

// LoginURL returns the consent page URL carrying state.
func (p *GoogleProvider) LoginURL(state string) string {
	return p.oauth.AuthCodeURL(state, oauth2.AccessTypeOnline, oauth2.SetAuthURLParam("prompt", "select_account"))
}

// Exchange trades an authorization code for the signed-in user's profile.
func (p *GoogleProvider) Exchange(ctx context.Context, code string) (User, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.client)

	var tok *oauth2.Token
	err := p.call(ctx, "exchange", func() error {
		var err error
		tok, err = p.oauth.Exchange(ctx, code)
		if err != nil {
			return classifyTokenError(err)
		}
		return nil
	})
	if err != nil {
		return User{}, err
	}

	var user User
	err = p.call(ctx, "userinfo", func() error {
		var err error
		user, err = p.fetchUser(ctx, tok)
		return err
	})
	return user, err
}

// call runs fn through the breaker, if any, and wraps failures in AuthError.
func (p *GoogleProvider) call(ctx context.Context, op string, fn func() error) error {
	var err error
	if p.breaker == nil {
		err = fn()
	} else {
		err = p.breaker.Call(ctx, fn)
	}
	switch {
	case err == nil:
		return nil
	case errors.Is(err, circuitbreaker.ErrOpen):
		return &AuthError{Op: op, Err: fmt.Errorf("%w: %w", ErrProviderUnavailable, err)}
	}
	return &AuthError{Op: op, Err: err}
}

// IsProviderOutage reports whether err should count against a provider breaker.
func IsProviderOutage(err error) bool {
	return errors.Is(err, ErrProviderUnavailable)
}

type googleUserInfo struct {
	ID      string `json:"id"`
	Email   string `json:"email"`
	Name    string `json:"name"`
	Picture string `json:"picture"`
}

func (p *GoogleProvider) fetchUser(ctx context.Context, tok *oauth2.Token) (User, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.userInfoURL, nil)
	if err != nil {
		return User{}, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.oauth.Client(ctx, tok).Do(req)
	if err != nil {
		return User{}, fmt.Errorf("%w: %w", ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return User{}, statusError(resp.StatusCode, body)
	}

	var info googleUserInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return User{}, fmt.Errorf("%w: decode userinfo: %w", ErrExchangeFailed, err)
	}
	if info.ID == "" {
		return User{}, fmt.Errorf("%w: profile has no id", ErrExchangeFailed)
	}
	name := info.Name
	if name == "" {
		name = info.Email
	}
	return User{ID: info.ID, DisplayName: name, Email: info.Email, PhotoURL: info.Picture}, nil
}

// classifyTokenError maps an oauth2 exchange error onto the package sentinels.
// Transport failures and 5xx responses are outages; everything else, including
// a response without an access token, is a failed exchange.
func classifyTokenError(err error) error {
	var rerr *oauth2.RetrieveError
	if errors.As(err, &rerr) {
		if rerr.ErrorCode != "" {
			return fmt.Errorf("%w: %s %s", ErrExchangeFailed, rerr.ErrorCode, rerr.ErrorDescription)
		}
		status := 0
		if rerr.Response != nil {
			status = rerr.Response.StatusCode
		}
		return statusError(status, rerr.Body)
	}
	var uerr *url.Error
	if errors.As(err, &uerr) {
		return fmt.Errorf("%w: %w", ErrProviderUnavailable, err)
	}
	return fmt.Errorf("%w: %w", ErrExchangeFailed, err)
}

func statusError(status int, body []byte) error {
	var oauthErr struct {
		Error       string `json:"error"`
		Description string `json:"error_description"`
	}
	if json.Unmarshal(body, &oauthErr) == nil && oauthErr.Error != "" {
		return fmt.Errorf("%w: HTTP %d: %s %s", ErrExchangeFailed, status, oauthErr.Error, oauthErr.Description)
	}
	if status >= 500 {
		return fmt.Errorf("%w: HTTP %d", ErrProviderUnavailable, status)
	}
	return fmt.Errorf("%w: HTTP %d", ErrExchangeFailed, status)
}
