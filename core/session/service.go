package session

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"io/ioutil"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/pkg/errors"

	"github.com/trezcool/shule/core"
)

const (
	loginPath   = "/auth/login"
	profilePath = "/auth/profile"

	// WrongCredentialsMsg is the fallback shown when the backend rejects a
	// login without supplying its own message.
	WrongCredentialsMsg = "wrong credentials"

	// RateLimitedMsg is shown when the login endpoint answers 429 with a
	// non-JSON body.
	RateLimitedMsg = "too many attempts, please try again later"
)

// Service is the single source of truth for who is logged in and what
// credential to attach to requests. It is handed to consumers explicitly
// instead of living in ambient global state.
type Service struct {
	baseURL string
	client  *http.Client
	store   Store
	log     core.Logger

	mu            sync.Mutex
	current       Session
	authenticated bool
	ready         bool
}

func NewService(conf *core.Config, store Store, logger core.Logger) *Service {
	return &Service{
		baseURL: conf.API.BaseURL,
		client:  &http.Client{Timeout: conf.API.RequestTimeout},
		store:   store,
		log:     logger,
	}
}

// Initialize reconciles the persisted session with memory, exactly once at
// startup. A persisted token is revalidated against the profile endpoint;
// any failure (non-2xx or network error) clears the persisted and in-memory
// copies in lockstep. Ready() reports true at the end of every path.
func (svc *Service) Initialize(ctx context.Context) error {
	defer func() {
		svc.mu.Lock()
		svc.ready = true
		svc.mu.Unlock()
	}()

	sess, err := svc.store.Load()
	if err != nil {
		if errors.Cause(err) != ErrNoSession {
			svc.log.Warn("loading persisted session", err)
			svc.clear()
		}
		return nil
	}
	if sess.IsZero() {
		svc.clear()
		return nil
	}
	if tokenExpired(sess.Token) {
		// no point revalidating a token that is visibly past its expiry
		svc.clear()
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, svc.baseURL+profilePath, nil)
	if err != nil {
		return errors.Wrap(err, "creating profile request")
	}
	req.Header.Set("Authorization", "Bearer "+sess.Token)

	resp, err := svc.client.Do(req)
	if err != nil {
		svc.log.Info("profile revalidation failed; clearing session", err)
		svc.clear()
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		svc.log.Info("profile revalidation rejected; clearing session",
			map[string]interface{}{"status": resp.StatusCode})
		svc.clear()
		return nil
	}

	usr, err := decodeProfile(resp.Body)
	if err != nil {
		svc.log.Warn("decoding profile response; clearing session", err)
		svc.clear()
		return nil
	}

	sess.User = usr
	svc.mu.Lock()
	svc.current = sess
	svc.authenticated = true
	svc.mu.Unlock()
	if err := svc.store.Save(sess); err != nil {
		svc.log.Warn("persisting refreshed session", err)
	}
	return nil
}

// Login posts credentials to the login endpoint. Durable storage is only
// written on confirmed success; a failed login never touches a previously
// persisted session.
func (svc *Service) Login(ctx context.Context, username, password string) (Session, error) {
	creds := Credentials{Username: username, Password: password}
	if err := creds.Validate(); err != nil {
		return Session{}, err
	}

	body, err := json.Marshal(creds)
	if err != nil {
		return Session{}, errors.Wrap(err, "marshalling credentials")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, svc.baseURL+loginPath, bytes.NewReader(body))
	if err != nil {
		return Session{}, errors.Wrap(err, "creating login request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := svc.client.Do(req)
	if err != nil {
		return Session{}, errors.Wrap(err, "posting login request")
	}
	defer resp.Body.Close()

	raw, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return Session{}, errors.Wrap(err, "reading login response")
	}

	// inspect content-type before parsing: proxies and rate limiters answer
	// with plain text
	ct := resp.Header.Get("Content-Type")
	if !strings.Contains(ct, "application/json") {
		if resp.StatusCode == http.StatusTooManyRequests {
			return Session{}, &core.APIError{StatusCode: resp.StatusCode, Message: RateLimitedMsg, RateLimited: true}
		}
		return Session{}, core.NewAPIError(resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var payload loginResponse
	if err := json.Unmarshal(raw, &payload); err != nil {
		return Session{}, errors.Wrap(err, "decoding login response")
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := payload.message()
		if msg == "" {
			msg = WrongCredentialsMsg
		}
		return Session{}, core.NewAPIError(resp.StatusCode, msg)
	}

	sess := payload.session()
	if sess.IsZero() {
		return Session{}, core.NewAPIError(resp.StatusCode, "login response missing token or user")
	}

	svc.mu.Lock()
	svc.current = sess
	svc.authenticated = true
	svc.ready = true
	svc.mu.Unlock()
	if err := svc.store.Save(sess); err != nil {
		svc.log.Error("persisting session", err)
	}
	return sess, nil
}

// Logout clears the in-memory and persisted session unconditionally;
// no network call is made.
func (svc *Service) Logout() error {
	svc.clear()
	return nil
}

func (svc *Service) clear() {
	svc.mu.Lock()
	svc.current = Session{}
	svc.authenticated = false
	svc.mu.Unlock()
	if err := svc.store.Clear(); err != nil {
		svc.log.Warn("clearing persisted session", err)
	}
}

// Ready reports whether startup reconciliation has completed. Token and
// Current are not authoritative before then.
func (svc *Service) Ready() bool {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	return svc.ready
}

func (svc *Service) Authenticated() bool {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	return svc.ready && svc.authenticated
}

func (svc *Service) Current() (Session, bool) {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	return svc.current, svc.ready && svc.authenticated
}

// Token implements rest.TokenProvider. It fails fast when no authenticated
// session exists; callers must not attach a stale or absent credential.
func (svc *Service) Token() (string, error) {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	if !svc.ready || !svc.authenticated {
		return "", ErrNotAuthenticated
	}
	return svc.current.Token, nil
}

type loginResponse struct {
	Success bool                   `json:"success"`
	Token   string                 `json:"token"`
	User    map[string]interface{} `json:"user"`
	Data    *struct {
		Token string                 `json:"token"`
		User  map[string]interface{} `json:"user"`
	} `json:"data"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (r loginResponse) session() Session {
	if r.Token != "" || r.User != nil {
		return Session{Token: r.Token, User: r.User}
	}
	if r.Data != nil {
		return Session{Token: r.Data.Token, User: r.Data.User}
	}
	return Session{}
}

func (r loginResponse) message() string {
	if r.Error != "" {
		return r.Error
	}
	return r.Message
}

// decodeProfile accepts either a bare user object or an envelope with a
// `user` or `data` object.
func decodeProfile(body io.Reader) (map[string]interface{}, error) {
	var payload map[string]interface{}
	if err := json.NewDecoder(body).Decode(&payload); err != nil {
		return nil, err
	}
	for _, key := range []string{"user", "data"} {
		if usr, ok := payload[key].(map[string]interface{}); ok {
			return usr, nil
		}
	}
	return payload, nil
}

// tokenExpired peeks at the token's unverified claims. It is only used to
// skip a revalidation round-trip that is bound to fail; the backend remains
// the authority on token validity.
func tokenExpired(token string) bool {
	var claims jwt.StandardClaims
	if _, _, err := new(jwt.Parser).ParseUnverified(token, &claims); err != nil {
		return false // opaque tokens are fine; let the backend decide
	}
	return claims.ExpiresAt > 0 && time.Now().Unix() > claims.ExpiresAt
}
