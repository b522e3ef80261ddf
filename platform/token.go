package platform

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/postpipe/postpipe/errors"
	"github.com/postpipe/postpipe/internal/httpclient"
)

// refreshSkew refreshes tokens this long before their recorded expiry,
// so a dispatch attempt never fires with a token about to lapse mid-call.
const refreshSkew = 60 * time.Second

// Credentials are the persisted OAuth tokens. The authorization-code
// exchange that first produces them happens outside this process; the
// file is the hand-off point.
type Credentials struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// valid reports whether the access token is still usable at now
func (c *Credentials) valid(now time.Time) bool {
	return c.AccessToken != "" && now.Before(c.ExpiresAt.Add(-refreshSkew))
}

// CredentialFile stores credentials on disk with owner-only permissions
type CredentialFile struct {
	path string
}

// NewCredentialFile creates a credential store at the given path
func NewCredentialFile(path string) *CredentialFile {
	return &CredentialFile{path: path}
}

// Load reads credentials from disk
func (f *CredentialFile) Load() (*Credentials, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, errors.Wrap(errors.ErrAuth, errors.Wrapf(err, "read credentials from %s", f.path).Error())
	}
	var creds Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, errors.Wrap(errors.ErrAuth, errors.Wrapf(err, "parse credentials in %s", f.path).Error())
	}
	if creds.AccessToken == "" && creds.RefreshToken == "" {
		return nil, errors.Wrapf(errors.ErrAuth, "credential file %s holds no tokens", f.path)
	}
	return &creds, nil
}

// Save writes credentials to disk, creating the directory if needed
func (f *CredentialFile) Save(creds *Credentials) error {
	if dir := filepath.Dir(f.path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return errors.Wrapf(err, "create credentials directory %s", dir)
		}
	}
	data, err := json.MarshalIndent(creds, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshal credentials")
	}
	if err := os.WriteFile(f.path, data, 0o600); err != nil {
		return errors.Wrapf(err, "write credentials to %s", f.path)
	}
	return nil
}

// RefreshingTokenSource hands out the stored access token and swaps it
// for a fresh one via the refresh-token grant before it expires.
// Safe for concurrent use.
type RefreshingTokenSource struct {
	file         *CredentialFile
	client       *http.Client
	tokenURL     string
	clientID     string
	clientSecret string
	log          *zap.SugaredLogger

	mu    sync.Mutex
	creds *Credentials
}

// NewRefreshingTokenSource builds a token source over the credential
// file. tokenURL is the platform's OAuth token endpoint.
func NewRefreshingTokenSource(file *CredentialFile, tokenURL, clientID, clientSecret string, log *zap.SugaredLogger) *RefreshingTokenSource {
	return &RefreshingTokenSource{
		file:         file,
		client:       httpclient.New(),
		tokenURL:     tokenURL,
		clientID:     clientID,
		clientSecret: clientSecret,
		log:          log.Named("token"),
	}
}

// Token returns a currently-valid access token, refreshing if the
// stored one is expired or about to expire. All failures wrap ErrAuth.
func (ts *RefreshingTokenSource) Token(ctx context.Context) (string, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if ts.creds == nil {
		creds, err := ts.file.Load()
		if err != nil {
			return "", err
		}
		ts.creds = creds
	}

	now := time.Now()
	if ts.creds.valid(now) {
		return ts.creds.AccessToken, nil
	}

	if ts.creds.RefreshToken == "" {
		return "", errors.Wrapf(errors.ErrAuth, "access token expired and no refresh token on file")
	}

	refreshed, err := ts.refresh(ctx, ts.creds.RefreshToken)
	if err != nil {
		return "", err
	}

	ts.creds = refreshed
	if err := ts.file.Save(refreshed); err != nil {
		// The token is usable either way; losing the write only means
		// refreshing again next process start
		ts.log.Warnw("Failed to persist refreshed credentials", "error", err)
	}

	ts.log.Debugw("Access token refreshed", "expires_at", refreshed.ExpiresAt)
	return refreshed.AccessToken, nil
}

// refresh performs the OAuth refresh-token grant
func (ts *RefreshingTokenSource) refresh(ctx context.Context, refreshToken string) (*Credentials, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)
	form.Set("client_id", ts.clientID)
	form.Set("client_secret", ts.clientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ts.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, errors.Wrap(errors.ErrAuth, errors.Wrap(err, "build refresh request").Error())
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := ts.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(errors.ErrAuth, errors.Wrap(err, "refresh request").Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Wrapf(errors.ErrAuth, "token refresh rejected (status %d)", resp.StatusCode)
	}

	var body struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, errors.Wrap(errors.ErrAuth, errors.Wrap(err, "parse refresh response").Error())
	}
	if body.AccessToken == "" {
		return nil, errors.Wrapf(errors.ErrAuth, "refresh response carried no access token")
	}

	creds := &Credentials{
		AccessToken:  body.AccessToken,
		RefreshToken: body.RefreshToken,
		ExpiresAt:    time.Now().Add(time.Duration(body.ExpiresIn) * time.Second),
	}
	if creds.RefreshToken == "" {
		// Platform kept the old refresh token alive
		creds.RefreshToken = refreshToken
	}
	return creds, nil
}
