// Package httpclient provides the HTTP client used for platform API calls.
package httpclient

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/postpipe/postpipe/errors"
)

const defaultMaxRedirects = 5

// New creates an HTTP client for platform API calls.
//
// Per-request deadlines come from the caller's context (the dispatcher
// applies its publish timeout there), so the client itself carries no
// overall timeout; connect and TLS handshake are still bounded by the
// transport settings below.
func New() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:          10,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= defaultMaxRedirects {
				return errors.Newf("stopped after %d redirects", defaultMaxRedirects)
			}
			if err := validateURL(req.URL); err != nil {
				return errors.Wrap(err, "redirect blocked")
			}
			return nil
		},
	}
}

// ValidateBaseURL checks that a configured API base URL is usable.
func ValidateBaseURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return errors.Wrapf(err, "invalid base URL %q", raw)
	}
	if u.Host == "" {
		return errors.Newf("base URL %q has no host", raw)
	}
	return validateURL(u)
}

func validateURL(u *url.URL) error {
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return errors.Newf("scheme %q not allowed", scheme)
	}
	if u.User != nil {
		return errors.New("URL must not carry credentials")
	}
	return nil
}
