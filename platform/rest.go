package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/postpipe/postpipe/errors"
	"github.com/postpipe/postpipe/internal/httpclient"
)

// postsPath is the platform's post-creation endpoint, relative to the
// configured API base URL.
const postsPath = "/rest/posts"

// resultRefHeader carries the created post's reference on a 201
const resultRefHeader = "x-restli-id"

// RESTPublisher publishes opaque post payloads to the platform's HTTP
// API. It applies a client-side rate limit before every call so a
// burst of due jobs cannot trip the platform's abuse detection.
type RESTPublisher struct {
	client  *http.Client
	baseURL string
	limiter *rate.Limiter
	log     *zap.SugaredLogger
}

// NewRESTPublisher creates a publisher for the given API base URL.
// requestsPerMinute bounds outbound publish calls; values <= 0 disable
// client-side limiting.
func NewRESTPublisher(baseURL string, requestsPerMinute int, log *zap.SugaredLogger) (*RESTPublisher, error) {
	if err := httpclient.ValidateBaseURL(baseURL); err != nil {
		return nil, err
	}

	var limiter *rate.Limiter
	if requestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Limit(float64(requestsPerMinute)/60.0), requestsPerMinute)
	}

	return &RESTPublisher{
		client:  httpclient.New(),
		baseURL: strings.TrimRight(baseURL, "/"),
		limiter: limiter,
		log:     log.Named("publisher"),
	}, nil
}

// Publish forwards the payload verbatim to the platform. The payload's
// schema belongs to the platform, not to the engine.
func (p *RESTPublisher) Publish(ctx context.Context, payload json.RawMessage, token string) (string, error) {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			// Context expired while waiting for a slot
			return "", errors.Transient(err, "rate limit wait")
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+postsPath, bytes.NewReader(payload))
	if err != nil {
		return "", errors.Permanent(err, "build publish request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := p.client.Do(req)
	if err != nil {
		// Network errors and timeouts are expected to recover
		return "", errors.Transient(err, "publish request")
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		ref := resp.Header.Get(resultRefHeader)
		if ref == "" {
			ref = refFromBody(body)
		}
		if ref == "" {
			// Created but unreferenced; a retry would double-post
			return "", errors.Permanent(errors.New("response carried no post reference"), "publish")
		}
		p.log.Debugw("Post published", "result_ref", ref)
		return ref, nil

	case resp.StatusCode == http.StatusUnauthorized:
		return "", errors.Wrap(errors.ErrAuth, trimBody(body))

	case resp.StatusCode == http.StatusTooManyRequests:
		return "", errors.Transient(errors.Newf("platform rate limit (status %d)", resp.StatusCode), trimBody(body))

	case resp.StatusCode >= 500:
		return "", errors.Transient(errors.Newf("platform error (status %d)", resp.StatusCode), trimBody(body))

	default:
		// Remaining 4xx: the request itself is bad, retrying cannot help
		return "", errors.Permanent(errors.Newf("platform rejected post (status %d)", resp.StatusCode), trimBody(body))
	}
}

// refFromBody pulls an "id" field out of a JSON response body
func refFromBody(body []byte) string {
	var parsed struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return ""
	}
	return parsed.ID
}

func trimBody(body []byte) string {
	const max = 200
	s := strings.TrimSpace(string(body))
	if len(s) > max {
		s = s[:max]
	}
	if s == "" {
		s = "publish failed"
	}
	return s
}
