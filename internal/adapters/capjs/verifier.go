// Package capjs validates tokens produced by a Cap.js proof-of-work widget.
//
// Self-hosted Cap deployments differ in where the validation route lives and
// which field carries the token, so the verifier walks an ordered list of
// candidates and accepts the first one that answers positively.
package capjs

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/iamwavecut/antispambot/internal/errors"
)

const (
	maxBodyBytes        = 64 << 10
	DefaultTotalTimeout = 20 * time.Second
)

// Doer is satisfied by *http.Client.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Attempt is one probe against the challenge service.
type Attempt struct {
	Method string
	Path   string
	// Field carries the token; empty for GET attempts which use ?token=.
	Field string
	// KeepFalse adds "keepToken": false so the service burns the token.
	KeepFalse bool
}

var (
	DefaultPaths = []string{
		"/validate",
		"/api/validate",
		"/verify",
		"/redeem",
		"/solutions/verify",
		"/solutions/redeem",
		"/solution/verify",
		"/solution/redeem",
		"/token/verify",
		"/api/verify",
		"/",
	}

	DefaultShapes = []Attempt{
		{Field: "token", KeepFalse: true},
		{Field: "captchaToken", KeepFalse: true},
		{Field: "solution", KeepFalse: true},
		{Field: "capToken", KeepFalse: true},
		{Field: "cap_token", KeepFalse: true},
		{Field: "token"},
		{Field: "solution"},
		{Field: "capToken"},
	}
)

// Plan expands paths and body shapes into the probe order: every POST shape
// for a path, then a GET with the token in the query string.
func Plan(paths []string, shapes []Attempt) []Attempt {
	plan := make([]Attempt, 0, len(paths)*(len(shapes)+1))
	for _, path := range paths {
		for _, shape := range shapes {
			shape.Method = http.MethodPost
			shape.Path = path
			plan = append(plan, shape)
		}
		plan = append(plan, Attempt{Method: http.MethodGet, Path: path})
	}
	return plan
}

type Verifier struct {
	client   Doer
	endpoint string
	timeout  time.Duration
	total    time.Duration
	plan     []Attempt
}

// NewVerifier bounds each probe by attemptTimeout and the whole walk by
// totalTimeout.
func NewVerifier(client Doer, endpoint string, attemptTimeout, totalTimeout time.Duration) *Verifier {
	if client == nil {
		client = http.DefaultClient
	}
	if totalTimeout <= 0 {
		totalTimeout = DefaultTotalTimeout
	}
	return &Verifier{
		client:   client,
		endpoint: strings.TrimRight(endpoint, "/"),
		timeout:  attemptTimeout,
		total:    totalTimeout,
		plan:     Plan(DefaultPaths, DefaultShapes),
	}
}

// WithPlan replaces the probe order.
func (v *Verifier) WithPlan(plan []Attempt) *Verifier {
	v.plan = plan
	return v
}

func (v *Verifier) getLogEntry() *log.Entry {
	return log.WithField("object", "CapVerifier")
}

// Verify returns nil once any candidate accepts the token. When all of them
// fail, or the total budget runs out, the error wraps ErrChallengeUnreachable
// and carries the last diagnostic. A path that times out is not probed again.
func (v *Verifier) Verify(ctx context.Context, token string) error {
	entry := v.getLogEntry().WithField("method", "Verify")
	if token == "" {
		return errors.ErrChallengeNotCompleted
	}

	ctx, cancel := context.WithTimeout(ctx, v.total)
	defer cancel()

	lastErr := fmt.Errorf("no candidates")
	deadPath := ""
	for i, attempt := range v.plan {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %w (last: %w)", errors.ErrChallengeUnreachable, err, lastErr)
		}
		if attempt.Path == deadPath {
			continue
		}
		ok, err := v.try(ctx, attempt, token)
		if ok {
			entry.WithField("path", attempt.Path).WithField("attempt", i+1).Debug("challenge token accepted")
			return nil
		}
		lastErr = fmt.Errorf("%s %s: %w", attempt.Method, attempt.Path, err)
		entry.WithField("attempt", i+1).Trace(lastErr.Error())
		if isTimeout(err) {
			deadPath = attempt.Path
		}
	}
	return fmt.Errorf("%w: %w", errors.ErrChallengeUnreachable, lastErr)
}

func isTimeout(err error) bool {
	if stderrors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return stderrors.As(err, &netErr) && netErr.Timeout()
}

func (v *Verifier) try(ctx context.Context, attempt Attempt, token string) (bool, error) {
	if v.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, v.timeout)
		defer cancel()
	}

	req, err := v.newRequest(ctx, attempt, token)
	if err != nil {
		return false, err
	}
	resp, err := v.client.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return false, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return false, fmt.Errorf("status %d", resp.StatusCode)
	}
	var body map[string]any
	if err := json.Unmarshal(raw, &body); err != nil {
		return false, fmt.Errorf("decode body: %w", err)
	}
	if !Accepted(body) {
		return false, fmt.Errorf("rejected: %s", raw)
	}
	return true, nil
}

func (v *Verifier) newRequest(ctx context.Context, attempt Attempt, token string) (*http.Request, error) {
	target := v.endpoint + attempt.Path
	if attempt.Method == http.MethodGet {
		return http.NewRequestWithContext(ctx, http.MethodGet, target+"?token="+url.QueryEscape(token), nil)
	}

	payload := map[string]any{attempt.Field: token}
	if attempt.KeepFalse {
		payload["keepToken"] = false
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

// Accepted reports whether a service response means the token is valid.
// Any top level field equal to true, 1 or "ok" counts, which covers the
// success, valid and ok flags used by the known deployments.
func Accepted(body map[string]any) bool {
	for _, val := range body {
		switch val := val.(type) {
		case bool:
			if val {
				return true
			}
		case float64:
			if val == 1 {
				return true
			}
		case string:
			if val == "ok" {
				return true
			}
		}
	}
	return false
}
