// Package analyzer is the JSON-over-HTTP stub to the out-of-process
// Analyzer service: readiness probe, analyze request, response parsing.
package analyzer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/pmdminer/pmdminer/internal/logging"
	"github.com/pmdminer/pmdminer/internal/model"
)

// ErrUnreachable means the readiness probe exhausted its deadline (spec's
// AnalyzerUnreachable).
var ErrUnreachable = errors.New("analyzer unreachable")

// ErrProtocol means the Analyzer answered with an unexpected status code
// (spec's AnalyzerProtocolError).
var ErrProtocol = errors.New("analyzer protocol error")

// ErrInternal means the Analyzer answered HTTP 500 with an {"error": ...}
// body (spec's AnalyzerInternalError). Never retried.
var ErrInternal = errors.New("analyzer internal error")

const (
	defaultRequestTimeout = 10 * time.Minute
	maxTransportRetries   = 2
)

var transportRetryBackoff = []time.Duration{500 * time.Millisecond, 2 * time.Second}

// Client talks to a single, long-lived Analyzer service instance.
type Client struct {
	endpoint string
	http     *http.Client
	l        logging.Logger
	proc     *exec.Cmd // set when the client also owns the Analyzer's lifecycle
}

// NewClient builds a Client for the Analyzer listening at endpoint (e.g.
// "http://127.0.0.1:8000").
func NewClient(endpoint string, l logging.Logger) *Client {
	return &Client{
		endpoint: strings.TrimRight(endpoint, "/"),
		http:     &http.Client{Timeout: defaultRequestTimeout},
		l:        l,
	}
}

// AttachProcess records the sibling Analyzer process the batch driver
// launched, so Close can signal it to exit on cancellation (spec §4.E,
// cancellation step d).
func (c *Client) AttachProcess(proc *exec.Cmd) {
	c.proc = proc
}

// Close signals the attached Analyzer process, if any, to exit.
func (c *Client) Close() error {
	if c.proc == nil || c.proc.Process == nil {
		return nil
	}
	return c.proc.Process.Signal(syscall.SIGTERM)
}

// WaitReady polls the Analyzer endpoint with exponential back-off until a
// TCP connection succeeds or deadline elapses. Dispatching a job before
// WaitReady returns is a programming error.
func (c *Client) WaitReady(ctx context.Context, deadline time.Duration) error {
	host := c.hostPort()
	delay := 100 * time.Millisecond
	const maxDelay = 2 * time.Second

	deadlineAt := time.Now().Add(deadline)
	for {
		conn, err := net.DialTimeout("tcp", host, time.Second)
		if err == nil {
			conn.Close()
			return nil
		}
		if time.Now().After(deadlineAt) {
			return errors.Wrapf(ErrUnreachable, "endpoint %s not ready after %s", c.endpoint, deadline)
		}
		select {
		case <-ctx.Done():
			return errors.Wrap(ErrUnreachable, ctx.Err().Error())
		case <-time.After(delay):
		}
		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
}

func (c *Client) hostPort() string {
	u := c.endpoint
	u = strings.TrimPrefix(u, "http://")
	u = strings.TrimPrefix(u, "https://")
	if i := strings.Index(u, "/"); i >= 0 {
		u = u[:i]
	}
	return u
}

// analyzeRequest mirrors the Analyzer's POST /analyze body exactly
// (grounded on original_source/pmd-daemon's PmdDaemon.java).
type analyzeRequest struct {
	Path         string   `json:"path"`
	Ruleset      string   `json:"ruleset"`
	AuxClasspath string   `json:"auxClasspath,omitempty"`
	Files        []string `json:"files,omitempty"`
}

type analyzeResponse struct {
	Files []analyzeFileReportFlex `json:"files"`
}

// analyzeFileReportFlex tolerates the Analyzer's two observed per-file key
// spellings ("filename" and "file") without a second response type.
type analyzeFileReportFlex struct {
	Name       string          `json:"filename"`
	AltName    string          `json:"file"`
	Violations []pmdViolation  `json:"violations"`
}

type pmdViolation struct {
	Rule        string `json:"rule"`
	Priority    int    `json:"priority"`
	Severity    string `json:"severity"`
	BeginLine   int    `json:"beginline"`
	EndLine     int    `json:"endline"`
	BeginColumn int    `json:"begincolumn"`
	EndColumn   int    `json:"endcolumn"`
	Description string `json:"description"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Analyze sends the cache-miss set to the Analyzer and returns the findings
// it produced, grouped by worktree-relative file path. An empty files slice
// means "analyze the whole repoRootPath tree".
func (c *Client) Analyze(ctx context.Context, repoRootPath, rulesetPath, auxClasspath string, files []string) (map[string][]model.Finding, error) {
	reqBody, err := json.Marshal(analyzeRequest{
		Path:         repoRootPath,
		Ruleset:      rulesetPath,
		AuxClasspath: auxClasspath,
		Files:        files,
	})
	if err != nil {
		return nil, err
	}

	requestID := uuid.New().String()
	resp, err := c.postWithRetry(ctx, reqBody, requestID)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrapf(ErrProtocol, "request %s: reading response: %v", requestID, err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
		var parsed analyzeResponse
		if err := json.Unmarshal(body, &parsed); err != nil {
			return nil, errors.Wrapf(ErrProtocol, "request %s: malformed response: %v", requestID, err)
		}
		return toFindings(parsed, repoRootPath), nil
	case http.StatusInternalServerError:
		var e errorResponse
		_ = json.Unmarshal(body, &e)
		excerpt := e.Error
		if len(excerpt) > 500 {
			excerpt = excerpt[:500] + "..."
		}
		return nil, errors.Wrapf(ErrInternal, "request %s: %s", requestID, excerpt)
	default:
		return nil, errors.Wrapf(ErrProtocol, "request %s: unexpected status %d", requestID, resp.StatusCode)
	}
}

// postWithRetry retries connection-level failures up to maxTransportRetries
// times, waiting the successive delays in transportRetryBackoff (500 ms,
// then 2 s); an HTTP 500 from the Analyzer is never
// retried, per spec §4.C.
func (c *Client) postWithRetry(ctx context.Context, body []byte, requestID string) (*http.Response, error) {
	var lastErr error
	for attempt := 0; attempt <= maxTransportRetries; attempt++ {
		if attempt > 0 {
			c.l.Warnf("request %s: transport error, retrying (attempt %d): %v", requestID, attempt, lastErr)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(transportRetryBackoff[attempt-1]):
			}
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/analyze", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Request-Id", requestID)

		resp, err := c.http.Do(req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !isTransportError(err) {
			return nil, err
		}
	}
	return nil, errors.Wrapf(ErrProtocol, "request %s: exhausted retries: %v", requestID, lastErr)
}

func isTransportError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "EOF") ||
		strings.Contains(msg, "timeout")
}

func toFindings(resp analyzeResponse, repoRootPath string) map[string][]model.Finding {
	out := map[string][]model.Finding{}
	for _, file := range resp.Files {
		raw := file.Name
		if raw == "" {
			raw = file.AltName
		}
		name := relativizeFilename(raw, repoRootPath)
		findings := make([]model.Finding, 0, len(file.Violations))
		for _, v := range file.Violations {
			findings = append(findings, model.Finding{
				RuleName:    v.Rule,
				Priority:    v.Priority,
				Severity:    v.Severity,
				File:        name,
				BeginLine:   v.BeginLine,
				EndLine:     v.EndLine,
				BeginColumn: v.BeginColumn,
				EndColumn:   v.EndColumn,
				Description: v.Description,
			})
		}
		out[name] = findings
	}
	return out
}

// relativizeFilename undoes the Analyzer's Path.of(path).resolve(rel)
// construction (PmdDaemon.java), which reports each file keyed by its
// absolute worktree path. The job merge step keys everything by the
// worktree-relative, slash-separated path it dispatched, so every
// response filename must be normalized the same way or every lookup
// misses.
func relativizeFilename(raw, repoRootPath string) string {
	if raw == "" {
		return raw
	}
	rel, err := filepath.Rel(repoRootPath, raw)
	if err != nil || strings.HasPrefix(rel, "..") {
		rel = raw
	}
	return filepath.ToSlash(rel)
}

// LaunchSibling starts the Analyzer as a sibling process, matching spec §2
// ("The Analyzer is launched as a sibling process before the pipeline
// begins"). The returned *exec.Cmd should be passed to AttachProcess.
func LaunchSibling(ctx context.Context, command string, args []string) (*exec.Cmd, error) {
	cmd := exec.CommandContext(ctx, command, args...)
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to launch analyzer %q: %w", command, err)
	}
	return cmd, nil
}
