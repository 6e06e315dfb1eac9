package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/kiranshivaraju/akhbar/internal/session"
	"github.com/kiranshivaraju/akhbar/pkg/models"
)

// Sentinel errors for backend client failures.
var (
	ErrBackendUnreachable = errors.New("backend unreachable")
	ErrBackendTimeout     = errors.New("backend request timeout")
	ErrBackendStatus      = errors.New("backend returned error status")
	ErrUnauthorized       = errors.New("backend rejected credentials")
	ErrMissingToken       = errors.New("missing authentication token")
	ErrMalformedProgress  = errors.New("malformed progress response")
	ErrInvalidSubmission  = errors.New("invalid submission")
)

// Client is the interface for the archive backend.
type Client interface {
	FetchProgress(ctx context.Context, jobID string) (*models.ProgressSnapshot, error)
	SubmitNewspaper(ctx context.Context, req SubmitRequest) (*SubmitResult, error)
	Login(ctx context.Context, email, password string) (*models.Session, error)
}

// HTTPClient implements Client over the backend's REST API.
type HTTPClient struct {
	baseURL string
	tokens  session.TokenSource
	client  *http.Client
	submit  *http.Client
}

// Option configures an HTTPClient.
type Option func(*HTTPClient)

// WithSubmitTimeout sets the timeout for the long-running multipart submission.
func WithSubmitTimeout(d time.Duration) Option {
	return func(c *HTTPClient) {
		if d > 0 {
			c.submit = &http.Client{Timeout: d}
		}
	}
}

// NewHTTPClient creates a backend client. timeout bounds every progress fetch.
func NewHTTPClient(baseURL string, tokens session.TokenSource, timeout time.Duration, opts ...Option) *HTTPClient {
	c := &HTTPClient{
		baseURL: baseURL,
		tokens:  tokens,
		client:  &http.Client{Timeout: timeout},
		submit:  &http.Client{Timeout: 5 * time.Minute},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// FetchProgress reads the current pipeline snapshot for jobID.
// It refuses to issue the request without a token.
func (c *HTTPClient) FetchProgress(ctx context.Context, jobID string) (*models.ProgressSnapshot, error) {
	if jobID == "" {
		return nil, fmt.Errorf("%w: empty job id", ErrMalformedProgress)
	}
	token, err := c.bearer()
	if err != nil {
		return nil, err
	}

	u := fmt.Sprintf("%s/ocr/progress/%s", c.baseURL, url.PathEscape(jobID))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+token)
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Cache-Control", "no-cache")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, classifyError(err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classifyError(err)
	}
	return decodeProgress(body)
}

// Login exchanges credentials for a session token.
func (c *HTTPClient) Login(ctx context.Context, email, password string) (*models.Session, error) {
	payload, err := json.Marshal(map[string]string{"email": email, "password": password})
	if err != nil {
		return nil, fmt.Errorf("encoding login request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/auth/login", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, classifyError(err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	var loginResp loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&loginResp); err != nil {
		return nil, fmt.Errorf("decoding login response: %w", err)
	}
	if loginResp.Token == "" {
		return nil, fmt.Errorf("%w: login response carried no token", ErrUnauthorized)
	}
	return &models.Session{Token: loginResp.Token, User: loginResp.User}, nil
}

func (c *HTTPClient) bearer() (string, error) {
	if c.tokens == nil {
		return "", ErrMissingToken
	}
	token, err := c.tokens.Token()
	if err != nil || token == "" {
		return "", fmt.Errorf("%w: %v", ErrMissingToken, err)
	}
	return token, nil
}

// checkStatus turns non-2xx responses into sentinel errors, keeping the server's message.
func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	msg := readErrorMessage(resp.Body)
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return fmt.Errorf("%w: status %d: %s", ErrUnauthorized, resp.StatusCode, msg)
	}
	if msg == "" {
		return fmt.Errorf("%w: status %d", ErrBackendStatus, resp.StatusCode)
	}
	return fmt.Errorf("%w: status %d: %s", ErrBackendStatus, resp.StatusCode, msg)
}

func readErrorMessage(r io.Reader) string {
	body, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil || len(body) == 0 {
		return ""
	}
	var e errorResponse
	if json.Unmarshal(body, &e) == nil {
		if e.Error != "" {
			return e.Error
		}
		if e.Message != "" {
			return e.Message
		}
	}
	return string(body)
}

// classifyError maps transport-level errors to sentinel errors.
func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrBackendTimeout, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrBackendTimeout, err)
	}

	return fmt.Errorf("%w: %v", ErrBackendUnreachable, err)
}

// IsTransient reports whether a fetch error may succeed on a later attempt.
func IsTransient(err error) bool {
	return err != nil && !errors.Is(err, ErrMissingToken) && !errors.Is(err, ErrInvalidSubmission)
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type loginResponse struct {
	Token string       `json:"token"`
	User  *models.User `json:"user"`
}

// Compile-time check that HTTPClient implements Client.
var _ Client = (*HTTPClient)(nil)
