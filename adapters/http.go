package adapters

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/go-playground/validator/v10"

	"github.com/brettbedarf/ramfs"
	"github.com/brettbedarf/ramfs/internal/util"
)

type HTTPMethod = string

const (
	HTTPMethodGet  HTTPMethod = "GET"
	HTTPMethodPost HTTPMethod = "POST"
)

// MaxHTTPContent caps how much of a response body becomes file content
const MaxHTTPContent = 64 << 20

// HTTPClient is the subset of *http.Client used by HTTPSource
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTPSource contains http-specific source request fields
type HTTPSource struct {
	URL     string            `json:"url" validate:"required,http_url"`
	Method  *HTTPMethod       `json:"method,omitempty" validate:"omitempty,oneof=GET POST"` // Default is GET
	Headers map[string]string `json:"headers,omitempty"`
	Retries *uint             `json:"retries,omitempty" validate:"omitempty,lte=10"` // Attempts after the first (Default 2)

	client HTTPClient
}

const defaultHTTPRetries = 2

var validate = validator.New()

// NewHTTPSource parses and validates an http source entry
func NewHTTPSource(raw []byte, client HTTPClient) (*HTTPSource, error) {
	var src HTTPSource
	if err := json.Unmarshal(raw, &src); err != nil {
		return nil, err
	}
	src.URL = strings.TrimSpace(src.URL)
	if err := validate.Struct(&src); err != nil {
		return nil, fmt.Errorf("invalid http source: %w", err)
	}
	if strings.Contains(strings.SplitN(strings.SplitN(src.URL, "://", 2)[1], "/", 2)[0], "@") {
		return nil, errors.New("invalid http source: credentials in URL are not allowed, use headers")
	}
	if client == nil {
		client = http.DefaultClient
	}
	src.client = client
	return &src, nil
}

func RegisterHTTP() {
	Register(HTTPSourceType, func(raw []byte) (ramfs.ContentSource, error) {
		return NewHTTPSource(raw, nil)
	})
}

// statusError is a non-2xx response; only 5xx is retried
type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected HTTP status %d %s", e.code, http.StatusText(e.code))
}

func retryable(err error) bool {
	if !retry.IsRecoverable(err) {
		return false
	}
	var se *statusError
	if errors.As(err, &se) {
		return se.code >= 500
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

func (h *HTTPSource) newRequest(ctx context.Context) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, h.method(), h.URL, nil)
	if err != nil {
		return nil, err
	}

	// Add custom headers
	for k, v := range h.Headers {
		req.Header.Set(k, v)
	}

	return req, nil
}

// Fetch downloads the whole body, retrying network errors and 5xx responses
func (h *HTTPSource) Fetch(ctx context.Context) ([]byte, error) {
	logger := util.GetLogger("HTTPSource.Fetch")

	retries := uint(defaultHTTPRetries)
	if h.Retries != nil {
		retries = *h.Retries
	}
	return retry.DoWithData(
		func() ([]byte, error) { return h.fetchOnce(ctx) },
		retry.Attempts(retries+1),
		retry.Delay(100*time.Millisecond),
		retry.MaxDelay(2*time.Second),
		retry.DelayType(retry.BackOffDelay),
		retry.RetryIf(retryable),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			logger.Debug().Str("url", h.URL).Uint("attempt", n+1).Err(err).Msg("Fetch failed, retrying")
		}),
	)
}

func (h *HTTPSource) fetchOnce(ctx context.Context) ([]byte, error) {
	req, err := h.newRequest(ctx)
	if err != nil {
		return nil, retry.Unrecoverable(err)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &statusError{code: resp.StatusCode}
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxHTTPContent+1))
	if err != nil {
		return nil, err
	}
	if len(data) > MaxHTTPContent {
		return nil, retry.Unrecoverable(fmt.Errorf("%s: %w", h.URL, ramfs.ErrFileTooLarge))
	}
	return data, nil
}

func (h *HTTPSource) method() HTTPMethod {
	if h.Method != nil {
		return *h.Method
	}
	return HTTPMethodGet
}
