package formats

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/aiserve/modelrouter/internal/descriptor"
	"github.com/aiserve/modelrouter/internal/loader"
	"github.com/aiserve/modelrouter/internal/routererr"
)

// APILoader binds the "api" format to a remote HTTP inference endpoint.
// Grounded on internal/providers/cloudflare.go's CloudflareProvider: a
// baseURL + bearer/api_key auth + JSON request/response shape, generalized
// from one hardcoded vendor to whatever descriptor.ProviderConfig names.
type APILoader struct {
	// Transport is the shared base transport every provider client pools
	// connections on; defaults to http.DefaultTransport.
	Transport http.RoundTripper
	// AuthSecret resolves the bearer/api_key credential for a descriptor,
	// keeping secrets out of the descriptor itself (catalog-loaded at
	// startup, not persisted in the registry journal).
	AuthSecret func(d descriptor.Descriptor) string
}

// NewAPILoader returns an APILoader with a sane default client timeout,
// mirroring the 120s timeout CloudflareProvider used for slow inference calls.
func NewAPILoader(authSecret func(d descriptor.Descriptor) string) *APILoader {
	return &APILoader{Transport: http.DefaultTransport, AuthSecret: authSecret}
}

func (l *APILoader) Supports(format descriptor.Format) bool {
	return format == descriptor.FormatAPI
}

func (l *APILoader) Load(ctx context.Context, d descriptor.Descriptor) (loader.Handle, error) {
	if strings.TrimSpace(d.Provider.BaseURL) == "" {
		return nil, routererr.New(routererr.KindValidation, "api-format model \""+d.ID+"\" is missing provider_config.base_url")
	}
	transport := l.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	var secret string
	if l.AuthSecret != nil {
		secret = l.AuthSecret(d)
	}
	client := &http.Client{
		Timeout:   120 * time.Second,
		Transport: &authTransport{base: transport, kind: d.Provider.AuthKind, secret: secret},
	}
	return &apiHandle{
		id:       d.ID,
		cfg:      d.Provider,
		client:   client,
		lastUsed: time.Now(),
	}, nil
}

// authTransport attaches the resolved credential as the appropriate header
// per descriptor.AuthKind, keeping apiHandle itself ignorant of auth.
type authTransport struct {
	base   http.RoundTripper
	kind   descriptor.AuthKind
	secret string
}

func (t *authTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.secret != "" {
		switch t.kind {
		case descriptor.AuthKindBearer:
			req.Header.Set("Authorization", "Bearer "+t.secret)
		case descriptor.AuthKindAPIKey:
			req.Header.Set("X-API-Key", t.secret)
		}
	}
	return t.base.RoundTrip(req)
}

type apiHandle struct {
	mu       sync.Mutex
	id       string
	cfg      descriptor.ProviderConfig
	client   *http.Client
	lastUsed time.Time
}

func (h *apiHandle) ID() string { return h.id }

func (h *apiHandle) touch() {
	h.mu.Lock()
	h.lastUsed = time.Now()
	h.mu.Unlock()
}

type apiWireRequest struct {
	Prompt      string  `json:"prompt,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
	Stream      bool    `json:"stream,omitempty"`
}

type apiWireResponse struct {
	Success bool `json:"success"`
	Errors  []struct {
		Message string `json:"message"`
	} `json:"errors"`
	Result struct {
		Response string `json:"response"`
		Text     string `json:"text"`
		Usage    struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
		} `json:"usage"`
	} `json:"result"`
}

func (h *apiHandle) Generate(ctx context.Context, req loader.Request) (loader.Result, error) {
	h.touch()

	body, err := json.Marshal(apiWireRequest{
		Prompt:      req.Prompt,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	})
	if err != nil {
		return loader.Result{}, routererr.Wrap(routererr.KindInternal, "marshal api request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.cfg.BaseURL, bytes.NewReader(body))
	if err != nil {
		return loader.Result{}, routererr.Wrap(routererr.KindInternal, "build api request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(httpReq)
	if err != nil {
		return loader.Result{}, routererr.Wrap(routererr.KindTransientBackend, "api request for \""+h.id+"\" failed", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return loader.Result{}, routererr.Wrap(routererr.KindTransientBackend, "read api response", err)
	}

	if resp.StatusCode >= 500 {
		return loader.Result{}, routererr.New(routererr.KindTransientBackend, fmt.Sprintf("api backend returned %d: %s", resp.StatusCode, respBody))
	}
	if resp.StatusCode >= 400 {
		return loader.Result{}, routererr.New(routererr.KindPermanentBackend, fmt.Sprintf("api backend returned %d: %s", resp.StatusCode, respBody))
	}

	var wire apiWireResponse
	if err := json.Unmarshal(respBody, &wire); err != nil {
		return loader.Result{}, routererr.Wrap(routererr.KindTransientBackend, "parse api response", err)
	}
	if !wire.Success {
		msg := "api backend reported failure"
		if len(wire.Errors) > 0 {
			msg = wire.Errors[0].Message
		}
		return loader.Result{}, routererr.New(routererr.KindPermanentBackend, msg)
	}

	text := wire.Result.Response
	if text == "" {
		text = wire.Result.Text
	}
	return loader.Result{
		Text:         text,
		Tokens:       wire.Result.Usage.PromptTokens + wire.Result.Usage.CompletionTokens,
		FinishReason: "stop",
	}, nil
}

// Stream is not supported by the generic API loader; most remote providers
// require a different SSE/NDJSON negotiation per vendor that is out of
// scope for the closed api format (single HTTP POST/response contract).
func (h *apiHandle) Stream(ctx context.Context, req loader.Request) (<-chan loader.Chunk, error) {
	return nil, routererr.New(routererr.KindCapabilityUnavailable, "api-format model \""+h.id+"\" does not support streaming")
}

func (h *apiHandle) Close(ctx context.Context) error { return nil }

func (h *apiHandle) LastUsedAt() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastUsed
}

