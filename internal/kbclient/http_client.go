package kbclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

const tracerName = "github.com/aistant/aistdoc/internal/kbclient"

// RemoteClient is the request/response contract of the knowledge-base
// service. Lookups report a miss through the boolean result, never through
// the error.
type RemoteClient interface {
	GetKnowledgeBase(ctx context.Context, moniker string) (KnowledgeBase, bool, error)
	ListDocumentTree(ctx context.Context, kb KnowledgeBase) ([]Document, error)
	GetNodeByURI(ctx context.Context, kbID, uri string) (Node, bool, error)
	GetNodeByID(ctx context.Context, id string) (Node, error)
	CreateNode(ctx context.Context, node Node) (Node, error)
	CreateVersion(ctx context.Context, node Node) (Node, error)
	UpdateLastVersion(ctx context.Context, node Node) (Node, error)
	PublishNode(ctx context.Context, node Node) (Node, error)
}

type Endpoints struct {
	Articles string
	Docs     string
	Public   string
}

func DefaultEndpoints() Endpoints {
	return Endpoints{
		Articles: "1.0/articles",
		Docs:     "1.0/docs",
		Public:   "1.0/public",
	}
}

type HTTPClientOptions struct {
	BaseURL       string
	Team          string
	Endpoints     Endpoints
	TokenProvider AccessTokenProvider
	HTTPClient    *http.Client
	UserAgent     string
	MaxRetries    int
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	Logger        *zap.Logger
}

type HTTPClient struct {
	baseURL       string
	team          string
	endpoints     Endpoints
	tokenProvider AccessTokenProvider
	httpClient    *http.Client
	userAgent     string
	maxRetries    int
	baseDelay     time.Duration
	maxDelay      time.Duration
	logger        *zap.Logger
}

var _ RemoteClient = (*HTTPClient)(nil)

func NewHTTPClient(opts HTTPClientOptions) *HTTPClient {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = "https://api.aistant.com"
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	defaults := DefaultEndpoints()
	endpoints := opts.Endpoints
	if strings.TrimSpace(endpoints.Articles) == "" {
		endpoints.Articles = defaults.Articles
	}
	if strings.TrimSpace(endpoints.Docs) == "" {
		endpoints.Docs = defaults.Docs
	}
	if strings.TrimSpace(endpoints.Public) == "" {
		endpoints.Public = defaults.Public
	}
	maxRetries := opts.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	baseDelay := opts.BaseDelay
	if baseDelay <= 0 {
		baseDelay = 100 * time.Millisecond
	}
	maxDelay := opts.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 2 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPClient{
		baseURL:       baseURL,
		team:          strings.TrimSpace(opts.Team),
		endpoints:     endpoints,
		tokenProvider: opts.TokenProvider,
		httpClient:    httpClient,
		userAgent:     strings.TrimSpace(opts.UserAgent),
		maxRetries:    maxRetries,
		baseDelay:     baseDelay,
		maxDelay:      maxDelay,
		logger:        logger,
	}
}

func (c *HTTPClient) GetKnowledgeBase(ctx context.Context, moniker string) (KnowledgeBase, bool, error) {
	requestPath := joinPath(c.endpoints.Public, url.PathEscape(c.team), "kbs", url.PathEscape(moniker))
	var out KnowledgeBase
	found, err := c.doJSON(ctx, "GetKnowledgeBase", http.MethodGet, requestPath, nil, &out)
	if StatusCode(err) == http.StatusNotFound {
		return KnowledgeBase{}, false, nil
	}
	if err != nil {
		return KnowledgeBase{}, false, err
	}
	if !found || out.ID == "" {
		return KnowledgeBase{}, false, nil
	}
	return out, true, nil
}

func (c *HTTPClient) ListDocumentTree(ctx context.Context, kb KnowledgeBase) ([]Document, error) {
	requestPath := joinPath(c.endpoints.Docs, "index", url.PathEscape(kb.Moniker), "all")
	var out DocumentPage
	if _, err := c.doJSON(ctx, "ListDocumentTree", http.MethodGet, requestPath, nil, &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

func (c *HTTPClient) GetNodeByURI(ctx context.Context, kbID, uri string) (Node, bool, error) {
	q := url.Values{}
	q.Set("kb", kbID)
	q.Set("uri", uri)
	requestPath := joinPath(c.endpoints.Articles, "uri") + "?" + q.Encode()
	var out Node
	found, err := c.doJSON(ctx, "GetNodeByURI", http.MethodGet, requestPath, nil, &out)
	if StatusCode(err) == http.StatusNotFound {
		return Node{}, false, nil
	}
	if err != nil {
		return Node{}, false, err
	}
	if !found || out.ID == "" {
		return Node{}, false, nil
	}
	return out, true, nil
}

func (c *HTTPClient) GetNodeByID(ctx context.Context, id string) (Node, error) {
	if strings.TrimSpace(id) == "" {
		return Node{}, fmt.Errorf("node id is required")
	}
	var out Node
	found, err := c.doJSON(ctx, "GetNodeByID", http.MethodGet, joinPath(c.endpoints.Articles, url.PathEscape(id)), nil, &out)
	if err != nil {
		return Node{}, err
	}
	if !found {
		return Node{}, &HTTPError{Method: http.MethodGet, Path: id, StatusCode: http.StatusNotFound, Message: "empty response"}
	}
	return out, nil
}

func (c *HTTPClient) CreateNode(ctx context.Context, node Node) (Node, error) {
	var out Node
	if _, err := c.doJSON(ctx, "CreateNode", http.MethodPost, c.endpoints.Articles, node, &out); err != nil {
		return Node{}, err
	}
	return out, nil
}

// CreateVersion appends a version carrying node's content; the request
// announces lastVersion+1.
func (c *HTTPClient) CreateVersion(ctx context.Context, node Node) (Node, error) {
	node.LastVersion++
	return c.postVersion(ctx, "CreateVersion", node)
}

// UpdateLastVersion overwrites the latest version in place.
func (c *HTTPClient) UpdateLastVersion(ctx context.Context, node Node) (Node, error) {
	return c.postVersion(ctx, "UpdateLastVersion", node)
}

func (c *HTTPClient) postVersion(ctx context.Context, op string, node Node) (Node, error) {
	if strings.TrimSpace(node.ID) == "" {
		return Node{}, fmt.Errorf("%s: node id is required", op)
	}
	var out Node
	if _, err := c.doJSON(ctx, op, http.MethodPost, joinPath(c.endpoints.Articles, url.PathEscape(node.ID), "versions"), node, &out); err != nil {
		return Node{}, err
	}
	return out, nil
}

func (c *HTTPClient) PublishNode(ctx context.Context, node Node) (Node, error) {
	if strings.TrimSpace(node.ID) == "" {
		return Node{}, fmt.Errorf("PublishNode: node id is required")
	}
	var out Node
	if _, err := c.doJSON(ctx, "PublishNode", http.MethodPost, joinPath(c.endpoints.Articles, url.PathEscape(node.ID), "publish"), node, &out); err != nil {
		return Node{}, err
	}
	return out, nil
}

// doJSON performs one API call and decodes a 2xx body into out. The
// boolean reports whether a non-empty body was decoded. Only GETs are
// retried; a repeated POST could create a duplicate node or version.
func (c *HTTPClient) doJSON(ctx context.Context, op, method, requestPath string, body any, out any) (bool, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "kbclient."+op)
	defer span.End()
	span.SetAttributes(
		attribute.String("http.method", method),
		attribute.String("kb.path", requestPath),
	)

	found, err := c.roundTrip(ctx, method, requestPath, body, out)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, op+" failed")
		if status := StatusCode(err); status != 0 {
			span.SetAttributes(attribute.Int("http.status_code", status))
		}
	}
	return found, err
}

func (c *HTTPClient) roundTrip(ctx context.Context, method, requestPath string, body any, out any) (bool, error) {
	if c.tokenProvider == nil {
		return false, &AuthError{Err: fmt.Errorf("token provider is required")}
	}
	token, err := c.tokenProvider(ctx)
	if err != nil {
		return false, err
	}
	var bodyBytes []byte
	if body != nil {
		bodyBytes, err = json.Marshal(body)
		if err != nil {
			return false, err
		}
	}
	retryable := method == http.MethodGet
	correlationID := uuid.NewString()
	fullURL := c.baseURL + "/" + strings.TrimLeft(requestPath, "/")

	for attempt := 0; ; attempt++ {
		var bodyReader io.Reader
		if bodyBytes != nil {
			bodyReader = bytes.NewReader(bodyBytes)
		}
		req, err := http.NewRequestWithContext(ctx, method, fullURL, bodyReader)
		if err != nil {
			return false, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Accept", "application/json")
		req.Header.Set("X-Correlation-Id", correlationID)
		if bodyBytes != nil {
			req.Header.Set("Content-Type", "application/json; charset=utf-8")
		}
		if c.userAgent != "" {
			req.Header.Set("User-Agent", c.userAgent)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if retryable && attempt < c.maxRetries {
				if waitErr := waitWithContext(ctx, c.retryDelay(attempt+1, "")); waitErr != nil {
					return false, waitErr
				}
				continue
			}
			return false, err
		}
		payloadBytes, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return false, readErr
		}

		if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
			if out == nil || len(bytes.TrimSpace(payloadBytes)) == 0 {
				return false, nil
			}
			if err := json.Unmarshal(payloadBytes, out); err != nil {
				return false, fmt.Errorf("decode %s %s: %w", method, requestPath, err)
			}
			return true, nil
		}

		if retryable && (resp.StatusCode == http.StatusTooManyRequests || (resp.StatusCode >= 500 && resp.StatusCode <= 599)) && attempt < c.maxRetries {
			c.logger.Debug("retrying knowledge base request",
				zap.String("method", method),
				zap.String("path", requestPath),
				zap.Int("status", resp.StatusCode),
				zap.Int("attempt", attempt+1))
			if waitErr := waitWithContext(ctx, c.retryDelay(attempt+1, resp.Header.Get("Retry-After"))); waitErr != nil {
				return false, waitErr
			}
			continue
		}

		var errPayload struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		_ = json.Unmarshal(payloadBytes, &errPayload)
		return false, &HTTPError{
			Method:     method,
			Path:       requestPath,
			StatusCode: resp.StatusCode,
			Code:       errPayload.Code,
			Message:    errPayload.Message,
			Body:       strings.TrimSpace(string(payloadBytes)),
		}
	}
}

func (c *HTTPClient) retryDelay(attempt int, retryAfterHeader string) time.Duration {
	if retryAfter := parseRetryAfter(retryAfterHeader); retryAfter > 0 {
		if retryAfter > c.maxDelay {
			return c.maxDelay
		}
		return retryAfter
	}
	delay := c.baseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= c.maxDelay {
			return c.maxDelay
		}
	}
	if delay > c.maxDelay {
		return c.maxDelay
	}
	return delay
}

func parseRetryAfter(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(header); err == nil && seconds >= 0 {
		return time.Duration(seconds) * time.Second
	}
	if ts, err := time.Parse(time.RFC1123, header); err == nil {
		delta := time.Until(ts)
		if delta > 0 {
			return delta
		}
	}
	return 0
}

func waitWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func joinPath(segments ...string) string {
	parts := make([]string, 0, len(segments))
	for _, segment := range segments {
		segment = strings.Trim(segment, "/")
		if segment != "" {
			parts = append(parts, segment)
		}
	}
	return "/" + strings.Join(parts, "/")
}
