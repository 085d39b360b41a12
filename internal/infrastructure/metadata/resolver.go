package metadata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/chainmirror/backend/internal/infrastructure/config"
)

// maxDocumentSize caps a single metadata document. Gateways serve arbitrary
// content and a series URI is attacker-controlled.
const maxDocumentSize = 1 << 20

// Resolver fetches series metadata documents from a content-addressed
// gateway. Resolution is best-effort: a series whose document cannot be
// fetched is still served, with empty metadata.
type Resolver struct {
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

// NewResolver creates a resolver against the configured gateway.
func NewResolver(cfg config.MetadataConfig, logger *zap.Logger) *Resolver {
	base := cfg.GatewayBaseURL
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	return &Resolver{
		baseURL: base,
		client:  &http.Client{Timeout: cfg.FetchTimeout},
		logger:  logger.Named("metadata"),
	}
}

// Resolve fetches the document behind uri and returns it as raw JSON.
// Malformed URIs, transport failures, and non-JSON payloads all degrade to
// an empty document rather than an error.
func (r *Resolver) Resolve(ctx context.Context, uri string) json.RawMessage {
	if uri == "" {
		return emptyDocument()
	}

	target, err := r.rewrite(uri)
	if err != nil {
		r.logger.Debug("unresolvable metadata uri",
			zap.String("uri", uri),
			zap.Error(err))
		return emptyDocument()
	}

	doc, err := r.fetch(ctx, target)
	if err != nil {
		r.logger.Warn("metadata fetch failed",
			zap.String("uri", uri),
			zap.Error(err))
		return emptyDocument()
	}
	return doc
}

// rewrite maps a series URI onto a fetchable gateway URL. ipfs://<cid> goes
// through the configured gateway; http(s) URIs pass through unchanged.
func (r *Resolver) rewrite(uri string) (string, error) {
	if cid, ok := strings.CutPrefix(uri, "ipfs://"); ok {
		cid = strings.TrimPrefix(cid, "ipfs/")
		if cid == "" {
			return "", fmt.Errorf("empty ipfs path")
		}
		return r.baseURL + cid, nil
	}

	parsed, err := url.Parse(uri)
	if err != nil {
		return "", err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", fmt.Errorf("unsupported scheme %q", parsed.Scheme)
	}
	return uri, nil
}

func (r *Resolver) fetch(ctx context.Context, target string) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("gateway returned %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentSize))
	if err != nil {
		return nil, err
	}
	if !json.Valid(body) {
		return nil, fmt.Errorf("document is not valid JSON")
	}
	return json.RawMessage(body), nil
}

func emptyDocument() json.RawMessage {
	return json.RawMessage(`{}`)
}
