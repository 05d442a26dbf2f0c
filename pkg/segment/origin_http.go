package segment

import (
	"context"
	"io"
	"net/http"

	"github.com/aminofox/hlsproxy/pkg/errors"
	"github.com/aminofox/hlsproxy/pkg/logger"
)

// HTTPFetcher is the default OriginFetcher: a plain net/http GET with
// forwarded headers and an optional Range header.
type HTTPFetcher struct {
	Client *http.Client
	Logger logger.Logger
}

// NewHTTPFetcher creates an HTTPFetcher. A nil client defaults to
// http.DefaultClient; per-request deadlines come from the context the
// caller passes to Fetch, not from the client itself.
func NewHTTPFetcher(client *http.Client, log logger.Logger) *HTTPFetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPFetcher{Client: client, Logger: log}
}

// Fetch implements OriginFetcher.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string, headers map[string]string, br ByteRange) (Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Result{}, errors.NewBadRequest("malformed upstream url")
	}

	for name, value := range headers {
		req.Header.Set(name, value)
	}
	if rng := br.RangeHeader(); rng != "" {
		req.Header.Set("Range", rng)
	}

	resp, err := f.Client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, errors.NewGatewayTimeout("upstream fetch timed out", err)
		}
		return Result{}, errors.WrapUpstream(0, "upstream fetch failed", err)
	}

	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		prefix, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Result{}, errors.WrapUpstream(resp.StatusCode, string(prefix), nil)
	}

	return Result{
		Body:        resp.Body,
		Status:      resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
	}, nil
}
