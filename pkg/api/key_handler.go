package api

import (
	"context"
	"io"
	"net/http"

	"github.com/aminofox/hlsproxy/pkg/errors"
	"github.com/aminofox/hlsproxy/pkg/proxyparams"
	"github.com/aminofox/hlsproxy/pkg/segment"
)

// handleKey serves GET /key: fetches an AES-128 key blob from the
// upstream key server and streams it back unmodified. AES-128 key
// bytes never pass through the decrypt dispatcher; players apply them
// natively.
func (s *Server) handleKey(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	upstreamURL := q.Get("url")
	if upstreamURL == "" {
		writeError(w, r, s.logger, errors.NewBadRequest("missing required url parameter"))
		return
	}

	headers, err := proxyparams.DecodeHeaders(q.Get("h"))
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.segmentTimeout)
	defer cancel()

	result, err := s.fetcher.Fetch(ctx, upstreamURL, headers, segment.ByteRange{})
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	defer result.Body.Close()

	body, err := io.ReadAll(io.LimitReader(result.Body, 1<<20))
	if err != nil {
		writeError(w, r, s.logger, errors.NewGatewayTimeout("failed reading upstream key", err))
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}
