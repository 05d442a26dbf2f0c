package api

import (
	"context"
	"io"
	"net/http"
	"strconv"

	"github.com/aminofox/hlsproxy/pkg/errors"
	"github.com/aminofox/hlsproxy/pkg/hls"
	"github.com/aminofox/hlsproxy/pkg/logger"
	"github.com/aminofox/hlsproxy/pkg/proxyparams"
	"github.com/aminofox/hlsproxy/pkg/segment"
)

// handleManifest serves GET /manifest: fetches the upstream playlist
// named by url, rewrites every URI it carries to a proxied form, and
// returns the rewritten text.
func (s *Server) handleManifest(w http.ResponseWriter, r *http.Request) {
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

	if k := q.Get("k"); k != "" {
		if _, err := hls.DecodeKeysForURL(k); err != nil {
			writeError(w, r, s.logger, err)
			return
		}
	}

	var decrypt *bool
	if v := q.Get("decrypt"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, r, s.logger, errors.NewBadRequest("decrypt parameter is not a boolean"))
			return
		}
		decrypt = &b
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.manifestTimeout)
	defer cancel()

	result, err := s.fetcher.Fetch(ctx, upstreamURL, headers, segment.ByteRange{})
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	defer result.Body.Close()

	body, err := io.ReadAll(io.LimitReader(result.Body, s.maxSegmentBytes))
	if err != nil {
		writeError(w, r, s.logger, errors.NewGatewayTimeout("failed reading upstream manifest", err))
		return
	}

	rewritten, err := hls.Rewrite(string(body), hls.RewriteContext{
		ProxyBaseURL:       s.externalURL,
		ManifestURL:        upstreamURL,
		ManifestHeadersRaw: q.Get("h"),
		SegmentHeadersRaw:  q.Get("sh"),
		KeysRaw:            q.Get("k"),
		Decrypt:            decrypt,
	})
	if err != nil {
		writeError(w, r, s.logger, errors.NewInternal("failed to rewrite playlist", err))
		return
	}

	w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, rewritten)

	s.logger.Info("served manifest",
		logger.String("request_id", RequestID(r)),
		logger.String("url", upstreamURL),
	)
}
