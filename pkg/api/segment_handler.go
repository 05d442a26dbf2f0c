package api

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/aminofox/hlsproxy/pkg/decrypt"
	"github.com/aminofox/hlsproxy/pkg/errors"
	"github.com/aminofox/hlsproxy/pkg/initcache"
	"github.com/aminofox/hlsproxy/pkg/logger"
	"github.com/aminofox/hlsproxy/pkg/proxyparams"
	"github.com/aminofox/hlsproxy/pkg/segment"
)

// handleSegment serves GET /segment: fetches one media segment and,
// when m names a decrypt method, unprotects it before responding.
// Segments with no m pass through untouched.
func (s *Server) handleSegment(w http.ResponseWriter, r *http.Request) {
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

	br, err := parseByteRangeParam(q.Get("br"))
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.segmentTimeout)
	defer cancel()

	result, err := s.fetcher.Fetch(ctx, upstreamURL, headers, br)
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	defer result.Body.Close()

	body, err := io.ReadAll(io.LimitReader(result.Body, s.maxSegmentBytes))
	if err != nil {
		writeError(w, r, s.logger, errors.NewGatewayTimeout("failed reading upstream segment", err))
		return
	}

	method := q.Get("m")
	if method == "" {
		s.writeSegmentBody(w, result.ContentType, q.Get("f"), body)
		return
	}

	keys, err := proxyparams.ParseKeys(q.Get("k"))
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	iv, err := proxyparams.ParseIV(q.Get("iv"))
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}

	var initSegment []byte
	if initURL := q.Get("init"); initURL != "" {
		initBR, err := parseByteRangeParam(q.Get("init_br"))
		if err != nil {
			writeError(w, r, s.logger, err)
			return
		}
		initSegment, err = s.fetchInitSegment(ctx, initURL, headers, initBR)
		if err != nil {
			writeError(w, r, s.logger, err)
			return
		}
	}

	plaintext, err := decrypt.Decrypt(decrypt.Request{
		Method:      decrypt.Method(method),
		Format:      decrypt.Format(q.Get("f")),
		Data:        body,
		Keys:        keys,
		IV:          iv,
		InitSegment: initSegment,
	})
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}

	s.writeSegmentBody(w, result.ContentType, q.Get("f"), plaintext)

	s.logger.Info("served segment",
		logger.String("request_id", RequestID(r)),
		logger.String("url", upstreamURL),
		logger.String("method", method),
	)
}

func (s *Server) fetchInitSegment(ctx context.Context, initURL string, headers map[string]string, br segment.ByteRange) ([]byte, error) {
	key := initcache.Key(initURL, br.RangeHeader())
	return s.cache.Get(ctx, key, func(ctx context.Context) ([]byte, error) {
		result, err := s.fetcher.Fetch(ctx, initURL, headers, br)
		if err != nil {
			return nil, err
		}
		defer result.Body.Close()
		return io.ReadAll(io.LimitReader(result.Body, s.maxSegmentBytes))
	})
}

// writeSegmentBody responds with body, preferring the upstream's own
// Content-Type (decryption changes bytes, not container) and falling
// back to a guess from the "f" format hint, then octet-stream.
func (s *Server) writeSegmentBody(w http.ResponseWriter, upstreamContentType, format string, body []byte) {
	ct := upstreamContentType
	if ct == "" {
		ct = contentTypeForFormat(format)
	}
	w.Header().Set("Content-Type", ct)
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

func contentTypeForFormat(format string) string {
	switch format {
	case "mp4":
		return "video/mp4"
	case "aac":
		return "audio/aac"
	case "ts":
		return "video/mp2t"
	default:
		return "application/octet-stream"
	}
}

// parseByteRangeParam parses the "br"/"init_br" query grammar,
// "length@offset". An empty string yields the zero ByteRange.
func parseByteRangeParam(raw string) (segment.ByteRange, error) {
	if raw == "" {
		return segment.ByteRange{}, nil
	}

	idx := strings.IndexByte(raw, '@')
	if idx < 0 {
		return segment.ByteRange{}, errors.NewBadRequest("byte range parameter must be length@offset")
	}

	length, err := strconv.ParseUint(raw[:idx], 10, 64)
	if err != nil {
		return segment.ByteRange{}, errors.NewBadRequest("byte range length is not a number")
	}
	offset, err := strconv.ParseUint(raw[idx+1:], 10, 64)
	if err != nil {
		return segment.ByteRange{}, errors.NewBadRequest("byte range offset is not a number")
	}

	return segment.ByteRange{Length: length, Offset: offset, Set: true}, nil
}
