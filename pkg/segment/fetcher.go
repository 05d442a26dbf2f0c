// Package segment implements the outbound fetch path: byte-range
// requests against an upstream origin, forwarding client-supplied
// headers, and streaming the body back with a hard size cap.
package segment

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aminofox/hlsproxy/pkg/errors"
)

// ByteRange is an inclusive byte span, as parsed from a playlist's
// "len@off" notation.
type ByteRange struct {
	Length uint64
	Offset uint64
	Set    bool
}

// RangeHeader renders the byte range as an HTTP Range header value.
func (r ByteRange) RangeHeader() string {
	if !r.Set || r.Length == 0 {
		return ""
	}
	return fmt.Sprintf("bytes=%d-%d", r.Offset, r.Offset+r.Length-1)
}

// Result is a fetched segment: its body, the upstream status, and the
// content type to mirror to the client.
type Result struct {
	Body        io.ReadCloser
	Status      int
	ContentType string
}

// OriginFetcher retrieves bytes from an upstream origin. Two
// implementations exist: HTTPFetcher for http(s):// URLs and
// S3Fetcher for s3://bucket/key URLs, so the segment handler's logic
// is identical regardless of where segments actually live.
type OriginFetcher interface {
	Fetch(ctx context.Context, url string, headers map[string]string, br ByteRange) (Result, error)
}

// DefaultMaxBodyBytes is a 64 MiB response body bound. The fetchers
// in this package do not apply it: they return the body unread, and
// the API handlers cap what they read with their own configured limit.
const DefaultMaxBodyBytes = 64 * 1024 * 1024

// Router dispatches to the right OriginFetcher by URL scheme.
type Router struct {
	HTTP *HTTPFetcher
	S3   *S3Fetcher
}

// Fetch implements OriginFetcher by routing on URL scheme.
func (r *Router) Fetch(ctx context.Context, url string, headers map[string]string, br ByteRange) (Result, error) {
	if strings.HasPrefix(url, "s3://") {
		if r.S3 == nil {
			return Result{}, errors.NewInternal("s3:// origin requested but no S3 fetcher is configured", nil)
		}
		return r.S3.Fetch(ctx, url, headers, br)
	}
	if r.HTTP == nil {
		return Result{}, errors.NewInternal("no HTTP fetcher configured", nil)
	}
	return r.HTTP.Fetch(ctx, url, headers, br)
}
