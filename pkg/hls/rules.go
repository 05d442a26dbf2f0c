package hls

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/aminofox/hlsproxy/pkg/proxyparams"
)

// RewriteContext carries everything a rule needs to turn an upstream
// URI into a proxied one: where the proxy lives, the manifest's own
// URL (to resolve relative URIs against), and the client-supplied
// params to re-thread into every emitted URL.
type RewriteContext struct {
	ProxyBaseURL string // e.g. "https://proxy.example.com"
	ManifestURL  string // absolute URL the playlist was fetched from
	ManifestHeadersRaw string // "h" as given, re-threaded verbatim into variant/media rewrites
	SegmentHeadersRaw  string // "sh" as given
	KeysRaw            string // "k" as given
	Decrypt            *bool  // nil when the client omitted the param
}

// resolve turns a possibly-relative URI from the playlist into an
// absolute URL against the manifest's own URL. A URI that already
// points at this proxy resolves to the upstream URL carried in its
// url= parameter, so rewriting an already-rewritten playlist keeps the
// same upstream url=.
func (c RewriteContext) resolve(uri string) (string, error) {
	base, err := url.Parse(c.ManifestURL)
	if err != nil {
		return "", err
	}
	ref, err := url.Parse(uri)
	if err != nil {
		return "", err
	}
	abs := base.ResolveReference(ref)
	if c.ProxyBaseURL != "" && strings.HasPrefix(abs.String(), strings.TrimRight(c.ProxyBaseURL, "/")+"/") {
		if inner := abs.Query().Get("url"); inner != "" {
			return inner, nil
		}
	}
	return abs.String(), nil
}

func (c RewriteContext) proxyURL(path string, query url.Values) string {
	u := strings.TrimRight(c.ProxyBaseURL, "/") + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

// uriConsumption is the engine's one-time resolution of what role a
// Uri line plays, computed by a single State.ConsumeUri call per
// line. Rules never call ConsumeUri themselves so a Uri line's state
// transition happens exactly once regardless of how many rules
// inspect it.
type uriConsumption struct {
	role nextUriRole
	seg  SegmentContext
}

// Rule transforms one classified line. uri is nil for non-Uri lines
// and holds the engine-resolved role/context for Uri lines. A rule
// returns ok=false when it doesn't apply.
type Rule interface {
	Apply(line *Line, uri *uriConsumption, ctx RewriteContext) (rewritten string, ok bool, err error)
}

// Rules is the fixed, ordered rule set applied to every line.
// First match wins; unmatched lines pass through unchanged.
var Rules = []Rule{
	keyRewriteRule{},
	mapRewriteRule{},
	variantProxyRule{},
	mediaProxyRule{},
	segmentProxyRule{},
}

// --- 1. KeyRewriteRule ---

type keyRewriteRule struct{}

func (keyRewriteRule) Apply(line *Line, uri *uriConsumption, ctx RewriteContext) (string, bool, error) {
	if line.Kind != Tag || line.TagName != "#EXT-X-KEY" {
		return "", false, nil
	}

	method, _ := line.Attrs.Get("METHOD")
	if KeyMethod(method) == MethodNone {
		return "", false, nil
	}

	attrURI, ok := line.Attrs.Get("URI")
	if !ok || attrURI == "" {
		return "", false, nil
	}

	abs, err := ctx.resolve(attrURI)
	if err != nil {
		return "", false, err
	}

	q := url.Values{}
	q.Set("url", abs)
	if ctx.SegmentHeadersRaw != "" {
		q.Set("h", ctx.SegmentHeadersRaw)
	}

	attrs := line.Attrs
	attrs.Set("URI", ctx.proxyURL("/key", q), true)

	rewritten := line.TagName + ":" + attrs.String()
	return rewritten, true, nil
}

// --- 2. MapRewriteRule ---

type mapRewriteRule struct{}

func (mapRewriteRule) Apply(line *Line, uri *uriConsumption, ctx RewriteContext) (string, bool, error) {
	if line.Kind != Tag || line.TagName != "#EXT-X-MAP" {
		return "", false, nil
	}

	attrURI, ok := line.Attrs.Get("URI")
	if !ok || attrURI == "" {
		return "", false, nil
	}

	abs, err := ctx.resolve(attrURI)
	if err != nil {
		return "", false, err
	}

	br, _ := line.Attrs.Get("BYTERANGE")

	q := url.Values{}
	q.Set("url", abs)
	q.Set("f", "mp4")
	if ctx.SegmentHeadersRaw != "" {
		q.Set("h", ctx.SegmentHeadersRaw)
	}
	if br != "" {
		q.Set("init_br", br)
	}

	attrs := line.Attrs
	attrs.Set("URI", ctx.proxyURL("/segment", q), true)

	rewritten := line.TagName + ":" + attrs.String()
	return rewritten, true, nil
}

// --- 3. VariantProxyRule ---

type variantProxyRule struct{}

func (variantProxyRule) Apply(line *Line, uri *uriConsumption, ctx RewriteContext) (string, bool, error) {
	if line.Kind != Uri || uri == nil || uri.role != roleVariant {
		return "", false, nil
	}

	abs, err := ctx.resolve(line.UriText)
	if err != nil {
		return "", false, err
	}

	q := url.Values{}
	q.Set("url", abs)
	if ctx.ManifestHeadersRaw != "" {
		q.Set("h", ctx.ManifestHeadersRaw)
	}
	if ctx.SegmentHeadersRaw != "" {
		q.Set("sh", ctx.SegmentHeadersRaw)
	}
	if ctx.KeysRaw != "" {
		q.Set("k", ctx.KeysRaw)
	}
	if ctx.Decrypt != nil {
		q.Set("decrypt", strconv.FormatBool(*ctx.Decrypt))
	}

	return ctx.proxyURL("/manifest", q), true, nil
}

// --- 4. MediaProxyRule ---

type mediaProxyRule struct{}

func (mediaProxyRule) Apply(line *Line, uri *uriConsumption, ctx RewriteContext) (string, bool, error) {
	if line.Kind != Tag || line.TagName != "#EXT-X-MEDIA" {
		return "", false, nil
	}

	attrURI, ok := line.Attrs.Get("URI")
	if !ok || attrURI == "" {
		return "", false, nil
	}

	abs, err := ctx.resolve(attrURI)
	if err != nil {
		return "", false, err
	}

	q := url.Values{}
	q.Set("url", abs)
	if ctx.ManifestHeadersRaw != "" {
		q.Set("h", ctx.ManifestHeadersRaw)
	}
	if ctx.SegmentHeadersRaw != "" {
		q.Set("sh", ctx.SegmentHeadersRaw)
	}
	if ctx.KeysRaw != "" {
		q.Set("k", ctx.KeysRaw)
	}
	if ctx.Decrypt != nil {
		q.Set("decrypt", strconv.FormatBool(*ctx.Decrypt))
	}

	attrs := line.Attrs
	attrs.Set("URI", ctx.proxyURL("/manifest", q), true)

	rewritten := line.TagName + ":" + attrs.String()
	return rewritten, true, nil
}

// --- 5. SegmentProxyRule ---

type segmentProxyRule struct{}

func (segmentProxyRule) Apply(line *Line, uri *uriConsumption, ctx RewriteContext) (string, bool, error) {
	if line.Kind != Uri || uri == nil || uri.role != roleSegment {
		return "", false, nil
	}
	segCtx := uri.seg

	abs, err := ctx.resolve(line.UriText)
	if err != nil {
		return "", false, err
	}

	decrypt := ctx.Decrypt == nil || *ctx.Decrypt

	q := url.Values{}
	q.Set("url", abs)
	if ctx.SegmentHeadersRaw != "" {
		q.Set("h", ctx.SegmentHeadersRaw)
	}

	if decrypt && segCtx.Key.Active() {
		method := proxyMethod(segCtx.Key)
		if method != "" {
			q.Set("m", method)
			if ctx.KeysRaw != "" {
				q.Set("k", ctx.KeysRaw)
			}
			q.Set("iv", resolveIV(segCtx.Key, segCtx.Sequence))
		}
	}

	if segCtx.ByteRange != "" {
		q.Set("br", segCtx.ByteRange)
	}

	format := segmentFormat(line.UriText, segCtx.Map)
	q.Set("f", format)

	if segCtx.Map.Set() {
		initAbs, err := ctx.resolve(segCtx.Map.URI)
		if err == nil {
			q.Set("init", initAbs)
		}
		if segCtx.Map.ByteRange != "" {
			q.Set("init_br", segCtx.Map.ByteRange)
		}
	}

	return ctx.proxyURL("/segment", q), true, nil
}

// proxyMethod maps a KeyContext onto the "m" query value the segment
// handler dispatches on. AES-128 is handled natively by players and
// is never proxied through the decrypt dispatcher.
func proxyMethod(key KeyContext) string {
	switch key.Method {
	case MethodSampleAES:
		return "ssa"
	case MethodSampleAESCTR:
		if isCENC(key) {
			return "cenc"
		}
		return "ssa-ctr"
	case MethodAES128:
		return ""
	default:
		return ""
	}
}

// isCENC reports whether a SAMPLE-AES-CTR key context signals Common
// Encryption via its KEYFORMAT, per the CENC Common PSSH system id.
// A SAMPLE-AES-CTR key with no KEYFORMAT at all is also treated as
// CENC, since HLS deployments that don't set KEYFORMAT for
// SAMPLE-AES-CTR are almost always CENC-sourced (ssa-ctr proper
// always carries "com.apple.streamingkeydelivery" or similar).
func isCENC(key KeyContext) bool {
	if key.KeyFormat == "" {
		return true
	}
	return strings.EqualFold(key.KeyFormat, cencKeyFormat)
}

// resolveIV returns the "iv" query value: the explicit IV attribute
// when present, otherwise a 16-byte big-endian encoding of the media
// sequence number per HLS section 4.3.2.5.
func resolveIV(key KeyContext, sequence uint64) string {
	if key.IV != "" {
		return key.IV
	}

	var buf [16]byte
	for i := 0; i < 8; i++ {
		buf[15-i] = byte(sequence >> (8 * i))
	}
	return "0x" + hexEncode(buf[:])
}

func hexEncode(b []byte) string {
	const digits = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, v := range b {
		out[i*2] = digits[v>>4]
		out[i*2+1] = digits[v&0x0f]
	}
	return string(out)
}

// segmentFormat derives the "f" query value from the URI extension,
// falling back to mp4 when an init map is in effect.
func segmentFormat(uri string, mapCtx MapContext) string {
	lower := strings.ToLower(uri)
	switch {
	case strings.HasSuffix(lower, ".mp4"), strings.HasSuffix(lower, ".m4s"), strings.HasSuffix(lower, ".m4a"):
		return "mp4"
	case strings.HasSuffix(lower, ".aac"):
		return "aac"
	case mapCtx.Set():
		return "mp4"
	default:
		return "ts"
	}
}

// DecodeKeysForURL round-trips the proxyparams package's key parser
// so callers building a RewriteContext from a prior /manifest request
// can validate "k" without duplicating hex/grammar logic here.
func DecodeKeysForURL(raw string) ([]proxyparams.KeyMaterial, error) {
	return proxyparams.ParseKeys(raw)
}
