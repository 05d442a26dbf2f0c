package hls

import (
	"strings"
	"testing"
)

func baseCtx() RewriteContext {
	return RewriteContext{
		ProxyBaseURL: "http://proxy",
		ManifestURL:  "http://o/m.m3u8",
	}
}

func TestRewriteVariantLine(t *testing.T) {
	// S1
	in := "#EXTM3U\n#EXT-X-STREAM-INF:BANDWIDTH=1000\nhttp://o/a.m3u8\n"
	out, err := Rewrite(in, baseCtx())
	if err != nil {
		t.Fatalf("Rewrite: %v", err)
	}

	lines := strings.Split(out, "\n")
	want := "http://proxy/manifest?url=http%3A%2F%2Fo%2Fa.m3u8"
	if lines[2] != want {
		t.Fatalf("variant line = %q, want %q", lines[2], want)
	}
}

func TestRewriteSegmentIVFromMediaSequence(t *testing.T) {
	// S2
	in := "#EXTM3U\n#EXT-X-MEDIA-SEQUENCE:7\n" +
		`#EXT-X-KEY:METHOD=SAMPLE-AES,URI="skd://a"` + "\n" +
		"#EXTINF:6,\nseg0.ts\n"
	out, err := Rewrite(in, baseCtx())
	if err != nil {
		t.Fatalf("Rewrite: %v", err)
	}

	lines := strings.Split(out, "\n")
	last := lines[len(lines)-1]
	if last == "" {
		last = lines[len(lines)-2]
	}
	if !strings.Contains(last, "url=http%3A%2F%2Fo%2Fseg0.ts") {
		t.Fatalf("segment line = %q", last)
	}
	// The key tag has no IV attribute, so iv is the media sequence (7)
	// as a 16-byte big-endian value.
	if !strings.Contains(last, "iv=0x00000000000000000000000000000007") {
		t.Fatalf("segment line missing sequence-derived iv: %q", last)
	}
}

func TestRewriteSegmentWithSampleAESKey(t *testing.T) {
	// S3
	in := "#EXTM3U\n" +
		`#EXT-X-KEY:METHOD=SAMPLE-AES,URI="skd://a",KEYFORMAT="com.apple.streamingkeydelivery"` + "\n" +
		"#EXTINF:6,\nseg.ts\n"
	out, err := Rewrite(in, baseCtx())
	if err != nil {
		t.Fatalf("Rewrite: %v", err)
	}

	lines := strings.Split(out, "\n")
	keyLine := lines[1]
	if !strings.Contains(keyLine, "/key?url=skd%3A%2F%2Fa") {
		t.Fatalf("key tag = %q", keyLine)
	}

	segLine := lines[3]
	if !strings.Contains(segLine, "m=ssa") {
		t.Fatalf("segment line missing m=ssa: %q", segLine)
	}
}

func TestRewriteSegmentWithMapAndByteRange(t *testing.T) {
	// S4
	in := "#EXTM3U\n" +
		`#EXT-X-MAP:URI="init.mp4",BYTERANGE="1024@0"` + "\n" +
		"#EXTINF:6,\n#EXT-X-BYTERANGE:2048@1024\nseg.m4s\n"
	out, err := Rewrite(in, baseCtx())
	if err != nil {
		t.Fatalf("Rewrite: %v", err)
	}

	lines := strings.Split(out, "\n")
	segLine := lines[len(lines)-1]
	if segLine == "" {
		segLine = lines[len(lines)-2]
	}

	for _, want := range []string{"init=http%3A%2F%2Fo%2Finit.mp4", "init_br=1024%400", "br=2048%401024", "f=mp4"} {
		if !strings.Contains(segLine, want) {
			t.Fatalf("segment line missing %q: %q", want, segLine)
		}
	}
}

func TestRewriteLineCountPreserved(t *testing.T) {
	in := "#EXTM3U\n#EXT-X-VERSION:3\n\n#EXT-X-STREAM-INF:BANDWIDTH=1\nhttp://o/a.m3u8\n"
	out, err := Rewrite(in, baseCtx())
	if err != nil {
		t.Fatalf("Rewrite: %v", err)
	}

	inLines := strings.Split(in, "\n")
	outLines := strings.Split(out, "\n")
	if len(inLines) != len(outLines) {
		t.Fatalf("line count changed: in=%d out=%d", len(inLines), len(outLines))
	}
}

func TestRewritePassthroughTagsRoundTripByteForByte(t *testing.T) {
	in := "#EXTM3U\n" +
		"#EXT-X-VERSION:3\n" +
		"#EXT-X-MEDIA-SEQUENCE:7\n" +
		"#EXT-X-TARGETDURATION:6\n" +
		"#EXTINF:6.0,Title\n" +
		"seg0.ts\n" +
		"#EXTINF:6,\n" +
		"seg1.ts\n"
	out, err := Rewrite(in, baseCtx())
	if err != nil {
		t.Fatalf("Rewrite: %v", err)
	}

	inLines := strings.Split(in, "\n")
	outLines := strings.Split(out, "\n")
	if len(inLines) != len(outLines) {
		t.Fatalf("line count changed: in=%d out=%d", len(inLines), len(outLines))
	}

	passthrough := []int{0, 1, 2, 3, 4, 6}
	for _, i := range passthrough {
		if outLines[i] != inLines[i] {
			t.Fatalf("line %d changed: in=%q out=%q", i, inLines[i], outLines[i])
		}
	}
}

func TestRewriteUnmodifiedAttributeOrderPreserved(t *testing.T) {
	in := "#EXTM3U\n" +
		`#EXT-X-KEY:METHOD=SAMPLE-AES,KEYFORMAT="com.apple.streamingkeydelivery",URI="skd://a",IV=0x01` + "\n" +
		"#EXTINF:6,\nseg.ts\n"
	out, err := Rewrite(in, baseCtx())
	if err != nil {
		t.Fatalf("Rewrite: %v", err)
	}

	lines := strings.Split(out, "\n")
	keyLine := lines[1]
	// METHOD should still appear before KEYFORMAT, which should still
	// appear before the rewritten URI, which should still appear
	// before IV — original order preserved around the one rewritten
	// attribute.
	methodIdx := strings.Index(keyLine, "METHOD")
	formatIdx := strings.Index(keyLine, "KEYFORMAT")
	uriIdx := strings.Index(keyLine, "URI")
	ivIdx := strings.Index(keyLine, "IV=0x01")
	if !(methodIdx < formatIdx && formatIdx < uriIdx && uriIdx < ivIdx) {
		t.Fatalf("attribute order not preserved: %q", keyLine)
	}
}

func TestRewriteKeyMethodNoneClearsContext(t *testing.T) {
	in := "#EXTM3U\n" +
		`#EXT-X-KEY:METHOD=SAMPLE-AES,URI="skd://a"` + "\n" +
		"#EXTINF:6,\nseg0.ts\n" +
		"#EXT-X-KEY:METHOD=NONE\n" +
		"#EXTINF:6,\nseg1.ts\n"
	out, err := Rewrite(in, baseCtx())
	if err != nil {
		t.Fatalf("Rewrite: %v", err)
	}

	lines := strings.Split(out, "\n")
	var seg1 string
	for _, l := range lines {
		if strings.Contains(l, "seg1.ts") {
			seg1 = l
		}
	}
	if strings.Contains(seg1, "m=") {
		t.Fatalf("segment after METHOD=NONE still carries m=: %q", seg1)
	}
}

func TestRewriteDecryptFalseOmitsSegmentCrypto(t *testing.T) {
	in := "#EXTM3U\n" +
		`#EXT-X-KEY:METHOD=SAMPLE-AES,URI="skd://a"` + "\n" +
		"#EXTINF:6,\nseg.ts\n"
	ctx := baseCtx()
	f := false
	ctx.Decrypt = &f

	out, err := Rewrite(in, ctx)
	if err != nil {
		t.Fatalf("Rewrite: %v", err)
	}

	lines := strings.Split(out, "\n")
	segLine := lines[len(lines)-1]
	if segLine == "" {
		segLine = lines[len(lines)-2]
	}
	if strings.Contains(segLine, "m=") || strings.Contains(segLine, "iv=") {
		t.Fatalf("decrypt=false segment still carries crypto params: %q", segLine)
	}
}

func TestRewriteIdempotent(t *testing.T) {
	in := "#EXTM3U\n#EXT-X-STREAM-INF:BANDWIDTH=1000\nhttp://o/a.m3u8\n"
	ctx := baseCtx()

	first, err := Rewrite(in, ctx)
	if err != nil {
		t.Fatalf("Rewrite: %v", err)
	}

	ctx2 := ctx
	ctx2.ManifestURL = "http://proxy/manifest?url=http%3A%2F%2Fo%2Fm.m3u8"
	second, err := Rewrite(first, ctx2)
	if err != nil {
		t.Fatalf("Rewrite (second pass): %v", err)
	}

	if !strings.Contains(second, "url=http%3A%2F%2Fo%2Fa.m3u8") {
		t.Fatalf("second rewrite lost the absolute url= parameter: %q", second)
	}
}
