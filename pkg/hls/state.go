package hls

import "strconv"

// KeyMethod is the encryption method named by an #EXT-X-KEY tag.
type KeyMethod string

const (
	MethodNone         KeyMethod = "NONE"
	MethodAES128       KeyMethod = "AES-128"
	MethodSampleAES    KeyMethod = "SAMPLE-AES"
	MethodSampleAESCTR KeyMethod = "SAMPLE-AES-CTR"
)

// cencKeyFormat is the CENC Common PSSH system id used in HLS
// KEYFORMAT attributes to signal Common Encryption.
const cencKeyFormat = "urn:uuid:edef8ba9-79d6-4ace-a3c8-27dcd51d21ed"

// KeyContext is the decryption context established by the most
// recent #EXT-X-KEY tag. A zero value (Method == "") means no key is
// in effect.
type KeyContext struct {
	Method           KeyMethod
	URI              string
	IV               string // as written in the tag, e.g. "0x...."
	KeyFormat        string
	KeyFormatVersion string
}

// Active reports whether a key context currently applies to
// segments.
func (k KeyContext) Active() bool {
	return k.Method != "" && k.Method != MethodNone
}

// MapContext is the init-segment context established by the most
// recent #EXT-X-MAP tag.
type MapContext struct {
	URI       string
	ByteRange string // "length@offset", as written in the tag
}

// Set reports whether a map context is currently in effect.
func (m MapContext) Set() bool {
	return m.URI != ""
}

// playlistKind distinguishes a master (variant) playlist from a
// media (segment) playlist, determined dynamically by the first
// decisive tag encountered.
type playlistKind int

const (
	kindUnknown playlistKind = iota
	kindMaster
	kindMedia
)

// nextUriRole says what the next Uri line following a tag means.
type nextUriRole int

const (
	roleNone nextUriRole = iota
	roleSegment
	roleVariant
)

// State walks a classified playlist in order, tracking the context
// each rewrite rule needs: current key, current map, media sequence,
// running byte-range offset, and what role the next Uri line plays.
type State struct {
	MediaSequence uint64
	CurrentKey    KeyContext
	CurrentMap    MapContext

	kind             playlistKind
	nextUriRole      nextUriRole
	pendingByteLen   uint64
	pendingByteOff   uint64
	pendingByteSet   bool
	pendingOffExplicit bool
	runningOffset    uint64
}

// NewState creates a State ready to walk the first line of a
// playlist.
func NewState() *State {
	return &State{}
}

// SegmentContext is the state snapshot value-copied into a rewritten
// segment URI so the URI is self-contained.
type SegmentContext struct {
	Sequence  uint64
	Key       KeyContext
	Map       MapContext
	ByteRange string // "" when absent
}

// Observe updates state from a classified line, including the role
// the immediately following Uri line plays when this line is a
// decisive tag for one (#EXTINF or #EXT-X-STREAM-INF). It returns
// nothing; ConsumeUri reads the recorded role.
func (s *State) Observe(line Line) {
	if line.Kind != Tag {
		return
	}

	switch line.TagName {
	case "#EXT-X-MEDIA-SEQUENCE":
		if v, ok := firstAttrName(line.Attrs); ok {
			if n, err := strconv.ParseUint(v, 10, 64); err == nil {
				s.MediaSequence = n
			}
		}
	case "#EXT-X-KEY":
		s.CurrentKey = parseKeyTag(line.Attrs)
	case "#EXT-X-MAP":
		uri, _ := line.Attrs.Get("URI")
		br, _ := line.Attrs.Get("BYTERANGE")
		s.CurrentMap = MapContext{URI: uri, ByteRange: br}
	case "#EXT-X-BYTERANGE":
		s.pendingByteLen, s.pendingByteOff, s.pendingOffExplicit, s.pendingByteSet = parseByteRange(firstValue(line.Attrs))
	case "#EXTINF":
		s.nextUriRole = roleSegment
		if s.kind == kindUnknown {
			s.kind = kindMedia
		}
	case "#EXT-X-STREAM-INF":
		s.nextUriRole = roleVariant
		s.kind = kindMaster
	case "#EXT-X-TARGETDURATION":
		if s.kind == kindUnknown {
			s.kind = kindMedia
		}
	}
}

// ConsumeUri reports the role of a Uri line and the segment context
// to attach to it, then advances media sequence / byte-range offset
// state. Call this only when line.Kind == Uri.
func (s *State) ConsumeUri() (nextUriRole, SegmentContext) {
	role := s.nextUriRole
	s.nextUriRole = roleNone

	ctx := SegmentContext{
		Sequence: s.MediaSequence,
		Key:      s.CurrentKey,
		Map:      s.CurrentMap,
	}

	if role == roleSegment {
		if s.pendingByteSet {
			off := s.pendingByteOff
			if !s.pendingOffExplicit {
				off = s.runningOffset
			}
			ctx.ByteRange = byteRangeString(s.pendingByteLen, off)
			s.runningOffset = off + s.pendingByteLen
			s.pendingByteSet = false
		}
		s.MediaSequence++
	}

	return role, ctx
}

func firstAttrName(attrs AttrList) (string, bool) {
	entries := attrs.Entries()
	if len(entries) == 0 {
		return "", false
	}
	// #EXT-X-MEDIA-SEQUENCE:7 parses with no '=' sign, so the bare
	// token lands as Attr{Name: "7"}.
	return entries[0].Name, true
}

func firstValue(attrs AttrList) string {
	entries := attrs.Entries()
	if len(entries) == 0 {
		return ""
	}
	return entries[0].Name
}

func parseKeyTag(attrs AttrList) KeyContext {
	method, _ := attrs.Get("METHOD")
	if KeyMethod(method) == MethodNone {
		return KeyContext{Method: MethodNone}
	}

	uri, _ := attrs.Get("URI")
	iv, _ := attrs.Get("IV")
	keyFormat, _ := attrs.Get("KEYFORMAT")
	keyFormatVersion, _ := attrs.Get("KEYFORMATVERSIONS")

	return KeyContext{
		Method:           KeyMethod(method),
		URI:              uri,
		IV:               iv,
		KeyFormat:        keyFormat,
		KeyFormatVersion: keyFormatVersion,
	}
}

// parseByteRange parses "length@offset" or bare "length" (offset
// omitted, resolved from the running offset by the caller). explicit
// reports whether an "@offset" suffix was present.
func parseByteRange(raw string) (length, offset uint64, explicit, ok bool) {
	if raw == "" {
		return 0, 0, false, false
	}
	at := indexByte(raw, '@')
	if at < 0 {
		n, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return 0, 0, false, false
		}
		return n, 0, false, true
	}
	n, err1 := strconv.ParseUint(raw[:at], 10, 64)
	off, err2 := strconv.ParseUint(raw[at+1:], 10, 64)
	if err1 != nil || err2 != nil {
		return 0, 0, false, false
	}
	return n, off, true, true
}

func byteRangeString(length, offset uint64) string {
	return strconv.FormatUint(length, 10) + "@" + strconv.FormatUint(offset, 10)
}

func indexByte(s string, b byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == b {
			return i
		}
	}
	return -1
}
