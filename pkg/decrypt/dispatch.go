package decrypt

import (
	"github.com/aminofox/hlsproxy/pkg/errors"
	"github.com/aminofox/hlsproxy/pkg/proxyparams"
)

// Method is the "m" query value the segment handler dispatches on.
type Method string

const (
	MethodSSA    Method = "ssa"
	MethodSSACTR Method = "ssa-ctr"
	MethodCENC   Method = "cenc"
)

// Format is the "f" query value describing the segment container.
type Format string

const (
	FormatTS  Format = "ts"
	FormatAAC Format = "aac"
	FormatMP4 Format = "mp4"
)

// Request bundles everything the dispatcher needs to decrypt one
// segment body.
type Request struct {
	Method      Method
	Format      Format
	Data        []byte
	Keys        []proxyparams.KeyMaterial
	IV          []byte // already resolved by the rewriter, hex-decoded
	InitSegment []byte // required for ssa-ctr/cenc
}

// Decrypt dispatches to the right unprotect path by method, selecting
// the key by KID when the stream carries one (CENC paths) or, for
// SAMPLE-AES, taking the first key with no KID (or the only key
// supplied).
func Decrypt(req Request) ([]byte, error) {
	switch req.Method {
	case MethodSSA:
		key, ok := proxyparams.FindKey(req.Keys, nil)
		if !ok {
			return nil, errors.NewBadRequest("no key supplied for sample-aes segment")
		}
		if req.Format == FormatAAC {
			return RawAES(req.Data, key, req.IV)
		}
		return SampleAESTS(req.Data, key, req.IV)

	case MethodSSACTR, MethodCENC:
		if len(req.InitSegment) == 0 {
			return nil, errors.NewBadRequest("cenc/sample-aes-ctr segment requires an init segment")
		}
		tenc, err := ExtractTenc(req.InitSegment)
		if err != nil {
			return nil, err
		}

		key, ok := proxyparams.FindKey(req.Keys, tenc.DefaultKID)
		if !ok {
			return nil, errors.NewForbidden("no key supplied for the segment's key id")
		}

		return CTRDecryptMediaSegment(req.Data, key, tenc)

	default:
		return nil, errors.NewBadRequest("unsupported decrypt method")
	}
}
