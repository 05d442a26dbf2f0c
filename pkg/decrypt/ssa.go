// Package decrypt implements the three DRM unprotect paths the
// segment handler dispatches to by method tag: SAMPLE-AES (MPEG-TS /
// raw AAC), SAMPLE-AES-CTR, and CENC (both fMP4).
package decrypt

import (
	"crypto/aes"
	"crypto/cipher"

	"github.com/aminofox/hlsproxy/pkg/errors"
)

const tsPacketSize = 188

// SampleAESTS decrypts an MPEG-TS stream encrypted per HLS SAMPLE-AES:
// audio/video PES packet payloads are AES-128-CBC-encrypted in whole
// 16-byte blocks with the IV reset to the segment IV at the start of
// each PES packet's payload; any trailing partial block (the
// "residual block" — fewer than 16 bytes left over) is left in the
// clear, per the SAMPLE-AES convention of not padding elementary
// stream data. PAT/PMT and other non-media PIDs pass through
// untouched.
func SampleAESTS(data, key, iv []byte) ([]byte, error) {
	if len(key) != 16 {
		return nil, errors.NewUnprocessable("sample-aes requires a 16-byte key", nil)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.NewUnprocessable("failed to init aes cipher", err)
	}

	out := make([]byte, len(data))
	copy(out, data)

	mediaPIDs := scanPMTForMediaPIDs(data)

	// states tracks the running CBC decrypter per PID, chained across
	// however many TS packets the current PES payload spans. A fresh
	// PES header resets the IV and replaces the entry; bytes left
	// over in a PID's state when that happens are the PES payload's
	// own trailing clear residual, already correct as-is in out.
	states := map[uint16]*pesCipherState{}

	for off := 0; off+tsPacketSize <= len(out); off += tsPacketSize {
		packet := out[off : off+tsPacketSize]
		if packet[0] != 0x47 {
			continue // not a valid sync byte; leave as-is
		}

		pid := (uint16(packet[1]&0x1f) << 8) | uint16(packet[2])
		if !mediaPIDs[pid] {
			continue
		}

		payloadStart := (packet[1] & 0x40) != 0 // payload_unit_start_indicator
		afc := (packet[3] >> 4) & 0x3
		headerLen := 4
		if afc == 2 || afc == 3 {
			if len(packet) < 5 {
				continue
			}
			headerLen += 1 + int(packet[4])
		}
		if afc == 2 {
			continue // adaptation-field-only packet, no payload
		}
		if headerLen >= len(packet) {
			continue
		}

		payload := packet[headerLen:]

		if payloadStart && len(payload) >= 9 && payload[0] == 0x00 && payload[1] == 0x00 && payload[2] == 0x01 {
			// PES header present: start a fresh CBC chain, reset to
			// the segment IV, for the elementary-stream data after
			// the header.
			pesHeaderLen := int(payload[8])
			esStart := 9 + pesHeaderLen
			if esStart >= len(payload) {
				states[pid] = nil
				continue
			}
			state := &pesCipherState{mode: cipher.NewCBCDecrypter(block, append([]byte(nil), iv...))}
			state.feed(payload[esStart:])
			states[pid] = state
			continue
		}

		// Continuation packet: the PES payload begun earlier for this
		// PID keeps going, so CBC state must chain onto it rather
		// than reset.
		if state := states[pid]; state != nil {
			state.feed(payload)
		}
	}

	return out, nil
}

// pesCipherState chains AES-CBC decryption across the TS packets that
// make up one PES payload. Ciphertext bytes that don't yet fill a
// whole AES block are held in pending (with pendingDst recording
// where in out they live) until enough bytes arrive to decrypt them.
type pesCipherState struct {
	mode       cipher.BlockMode
	pending    []byte
	pendingDst [][]byte
}

// feed appends es (a slice aliasing out) to the pending ciphertext and
// decrypts every whole block now available, writing plaintext back to
// its original location in out. Bytes short of a full block stay
// pending for the next feed call.
func (s *pesCipherState) feed(es []byte) {
	if len(es) == 0 {
		return
	}
	s.pending = append(s.pending, es...)
	s.pendingDst = append(s.pendingDst, es)

	n := len(s.pending) - len(s.pending)%aes.BlockSize
	if n == 0 {
		return
	}

	ciphertext := append([]byte(nil), s.pending[:n]...)
	plaintext := make([]byte, n)
	s.mode.CryptBlocks(plaintext, ciphertext)
	writeBackDsts(s.pendingDst, plaintext)

	s.pending = append([]byte(nil), s.pending[n:]...)
	s.pendingDst = tailDsts(s.pendingDst, n)
}

// writeBackDsts copies plaintext sequentially into the destination
// slices it was decrypted from, stopping once plaintext runs out (the
// still-pending tail of the last slice is left as-is).
func writeBackDsts(dsts [][]byte, plaintext []byte) {
	off := 0
	for _, d := range dsts {
		if off >= len(plaintext) {
			return
		}
		off += copy(d, plaintext[off:])
	}
}

// tailDsts returns the destination slices left after skipping the
// first skip bytes, preserving their aliasing into out.
func tailDsts(dsts [][]byte, skip int) [][]byte {
	var out [][]byte
	for _, d := range dsts {
		if skip >= len(d) {
			skip -= len(d)
			continue
		}
		if skip > 0 {
			out = append(out, d[skip:])
			skip = 0
		} else {
			out = append(out, d)
		}
	}
	return out
}

// decryptPESPayload CBC-decrypts es in place, resetting the IV at the
// start of the elementary stream payload. Any trailing bytes that
// don't fill a full AES block are left untouched.
func decryptPESPayload(es []byte, block cipher.Block, iv []byte) {
	n := len(es) - (len(es) % aes.BlockSize)
	if n == 0 {
		return
	}
	mode := cipher.NewCBCDecrypter(block, append([]byte(nil), iv...))
	mode.CryptBlocks(es[:n], es[:n])
}

// RawAES decrypts a contiguous encrypted region (used for raw AAC
// segments with no MPEG-TS framing, f=aac) with AES-128-CBC, resetting
// the IV once at the start and leaving a trailing partial block
// untouched.
func RawAES(data, key, iv []byte) ([]byte, error) {
	if len(key) != 16 {
		return nil, errors.NewUnprocessable("sample-aes requires a 16-byte key", nil)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.NewUnprocessable("failed to init aes cipher", err)
	}

	out := make([]byte, len(data))
	copy(out, data)
	decryptPESPayload(out, block, iv)
	return out, nil
}

// scanPMTForMediaPIDs walks the TS packet stream once looking for the
// Program Map Table (PID referenced by the Program Association Table
// on PID 0) to identify audio/video elementary stream PIDs. Stream
// types 0x0f (AAC), 0x1b (H.264) and 0x24 (HEVC) are treated as
// media; anything else (e.g. PAT/PMT/timed-metadata PIDs) is left
// untouched by the decryptor.
func scanPMTForMediaPIDs(data []byte) map[uint16]bool {
	media := map[uint16]bool{}
	var pmtPID uint16
	havePMT := false

	for off := 0; off+tsPacketSize <= len(data); off += tsPacketSize {
		packet := data[off : off+tsPacketSize]
		if packet[0] != 0x47 {
			continue
		}
		pid := (uint16(packet[1]&0x1f) << 8) | uint16(packet[2])
		payloadStart := (packet[1] & 0x40) != 0
		afc := (packet[3] >> 4) & 0x3
		headerLen := 4
		if afc == 2 || afc == 3 {
			if len(packet) < 5 {
				continue
			}
			headerLen += 1 + int(packet[4])
		}
		if afc == 2 || headerLen >= len(packet) {
			continue
		}
		payload := packet[headerLen:]

		if pid == 0 && payloadStart && !havePMT {
			if len(payload) == 0 {
				continue
			}
			pointer := int(payload[0])
			if 1+pointer > len(payload) {
				continue
			}
			section := payload[1+pointer:]
			if len(section) >= 12 {
				pmtPID = (uint16(section[10]&0x1f) << 8) | uint16(section[11])
				havePMT = true
			}
			continue
		}

		if havePMT && pid == pmtPID && payloadStart {
			if len(payload) == 0 {
				continue
			}
			pointer := int(payload[0])
			if 1+pointer > len(payload) {
				continue
			}
			section := payload[1+pointer:]
			parsePMTSection(section, media)
		}
	}

	return media
}

func parsePMTSection(section []byte, media map[uint16]bool) {
	if len(section) < 12 {
		return
	}
	sectionLen := (int(section[1]&0x0f) << 8) | int(section[2])
	if sectionLen+3 > len(section) {
		sectionLen = len(section) - 3
	}
	programInfoLen := (int(section[10]&0x0f) << 8) | int(section[11])
	i := 12 + programInfoLen
	end := 3 + sectionLen - 4 // exclude trailing CRC32
	for i+5 <= end && i+5 <= len(section) {
		streamType := section[i]
		elemPID := (uint16(section[i+1]&0x1f) << 8) | uint16(section[i+2])
		esInfoLen := (int(section[i+3]&0x0f) << 8) | int(section[i+4])
		if streamType == 0x0f || streamType == 0x1b || streamType == 0x24 {
			media[elemPID] = true
		}
		i += 5 + esInfoLen
	}
}
