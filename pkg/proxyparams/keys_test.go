package proxyparams

import "testing"

func TestParseKeysBareKeyOddLengthRejected(t *testing.T) {
	keys, err := ParseKeys("00112233445566778899aabbccddeef")
	if err == nil {
		t.Fatalf("expected odd-length hex to fail, got keys=%v", keys)
	}
}

const (
	testKey16Hex  = "000102030405060708090a0b0c0d0e0f"
	testKey16Hex2 = "101112131415161718191a1b1c1d1e1f"
)

func TestParseKeysKidAndBare(t *testing.T) {
	keys, err := ParseKeys("aa:" + testKey16Hex + "," + testKey16Hex2)
	if err != nil {
		t.Fatalf("ParseKeys: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(keys))
	}
	if len(keys[0].KID) != 1 || keys[0].KID[0] != 0xaa {
		t.Fatalf("unexpected kid: %v", keys[0].KID)
	}
	if len(keys[1].KID) != 0 {
		t.Fatalf("expected bare entry with no kid, got %v", keys[1].KID)
	}
}

func TestParseKeysRejectsWrongLength(t *testing.T) {
	if _, err := ParseKeys("aa:bb"); err == nil {
		t.Fatal("expected error for a key shorter than 16 bytes")
	}
}

func TestParseKeys0xPrefixTolerant(t *testing.T) {
	keys, err := ParseKeys("0xAA:0x" + testKey16Hex)
	if err != nil {
		t.Fatalf("ParseKeys: %v", err)
	}
	if keys[0].KID[0] != 0xAA || keys[0].Key[0] != 0x00 || keys[0].Key[1] != 0x01 {
		t.Fatalf("unexpected decode: %+v", keys[0])
	}
}

func TestParseIVMustBe16Bytes(t *testing.T) {
	if _, err := ParseIV("aabb"); err == nil {
		t.Fatal("expected error for short IV")
	}
}

func TestParseIVValid(t *testing.T) {
	iv, err := ParseIV("00000000000000000000000000000007")
	if err != nil {
		t.Fatalf("ParseIV: %v", err)
	}
	if len(iv) != 16 || iv[15] != 0x07 {
		t.Fatalf("unexpected iv bytes: %v", iv)
	}
}

func TestFindKeyByKID(t *testing.T) {
	keys := []KeyMaterial{
		{KID: []byte{0xaa}, Key: []byte{1}},
		{KID: []byte{0xbb}, Key: []byte{2}},
	}
	key, ok := FindKey(keys, []byte{0xbb})
	if !ok || key[0] != 2 {
		t.Fatalf("FindKey mismatch: key=%v ok=%v", key, ok)
	}

	if _, ok := FindKey(keys, []byte{0xcc}); ok {
		t.Fatal("expected no match for unknown kid")
	}
}
