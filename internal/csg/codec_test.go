package csg

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testKey = "cOdHFNHUNkZrjNaN"
	testIV  = "oMChoRLZnTivcQyR"
)

func testPubkey(t *testing.T) (string, *rsa.PrivateKey) {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	der, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	require.NoError(t, err)
	return base64.StdEncoding.EncodeToString(der), priv
}

func newTestCodec(t *testing.T) (*Codec, *rsa.PrivateKey) {
	t.Helper()
	pub, priv := testPubkey(t)
	codec, err := NewCodec(testKey, testIV, pub)
	require.NoError(t, err)
	return codec, priv
}

func TestNewCodecRejectsBadKeyMaterial(t *testing.T) {
	pub, _ := testPubkey(t)

	_, err := NewCodec("short", testIV, pub)
	assert.ErrorContains(t, err, "key must be 16 bytes")

	_, err = NewCodec(testKey, "short", pub)
	assert.ErrorContains(t, err, "iv must be 16 bytes")

	_, err = NewCodec(testKey, testIV, "%%%not-base64%%%")
	assert.ErrorContains(t, err, "not valid base64")

	_, err = NewCodec(testKey, testIV, base64.StdEncoding.EncodeToString([]byte("not-der")))
	assert.ErrorContains(t, err, "failed to parse")
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	codec, _ := newTestCodec(t)

	payload := map[string]any{
		"areaCode": "030000",
		"phoneNo":  "13800000000",
		"url":      "https://95598.csg.cn/?a=1&b=2", // must survive without HTML escaping
	}

	encoded, err := codec.Encode(payload)
	require.NoError(t, err)

	// ciphertext is base64 over whole AES blocks
	raw, err := base64.StdEncoding.DecodeString(encoded)
	require.NoError(t, err)
	assert.Equal(t, 0, len(raw)%16)

	var decoded map[string]any
	require.NoError(t, codec.Decode(encoded, &decoded))
	assert.Equal(t, "030000", decoded["areaCode"])
	assert.Equal(t, "13800000000", decoded["phoneNo"])
	assert.Equal(t, "https://95598.csg.cn/?a=1&b=2", decoded["url"])
}

func TestEncodePadsAlignedPayloadWithFullBlock(t *testing.T) {
	codec, _ := newTestCodec(t)

	// {"k":"aaaaaaaa"} is exactly one AES block long
	payload := map[string]string{"k": "aaaaaaaa"}
	plain, err := marshalCanonical(payload)
	require.NoError(t, err)
	require.Equal(t, 16, len(plain))

	encoded, err := codec.Encode(payload)
	require.NoError(t, err)
	raw, err := base64.StdEncoding.DecodeString(encoded)
	require.NoError(t, err)
	assert.Equal(t, 32, len(raw), "aligned payload gains a full padding block")

	var decoded map[string]string
	require.NoError(t, codec.Decode(encoded, &decoded))
	assert.Equal(t, payload, decoded)
}

func TestDecodeMalformedInput(t *testing.T) {
	codec, _ := newTestCodec(t)

	var out map[string]any

	err := codec.Decode("%%%not-base64%%%", &out)
	assert.ErrorIs(t, err, ErrMalformedPayload)

	// valid base64 but not block aligned
	err = codec.Decode(base64.StdEncoding.EncodeToString([]byte("abc")), &out)
	assert.ErrorIs(t, err, ErrMalformedPayload)

	err = codec.Decode("", &out)
	assert.ErrorIs(t, err, ErrMalformedPayload)

	// block aligned garbage decrypts to non-JSON
	err = codec.Decode(base64.StdEncoding.EncodeToString(make([]byte, 32)), &out)
	assert.ErrorIs(t, err, ErrMalformedPayload)
}

func TestEncryptCredential(t *testing.T) {
	codec, priv := newTestCodec(t)

	encrypted, err := codec.EncryptCredential("hunter2")
	require.NoError(t, err)

	ct, err := base64.StdEncoding.DecodeString(encrypted)
	require.NoError(t, err)
	assert.Equal(t, priv.Size(), len(ct))

	plain, err := rsa.DecryptPKCS1v15(nil, priv, ct)
	require.NoError(t, err)
	assert.Equal(t, "hunter2", string(plain))
}
