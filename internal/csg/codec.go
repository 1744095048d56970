package csg

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// Codec implements the vendor's hybrid request/response encryption:
// the whole JSON payload is AES-CBC encrypted with a fixed key/IV, and
// the credentials field alone is additionally RSA-encrypted with the
// vendor's fixed public key. Both keys were recovered from the vendor's
// web app and are supplied as configuration, not compiled in.
type Codec struct {
	key []byte
	iv  []byte
	pub *rsa.PublicKey
}

// NewCodec builds a Codec from the vendor constants. key and iv must be
// 16 bytes each; pubkeyB64 is the base64-encoded DER (PKIX) public key.
func NewCodec(key, iv string, pubkeyB64 string) (*Codec, error) {
	if len(key) != aes.BlockSize {
		return nil, fmt.Errorf("codec: param key must be %d bytes, got %d", aes.BlockSize, len(key))
	}
	if len(iv) != aes.BlockSize {
		return nil, fmt.Errorf("codec: param iv must be %d bytes, got %d", aes.BlockSize, len(iv))
	}
	der, err := base64.StdEncoding.DecodeString(pubkeyB64)
	if err != nil {
		return nil, fmt.Errorf("codec: credential pubkey is not valid base64: %w", err)
	}
	parsed, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("codec: failed to parse credential pubkey: %w", err)
	}
	pub, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("codec: credential pubkey is %T, want RSA", parsed)
	}
	return &Codec{key: []byte(key), iv: []byte(iv), pub: pub}, nil
}

// EncryptCredential RSA-encrypts the secret with the vendor public key
// and returns it base64-encoded. Any failure here is a hard error; it
// means the key material is wrong, not that the input is retryable.
func (c *Codec) EncryptCredential(secret string) (string, error) {
	ct, err := rsa.EncryptPKCS1v15(rand.Reader, c.pub, []byte(secret))
	if err != nil {
		return "", fmt.Errorf("codec: credential encryption failed: %w", err)
	}
	return base64.StdEncoding.EncodeToString(ct), nil
}

// Encode serializes payload to compact JSON and AES-CBC encrypts it,
// returning the base64 ciphertext that goes into the request envelope.
func (c *Codec) Encode(payload any) (string, error) {
	plain, err := marshalCanonical(payload)
	if err != nil {
		return "", fmt.Errorf("codec: failed to serialize payload: %w", err)
	}

	block, err := aes.NewCipher(c.key)
	if err != nil {
		return "", fmt.Errorf("codec: %w", err)
	}

	// The vendor pads with NUL bytes to a full block, adding a whole
	// block when the payload is already aligned.
	padLen := aes.BlockSize - len(plain)%aes.BlockSize
	padded := append(plain, bytes.Repeat([]byte{0}, padLen)...)

	ct := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, c.iv).CryptBlocks(ct, padded)
	return base64.StdEncoding.EncodeToString(ct), nil
}

// Decode reverses Encode: base64-decode, AES-CBC decrypt, strip NUL
// padding and unmarshal into out. A body that cannot be decoded yields
// ErrMalformedPayload, never an empty result.
func (c *Codec) Decode(encoded string, out any) error {
	ct, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return fmt.Errorf("%w: not valid base64: %v", ErrMalformedPayload, err)
	}
	if len(ct) == 0 || len(ct)%aes.BlockSize != 0 {
		return fmt.Errorf("%w: ciphertext length %d is not a positive multiple of the block size", ErrMalformedPayload, len(ct))
	}

	block, err := aes.NewCipher(c.key)
	if err != nil {
		return fmt.Errorf("codec: %w", err)
	}

	plain := make([]byte, len(ct))
	cipher.NewCBCDecrypter(block, c.iv).CryptBlocks(plain, ct)
	plain = bytes.TrimRight(plain, "\x00")

	if err := json.Unmarshal(plain, out); err != nil {
		return fmt.Errorf("%w: decrypted body is not valid JSON: %v", ErrMalformedPayload, err)
	}
	return nil
}

// marshalCanonical produces the compact, non-HTML-escaped JSON the
// vendor's JS produces, so ciphertexts line up with what the server
// expects.
func marshalCanonical(payload any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(payload); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
