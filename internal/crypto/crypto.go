package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
)

// Algorithm identifies the cipher applied to every stored blob.
const Algorithm = "aes-256-ctr"

const (
	keyLength = 32
	ivLength  = aes.BlockSize
)

// Keys holds freshly generated encryption material, hex-encoded for storage.
// Material is generated once per object and never rotated in place.
type Keys struct {
	Key string
	IV  string
}

// GenerateKeys produces a random 256-bit key and a block-size IV.
func GenerateKeys() (Keys, error) {
	key := make([]byte, keyLength)
	if _, err := rand.Read(key); err != nil {
		return Keys{}, fmt.Errorf("generate key: %w", err)
	}

	iv := make([]byte, ivLength)
	if _, err := rand.Read(iv); err != nil {
		return Keys{}, fmt.Errorf("generate iv: %w", err)
	}

	return Keys{
		Key: hex.EncodeToString(key),
		IV:  hex.EncodeToString(iv),
	}, nil
}

// NewEncrypter wraps r so that reads yield the CTR keystream XOR of the
// plaintext. Memory use is bounded by the caller's buffer size.
func NewEncrypter(r io.Reader, keyHex, ivHex string) (io.Reader, error) {
	return newStreamReader(r, keyHex, ivHex)
}

// NewDecrypter wraps r so that reads yield the recovered plaintext. CTR mode
// carries no authentication tag: a wrong key produces garbage silently, and
// only the stored plaintext checksum can reveal it after the fact.
func NewDecrypter(r io.Reader, keyHex, ivHex string) (io.Reader, error) {
	return newStreamReader(r, keyHex, ivHex)
}

func newStreamReader(r io.Reader, keyHex, ivHex string) (io.Reader, error) {
	key, err := hex.DecodeString(keyHex)
	if err != nil {
		return nil, fmt.Errorf("decode key: %w", err)
	}
	if len(key) != keyLength {
		return nil, fmt.Errorf("key must be %d bytes, got %d", keyLength, len(key))
	}

	iv, err := hex.DecodeString(ivHex)
	if err != nil {
		return nil, fmt.Errorf("decode iv: %w", err)
	}
	if len(iv) != ivLength {
		return nil, fmt.Errorf("iv must be %d bytes, got %d", ivLength, len(iv))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}

	return &cipher.StreamReader{S: cipher.NewCTR(block, iv), R: r}, nil
}
