package crypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

var (
	// ErrDecrypt is wrapped by every failure returned from Decrypt and DecryptJSON.
	ErrDecrypt = errors.New("decrypt failed")

	// ErrInvalidSecret is returned when the shared secret is not a 256-bit key.
	ErrInvalidSecret = errors.New("shared secret must be exactly 32 bytes")
)

// Envelope is the wire format for every encrypted field exchanged with the evaluations API.
type Envelope struct {
	IV   string `json:"iv"`   // base64, 16 bytes decoded
	Data string `json:"data"` // base64 ciphertext
}

// String returns the JSON form used as a query parameter value.
func (e Envelope) String() string {
	b, _ := json.Marshal(e)
	return string(b)
}

// ParseEnvelope decodes the JSON form of an envelope
func ParseEnvelope(s string) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal([]byte(strings.TrimSpace(s)), &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: envelope is not JSON: %v", ErrDecrypt, err)
	}
	return env, nil
}

// CodecConfig is the immutable configuration injected into a Codec.
type CodecConfig struct {
	Secret string

	// RandomIV makes Encrypt draw a fresh IV per message. The legacy wire
	// format derives the IV from the secret, which leaks plaintext equality.
	RandomIV bool
}

// Codec encrypts strings with AES-256-CBC and PKCS#7 padding.
// Client and proxy share the same secret, so either side decrypts the other's envelopes.
type Codec struct {
	block    cipher.Block
	iv       []byte
	randomIV bool
}

// NewCodec builds a codec from the shared secret.
// The IV is the first 16 UTF-8 bytes of the secret unless RandomIV is set.
func NewCodec(cfg CodecConfig) (*Codec, error) {
	key := []byte(cfg.Secret)
	if len(key) != 32 {
		return nil, fmt.Errorf("%w (got %d)", ErrInvalidSecret, len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	iv := make([]byte, aes.BlockSize)
	copy(iv, key[:aes.BlockSize])

	return &Codec{
		block:    block,
		iv:       iv,
		randomIV: cfg.RandomIV,
	}, nil
}

// Encrypt never fails; the empty string encrypts to one full padding block.
func (c *Codec) Encrypt(plaintext string) Envelope {
	iv := c.iv
	if c.randomIV {
		iv = make([]byte, aes.BlockSize)
		_, _ = rand.Read(iv)
	}

	padded := pkcs7Pad([]byte(plaintext), aes.BlockSize)
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(c.block, iv).CryptBlocks(out, padded)

	return Envelope{
		IV:   base64.StdEncoding.EncodeToString(iv),
		Data: base64.StdEncoding.EncodeToString(out),
	}
}

// EncryptJSON marshals v and encrypts the resulting JSON text
func (c *Codec) EncryptJSON(v any) (Envelope, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return Envelope{}, fmt.Errorf("failed to serialize payload: %w", err)
	}
	return c.Encrypt(string(b)), nil
}

// Decrypt reverses Encrypt. The envelope's own IV is always honoured.
func (c *Codec) Decrypt(env Envelope) (string, error) {
	if env.IV == "" || env.Data == "" {
		return "", fmt.Errorf("%w: envelope missing iv or data", ErrDecrypt)
	}

	iv, err := base64.StdEncoding.DecodeString(env.IV)
	if err != nil {
		return "", fmt.Errorf("%w: iv is not base64", ErrDecrypt)
	}
	if len(iv) != aes.BlockSize {
		return "", fmt.Errorf("%w: iv must be %d bytes, got %d", ErrDecrypt, aes.BlockSize, len(iv))
	}

	ciphertext, err := base64.StdEncoding.DecodeString(env.Data)
	if err != nil {
		return "", fmt.Errorf("%w: data is not base64", ErrDecrypt)
	}
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return "", fmt.Errorf("%w: ciphertext length %d is not a multiple of the block size", ErrDecrypt, len(ciphertext))
	}

	plain := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(c.block, iv).CryptBlocks(plain, ciphertext)

	plain, err = pkcs7Unpad(plain, aes.BlockSize)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	if !utf8.Valid(plain) {
		return "", fmt.Errorf("%w: plaintext is not valid UTF-8", ErrDecrypt)
	}

	return string(plain), nil
}

// DecryptJSON decrypts the envelope and unmarshals the plaintext into v
func (c *Codec) DecryptJSON(env Envelope, v any) error {
	plain, err := c.Decrypt(env)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(plain), v); err != nil {
		return fmt.Errorf("%w: plaintext is not JSON: %v", ErrDecrypt, err)
	}
	return nil
}

func pkcs7Pad(b []byte, blockSize int) []byte {
	n := blockSize - len(b)%blockSize
	return append(append(make([]byte, 0, len(b)+n), b...), bytes.Repeat([]byte{byte(n)}, n)...)
}

func pkcs7Unpad(b []byte, blockSize int) ([]byte, error) {
	if len(b) == 0 || len(b)%blockSize != 0 {
		return nil, errors.New("invalid padded length")
	}
	n := int(b[len(b)-1])
	if n == 0 || n > blockSize {
		return nil, errors.New("invalid padding")
	}
	for _, p := range b[len(b)-n:] {
		if int(p) != n {
			return nil, errors.New("invalid padding")
		}
	}
	return b[:len(b)-n], nil
}
