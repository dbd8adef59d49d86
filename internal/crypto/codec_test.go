package crypto

import (
	"encoding/base64"
	"errors"
	"strings"
	"testing"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func newTestCodec(t *testing.T, randomIV bool) *Codec {
	t.Helper()
	codec, err := NewCodec(CodecConfig{Secret: testSecret, RandomIV: randomIV})
	if err != nil {
		t.Fatalf("Failed to create codec: %v", err)
	}
	return codec
}

func TestNewCodecRejectsShortSecret(t *testing.T) {
	_, err := NewCodec(CodecConfig{Secret: "too-short"})
	if !errors.Is(err, ErrInvalidSecret) {
		t.Fatalf("Expected ErrInvalidSecret, got %v", err)
	}
}

// Vectors produced with: openssl enc -aes-256-cbc -K <hex secret> -iv <hex secret[:16]> -base64
func TestEncryptMatchesLegacyWireFormat(t *testing.T) {
	codec := newTestCodec(t, false)

	tests := []struct {
		plaintext string
		want      string
	}{
		{"user-42", "B0O5D87Jtup8ek/7XnRt0g=="},
		{`[{"id":"7"}]`, "XFIpAXwiUVDfoiYx9r6c3w=="},
		{"", "OK6Do+3SKnHs8pZTnd9zIA=="},
	}

	for _, tt := range tests {
		env := codec.Encrypt(tt.plaintext)
		if env.Data != tt.want {
			t.Errorf("Encrypt(%q) data = %s, want %s", tt.plaintext, env.Data, tt.want)
		}
		if env.IV != base64.StdEncoding.EncodeToString([]byte(testSecret[:16])) {
			t.Errorf("IV should be derived from the secret, got %s", env.IV)
		}
	}
}

func TestEncryptDecryptRoundtrip(t *testing.T) {
	testCases := []struct {
		name      string
		plaintext string
	}{
		{"simple text", "Hello, World!"},
		{"empty string", ""},
		{"exact block", "0123456789abcdef"},
		{"json array", `[{"id":"1","feedback":"bien"}]`},
		{"unicode", "ansiedad, tristeza y calma \U0001F600"},
		{"long text", strings.Repeat("x", 10000)},
	}

	for _, randomIV := range []bool{false, true} {
		codec := newTestCodec(t, randomIV)
		for _, tc := range testCases {
			t.Run(tc.name, func(t *testing.T) {
				env := codec.Encrypt(tc.plaintext)

				decrypted, err := codec.Decrypt(env)
				if err != nil {
					t.Fatalf("Decryption failed: %v", err)
				}
				if decrypted != tc.plaintext {
					t.Errorf("Decrypted text doesn't match original. Got %q, want %q", decrypted, tc.plaintext)
				}
			})
		}
	}
}

func TestDeterministicVersusRandomIV(t *testing.T) {
	fixed := newTestCodec(t, false)
	if fixed.Encrypt("same").Data != fixed.Encrypt("same").Data {
		t.Error("Legacy mode should produce identical ciphertext for identical plaintext")
	}

	random := newTestCodec(t, true)
	a, b := random.Encrypt("same"), random.Encrypt("same")
	if a.IV == b.IV {
		t.Error("Random IV mode should not reuse IVs")
	}

	// Either side decrypts the other's envelopes
	if got, err := fixed.Decrypt(a); err != nil || got != "same" {
		t.Errorf("Legacy codec should decrypt random-IV envelope, got %q, %v", got, err)
	}
}

func TestDecryptFailures(t *testing.T) {
	codec := newTestCodec(t, false)
	good := codec.Encrypt("payload")

	other, err := NewCodec(CodecConfig{Secret: strings.Repeat("z", 32)})
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		env  Envelope
		dec  *Codec
	}{
		{"missing iv", Envelope{Data: good.Data}, codec},
		{"missing data", Envelope{IV: good.IV}, codec},
		{"iv not base64", Envelope{IV: "%%%", Data: good.Data}, codec},
		{"short iv", Envelope{IV: base64.StdEncoding.EncodeToString([]byte("short")), Data: good.Data}, codec},
		{"data not block aligned", Envelope{IV: good.IV, Data: base64.StdEncoding.EncodeToString([]byte("abc"))}, codec},
		{"wrong key", good, other},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.dec.Decrypt(tt.env)
			if !errors.Is(err, ErrDecrypt) {
				t.Fatalf("Expected ErrDecrypt, got %v", err)
			}
		})
	}
}

func TestDecryptJSON(t *testing.T) {
	codec := newTestCodec(t, false)

	env, err := codec.EncryptJSON([]map[string]string{{"id": "1"}})
	if err != nil {
		t.Fatalf("EncryptJSON failed: %v", err)
	}

	var out []map[string]string
	if err := codec.DecryptJSON(env, &out); err != nil {
		t.Fatalf("DecryptJSON failed: %v", err)
	}
	if len(out) != 1 || out[0]["id"] != "1" {
		t.Errorf("Unexpected payload: %v", out)
	}

	var target []string
	if err := codec.DecryptJSON(codec.Encrypt("not json"), &target); !errors.Is(err, ErrDecrypt) {
		t.Errorf("Non-JSON plaintext should be a decrypt failure, got %v", err)
	}
}

func TestParseEnvelope(t *testing.T) {
	codec := newTestCodec(t, false)
	env := codec.Encrypt("x")

	parsed, err := ParseEnvelope(env.String())
	if err != nil {
		t.Fatalf("ParseEnvelope failed: %v", err)
	}
	if parsed != env {
		t.Errorf("Parsed envelope mismatch: %+v vs %+v", parsed, env)
	}

	if _, err := ParseEnvelope("not json"); !errors.Is(err, ErrDecrypt) {
		t.Errorf("Expected ErrDecrypt for malformed envelope, got %v", err)
	}
}
