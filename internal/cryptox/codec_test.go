package cryptox

import (
	stderrors "errors"
	"strings"
	"testing"

	"github.com/graphvault/graphvault/internal/errors"
)

func newTestCodec(t *testing.T) *Codec {
	t.Helper()
	key, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	codec, err := NewCodec(key)
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	return codec
}

func TestNewCodecRejectsBadKeys(t *testing.T) {
	cases := []struct {
		name string
		key  string
	}{
		{"empty", ""},
		{"whitespace", "   "},
		{"not base64", "!!!not-base64!!!"},
		{"too short", "c2hvcnQ="},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewCodec(tc.key); err == nil {
				t.Error("expected constructor error")
			}
		})
	}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	codec := newTestCodec(t)

	cases := []string{
		"",
		"a",
		"EwB4A8l6BAAU...",
		strings.Repeat("x", 64*1024),
		"token with spaces and unicode ✓",
	}

	for _, plaintext := range cases {
		ct, err := codec.Encrypt(plaintext)
		if err != nil {
			t.Fatalf("Encrypt: %v", err)
		}
		if !strings.HasPrefix(ct, "v1:") {
			t.Errorf("ciphertext missing version prefix: %q", ct[:8])
		}
		if strings.Contains(ct, plaintext) && plaintext != "" {
			t.Error("ciphertext contains plaintext")
		}

		got, err := codec.Decrypt(ct)
		if err != nil {
			t.Fatalf("Decrypt: %v", err)
		}
		if got != plaintext {
			t.Errorf("round trip mismatch: got %d bytes, want %d", len(got), len(plaintext))
		}
	}
}

func TestEncryptUsesFreshNonce(t *testing.T) {
	codec := newTestCodec(t)

	a, err := codec.Encrypt("same input")
	if err != nil {
		t.Fatal(err)
	}
	b, err := codec.Encrypt("same input")
	if err != nil {
		t.Fatal(err)
	}
	if a == b {
		t.Error("two encryptions of the same plaintext produced identical ciphertexts")
	}
}

func TestDecryptRejectsTampering(t *testing.T) {
	codec := newTestCodec(t)

	ct, err := codec.Encrypt("secret-token")
	if err != nil {
		t.Fatal(err)
	}

	// Flip a character inside the base64 payload.
	tampered := []byte(ct)
	i := len(tampered) - 5
	if tampered[i] == 'A' {
		tampered[i] = 'B'
	} else {
		tampered[i] = 'A'
	}

	_, err = codec.Decrypt(string(tampered))
	var integrity *errors.ErrIntegrity
	if !stderrors.As(err, &integrity) {
		t.Fatalf("expected ErrIntegrity, got %v", err)
	}
}

func TestDecryptRejectsWrongKey(t *testing.T) {
	a := newTestCodec(t)
	b := newTestCodec(t)

	ct, err := a.Encrypt("secret-token")
	if err != nil {
		t.Fatal(err)
	}

	_, err = b.Decrypt(ct)
	var integrity *errors.ErrIntegrity
	if !stderrors.As(err, &integrity) {
		t.Fatalf("expected ErrIntegrity under wrong key, got %v", err)
	}
}

func TestDecryptRejectsGarbage(t *testing.T) {
	codec := newTestCodec(t)

	cases := []string{
		"",
		"v1:",
		"v1:AAAA",
		"v2:" + strings.Repeat("A", 40),
		"not a ciphertext at all",
	}

	for _, ct := range cases {
		_, err := codec.Decrypt(ct)
		var integrity *errors.ErrIntegrity
		if !stderrors.As(err, &integrity) {
			t.Errorf("Decrypt(%q): expected ErrIntegrity, got %v", ct, err)
		}
	}
}
