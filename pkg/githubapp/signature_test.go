package githubapp

import (
	"strings"
	"testing"
)

// TestVerifySignatureRoundTrip tests that a signature produced for a body
// verifies against the same secret and body.
func TestVerifySignatureRoundTrip(t *testing.T) {
	secret := []byte("s3cr3t")
	body := []byte(`{"action":"opened","number":42}`)

	header := Signature(secret, body)
	if !strings.HasPrefix(header, "sha256=") {
		t.Fatalf("expected sha256= prefix, got %q", header)
	}
	if !VerifySignature(secret, body, header) {
		t.Fatalf("expected signature to verify")
	}
}

// TestVerifySignatureMutation tests that flipping any bit of the body breaks
// verification.
func TestVerifySignatureMutation(t *testing.T) {
	secret := []byte("s3cr3t")
	body := []byte(`{"action":"opened"}`)
	header := Signature(secret, body)

	for i := range body {
		for bit := 0; bit < 8; bit++ {
			mutated := append([]byte(nil), body...)
			mutated[i] ^= 1 << bit
			if VerifySignature(secret, mutated, header) {
				t.Fatalf("expected mutated body (byte %d bit %d) to fail verification", i, bit)
			}
		}
	}
}

// TestVerifySignatureWrongSecret tests that a signature from another secret is
// rejected.
func TestVerifySignatureWrongSecret(t *testing.T) {
	body := []byte(`{"zen":"Design for failure."}`)
	header := Signature([]byte("right"), body)
	if VerifySignature([]byte("wrong"), body, header) {
		t.Fatalf("expected wrong secret to fail verification")
	}
}

// TestVerifySignatureMalformedHeader tests that malformed headers are rejected
// without panicking.
func TestVerifySignatureMalformedHeader(t *testing.T) {
	secret := []byte("s3cr3t")
	body := []byte("payload")

	cases := []string{
		"",
		"sha256=",
		"sha256=nothex",
		"sha256=abc",
		"sha1=" + strings.Repeat("ab", 20),
		strings.TrimPrefix(Signature(secret, body), "sha256="),
	}
	for _, header := range cases {
		if VerifySignature(secret, body, header) {
			t.Fatalf("expected header %q to fail verification", header)
		}
	}
}

// TestVerifySignatureEmptySecret tests that an empty secret never verifies.
func TestVerifySignatureEmptySecret(t *testing.T) {
	body := []byte("payload")
	header := Signature([]byte(""), body)
	if VerifySignature(nil, body, header) {
		t.Fatalf("expected empty secret to fail verification")
	}
}
