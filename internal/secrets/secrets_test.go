package secrets

import (
	"bytes"
	"testing"
)

func testKey() []byte {
	return bytes.Repeat([]byte{0x42}, 32)
}

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	box, err := NewBox(testKey())
	if err != nil {
		t.Fatalf("NewBox failed: %v", err)
	}
	token := "ya29.a0AfH6SMBexample-oauth-token"
	sealed, err := box.Encrypt("google_drive", token)
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	if sealed == token {
		t.Fatal("ciphertext must differ from plaintext")
	}
	plain, err := box.Decrypt("google_drive", sealed)
	if err != nil {
		t.Fatalf("Decrypt failed: %v", err)
	}
	if plain != token {
		t.Errorf("round trip mismatch: got %q", plain)
	}
}

func TestDecrypt_WrongPurposeFails(t *testing.T) {
	box, _ := NewBox(testKey())
	sealed, err := box.Encrypt("google_drive", "secret")
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	if _, err := box.Decrypt("slack", sealed); err == nil {
		t.Error("expected decryption failure with mismatched purpose")
	}
}

func TestNewBox_RejectsShortKey(t *testing.T) {
	if _, err := NewBox([]byte("short")); err == nil {
		t.Error("expected error for short master key")
	}
}

func TestDecrypt_GarbageFails(t *testing.T) {
	box, _ := NewBox(testKey())
	if _, err := box.Decrypt("p", "not-base64!!"); err == nil {
		t.Error("expected error for invalid encoding")
	}
	if _, err := box.Decrypt("p", "YWJj"); err == nil {
		t.Error("expected error for truncated ciphertext")
	}
}
