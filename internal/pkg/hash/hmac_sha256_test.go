package hash

import (
	"bytes"
	"testing"
)

func TestHMACSHA256(t *testing.T) {
	h := NewHMACSHA256("pepper-secret")

	t.Run("HashAndVerify", func(t *testing.T) {
		hashed, err := h.Hash("salt:483920")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !h.Verify(string(hashed), "salt:483920") {
			t.Fatalf("verify should succeed for the same input")
		}
	})

	t.Run("Deterministic", func(t *testing.T) {
		a, _ := h.Hash("same-input")
		b, _ := h.Hash("same-input")
		if !bytes.Equal(a, b) {
			t.Fatalf("same input should produce the same hash")
		}
	})

	t.Run("WrongPlaintext", func(t *testing.T) {
		hashed, _ := h.Hash("salt:483920")
		if h.Verify(string(hashed), "salt:483921") {
			t.Fatalf("verify should fail for a different code")
		}
	})

	t.Run("WrongPepper", func(t *testing.T) {
		hashed, _ := h.Hash("salt:483920")
		other := NewHMACSHA256("different-pepper")
		if other.Verify(string(hashed), "salt:483920") {
			t.Fatalf("verify should fail under a different pepper")
		}
	})
}
