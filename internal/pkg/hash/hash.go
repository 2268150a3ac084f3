package hash

// Hash hashes plaintext secrets and verifies user input against stored hashes.
type Hash interface {
	// Hash takes a plaintext string and returns its hashed representation.
	Hash(str string) ([]byte, error)
	// Verify reports whether the plaintext matches the given hash.
	// Implementations must compare in constant time.
	Verify(hashed, str string) bool
}
