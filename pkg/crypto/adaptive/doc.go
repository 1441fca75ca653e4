// Package adaptive provides authenticated encryption for persisted records.
//
// A Sealer seals with AES-256-GCM where the CPU accelerates AES and
// ChaCha20-Poly1305 elsewhere. Sealed data starts with one byte naming
// the algorithm, and Open accepts either.
//
//	key, err := adaptive.ParseKey(os.Getenv("DELTAMESH_STORAGE__ENCRYPTION_KEY"))
//	s, err := adaptive.NewSealer(key)
//	sealed, err := s.Seal(plaintext, aad)
//	plaintext, err = s.Open(sealed, aad)
package adaptive
