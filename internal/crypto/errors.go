package crypto

import "fmt"

// EncryptionError wraps a failed KMS-backed encrypt or data-key call. These
// are retried with backoff before being surfaced; once surfaced the write
// attempt fails as a whole so no partially encrypted record is persisted.
type EncryptionError struct {
	Op  string
	Err error
}

func (e *EncryptionError) Error() string {
	return fmt.Sprintf("encryption failed (%s): %v", e.Op, e.Err)
}

func (e *EncryptionError) Unwrap() error { return e.Err }

// DecryptionError marks ciphertext that could not be decrypted: wrong key,
// corrupted bytes, or an encryption-context mismatch. It must propagate to the
// caller; treating the field as absent would silently corrupt displayed data.
type DecryptionError struct {
	Err error
}

func (e *DecryptionError) Error() string {
	return fmt.Sprintf("decryption failed: %v", e.Err)
}

func (e *DecryptionError) Unwrap() error { return e.Err }
