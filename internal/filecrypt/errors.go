package filecrypt

import "fmt"

// IntegrityError reports a corrupted or tampered container. It is fatal: the
// caller must treat the file as damaged and must not emit partial plaintext.
type IntegrityError struct {
	Section    string // "header" or "chunk"
	ChunkIndex uint32
	Message    string
	Err        error
}

func (e *IntegrityError) Error() string {
	if e.Section == "chunk" {
		return fmt.Sprintf("file integrity error: chunk %d: %s", e.ChunkIndex, e.Message)
	}
	return fmt.Sprintf("file integrity error: %s: %s", e.Section, e.Message)
}

func (e *IntegrityError) Unwrap() error { return e.Err }
