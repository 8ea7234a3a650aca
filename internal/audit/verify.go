package audit

import "fmt"

// IntegrityError reports a broken hash chain or a forged entry. It is fatal
// and must be surfaced to the operator: the security record itself may have
// been tampered with.
type IntegrityError struct {
	File    string
	Line    int
	Message string
	Err     error
}

func (e *IntegrityError) Error() string {
	if e.File != "" {
		return fmt.Sprintf("audit integrity error: %s line %d: %s", e.File, e.Line, e.Message)
	}
	return fmt.Sprintf("audit integrity error: %s", e.Message)
}

func (e *IntegrityError) Unwrap() error { return e.Err }

// VerifyChain walks every rotated file in order and checks each entry's
// hash, signature, and link to its predecessor. The first break is returned;
// nothing is skipped silently.
func (l *Log) VerifyChain() (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	files, err := l.files()
	if err != nil {
		return 0, err
	}

	prevHash := ""
	count := 0
	for _, path := range files {
		err := l.walkFile(path, func(e Entry, line int) error {
			if e.PrevHash != prevHash {
				return &IntegrityError{File: path, Line: line, Message: "hash chain broken: prev_entry_hash does not match previous entry"}
			}
			computed, err := e.computeHash()
			if err != nil {
				return err
			}
			if computed != e.EntryHash {
				return &IntegrityError{File: path, Line: line, Message: "entry hash mismatch: entry was modified"}
			}
			if !verifySignature(l.signKey, e) {
				return &IntegrityError{File: path, Line: line, Message: "entry signature invalid"}
			}
			prevHash = e.EntryHash
			count++
			return nil
		})
		if err != nil {
			return count, err
		}
	}

	if prevHash != l.lastHash {
		return count, &IntegrityError{Message: "chain head does not match last appended entry"}
	}
	return count, nil
}
