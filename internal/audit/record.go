// Package audit keeps the append-only security event log: hash-chained,
// HMAC-signed JSONL entries, encrypted at rest, rotated daily with the chain
// carried across file boundaries.
package audit

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/i5heu/ouroboros-crypt/hash"
)

// EventType names a security-relevant event.
type EventType string

const (
	EventEnrollment    EventType = "enrollment"
	EventAuthSuccess   EventType = "auth_success"
	EventAuthFailure   EventType = "auth_failure"
	EventEncrypt       EventType = "encrypt"
	EventDecrypt       EventType = "decrypt"
	EventVerify        EventType = "verify"
	EventDeleteUser    EventType = "delete_user"
	EventConsentChange EventType = "consent_change"
)

// ActorSystem is the actor recorded for events not tied to a user.
const ActorSystem = "system"

// Entry is one line of the audit log. PrevHash chains it to its predecessor;
// EntryHash covers the serialized entry including PrevHash, so any
// retroactive edit breaks verification from that point forward.
type Entry struct {
	ID        string            `json:"id"`
	Timestamp time.Time         `json:"timestamp"`
	Type      EventType         `json:"event_type"`
	Actor     string            `json:"actor"`
	Result    string            `json:"result"`
	Detail    map[string]string `json:"detail,omitempty"`
	PrevHash  string            `json:"prev_entry_hash"`
	EntryHash string            `json:"entry_hash"`
	Signature string            `json:"signature"`
}

// canonical returns the serialization that EntryHash covers: the entry with
// hash and signature cleared.
func (e Entry) canonical() ([]byte, error) {
	e.EntryHash = ""
	e.Signature = ""
	raw, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize audit entry: %w", err)
	}
	return raw, nil
}

func (e Entry) computeHash() (string, error) {
	raw, err := e.canonical()
	if err != nil {
		return "", err
	}
	h := hash.HashBytes(raw)
	return fmt.Sprintf("%x", h), nil
}

func sign(signKey []byte, entryHash string) string {
	mac := hmac.New(sha256.New, signKey)
	mac.Write([]byte(entryHash))
	return hex.EncodeToString(mac.Sum(nil))
}

func verifySignature(signKey []byte, e Entry) bool {
	expected := sign(signKey, e.EntryHash)
	return hmac.Equal([]byte(expected), []byte(e.Signature))
}
