package audit

import (
	"bytes"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupLog(t *testing.T) (*Log, string, func()) {
	t.Helper()
	dir := t.TempDir()
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	l, err := Open(dir, bytes.Repeat([]byte{0x51}, 32), bytes.Repeat([]byte{0x52}, 32), logger)
	require.NoError(t, err)
	return l, dir, func() {}
}

func reopenLog(t *testing.T, dir string) *Log {
	t.Helper()
	l, err := Open(dir, bytes.Repeat([]byte{0x51}, 32), bytes.Repeat([]byte{0x52}, 32), nil)
	require.NoError(t, err)
	return l
}

func TestAppendAndVerifyChain(t *testing.T) {
	l, _, cleanup := setupLog(t)
	defer cleanup()

	require.NoError(t, l.Append(EventEnrollment, "alice", "success", nil))
	require.NoError(t, l.Append(EventAuthSuccess, "alice", "success", map[string]string{"attempts": "1"}))
	require.NoError(t, l.Append(EventEncrypt, "alice", "success", map[string]string{"file": "report.pdf"}))

	count, err := l.VerifyChain()
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestVerifyEmptyLog(t *testing.T) {
	l, _, cleanup := setupLog(t)
	defer cleanup()

	count, err := l.VerifyChain()
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestChainContinuesAcrossReopen(t *testing.T) {
	l, dir, _ := setupLog(t)
	require.NoError(t, l.Append(EventEnrollment, "alice", "success", nil))
	require.NoError(t, l.Append(EventAuthSuccess, "alice", "success", nil))

	reopened := reopenLog(t, dir)
	require.NoError(t, reopened.Append(EventDecrypt, "alice", "success", nil))

	count, err := reopened.VerifyChain()
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestChainSpansRotatedFiles(t *testing.T) {
	l, dir, cleanup := setupLog(t)
	defer cleanup()

	day := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return day }
	require.NoError(t, l.Append(EventEnrollment, "alice", "success", nil))
	require.NoError(t, l.Append(EventAuthSuccess, "alice", "success", nil))

	l.now = func() time.Time { return day.Add(24 * time.Hour) }
	require.NoError(t, l.Append(EventEncrypt, "alice", "success", nil))
	require.NoError(t, l.Append(EventDecrypt, "alice", "success", nil))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	count, err := l.VerifyChain()
	require.NoError(t, err)
	assert.Equal(t, 4, count)

	// A fresh handle recovers the chain head from the newest file.
	reopened := reopenLog(t, dir)
	require.NoError(t, reopened.Append(EventVerify, "alice", "success", nil))
	count, err = reopened.VerifyChain()
	require.NoError(t, err)
	assert.Equal(t, 5, count)
}

func TestCorruptedLineDetected(t *testing.T) {
	l, _, cleanup := setupLog(t)
	defer cleanup()

	for i := 0; i < 4; i++ {
		require.NoError(t, l.Append(EventAuthSuccess, "alice", "success", nil))
	}

	files, err := l.files()
	require.NoError(t, err)
	require.Len(t, files, 1)

	raw, err := os.ReadFile(files[0])
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	require.Len(t, lines, 4)

	// Flip a character inside the second entry's sealed payload.
	corrupted := []byte(lines[1])
	if corrupted[10] == 'A' {
		corrupted[10] = 'B'
	} else {
		corrupted[10] = 'A'
	}
	lines[1] = string(corrupted)
	require.NoError(t, os.WriteFile(files[0], []byte(strings.Join(lines, "\n")+"\n"), 0o600))

	count, err := l.VerifyChain()
	var ierr *IntegrityError
	require.ErrorAs(t, err, &ierr)
	assert.Equal(t, 2, ierr.Line)
	// Only the entries before the corruption verified.
	assert.Equal(t, 1, count)
}

func TestDeletedLineBreaksChain(t *testing.T) {
	l, _, cleanup := setupLog(t)
	defer cleanup()

	for i := 0; i < 3; i++ {
		require.NoError(t, l.Append(EventAuthFailure, "mallory", "failure", nil))
	}

	files, err := l.files()
	require.NoError(t, err)
	raw, err := os.ReadFile(files[0])
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	require.Len(t, lines, 3)

	// Drop the middle entry.
	pruned := []string{lines[0], lines[2]}
	require.NoError(t, os.WriteFile(files[0], []byte(strings.Join(pruned, "\n")+"\n"), 0o600))

	_, err = l.VerifyChain()
	var ierr *IntegrityError
	require.ErrorAs(t, err, &ierr)
	assert.Contains(t, ierr.Message, "hash chain broken")
}

func TestTruncatedLogDetectedByChainHead(t *testing.T) {
	l, _, cleanup := setupLog(t)
	defer cleanup()

	require.NoError(t, l.Append(EventEnrollment, "alice", "success", nil))
	require.NoError(t, l.Append(EventDeleteUser, "alice", "success", nil))

	files, err := l.files()
	require.NoError(t, err)
	raw, err := os.ReadFile(files[0])
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	require.Len(t, lines, 2)

	// Remove the newest entry; the in-memory chain head no longer matches.
	require.NoError(t, os.WriteFile(files[0], []byte(lines[0]+"\n"), 0o600))

	_, err = l.VerifyChain()
	var ierr *IntegrityError
	require.ErrorAs(t, err, &ierr)
	assert.Contains(t, ierr.Message, "chain head")
}

func TestSignatureVerification(t *testing.T) {
	signKey := bytes.Repeat([]byte{0x51}, 32)
	entry := Entry{ID: "x", Actor: "alice", Result: "success"}

	entryHash, err := entry.computeHash()
	require.NoError(t, err)
	entry.EntryHash = entryHash
	entry.Signature = sign(signKey, entryHash)

	assert.True(t, verifySignature(signKey, entry))

	forged := entry
	forged.Signature = sign(bytes.Repeat([]byte{0x99}, 32), entryHash)
	assert.False(t, verifySignature(signKey, forged))
}

func TestEntryHashCoversDetailAndPrevHash(t *testing.T) {
	base := Entry{ID: "x", Actor: "alice", Result: "success", PrevHash: "abc"}

	h1, err := base.computeHash()
	require.NoError(t, err)

	changedDetail := base
	changedDetail.Detail = map[string]string{"file": "report.pdf"}
	h2, err := changedDetail.computeHash()
	require.NoError(t, err)
	assert.NotEqual(t, h1, h2)

	changedPrev := base
	changedPrev.PrevHash = "def"
	h3, err := changedPrev.computeHash()
	require.NoError(t, err)
	assert.NotEqual(t, h1, h3)
}
