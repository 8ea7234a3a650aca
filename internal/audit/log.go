package audit

import (
	"bufio"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	filePrefix = "audit-"
	fileSuffix = ".log"
	fileMode   = os.FileMode(0o600)
	dirMode    = os.FileMode(0o700)
)

// Log is the append-only audit log rooted at one directory. Appends are
// serialized; the hash chain gives entries a total order.
type Log struct {
	mu       sync.Mutex
	dir      string
	signKey  []byte
	sealKey  []byte
	lastHash string
	log      *logrus.Logger
	now      func() time.Time
}

// Open prepares the log directory and recovers the chain head from the most
// recent entry, so new entries continue the chain across restarts and file
// rotations alike.
func Open(dir string, signKey, sealKey []byte, logger *logrus.Logger) (*Log, error) {
	if logger == nil {
		logger = logrus.New()
	}
	if err := os.MkdirAll(dir, dirMode); err != nil {
		return nil, fmt.Errorf("failed to create audit directory: %w", err)
	}

	l := &Log{
		dir:     dir,
		signKey: append([]byte(nil), signKey...),
		sealKey: append([]byte(nil), sealKey...),
		log:     logger,
		now:     time.Now,
	}

	last, err := l.lastEntry()
	if err != nil {
		return nil, err
	}
	if last != nil {
		l.lastHash = last.EntryHash
	}
	return l, nil
}

// Append records one event. Exactly one entry is written per call; failures
// leave the chain untouched.
func (l *Log) Append(event EventType, actor, result string, detail map[string]string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now().UTC()
	entry := Entry{
		ID:        uuid.NewString(),
		Timestamp: now,
		Type:      event,
		Actor:     actor,
		Result:    result,
		Detail:    detail,
		PrevHash:  l.lastHash,
	}

	entryHash, err := entry.computeHash()
	if err != nil {
		return err
	}
	entry.EntryHash = entryHash
	entry.Signature = sign(l.signKey, entryHash)

	line, err := l.sealEntry(entry)
	if err != nil {
		return err
	}

	path := filepath.Join(l.dir, filePrefix+now.Format("2006-01-02")+fileSuffix)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, fileMode)
	if err != nil {
		return fmt.Errorf("failed to open audit file: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(line + "\n"); err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}

	l.lastHash = entryHash
	l.log.WithFields(logrus.Fields{"event": event, "result": result}).Debug("audit entry recorded")
	return nil
}

// files returns the rotated audit files in chronological order. The date in
// the name sorts lexically, so name order is chain order.
func (l *Log) files() ([]string, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read audit directory: %w", err)
	}
	var files []string
	for _, e := range entries {
		name := e.Name()
		if !e.IsDir() && strings.HasPrefix(name, filePrefix) && strings.HasSuffix(name, fileSuffix) {
			files = append(files, filepath.Join(l.dir, name))
		}
	}
	sort.Strings(files)
	return files, nil
}

func (l *Log) lastEntry() (*Entry, error) {
	files, err := l.files()
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, nil
	}

	// Walk from the newest file backwards; the newest non-empty file holds
	// the chain head.
	var last *Entry
	for i := len(files) - 1; i >= 0 && last == nil; i-- {
		if err := l.walkFile(files[i], func(e Entry, _ int) error {
			last = &e
			return nil
		}); err != nil {
			return nil, err
		}
	}
	return last, nil
}

func (l *Log) walkFile(path string, fn func(e Entry, line int) error) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open audit file: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		entry, err := l.openEntry(text)
		if err != nil {
			return &IntegrityError{File: path, Line: line, Message: "unreadable audit entry", Err: err}
		}
		if err := fn(entry, line); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to scan audit file: %w", err)
	}
	return nil
}

func (l *Log) sealEntry(entry Entry) (string, error) {
	plaintext, err := json.Marshal(entry)
	if err != nil {
		return "", fmt.Errorf("failed to marshal audit entry: %w", err)
	}

	aead, err := newGCM(l.sealKey)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate audit nonce: %w", err)
	}
	sealed := append(nonce, aead.Seal(nil, nonce, plaintext, nil)...)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func (l *Log) openEntry(line string) (Entry, error) {
	sealed, err := base64.StdEncoding.DecodeString(line)
	if err != nil {
		return Entry{}, fmt.Errorf("malformed audit line: %w", err)
	}

	aead, err := newGCM(l.sealKey)
	if err != nil {
		return Entry{}, err
	}
	if len(sealed) < aead.NonceSize() {
		return Entry{}, fmt.Errorf("audit line too short")
	}
	plaintext, err := aead.Open(nil, sealed[:aead.NonceSize()], sealed[aead.NonceSize():], nil)
	if err != nil {
		return Entry{}, fmt.Errorf("failed to decrypt audit entry: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(plaintext, &entry); err != nil {
		return Entry{}, fmt.Errorf("failed to unmarshal audit entry: %w", err)
	}
	return entry, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create audit cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create audit GCM: %w", err)
	}
	return aead, nil
}
