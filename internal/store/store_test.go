package store

import (
	"bytes"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumivault/facevault/internal/embedding"
	"github.com/lumivault/facevault/internal/kdf"
)

func setupStore(t *testing.T) (*Store, string, func()) {
	t.Helper()
	dir := t.TempDir()
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	s, err := Open(dir, logger)
	require.NoError(t, err)
	return s, dir, func() { s.Close() }
}

func testTemplate(userID string) *Template {
	vec := make(embedding.Vector, 16)
	for i := range vec {
		vec[i] = float32(i) * 0.05
	}
	now := time.Now().UTC()
	return &Template{
		UserID:       userID,
		Embedding:    vec,
		QualityScore: 0.91,
		SampleCount:  3,
		Salt:         []byte("0123456789abcdef0123456789abcdef"),
		KDFParams:    kdf.DefaultParams(),
		Consent:      ConsentGranted,
		ConsentAt:    now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func TestSaveAndLoadTemplate(t *testing.T) {
	s, _, cleanup := setupStore(t)
	defer cleanup()

	original := testTemplate("alice")
	require.NoError(t, s.SaveTemplate(original))

	loaded, err := s.LoadTemplate("alice")
	require.NoError(t, err)
	defer loaded.Zero()

	assert.Equal(t, "alice", loaded.UserID)
	assert.Equal(t, original.Embedding, loaded.Embedding)
	assert.Equal(t, original.Salt, loaded.Salt)
	assert.Equal(t, original.KDFParams, loaded.KDFParams)
	assert.Equal(t, ConsentGranted, loaded.Consent)
	assert.Equal(t, 3, loaded.SampleCount)
}

func TestLoadMetaSkipsEmbedding(t *testing.T) {
	s, _, cleanup := setupStore(t)
	defer cleanup()

	require.NoError(t, s.SaveTemplate(testTemplate("alice")))

	meta, err := s.LoadMeta("alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", meta.UserID)
	assert.Equal(t, 0.91, meta.QualityScore)
	assert.NotEmpty(t, meta.TemplateHash)
}

func TestHasUser(t *testing.T) {
	s, _, cleanup := setupStore(t)
	defer cleanup()

	exists, err := s.HasUser("alice")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, s.SaveTemplate(testTemplate("alice")))

	exists, err = s.HasUser("alice")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestLoadUnknownUser(t *testing.T) {
	s, _, cleanup := setupStore(t)
	defer cleanup()

	_, err := s.LoadTemplate("ghost")
	assert.ErrorIs(t, err, ErrUserNotFound)

	_, err = s.LoadMeta("ghost")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestUpdateConsent(t *testing.T) {
	s, _, cleanup := setupStore(t)
	defer cleanup()

	require.NoError(t, s.SaveTemplate(testTemplate("alice")))
	require.NoError(t, s.UpdateConsent("alice", ConsentRevoked))

	meta, err := s.LoadMeta("alice")
	require.NoError(t, err)
	assert.Equal(t, ConsentRevoked, meta.Consent)

	// The embedding survives the consent rewrite.
	loaded, err := s.LoadTemplate("alice")
	require.NoError(t, err)
	defer loaded.Zero()
	assert.Equal(t, testTemplate("alice").Embedding, loaded.Embedding)
}

func TestListUsers(t *testing.T) {
	s, _, cleanup := setupStore(t)
	defer cleanup()

	users, err := s.ListUsers()
	require.NoError(t, err)
	assert.Empty(t, users)

	require.NoError(t, s.SaveTemplate(testTemplate("alice")))
	require.NoError(t, s.SaveTemplate(testTemplate("bob")))

	users, err = s.ListUsers()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"alice", "bob"}, users)
}

func TestDeleteUser(t *testing.T) {
	s, _, cleanup := setupStore(t)
	defer cleanup()

	require.NoError(t, s.SaveTemplate(testTemplate("alice")))
	require.NoError(t, s.DeleteUser("alice"))

	exists, err := s.HasUser("alice")
	require.NoError(t, err)
	assert.False(t, exists)

	_, err = s.LoadTemplate("alice")
	assert.ErrorIs(t, err, ErrUserNotFound)

	assert.ErrorIs(t, s.DeleteUser("alice"), ErrUserNotFound)
}

func TestDeleteShredsWrapKeyEverywhere(t *testing.T) {
	s, dir, _ := setupStore(t)
	require.NoError(t, s.SaveTemplate(testTemplate("alice")))

	keyPath := s.wrapKeyPath("alice")
	sealed, err := os.ReadFile(keyPath)
	require.NoError(t, err)
	require.NotEmpty(t, sealed)

	require.NoError(t, s.DeleteUser("alice"))
	require.NoError(t, s.Close())

	_, err = os.Stat(keyPath)
	assert.True(t, os.IsNotExist(err))

	// Nothing anywhere under the storage root still holds the sealed
	// wrapping key. The database only ever saw records sealed under it, so
	// its on-disk versions are dead weight, not a leak.
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		assert.False(t, bytes.Contains(data, sealed), "sealed wrapping key survives in %s", path)
		return nil
	})
	require.NoError(t, err)
}

func TestReenrollmentShredsOldWrapKey(t *testing.T) {
	s, _, cleanup := setupStore(t)
	defer cleanup()

	require.NoError(t, s.SaveTemplate(testTemplate("alice")))
	oldSealed, err := os.ReadFile(s.wrapKeyPath("alice"))
	require.NoError(t, err)

	require.NoError(t, s.SaveTemplate(testTemplate("alice")))
	newSealed, err := os.ReadFile(s.wrapKeyPath("alice"))
	require.NoError(t, err)

	assert.NotEqual(t, oldSealed, newSealed)
}

func TestReenrollmentReplacesTemplate(t *testing.T) {
	s, _, cleanup := setupStore(t)
	defer cleanup()

	require.NoError(t, s.SaveTemplate(testTemplate("alice")))

	replacement := testTemplate("alice")
	replacement.Embedding[0] = 0.99
	replacement.Salt = []byte("fedcba9876543210fedcba9876543210")
	require.NoError(t, s.SaveTemplate(replacement))

	loaded, err := s.LoadTemplate("alice")
	require.NoError(t, err)
	defer loaded.Zero()
	assert.InDelta(t, 0.99, float64(loaded.Embedding[0]), 1e-6)
	assert.Equal(t, replacement.Salt, loaded.Salt)
}

func TestTemplateSurvivesReopen(t *testing.T) {
	s, dir, _ := setupStore(t)
	require.NoError(t, s.SaveTemplate(testTemplate("alice")))
	require.NoError(t, s.Close())

	reopened, err := Open(dir, nil)
	require.NoError(t, err)
	defer reopened.Close()

	loaded, err := reopened.LoadTemplate("alice")
	require.NoError(t, err)
	defer loaded.Zero()
	assert.Equal(t, "alice", loaded.UserID)
}

func TestAuditKeysAreStableAndDistinct(t *testing.T) {
	s, dir, _ := setupStore(t)

	signKey, sealKey, err := s.AuditKeys()
	require.NoError(t, err)
	assert.Len(t, signKey, kdf.KeySize)
	assert.NotEqual(t, signKey, sealKey)

	require.NoError(t, s.Close())

	// Same master key file, same derived keys.
	reopened, err := Open(dir, nil)
	require.NoError(t, err)
	defer reopened.Close()

	signKey2, sealKey2, err := reopened.AuditKeys()
	require.NoError(t, err)
	assert.Equal(t, signKey, signKey2)
	assert.Equal(t, sealKey, sealKey2)
}
