// ABOUTME: Tests for the file-backed session repository.
// ABOUTME: Validates persist/load round trips, expiry-as-absent, and the sweep.

package session

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRepo(t *testing.T, ttl time.Duration) *FileRepository {
	t.Helper()
	repo, err := NewFileRepository(t.TempDir(), ttl, nil)
	require.NoError(t, err)
	return repo
}

func TestFileRepository_Get_CreatesFresh(t *testing.T) {
	repo := newTestRepo(t, time.Hour)

	s, created, err := repo.Get("591700001", time.Now())
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "591700001", s.ID)
	assert.Equal(t, StageDiscovery, s.Stage)
	assert.False(t, s.ExpiresAt.IsZero())
}

func TestFileRepository_Get_ReturnsSameInstance(t *testing.T) {
	repo := newTestRepo(t, time.Hour)
	now := time.Now()

	s1, _, err := repo.Get("591700001", now)
	require.NoError(t, err)
	s1.Slots.Name = "Juan Pérez"

	s2, created, err := repo.Get("591700001", now.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "Juan Pérez", s2.Slots.Name)
}

func TestFileRepository_PersistLoad_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	repo, err := NewFileRepository(dir, time.Hour, nil)
	require.NoError(t, err)
	now := time.Now()

	s, _, err := repo.Get("591700001", now)
	require.NoError(t, err)
	s.Greeted = true
	s.Stage = StageProduct
	s.Slots = Slots{
		Name:         "Juan Pérez",
		Region:       "Santa Cruz",
		Subregion:    "Norte",
		Crops:        []string{"soya", "maíz"},
		AreaHectares: 120.5,
		Campaign:     "verano",
	}
	s.Cart = []LineItem{{Name: "Glifomax", PackSpec: "20 L", QuantityText: "3"}}
	require.NoError(t, repo.Persist(s))

	// A second repository over the same directory simulates a restart.
	repo2, err := NewFileRepository(dir, time.Hour, nil)
	require.NoError(t, err)
	loaded, created, err := repo2.Get("591700001", now.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, created, "unexpired snapshot must be loaded, not recreated")
	assert.Equal(t, s.Slots, loaded.Slots)
	assert.Equal(t, s.Cart, loaded.Cart)
	assert.Equal(t, StageProduct, loaded.Stage)
}

func TestFileRepository_Load_ExpiredIsAbsent(t *testing.T) {
	dir := t.TempDir()
	repo, err := NewFileRepository(dir, time.Minute, nil)
	require.NoError(t, err)
	now := time.Now()

	s, _, err := repo.Get("591700001", now)
	require.NoError(t, err)
	s.Slots.Name = "Juan Pérez"
	require.NoError(t, repo.Persist(s))

	repo2, err := NewFileRepository(dir, time.Minute, nil)
	require.NoError(t, err)
	loaded, created, err := repo2.Get("591700001", now.Add(2*time.Minute))
	require.NoError(t, err)
	assert.True(t, created, "expired snapshot must yield a fresh session")
	assert.Empty(t, loaded.Slots.Name)
}

func TestFileRepository_Load_CorruptIsAbsent(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "591700001.json"), []byte("{not json"), 0o644))

	repo, err := NewFileRepository(dir, time.Hour, nil)
	require.NoError(t, err)
	_, created, err := repo.Get("591700001", time.Now())
	require.NoError(t, err)
	assert.True(t, created, "corrupt snapshot must be treated as absent")
}

func TestFileRepository_Clear(t *testing.T) {
	dir := t.TempDir()
	repo, err := NewFileRepository(dir, time.Hour, nil)
	require.NoError(t, err)
	now := time.Now()

	s, _, err := repo.Get("591700001", now)
	require.NoError(t, err)
	require.NoError(t, repo.Persist(s))
	require.NoError(t, repo.Clear("591700001"))

	_, err = os.Stat(filepath.Join(dir, "591700001.json"))
	assert.True(t, os.IsNotExist(err), "durable record must be deleted")

	_, created, err := repo.Get("591700001", now)
	require.NoError(t, err)
	assert.True(t, created)
}

func TestFileRepository_Sweep(t *testing.T) {
	dir := t.TempDir()
	repo, err := NewFileRepository(dir, time.Minute, nil)
	require.NoError(t, err)
	now := time.Now()

	fresh, _, err := repo.Get("fresh", now)
	require.NoError(t, err)
	require.NoError(t, repo.Persist(fresh))

	stale, _, err := repo.Get("stale", now)
	require.NoError(t, err)
	stale.ExpiresAt = now.Add(-time.Minute)
	require.NoError(t, repo.Persist(stale))

	removed := repo.Sweep(now)
	assert.Equal(t, 1, removed)
	assert.Len(t, repo.All(), 1)

	_, err = os.Stat(filepath.Join(dir, "stale.json"))
	assert.True(t, os.IsNotExist(err), "expired durable record must be swept")
	_, err = os.Stat(filepath.Join(dir, "fresh.json"))
	assert.NoError(t, err, "live durable record must survive the sweep")
}

func TestFileRepository_Persist_AtomicNoPartials(t *testing.T) {
	dir := t.TempDir()
	repo, err := NewFileRepository(dir, time.Hour, nil)
	require.NoError(t, err)

	s, _, err := repo.Get("591700001", time.Now())
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		s.AppendHistory(RoleUser, "mensaje", time.Now())
		require.NoError(t, repo.Persist(s))
	}

	// No temp files left behind after repeated replaces.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestMemoryRepository_Sweep(t *testing.T) {
	repo := NewMemoryRepository(time.Minute)
	now := time.Now()

	_, _, err := repo.Get("a", now)
	require.NoError(t, err)
	s, _, err := repo.Get("b", now)
	require.NoError(t, err)
	s.ExpiresAt = now.Add(-time.Second)

	assert.Equal(t, 1, repo.Sweep(now))
	assert.Len(t, repo.All(), 1)
}
