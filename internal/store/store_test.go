package store

import (
	"bytes"
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTemp(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "state", "holyx.db")
	s, err := Open(context.Background(), path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, path
}

func TestGet_Missing_ReturnsNotOK(t *testing.T) {
	s, _ := openTemp(t)

	v, ok, err := s.Get(context.Background(), KeyDeviceID)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, v)
}

func TestSetGet_RoundTrip(t *testing.T) {
	s, _ := openTemp(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, KeyDeviceID, "HOLYX-000042"))

	v, ok, err := s.Get(ctx, KeyDeviceID)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "HOLYX-000042", v)
}

func TestSet_LastWriterWins(t *testing.T) {
	s, _ := openTemp(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, KeySchedule, "09:00"))
	require.NoError(t, s.Set(ctx, KeySchedule, "09:00,18:30"))

	v, _, err := s.Get(ctx, KeySchedule)
	require.NoError(t, err)
	assert.Equal(t, "09:00,18:30", v)
}

func TestSet_EmptyValueIsPresent(t *testing.T) {
	s, _ := openTemp(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, KeySchedule, ""))
	v, ok, err := s.Get(ctx, KeySchedule)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, v)
}

func TestSetMany_WritesAll(t *testing.T) {
	s, _ := openTemp(t)
	ctx := context.Background()

	require.NoError(t, s.SetMany(ctx, map[string]string{
		KeySchedule: "09:00,18:30",
		KeyImage:    "iVBORw0KGgo=",
	}))
	require.NoError(t, s.SetMany(ctx, nil))

	sched, ok, err := s.Get(ctx, KeySchedule)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "09:00,18:30", sched)

	img, ok, err := s.Get(ctx, KeyImage)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "iVBORw0KGgo=", img)
}

func TestRemove(t *testing.T) {
	s, _ := openTemp(t)
	ctx := context.Background()

	require.NoError(t, s.SetMany(ctx, map[string]string{
		KeyDeviceID:   "HOLYX-000042",
		KeyLastUpdate: "2026-03-10T09:00:00Z",
		KeySchedule:   "09:00",
	}))
	require.NoError(t, s.Remove(ctx, KeyDeviceID, KeyLastUpdate, "never-set"))

	_, ok, err := s.Get(ctx, KeyDeviceID)
	require.NoError(t, err)
	assert.False(t, ok)
	_, ok, err = s.Get(ctx, KeyLastUpdate)
	require.NoError(t, err)
	assert.False(t, ok)
	_, ok, err = s.Get(ctx, KeySchedule)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestOpen_PersistsAcrossReopen(t *testing.T) {
	s, path := openTemp(t)
	ctx := context.Background()
	require.NoError(t, s.Set(ctx, KeyDeviceID, "HOLYX-000042"))
	require.NoError(t, s.Close())

	s2, err := Open(ctx, path)
	require.NoError(t, err)
	defer s2.Close()

	v, ok, err := s2.Get(ctx, KeyDeviceID)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "HOLYX-000042", v)
}

func TestValuesAreSealedAtRest(t *testing.T) {
	s, path := openTemp(t)
	ctx := context.Background()
	require.NoError(t, s.Set(ctx, KeyDeviceID, "HOLYX-000042"))

	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close()

	var raw []byte
	require.NoError(t, db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, KeyDeviceID).Scan(&raw))
	assert.False(t, bytes.Contains(raw, []byte("HOLYX-000042")), "value stored in plaintext")
}

func TestKeyFile(t *testing.T) {
	_, path := openTemp(t)

	info, err := os.Stat(path + ".key")
	require.NoError(t, err)
	assert.EqualValues(t, secretSize, info.Size())
	if runtime.GOOS != "windows" {
		assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
	}
}

func TestOpen_WrongKeyFileSize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "holyx.db")
	require.NoError(t, os.WriteFile(path+".key", []byte("short"), 0o600))

	_, err := Open(context.Background(), path)
	require.Error(t, err)
}

func TestGet_ForeignKeyFails(t *testing.T) {
	s, path := openTemp(t)
	ctx := context.Background()
	require.NoError(t, s.Set(ctx, KeyDeviceID, "HOLYX-000042"))
	require.NoError(t, s.Close())

	// a different key file cannot open existing values
	require.NoError(t, os.Remove(path+".key"))
	s2, err := Open(ctx, path)
	require.NoError(t, err)
	defer s2.Close()

	_, _, err = s2.Get(ctx, KeyDeviceID)
	require.Error(t, err)
}
