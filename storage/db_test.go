package storage

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemDBCrud(t *testing.T) {
	db := NewMemDB()
	defer db.Close()

	_, err := db.Get([]byte("missing"))
	require.ErrorIs(t, err, ErrKeyNotFound)

	require.NoError(t, db.Put([]byte("k"), []byte("v1")))
	value, err := db.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("v1"), value)

	require.NoError(t, db.Put([]byte("k"), []byte("v2")))
	value, err = db.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("v2"), value)

	has, err := db.Has([]byte("k"))
	require.NoError(t, err)
	require.True(t, has)

	require.NoError(t, db.Delete([]byte("k")))
	has, err = db.Has([]byte("k"))
	require.NoError(t, err)
	require.False(t, has)
	require.NoError(t, db.Delete([]byte("k")))
}

func TestMemDBCopiesValues(t *testing.T) {
	db := NewMemDB()
	defer db.Close()

	original := []byte("value")
	require.NoError(t, db.Put([]byte("k"), original))
	original[0] = 'X'

	stored, err := db.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("value"), stored)

	stored[0] = 'Y'
	again, err := db.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("value"), again)
}

func TestLevelDBRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db")

	db, err := NewLevelDB(path)
	require.NoError(t, err)
	require.NoError(t, db.Put([]byte("k"), []byte("v")))
	db.Close()

	// Reopen and read the persisted value.
	db, err = NewLevelDB(path)
	require.NoError(t, err)
	defer db.Close()

	value, err := db.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("v"), value)

	_, err = db.Get([]byte("missing"))
	require.ErrorIs(t, err, ErrKeyNotFound)
}
