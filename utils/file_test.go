package utils

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirStorePut(t *testing.T) {
	root := t.TempDir()
	store, err := NewDirStore(root)
	require.NoError(t, err)

	require.NoError(t, store.Put(context.Background(), "autopilot/u1/s1.json", []byte(`{"ok":true}`), "application/json"))

	got, err := os.ReadFile(filepath.Join(root, "autopilot", "u1", "s1.json"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(got))
}

func TestDirStorePathStaysInRoot(t *testing.T) {
	store, err := NewDirStore(t.TempDir())
	require.NoError(t, err)

	p := store.Path("../../etc/passwd")
	assert.Equal(t, filepath.Join(store.root, "etc", "passwd"), p)
}
