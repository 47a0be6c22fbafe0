package target

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromBytesClassification(t *testing.T) {
	text := FromBytes([]byte("the quick brown fox jumps over the lazy dog"), Root())
	assert.True(t, text.IsRoot())
	assert.Equal(t, 0, text.Depth())
	assert.True(t, text.IsPrintable())
	assert.True(t, text.IsEnglish())
	assert.False(t, text.IsFile())
	assert.Equal(t, int64(43), text.Size())
	assert.Len(t, text.Hash(), 64)

	bin := FromBytes([]byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0}, Options{Parent: 3, Depth: 2})
	assert.False(t, bin.IsPrintable())
	assert.True(t, bin.IsImage())
	assert.Equal(t, "image/png", bin.MIME())
	assert.False(t, bin.IsRoot())
	assert.Equal(t, 3, bin.Parent())
	assert.Equal(t, 2, bin.Depth())
}

func TestHashIsContentIdentity(t *testing.T) {
	a := FromBytes([]byte("flag{same}"), Root())
	b := FromBytes([]byte("flag{same}"), Options{Parent: 7, Depth: 1})
	c := FromBytes([]byte("flag{other}"), Root())
	assert.Equal(t, a.Hash(), b.Hash())
	assert.NotEqual(t, a.Hash(), c.Hash())
}

func TestFromFileMatchesFromBytes(t *testing.T) {
	content := []byte("aGVsbG8gd29ybGQ=\n")
	path := filepath.Join(t.TempDir(), "input.txt")
	require.NoError(t, os.WriteFile(path, content, 0o600))

	ft, err := FromFile(path, Root())
	require.NoError(t, err)
	assert.True(t, ft.IsFile())
	assert.Equal(t, path, ft.Path())
	assert.Equal(t, FromBytes(content, Root()).Hash(), ft.Hash())

	data, err := ft.Bytes()
	require.NoError(t, err)
	assert.Equal(t, content, data)

	_, err = FromFile(t.TempDir(), Root())
	assert.Error(t, err)
	_, err = FromFile(filepath.Join(t.TempDir(), "missing"), Root())
	assert.Error(t, err)
}

func TestCompletionAndUnitCounter(t *testing.T) {
	tgt := FromBytes([]byte("data"), Root())
	assert.False(t, tgt.Completed())
	tgt.SetCompleted()
	assert.True(t, tgt.Completed())

	assert.Equal(t, int64(2), tgt.AddUnits(2))
	assert.Equal(t, int64(1), tgt.AddUnits(-1))
	assert.Equal(t, int64(1), tgt.UnitsLeft())
}
