package input

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rafabd1/Nightshade/internal/target"
	"github.com/rafabd1/Nightshade/internal/utils"
)

func TestResolve(t *testing.T) {
	dir := t.TempDir()
	challenge := filepath.Join(dir, "challenge.bin")
	require.NoError(t, os.WriteFile(challenge, []byte{0x00, 0x01}, 0o600))
	list := filepath.Join(dir, "targets.txt")
	require.NoError(t, os.WriteFile(list, []byte("# comment\nhttps://ctf.local/a\n\n"+challenge+"\nZmxhZ3t9\n"), 0o600))

	r := NewReader(&utils.NoOpLogger{})
	r.stdin = strings.NewReader("piped data")

	got, err := r.Resolve(context.Background(), []string{"literal text", "-", "@" + list, challenge, dir})
	require.NoError(t, err)
	assert.Equal(t, []any{
		"literal text",
		[]byte("piped data"),
		"https://ctf.local/a",
		target.Path(challenge),
		"ZmxhZ3t9",
		target.Path(challenge),
		dir,
	}, got)
}

func TestResolveMissingList(t *testing.T) {
	r := NewReader(&utils.NoOpLogger{})
	_, err := r.Resolve(context.Background(), []string{"@" + filepath.Join(t.TempDir(), "missing.txt")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing.txt")
}

func TestResolveKeepsBareAt(t *testing.T) {
	r := NewReader(&utils.NoOpLogger{})
	got, err := r.Resolve(context.Background(), []string{"@"})
	require.NoError(t, err)
	assert.Equal(t, []any{"@"}, got)
}
