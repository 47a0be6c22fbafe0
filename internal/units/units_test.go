package units

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rafabd1/Nightshade/internal/config"
	"github.com/rafabd1/Nightshade/internal/core"
	"github.com/rafabd1/Nightshade/internal/target"
	"github.com/rafabd1/Nightshade/internal/unit"
	"github.com/rafabd1/Nightshade/internal/utils"
)

// fakeHost records what a unit reports without running a manager.
type fakeHost struct {
	cfg *config.Config

	mu       sync.Mutex
	data     []any
	recurse  []bool
	searched [][]byte
}

func newFakeHost() *fakeHost {
	cfg := config.GetDefaultConfig()
	cfg.FlagFormat = `flag\{[^}]*\}`
	return &fakeHost{cfg: cfg}
}

func (h *fakeHost) Config() *config.Config { return h.cfg }
func (h *fakeHost) Logger() utils.Logger   { return &utils.NoOpLogger{} }

func (h *fakeHost) RegisterData(_ unit.Unit, data any, recurse bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.data = append(h.data, data)
	h.recurse = append(h.recurse, recurse)
}

func (h *fakeHost) RegisterArtifact(unit.Unit, string, bool) {}

func (h *fakeHost) FindFlag(_ unit.Unit, data any) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if b, ok := data.([]byte); ok {
		h.searched = append(h.searched, b)
	}
	return false
}

func (h *fakeHost) QueueTarget(any, unit.Unit, ...string) error { return nil }

func (h *fakeHost) ArtifactPath(unit.Unit, string) (string, error) { return "", nil }

// build runs the finder for a single definition over content.
func build(t *testing.T, h *fakeHost, def unit.Definition, content []byte) (unit.Unit, string) {
	t.Helper()
	reg := unit.NewRegistry()
	require.NoError(t, reg.Register(def))
	m := unit.NewFinder(reg, unit.NewArena(), h, unit.FinderOptions{}).
		Match(target.FromBytes(content, target.Root()), nil, nil)
	if len(m.Units) == 0 {
		require.Len(t, m.Ignored, 1)
		return nil, m.Ignored[0].Reason
	}
	return m.Units[0], ""
}

func TestRegisterAll(t *testing.T) {
	reg := unit.NewRegistry()
	require.NoError(t, RegisterAll(reg))
	assert.Len(t, reg.Names(), len(Definitions()))
	assert.Error(t, RegisterAll(reg), "second registration must collide")

	for _, def := range reg.Definitions() {
		assert.NotEmpty(t, def.Description, def.Name)
	}
}

func TestDecoders(t *testing.T) {
	tests := []struct {
		name    string
		def     unit.Definition
		content string
		want    string
		recurse bool
	}{
		{"base64 std", Base64, base64.StdEncoding.EncodeToString([]byte("flag{b64}")), "flag{b64}", true},
		{"base64 raw url", Base64, base64.RawURLEncoding.EncodeToString([]byte("??>>flag")), "??>>flag", true},
		{"base64 wrapped", Base64, "ZmxhZ3tu\nZXdsaW5lfQ==\n", "flag{newline}", true},
		{"hex", Hex, "666c6167", "flag", true},
		{"hex prefixed", Hex, "0x666C6167\n", "flag", true},
		{"urldecode", URLDecode, "a%20b%21+c", "a b! c", true},
		{"reverse", Reverse, "  }desrever{galf\n", "flag{reversed}", true},
		{"rot47", Rot47, "7=28LN", "flag{}", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newFakeHost()
			u, reason := build(t, h, tt.def, []byte(tt.content))
			require.NotNil(t, u, reason)

			c, ok, err := u.Enumerate().Next()
			require.NoError(t, err)
			require.True(t, ok)
			require.NoError(t, u.Evaluate(c))

			require.Len(t, h.data, 1)
			assert.Equal(t, tt.want, string(h.data[0].([]byte)))
			assert.Equal(t, tt.recurse, h.recurse[0])
		})
	}
}

func TestNotApplicable(t *testing.T) {
	tests := []struct {
		name    string
		def     unit.Definition
		content []byte
	}{
		{"base64 punctuation", Base64, []byte("not base64!!")},
		{"base64 too short", Base64, []byte("ab")},
		{"hex odd length", Hex, []byte("abc")},
		{"hex letters", Hex, []byte("zz11")},
		{"urldecode plain", URLDecode, []byte("nothing escaped")},
		{"strings printable", Strings, []byte("already text")},
		{"caesar no letters", Caesar, []byte("1234 5678")},
		{"rot47 binary", Rot47, []byte{0x00, 0xff, 0x10}},
		{"raw empty", Raw, []byte("   ")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, reason := build(t, newFakeHost(), tt.def, tt.content)
			assert.Nil(t, u)
			assert.NotEmpty(t, reason)
		})
	}
}

func TestStrings(t *testing.T) {
	h := newFakeHost()
	data := []byte("\x00\x01abcdef\x00\x02xy\x00longer run\xff")
	u, reason := build(t, h, Strings, data)
	require.NotNil(t, u, reason)
	require.NoError(t, u.Evaluate(nil))

	require.Len(t, h.data, 1)
	assert.Equal(t, []string{"abcdef", "longer run"}, h.data[0])
	assert.False(t, h.recurse[0])
}

func TestCaesarEnumeratesEveryShift(t *testing.T) {
	h := newFakeHost()
	u, reason := build(t, h, Caesar, []byte("synt{Pnrfne}"))
	require.NotNil(t, u, reason)

	cur := u.Enumerate()
	var shifts []int
	for {
		c, ok, err := cur.Next()
		require.NoError(t, err)
		if !ok {
			break
		}
		shifts = append(shifts, c.(int))
		require.NoError(t, u.Evaluate(c))
	}
	require.Len(t, shifts, 25)
	assert.Equal(t, 1, shifts[0])
	assert.Equal(t, 25, shifts[24])
	assert.Equal(t, "flag{Caesar}", string(h.data[12].([]byte)))
	assert.Error(t, u.Evaluate("13"))
}

func TestXOR(t *testing.T) {
	t.Run("brute force", func(t *testing.T) {
		h := newFakeHost()
		u, reason := build(t, h, XOR, []byte{0x01, 0x02})
		require.NotNil(t, u, reason)
		assert.True(t, u.Strict())

		cur := u.Enumerate()
		n := 0
		for {
			c, ok, err := cur.Next()
			require.NoError(t, err)
			if !ok {
				break
			}
			require.NoError(t, u.Evaluate(c))
			n++
		}
		assert.Equal(t, 255, n)
		require.Len(t, h.searched, 255)
		assert.Equal(t, []byte{0x01 ^ 0x20, 0x02 ^ 0x20}, h.searched[0x20-1])
	})

	t.Run("configured key", func(t *testing.T) {
		h := newFakeHost()
		h.cfg.UnitOptions["xor"] = map[string]string{"key": "0x20"}
		u, reason := build(t, h, XOR, []byte("FLAG"))
		require.NotNil(t, u, reason)

		c, ok, err := u.Enumerate().Next()
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, 0x20, c)
		require.NoError(t, u.Evaluate(c))
		assert.Equal(t, []byte("flag"), h.searched[0])
	})

	t.Run("invalid key", func(t *testing.T) {
		h := newFakeHost()
		h.cfg.UnitOptions["xor"] = map[string]string{"key": "300"}
		u, reason := build(t, h, XOR, []byte("FLAG"))
		assert.Nil(t, u)
		assert.Contains(t, reason, "invalid key")
	})
}

func TestParseKey(t *testing.T) {
	for raw, want := range map[string]int{"32": 32, "0x20": 32, "0XfF": 255, " 7 ": 7} {
		got, err := parseKey(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, want, got, raw)
	}
	for _, raw := range []string{"256", "-1", "0xzz", ""} {
		_, err := parseKey(raw)
		assert.Error(t, err, raw)
	}
}

// flagCollector keeps the flags a run reports.
type flagCollector struct {
	core.NopMonitor
	mu    sync.Mutex
	flags []string
}

func (f *flagCollector) OnFlag(_ unit.Unit, flag string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flags = append(f.flags, flag)
}

func solve(t *testing.T, payload any) []string {
	t.Helper()
	cfg := config.GetDefaultConfig()
	cfg.Threads = 4
	cfg.Auto = true
	cfg.FlagFormat = `flag\{[^}]*\}`
	cfg.OutDir = filepath.Join(t.TempDir(), "out")

	reg := unit.NewRegistry()
	require.NoError(t, RegisterAll(reg))
	fc := &flagCollector{}
	m, err := core.NewManager(cfg, reg, fc, nil, nil)
	require.NoError(t, err)
	require.NoError(t, m.Start(context.Background()))
	require.NoError(t, m.QueueTarget(payload, nil))
	require.True(t, m.Join(30*time.Second))

	fc.mu.Lock()
	defer fc.mu.Unlock()
	return append([]string(nil), fc.flags...)
}

func TestSolvePipelines(t *testing.T) {
	rot13 := string(rotate([]byte("flag{layers}"), 13))
	layered := base64.StdEncoding.EncodeToString([]byte(hex.EncodeToString([]byte(rot13))))

	tests := []struct {
		name    string
		payload any
		want    string
	}{
		{"plain", "the answer is flag{plain} ok", "flag{plain}"},
		{"layered", layered, "flag{layers}"},
		{"xor", []byte("FLAG[XOR]"), "flag{xor}"},
		{"binary", []byte("\x00\x01\x02\x7fflag{bin}\x00\xff"), "flag{bin}"},
		{"percent", "flag%7Bescaped%7D", "flag{escaped}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Contains(t, solve(t, tt.payload), tt.want)
		})
	}
}
