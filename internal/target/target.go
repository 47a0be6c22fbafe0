// Package target wraps one input artifact (a file, a downloaded URL or a raw
// buffer) together with the classification flags units use to decide
// whether they apply.
package target

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync/atomic"
	"unicode"

	"github.com/zeebo/blake3"
)

// NoParent marks a root target.
const NoParent = -1

// sniffSize is how much of a file is read for classification.
const sniffSize = 64 * 1024

// Options describes where a target came from.
type Options struct {
	Parent int    // ID of the unit that produced the content, or NoParent
	Depth  int    // Parent target depth + 1; zero for roots
	URL    string // Source URL when the content was downloaded
}

// Path marks a payload as a filesystem path rather than literal content.
type Path string

// Root returns Options for a target without a parent.
func Root() Options {
	return Options{Parent: NoParent}
}

// Target is one input artifact. Its hash is computed once at construction.
type Target struct {
	hash string
	size int64

	data []byte // nil when file backed
	path string
	url  string

	isFile      bool
	isURL       bool
	isPrintable bool
	isEnglish   bool
	isImage     bool
	mime        string

	parent int
	depth  int

	completed atomic.Bool
	unitsLeft atomic.Int64
}

// FromBytes builds an in-memory target.
func FromBytes(data []byte, opts Options) *Target {
	sum := blake3.Sum256(data)
	t := &Target{
		hash:   hex.EncodeToString(sum[:]),
		size:   int64(len(data)),
		data:   data,
		url:    opts.URL,
		isURL:  opts.URL != "",
		parent: opts.Parent,
		depth:  opts.Depth,
	}
	t.classify(data)
	return t
}

// FromFile builds a file-backed target. The file is streamed through the
// hasher; only the first bytes are kept for classification.
func FromFile(path string, opts Options) (*Target, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open target file %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat target file %s: %w", path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("target %s is a directory", path)
	}

	h := blake3.New()
	var sample bytes.Buffer
	n, err := io.Copy(io.MultiWriter(h, &limitedBuffer{buf: &sample, limit: sniffSize}), f)
	if err != nil {
		return nil, fmt.Errorf("failed to hash target file %s: %w", path, err)
	}

	t := &Target{
		hash:   hex.EncodeToString(h.Sum(nil)),
		size:   n,
		path:   path,
		url:    opts.URL,
		isFile: true,
		isURL:  opts.URL != "",
		parent: opts.Parent,
		depth:  opts.Depth,
	}
	t.classify(sample.Bytes())
	return t, nil
}

// limitedBuffer keeps the first limit bytes written and silently drops the rest.
type limitedBuffer struct {
	buf   *bytes.Buffer
	limit int
}

func (l *limitedBuffer) Write(p []byte) (int, error) {
	if room := l.limit - l.buf.Len(); room > 0 {
		if len(p) > room {
			l.buf.Write(p[:room])
		} else {
			l.buf.Write(p)
		}
	}
	return len(p), nil
}

func (t *Target) classify(sample []byte) {
	t.mime = http.DetectContentType(sample)
	t.isImage = strings.HasPrefix(t.mime, "image/")
	t.isPrintable = IsPrintable(sample)
	t.isEnglish = t.isPrintable && IsEnglish(sample)
}

// IsPrintable reports whether data is non-empty printable ASCII text
// (tabs and newlines allowed).
func IsPrintable(data []byte) bool {
	if len(data) == 0 {
		return false
	}
	for _, b := range data {
		if (b < 0x20 || b > 0x7e) && b != '\t' && b != '\n' && b != '\r' && b != '\x0b' && b != '\x0c' {
			return false
		}
	}
	return true
}

// IsEnglish is a cheap heuristic: mostly letters and spaces, with at least
// one word break and a plausible share of vowels.
func IsEnglish(data []byte) bool {
	if len(data) == 0 {
		return false
	}
	var letters, spaces, vowels int
	for _, r := range string(data) {
		switch {
		case unicode.IsLetter(r):
			letters++
			if strings.ContainsRune("aeiouAEIOU", r) {
				vowels++
			}
		case unicode.IsSpace(r):
			spaces++
		}
	}
	if spaces == 0 || letters == 0 {
		return false
	}
	ratio := float64(letters+spaces) / float64(len(data))
	vowelRatio := float64(vowels) / float64(letters)
	return ratio >= 0.8 && vowelRatio >= 0.2 && vowelRatio <= 0.6
}

// Hash returns the hex blake3 digest of the full content.
func (t *Target) Hash() string { return t.hash }

// Size returns the content length in bytes.
func (t *Target) Size() int64 { return t.size }

// Bytes returns the full content, reading the file if the target is file backed.
func (t *Target) Bytes() ([]byte, error) {
	if !t.isFile {
		return t.data, nil
	}
	return os.ReadFile(t.path)
}

// Open returns a reader over the full content.
func (t *Target) Open() (io.ReadCloser, error) {
	if !t.isFile {
		return io.NopCloser(bytes.NewReader(t.data)), nil
	}
	return os.Open(t.path)
}

func (t *Target) Path() string      { return t.path }
func (t *Target) URL() string       { return t.url }
func (t *Target) MIME() string      { return t.mime }
func (t *Target) IsFile() bool      { return t.isFile }
func (t *Target) IsURL() bool       { return t.isURL }
func (t *Target) IsPrintable() bool { return t.isPrintable }
func (t *Target) IsEnglish() bool   { return t.isEnglish }
func (t *Target) IsImage() bool     { return t.isImage }

// Parent returns the ID of the unit that produced this target, or NoParent.
func (t *Target) Parent() int { return t.parent }

// IsRoot reports whether the target came from user input.
func (t *Target) IsRoot() bool { return t.parent == NoParent }

// Depth returns the recursion distance from the root target.
func (t *Target) Depth() int { return t.depth }

// Completed reports whether the target has been marked done.
func (t *Target) Completed() bool { return t.completed.Load() }

// SetCompleted latches the completed flag.
func (t *Target) SetCompleted() { t.completed.Store(true) }

// UnitsLeft returns how many units bound to this target still have work.
func (t *Target) UnitsLeft() int64 { return t.unitsLeft.Load() }

// AddUnits adjusts the live unit counter and returns the new value.
func (t *Target) AddUnits(delta int64) int64 { return t.unitsLeft.Add(delta) }

// String returns a short human readable description of the target.
func (t *Target) String() string {
	switch {
	case t.isURL:
		return t.url
	case t.isFile:
		return t.path
	}
	const maxShown = 48
	if t.isPrintable {
		s := string(t.data)
		if len(s) > maxShown {
			s = s[:maxShown] + "..."
		}
		return fmt.Sprintf("%q", s)
	}
	return fmt.Sprintf("<%d bytes %s>", t.size, t.hash[:12])
}
