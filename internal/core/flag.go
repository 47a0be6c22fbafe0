package core

import (
	"bytes"
	"fmt"
	"path/filepath"
	"unicode/utf8"

	"github.com/rafabd1/Nightshade/internal/target"
	"github.com/rafabd1/Nightshade/internal/unit"
	"github.com/rafabd1/Nightshade/internal/utils"
)

// maxMarkupPasses bounds how many times nested markup is stripped.
const maxMarkupPasses = 4

// FindFlag searches data for the flag pattern and registers every match.
// Collections are searched element by element. Markup is stripped and the
// text searched again. Matches must be printable UTF-8, and for strict units
// the match must cover the whole input exactly.
func (m *Manager) FindFlag(u unit.Unit, data any) bool {
	switch v := data.(type) {
	case nil:
		return false
	case []byte:
		return m.findFlag(u, v, 0)
	case string:
		return m.findFlag(u, []byte(v), 0)
	case []string:
		found := false
		for _, s := range v {
			found = m.FindFlag(u, s) || found
		}
		return found
	case [][]byte:
		found := false
		for _, b := range v {
			found = m.FindFlag(u, b) || found
		}
		return found
	case []any:
		found := false
		for _, item := range v {
			found = m.FindFlag(u, item) || found
		}
		return found
	case map[string]string:
		found := false
		for k, s := range v {
			found = m.FindFlag(u, k) || found
			found = m.FindFlag(u, s) || found
		}
		return found
	case map[string]any:
		found := false
		for k, item := range v {
			found = m.FindFlag(u, k) || found
			found = m.FindFlag(u, item) || found
		}
		return found
	case fmt.Stringer:
		return m.findFlag(u, []byte(v.String()), 0)
	default:
		return false
	}
}

func (m *Manager) findFlag(u unit.Unit, data []byte, pass int) bool {
	found := false
	if pass < maxMarkupPasses {
		if stripped := utils.StripMarkup(data); !bytes.Equal(stripped, data) {
			found = m.findFlag(u, stripped, pass+1)
		}
	}

	strict := u != nil && u.Strict()
	for _, loc := range m.flagPattern.FindAllIndex(data, -1) {
		if strict && (loc[0] != 0 || loc[1] != len(data)) {
			continue
		}
		match := data[loc[0]:loc[1]]
		if len(match) == 0 || !utf8.Valid(match) || !target.IsPrintable(match) {
			continue
		}
		m.RegisterFlag(u, string(match))
		found = true
	}
	return found
}

// RegisterFlag records a flag found by u and completes u together with its
// whole family tree. Each distinct flag is reported once.
func (m *Manager) RegisterFlag(u unit.Unit, flag string) {
	if u != nil {
		if err := u.SetCompleted(true); err != nil {
			m.logger.Warnf("[Manager] Could not complete %s: %v", u.Name(), err)
		}
		u.Target().SetCompleted()
	}

	m.flagMu.Lock()
	if _, ok := m.seen[flag]; ok {
		m.flagMu.Unlock()
		return
	}
	m.seen[flag] = struct{}{}
	m.flags = append(m.flags, flag)
	m.flagMu.Unlock()

	m.logger.Debugf("[Manager] Flag found by %s: %s", unitName(u), flag)
	m.monitor.OnFlag(u, flag)
}

// Flags returns every distinct flag found, in discovery order.
func (m *Manager) Flags() []string {
	m.flagMu.Lock()
	defer m.flagMu.Unlock()
	out := make([]string, len(m.flags))
	copy(out, m.flags)
	return out
}

// RegisterData reports data produced by u. Data shorter than the configured
// minimum is ignored. Unless it holds a flag, the data is queued as a new
// target below u when recurse is set and recursion is enabled.
func (m *Manager) RegisterData(u unit.Unit, data any, recurse bool) {
	var b []byte
	switch v := data.(type) {
	case nil:
		return
	case []byte:
		b = v
	case string:
		b = []byte(v)
	case []string:
		for _, s := range v {
			m.RegisterData(u, s, recurse)
		}
		return
	case [][]byte:
		for _, item := range v {
			m.RegisterData(u, item, recurse)
		}
		return
	case []any:
		for _, item := range v {
			m.RegisterData(u, item, recurse)
		}
		return
	case fmt.Stringer:
		b = []byte(v.String())
	default:
		b = []byte(fmt.Sprint(v))
	}

	if len(bytes.TrimSpace(b)) < m.config.MinData {
		return
	}
	m.monitor.OnData(u, b)
	if m.FindFlag(u, b) {
		return
	}
	if !recurse || !m.config.Recurse {
		return
	}
	if err := m.QueueTarget(b, u); err != nil {
		m.exceptions.Add(1)
		m.monitor.OnException(u, err)
	}
}

// RegisterArtifact reports a file written by u. The file name is searched
// for a flag and the file itself is queued as a target when recursing.
func (m *Manager) RegisterArtifact(u unit.Unit, path string, recurse bool) {
	m.logger.Debugf("[Manager] Artifact from %s: %s", unitName(u), path)
	m.monitor.OnArtifact(u, path)
	if m.FindFlag(u, filepath.Base(path)) {
		return
	}
	if !recurse || !m.config.Recurse {
		return
	}
	if err := m.QueueTarget(target.Path(path), u); err != nil {
		m.exceptions.Add(1)
		m.monitor.OnException(u, err)
	}
}

func unitName(u unit.Unit) string {
	if u == nil {
		return "<none>"
	}
	return u.Name()
}
