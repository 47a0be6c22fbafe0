package output

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rafabd1/Nightshade/internal/target"
	"github.com/rafabd1/Nightshade/internal/unit"
	"github.com/rafabd1/Nightshade/internal/utils"
)

type stubUnit struct {
	*unit.Base
}

func (u *stubUnit) Evaluate(unit.Case) error { return nil }

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "0s", formatDuration(0))
	assert.Equal(t, "42s", formatDuration(42*time.Second))
	assert.Equal(t, "3m05s", formatDuration(3*time.Minute+5*time.Second))
	assert.Equal(t, "2h07m09s", formatDuration(2*time.Hour+7*time.Minute+9*time.Second))
}

func TestStatusLine(t *testing.T) {
	pb := NewProgressBar(10, 20)
	pb.SetPrefix("units ")
	pb.Update(15, 10)
	pb.mu.Lock()
	line := pb.statusLine()
	pb.mu.Unlock()
	assert.Contains(t, line, "10/10")
	assert.Contains(t, line, "100.00%")
	assert.Contains(t, line, "ETA: Done")
}

func TestConsoleMonitorPrintsChain(t *testing.T) {
	reg := unit.NewRegistry()
	reg.MustRegister(unit.Definition{
		Name:     "hex",
		Priority: unit.DefaultPriority,
		New: func(b *unit.Base) unit.Result {
			return unit.Applicable(&stubUnit{Base: b})
		},
	})
	m := unit.NewFinder(reg, unit.NewArena(), nil, unit.FinderOptions{}).
		Match(target.FromBytes([]byte("666c6167"), target.Root()), nil, nil)
	require.Len(t, m.Units, 1)

	var buf bytes.Buffer
	c := NewConsoleMonitor(&utils.NoOpLogger{}, true)
	c.out = &buf
	c.OnFlag(m.Units[0], "flag{console}")
	c.OnException(nil, assert.AnError)
	c.OnCompletion(false)

	assert.Equal(t, "flag{console}\thex\n", buf.String())
	assert.EqualValues(t, 1, c.flags.Load())
	assert.EqualValues(t, 1, c.exceptions.Load())
	assert.Equal(t, "?", chainOf(nil))
}
