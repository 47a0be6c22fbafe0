package output

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync/atomic"

	"github.com/charmbracelet/lipgloss"

	"github.com/rafabd1/Nightshade/internal/core"
	"github.com/rafabd1/Nightshade/internal/unit"
	"github.com/rafabd1/Nightshade/internal/utils"
)

// ConsoleMonitor prints flags to stdout as they are found and routes the
// remaining events to the logger.
type ConsoleMonitor struct {
	core.NopMonitor

	out        io.Writer
	logger     utils.Logger
	flagStyle  lipgloss.Style
	chainStyle lipgloss.Style
	plain      bool

	flags      atomic.Int64
	exceptions atomic.Int64
}

// NewConsoleMonitor creates a ConsoleMonitor. With noColor (or when stdout
// is not a terminal) flags are printed as plain lines.
func NewConsoleMonitor(logger utils.Logger, noColor bool) *ConsoleMonitor {
	return &ConsoleMonitor{
		out:        os.Stdout,
		logger:     logger,
		flagStyle:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10")),
		chainStyle: lipgloss.NewStyle().Faint(true),
		plain:      noColor || !utils.IsTerminal(os.Stdout.Fd()),
	}
}

func (c *ConsoleMonitor) OnFlag(u unit.Unit, flag string) {
	c.flags.Add(1)
	chain := chainOf(u)

	GetTerminalController().CoordinateOutput(func() {
		if c.plain {
			fmt.Fprintf(c.out, "%s\t%s\n", flag, chain)
			return
		}
		fmt.Fprintf(c.out, "%s %s\n", c.flagStyle.Render(flag), c.chainStyle.Render("("+chain+")"))
	})
}

func (c *ConsoleMonitor) OnArtifact(u unit.Unit, path string) {
	c.logger.Debugf("[%s] Artifact written: %s", u.Name(), path)
}

func (c *ConsoleMonitor) OnException(u unit.Unit, err error) {
	c.exceptions.Add(1)
	name := "manager"
	if u != nil {
		name = u.Name()
	}
	c.logger.Warnf("[%s] %v", name, err)
}

func (c *ConsoleMonitor) OnDepthLimit(parent unit.Unit, depth int) {
	c.logger.Debugf("[%s] Not recursing to depth %d", parent.Name(), depth)
}

func (c *ConsoleMonitor) OnCompletion(timedOut bool) {
	if timedOut {
		c.logger.Warnf("Run stopped before all work finished (%d flags, %d errors)", c.flags.Load(), c.exceptions.Load())
		return
	}
	c.logger.Infof("Run finished (%d flags, %d errors)", c.flags.Load(), c.exceptions.Load())
}

func chainOf(u unit.Unit) string {
	if u == nil {
		return "?"
	}
	var names []string
	for _, anc := range u.FamilyTree() {
		names = append(names, anc.Name())
	}
	names = append(names, u.Name())
	return strings.Join(names, " -> ")
}
