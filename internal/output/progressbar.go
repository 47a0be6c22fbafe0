package output

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/rafabd1/Nightshade/internal/utils"
)

// activeProgressBar é a barra atualmente ativa; o logger a limpa antes de
// cada linha e a redesenha depois.
var (
	globalActiveProgressBar *ProgressBar
	progressBarMu           sync.Mutex
)

// SetActiveProgressBar installs pb as the bar log lines coordinate with.
func SetActiveProgressBar(pb *ProgressBar) {
	progressBarMu.Lock()
	defer progressBarMu.Unlock()
	globalActiveProgressBar = pb
	if pb != nil && pb.IsTerminal() {
		utils.RegisterLogCallbacks(pb.MoveForLog, pb.ShowAfterLog)
	} else {
		utils.UnregisterLogCallbacks()
	}
}

// GetActiveProgressBar returns the active bar, if any.
func GetActiveProgressBar() *ProgressBar {
	progressBarMu.Lock()
	defer progressBarMu.Unlock()
	return globalActiveProgressBar
}

// ProgressBar renders units done against units queued. The total grows as
// recursion queues more work, so the ETA is only a rough guide.
type ProgressBar struct {
	total        int
	current      int
	width        int
	refresh      time.Duration
	startTime    time.Time
	mu           sync.Mutex
	done         chan struct{}
	writer       io.Writer
	isActive     bool
	spinner      int
	spinnerChars []string
	prefix       string
	suffix       string
	isTerminal   bool
	renderPaused bool
	barStyle     lipgloss.Style
}

func NewProgressBar(total int, width int) *ProgressBar {
	return &ProgressBar{
		total:        total,
		width:        width,
		refresh:      250 * time.Millisecond,
		done:         make(chan struct{}),
		writer:       os.Stderr,
		spinnerChars: []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"},
		isTerminal:   utils.IsTerminal(os.Stderr.Fd()),
		barStyle:     lipgloss.NewStyle().Foreground(lipgloss.Color("6")),
	}
}

// Start begins auto-refresh. On a non-terminal it only marks the bar active.
func (pb *ProgressBar) Start() {
	pb.mu.Lock()
	if pb.isActive {
		pb.mu.Unlock()
		return
	}
	pb.startTime = time.Now()
	pb.isActive = true
	pb.mu.Unlock()

	SetActiveProgressBar(pb)
	GetTerminalController().SetProgressBarActive(true)

	if !pb.isTerminal {
		return
	}
	go func() {
		defer func() {
			if r := recover(); r != nil {
				fmt.Fprintf(os.Stderr, "\nRecovered from panic in progress bar auto-refresh: %v\n", r)
			}
		}()
		ticker := time.NewTicker(pb.refresh)
		defer ticker.Stop()
		for {
			select {
			case <-pb.done:
				return
			case <-ticker.C:
				pb.actualRender()
			}
		}
	}()
}

// Stop halts rendering and clears the bar line.
func (pb *ProgressBar) Stop() {
	pb.mu.Lock()
	if !pb.isActive {
		pb.mu.Unlock()
		return
	}
	pb.isActive = false
	close(pb.done)
	pb.mu.Unlock()

	GetTerminalController().SetProgressBarActive(false)
	pb.clearBar()

	progressBarMu.Lock()
	if globalActiveProgressBar == pb {
		globalActiveProgressBar = nil
		utils.UnregisterLogCallbacks()
	}
	progressBarMu.Unlock()
}

// Update sets the progress and, since work keeps arriving, the total.
func (pb *ProgressBar) Update(current, total int) {
	pb.mu.Lock()
	pb.current = current
	pb.total = total
	pb.mu.Unlock()
}

func (pb *ProgressBar) SetPrefix(prefix string) {
	pb.mu.Lock()
	pb.prefix = prefix
	pb.mu.Unlock()
}

func (pb *ProgressBar) SetSuffix(suffix string) {
	pb.mu.Lock()
	pb.suffix = suffix
	pb.mu.Unlock()
}

func (pb *ProgressBar) actualRender() {
	pb.mu.Lock()
	if !pb.isActive || !pb.isTerminal || pb.renderPaused {
		pb.mu.Unlock()
		return
	}
	pb.spinner = (pb.spinner + 1) % len(pb.spinnerChars)
	status := pb.statusLine()
	pb.mu.Unlock()

	tc := GetTerminalController()
	tc.BeginOutput()
	fmt.Fprint(pb.writer, "\033[2K\r"+status)
	tc.EndOutput()
}

// statusLine must be called with mu held.
func (pb *ProgressBar) statusLine() string {
	currentTotal := pb.total
	currentProgress := pb.current
	if currentProgress > currentTotal {
		currentProgress = currentTotal
	}

	percent := 0.0
	completedWidth := 0
	if currentTotal > 0 {
		percent = float64(currentProgress) / float64(currentTotal) * 100
		completedWidth = pb.width * currentProgress / currentTotal
	}

	elapsed := time.Since(pb.startTime)
	etaStr := "N/A"
	if currentProgress > 0 && currentProgress < currentTotal {
		eta := time.Duration(float64(elapsed) * float64(currentTotal-currentProgress) / float64(currentProgress))
		etaStr = formatDuration(eta)
	} else if currentTotal > 0 && currentProgress == currentTotal {
		etaStr = "Done"
	}

	bar := pb.barStyle.Render(strings.Repeat("█", completedWidth)) + strings.Repeat("░", pb.width-completedWidth)
	return fmt.Sprintf("%s%s [%s] %d/%d (%.2f%%) | Elapsed: %s | ETA: %s %s",
		pb.prefix,
		pb.spinnerChars[pb.spinner],
		bar,
		currentProgress, currentTotal,
		percent,
		formatDuration(elapsed),
		etaStr,
		pb.suffix,
	)
}

// MoveForLog é chamado pelo logger ANTES de imprimir um log.
func (pb *ProgressBar) MoveForLog() {
	pb.mu.Lock()
	isActiveAndTerminal := pb.isActive && pb.isTerminal
	pb.renderPaused = true
	pb.mu.Unlock()

	if isActiveAndTerminal {
		pb.clearBar()
	}
}

// ShowAfterLog é chamado pelo logger DEPOIS de imprimir um log.
func (pb *ProgressBar) ShowAfterLog() {
	pb.mu.Lock()
	pb.renderPaused = false
	pb.mu.Unlock()
	pb.actualRender()
}

func (pb *ProgressBar) clearBar() {
	if pb.isTerminal {
		tc := GetTerminalController()
		tc.BeginOutput()
		fmt.Fprint(pb.writer, "\033[2K\r")
		tc.EndOutput()
	}
}

func (pb *ProgressBar) IsTerminal() bool {
	pb.mu.Lock()
	defer pb.mu.Unlock()
	return pb.isTerminal
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	s := d.Seconds()
	if s < 0 {
		s = 0
	}
	if s < 60 {
		return fmt.Sprintf("%.0fs", s)
	}

	m := int(s/60) % 60
	h := int(s / 3600)
	sRemaining := int(s) % 60
	if h < 1 {
		return fmt.Sprintf("%dm%02ds", m, sRemaining)
	}
	return fmt.Sprintf("%dh%02dm%02ds", h, m, sRemaining)
}
