package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/rafabd1/Nightshade/internal/core"
	"github.com/rafabd1/Nightshade/internal/unit"
	"github.com/rafabd1/Nightshade/internal/utils"
)

// Finding is one flag and the chain of units that led to it.
type Finding struct {
	Flag    string    `json:"flag" yaml:"flag"`
	Unit    string    `json:"unit" yaml:"unit"`
	Chain   []string  `json:"chain" yaml:"chain"` // unit names, root first
	Source  string    `json:"source,omitempty" yaml:"source,omitempty"`
	Depth   int       `json:"depth" yaml:"depth"`
	FoundAt time.Time `json:"found_at" yaml:"found_at"`
}

// Report is the document written at the end of a run.
type Report struct {
	RunID     string     `json:"run_id" yaml:"run_id"`
	Started   time.Time  `json:"started" yaml:"started"`
	Finished  time.Time  `json:"finished" yaml:"finished"`
	Complete  bool       `json:"complete" yaml:"complete"`
	Findings  []Finding  `json:"findings" yaml:"findings"`
	Artifacts []string   `json:"artifacts,omitempty" yaml:"artifacts,omitempty"`
	Errors    []string   `json:"errors,omitempty" yaml:"errors,omitempty"`
	Stats     core.Stats `json:"stats" yaml:"stats"`
}

// Reporter collects run events as a core.Monitor and writes them out at the
// end. It is safe for concurrent use.
type Reporter struct {
	core.NopMonitor

	mu        sync.Mutex
	runID     string
	started   time.Time
	finished  time.Time
	complete  bool
	findings  []Finding
	artifacts []string
	errors    []string
}

// NewReporter creates a Reporter with a fresh run ID.
func NewReporter() *Reporter {
	return &Reporter{
		runID:   uuid.NewString(),
		started: time.Now(),
	}
}

// RunID identifies this run in every report format.
func (r *Reporter) RunID() string { return r.runID }

// OnFlag records a finding.
func (r *Reporter) OnFlag(u unit.Unit, flag string) {
	f := Finding{Flag: flag, FoundAt: time.Now()}
	if u != nil {
		f.Unit = u.Name()
		f.Depth = u.Target().Depth()
		for _, anc := range u.FamilyTree() {
			f.Chain = append(f.Chain, anc.Name())
		}
		f.Chain = append(f.Chain, u.Name())
		if origin := u.Origin(); origin != nil {
			f.Source = describeSource(origin)
		}
	}
	r.mu.Lock()
	r.findings = append(r.findings, f)
	r.mu.Unlock()
}

func (r *Reporter) OnArtifact(_ unit.Unit, path string) {
	r.mu.Lock()
	r.artifacts = append(r.artifacts, path)
	r.mu.Unlock()
}

func (r *Reporter) OnException(u unit.Unit, err error) {
	name := "<none>"
	if u != nil {
		name = u.Name()
	}
	r.mu.Lock()
	r.errors = append(r.errors, fmt.Sprintf("%s: %v", name, err))
	r.mu.Unlock()
}

func (r *Reporter) OnCompletion(timedOut bool) {
	r.mu.Lock()
	r.finished = time.Now()
	r.complete = !timedOut
	r.mu.Unlock()
}

// Findings returns a copy of the findings so far.
func (r *Reporter) Findings() []Finding {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Finding, len(r.findings))
	copy(out, r.findings)
	return out
}

// Snapshot builds the Report document.
func (r *Reporter) Snapshot(stats core.Stats) Report {
	r.mu.Lock()
	defer r.mu.Unlock()
	rep := Report{
		RunID:     r.runID,
		Started:   r.started,
		Finished:  r.finished,
		Complete:  r.complete,
		Findings:  append([]Finding(nil), r.findings...),
		Artifacts: append([]string(nil), r.artifacts...),
		Errors:    append([]string(nil), r.errors...),
		Stats:     stats,
	}
	if rep.Findings == nil {
		rep.Findings = []Finding{}
	}
	return rep
}

// GenerateReport writes the report to outputPath, or stdout when empty.
// Format is one of text, json or yaml.
func (r *Reporter) GenerateReport(stats core.Stats, outputPath string, format string) error {
	var outputWriter io.Writer = os.Stdout
	if outputPath != "" {
		if err := utils.EnsureFilepathExists(outputPath); err != nil {
			return err
		}
		file, err := os.Create(outputPath)
		if err != nil {
			return fmt.Errorf("failed to create report file: %w", err)
		}
		defer file.Close()
		outputWriter = file
	}
	return r.Write(outputWriter, stats, format)
}

// Write renders the report in the given format.
func (r *Reporter) Write(w io.Writer, stats core.Stats, format string) error {
	rep := r.Snapshot(stats)
	switch strings.ToLower(format) {
	case "json":
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		return encoder.Encode(rep)
	case "yaml", "yml":
		encoder := yaml.NewEncoder(w)
		encoder.SetIndent(2)
		if err := encoder.Encode(rep); err != nil {
			return err
		}
		return encoder.Close()
	case "", "text":
		return writeText(w, rep)
	default:
		return fmt.Errorf("unknown report format %q", format)
	}
}

func writeText(w io.Writer, rep Report) error {
	status := "complete"
	if !rep.Complete {
		status = "incomplete"
	}
	if _, err := fmt.Fprintf(w, "Run %s (%s, %d evaluations, %d targets)\n",
		rep.RunID, status, rep.Stats.Evaluations, rep.Stats.Targets); err != nil {
		return err
	}
	if len(rep.Findings) == 0 {
		_, err := fmt.Fprintln(w, "No flags found.")
		return err
	}
	for _, f := range rep.Findings {
		_, err := fmt.Fprintf(w, "Flag: %s\nChain: %s\nSource: %s\n---\n",
			f.Flag, strings.Join(f.Chain, " -> "), f.Source)
		if err != nil {
			return err
		}
	}
	return nil
}

func describeSource(origin unit.Unit) string {
	t := origin.Target()
	switch {
	case t.IsURL():
		return t.URL()
	case t.IsFile():
		return t.Path()
	default:
		return t.String()
	}
}
