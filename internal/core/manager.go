// Package core holds the Manager: the scheduler that matches units to
// targets, feeds their cases to a pool of workers and decides when a run is
// finished.
package core

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rafabd1/Nightshade/internal/config"
	"github.com/rafabd1/Nightshade/internal/networking"
	"github.com/rafabd1/Nightshade/internal/target"
	"github.com/rafabd1/Nightshade/internal/unit"
	"github.com/rafabd1/Nightshade/internal/utils"
)

// Fetcher downloads URL targets.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) ([]byte, error)
	ActiveDownloads() []networking.Download
}

// Manager orchestrates a run. It implements unit.Host so units can report
// data, artifacts and flags while they evaluate.
type Manager struct {
	config      *config.Config
	logger      utils.Logger
	monitor     Monitor
	fetcher     Fetcher
	registry    *unit.Registry
	arena       *unit.Arena
	finder      *unit.Finder
	flagPattern *regexp.Regexp

	work    *WorkQueue
	barrier *utils.Barrier
	genMu   sync.Mutex // serializes cursor advancement

	regMu      sync.Mutex // guards targetHash and targets
	targetHash map[string]struct{}
	targets    []*target.Target

	flagMu sync.Mutex
	flags  []string
	seen   map[string]struct{}

	stateMu sync.Mutex
	state   State
	result  bool
	ctx     context.Context
	cancel  context.CancelFunc
	started time.Time
	wg      sync.WaitGroup

	unitsQueued  atomic.Int64
	unitsDone    atomic.Int64
	evaluations  atomic.Int64
	exceptions   atomic.Int64
	duplicates   atomic.Int64
	depthLimited atomic.Int64
}

// NewManager validates cfg and builds an unstarted Manager. A nil monitor
// discards events; a nil fetcher gets the default HTTP fetcher.
func NewManager(cfg *config.Config, registry *unit.Registry, monitor Monitor, fetcher Fetcher, logger utils.Logger) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	pattern, err := regexp.Compile(cfg.FlagFormat)
	if err != nil {
		return nil, fmt.Errorf("invalid flag-format %q: %w", cfg.FlagFormat, err)
	}
	if logger == nil {
		logger = &utils.NoOpLogger{}
	}
	if monitor == nil {
		monitor = NopMonitor{}
	}
	if fetcher == nil {
		fetcher = networking.NewFetcher(cfg, logger)
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		config:      cfg,
		logger:      logger,
		monitor:     monitor,
		fetcher:     fetcher,
		registry:    registry,
		arena:       unit.NewArena(),
		flagPattern: pattern,
		work:        NewWorkQueue(cfg.Threads * 4),
		barrier:     utils.NewBarrier(cfg.Threads + 1),
		targetHash:  make(map[string]struct{}),
		seen:        make(map[string]struct{}),
		ctx:         ctx,
		cancel:      cancel,
	}
	m.finder = unit.NewFinder(registry, m.arena, m, unit.FinderOptions{
		Exclude:    cfg.Exclude,
		NoPriority: cfg.NoPriority,
	})
	return m, nil
}

// Config implements unit.Host.
func (m *Manager) Config() *config.Config { return m.config }

// Logger implements unit.Host.
func (m *Manager) Logger() utils.Logger { return m.logger }

// Arena exposes unit lineage, mostly for reporting.
func (m *Manager) Arena() *unit.Arena { return m.arena }

// State returns the lifecycle state.
func (m *Manager) State() State {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	return m.state
}

func (m *Manager) context() context.Context {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	return m.ctx
}

// Start prepares the output directory and launches the workers. Targets may
// be queued before or after Start.
func (m *Manager) Start(ctx context.Context) error {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	if m.state != StateUnstarted {
		return fmt.Errorf("start: %w (%s)", ErrInvalidState, m.state)
	}
	if err := m.config.PrepareOutDir(); err != nil {
		return err
	}

	// The pre-start context only covered downloads for early targets.
	m.cancel()
	m.ctx, m.cancel = context.WithCancel(ctx)
	m.started = time.Now()
	m.state = StateRunning

	m.logger.Debugf("[Manager] Starting %d workers (max depth %d, outdir %s)", m.config.Threads, m.config.MaxDepth, m.config.OutDir)
	m.wg.Add(m.config.Threads)
	for i := 0; i < m.config.Threads; i++ {
		go m.worker(m.ctx, i)
	}
	return nil
}

// Join waits until every worker is idle with nothing queued, then stops the
// workers. It returns false if the timeout expired (zero means no timeout)
// or the run was aborted first. Joining a stopped Manager returns the
// outcome of the first Join.
func (m *Manager) Join(timeout time.Duration) bool {
	m.stateMu.Lock()
	switch m.state {
	case StateStopped:
		result := m.result
		m.stateMu.Unlock()
		return result
	case StateRunning:
	default:
		state := m.state
		m.stateMu.Unlock()
		m.logger.Warnf("[Manager] Join called while %s", state)
		return false
	}
	m.state = StateJoining
	ctx := m.ctx
	m.stateMu.Unlock()

	cancel := func() {}
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	finished := false
	for !finished {
		err := m.barrier.Wait(ctx, m.barrier.Epoch())
		switch {
		case err == nil:
			finished = true
		case errors.Is(err, utils.ErrBarrierBroken):
			// More work arrived; wait for the next idle round.
		default:
			if errors.Is(err, context.DeadlineExceeded) {
				m.logger.Warnf("[Manager] Join timed out after %s with %d items pending", timeout, m.work.Len())
			}
			m.shutdown(true)
			return m.finalResult()
		}
	}

	m.shutdown(false)
	return m.finalResult()
}

func (m *Manager) finalResult() bool {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	return m.result
}

// Abort stops the workers without waiting for queued work. It must not be
// called from inside a unit.
func (m *Manager) Abort() {
	m.logger.Debugf("[Manager] Abort requested")
	m.shutdown(true)
}

func (m *Manager) shutdown(timedOut bool) {
	m.stateMu.Lock()
	if m.state == StateStopped {
		m.stateMu.Unlock()
		return
	}
	started := m.state != StateUnstarted
	m.state = StateStopped
	m.result = !timedOut
	m.stateMu.Unlock()

	if started {
		for i := 0; i < m.config.Threads; i++ {
			m.work.Put(&WorkItem{Priority: AbortPriority, Action: ActionAbort})
		}
		m.barrier.Reset()
		m.wg.Wait()
	}
	m.cancel()
	if n := m.drain(); n > 0 {
		m.logger.Debugf("[Manager] Dropped %d unfinished work items", n)
	}

	m.logger.Debugf("[Manager] Stopped (timed out: %t, evaluations: %d)", timedOut, m.evaluations.Load())
	m.monitor.OnCompletion(timedOut)
}

// drain empties the queue once the workers are gone, closing the cursors of
// units that never finished. Their targets are not marked completed.
func (m *Manager) drain() int {
	n := 0
	for {
		item, ok := m.work.TryGet()
		if !ok {
			return n
		}
		if item.Action == ActionEvaluate {
			unit.CloseCursor(item.Cases)
			item.Unit.Target().AddUnits(-1)
			n++
		}
		m.work.TaskDone()
	}
}

// QueueTarget builds a target from payload and queues every unit that
// applies to it. Slices are queued element by element. Data produced by a
// completed parent is dropped, as is anything past the depth ceiling.
// Explicit units restrict matching to those names.
func (m *Manager) QueueTarget(payload any, parent unit.Unit, units ...string) error {
	switch p := payload.(type) {
	case []any:
		var errs []error
		for _, item := range p {
			errs = append(errs, m.QueueTarget(item, parent, units...))
		}
		return errors.Join(errs...)
	case []string:
		var errs []error
		for _, item := range p {
			errs = append(errs, m.QueueTarget(item, parent, units...))
		}
		return errors.Join(errs...)
	case [][]byte:
		var errs []error
		for _, item := range p {
			errs = append(errs, m.QueueTarget(item, parent, units...))
		}
		return errors.Join(errs...)
	}

	if m.State() == StateStopped {
		return fmt.Errorf("queue target: %w (%s)", ErrInvalidState, StateStopped)
	}
	if parent != nil {
		if parent.Completed() {
			return nil
		}
		if depth := parent.Target().Depth(); depth >= m.config.MaxDepth {
			m.depthLimited.Add(1)
			m.logger.Debugf("[Manager] Depth limit %d reached below %s", m.config.MaxDepth, parent.Name())
			m.monitor.OnDepthLimit(parent, depth+1)
			return nil
		}
	}

	t, err := m.Target(payload, parent)
	if err != nil {
		return err
	}
	if !m.register(t) {
		t.SetCompleted()
		m.duplicates.Add(1)
		m.logger.Debugf("[Manager] Skipping duplicate target %s", t)
		return nil
	}

	allow := units
	if len(allow) == 0 && !m.config.Auto {
		allow = m.config.Units
	}
	matches := m.finder.Match(t, parent, allow)
	for _, ig := range matches.Ignored {
		m.logger.Debugf("[Manager] %s not applicable to %s: %s", ig.Name, t, ig.Reason)
	}
	if len(matches.Units) == 0 {
		t.SetCompleted()
		return nil
	}
	for _, u := range matches.Units {
		m.queue(u)
	}
	return nil
}

// Target builds a target from a payload: a target.Path is read from disk, a
// URL string is downloaded and anything else is taken as literal content. A
// prebuilt target is used as is only for roots; below a parent it is rebuilt
// so it carries the parent's lineage and depth.
func (m *Manager) Target(payload any, parent unit.Unit) (*target.Target, error) {
	opts := target.Root()
	if parent != nil {
		opts.Parent = parent.ID()
		opts.Depth = parent.Target().Depth() + 1
	}

	switch p := payload.(type) {
	case *target.Target:
		if parent == nil {
			return p, nil
		}
		if p.IsFile() {
			return target.FromFile(p.Path(), opts)
		}
		data, err := p.Bytes()
		if err != nil {
			return nil, err
		}
		opts.URL = p.URL()
		return target.FromBytes(data, opts), nil
	case target.Path:
		return target.FromFile(string(p), opts)
	case []byte:
		return target.FromBytes(p, opts), nil
	case string:
		if utils.LooksLikeURL(p) {
			data, err := m.fetcher.Fetch(m.context(), p)
			if err == nil {
				opts.URL = p
				return target.FromBytes(data, opts), nil
			}
			m.logger.Warnf("[Manager] Could not download %s, treating it as text: %v", p, err)
		}
		return target.FromBytes([]byte(p), opts), nil
	case fmt.Stringer:
		return target.FromBytes([]byte(p.String()), opts), nil
	default:
		return nil, fmt.Errorf("unsupported target payload %T", payload)
	}
}

// register records t's hash, reporting false for content already seen.
func (m *Manager) register(t *target.Target) bool {
	m.regMu.Lock()
	defer m.regMu.Unlock()
	if _, ok := m.targetHash[t.Hash()]; ok {
		return false
	}
	m.targetHash[t.Hash()] = struct{}{}
	if t.IsRoot() {
		m.targets = append(m.targets, t)
	}
	return true
}

// Targets returns the root targets queued so far.
func (m *Manager) Targets() []*target.Target {
	m.regMu.Lock()
	defer m.regMu.Unlock()
	out := make([]*target.Target, len(m.targets))
	copy(out, m.targets)
	return out
}

func (m *Manager) queue(u unit.Unit) {
	if u.Completed() {
		return
	}
	u.Target().AddUnits(1)
	m.unitsQueued.Add(1)
	m.work.Put(&WorkItem{
		Priority: u.Priority(),
		Action:   ActionEvaluate,
		Unit:     u,
		Cases:    u.Enumerate(),
	})
	m.barrier.Reset()
}

func (m *Manager) requeue(item *WorkItem) {
	m.work.Put(item)
	m.barrier.Reset()
}

// retire drops a unit's work item for good.
func (m *Manager) retire(item *WorkItem) {
	unit.CloseCursor(item.Cases)
	m.unitsDone.Add(1)
	t := item.Unit.Target()
	if t.AddUnits(-1) == 0 {
		t.SetCompleted()
		m.logger.Debugf("[Manager] Target %s has no units left", t)
	}
}

func (m *Manager) worker(ctx context.Context, id int) {
	defer m.wg.Done()
	m.logger.Debugf("[Worker %d] Started", id)
	for {
		if ctx.Err() != nil {
			m.logger.Debugf("[Worker %d] Context done, exiting", id)
			return
		}

		epoch := m.barrier.Epoch()
		item, ok := m.work.TryGet()
		if !ok {
			m.monitor.OnWork(id, nil, nil)
			if err := m.barrier.Wait(ctx, epoch); err == nil {
				m.logger.Debugf("[Worker %d] Queue drained, exiting", id)
				return
			}
			continue
		}

		if item.Action == ActionAbort {
			m.work.TaskDone()
			m.logger.Debugf("[Worker %d] Abort received, exiting", id)
			return
		}
		m.process(id, item)
		m.work.TaskDone()
	}
}

func (m *Manager) process(id int, item *WorkItem) {
	u := item.Unit
	if u.Completed() {
		m.retire(item)
		return
	}

	cases, exhausted, err := m.pull(item)
	if err != nil {
		m.exceptions.Add(1)
		m.logger.Debugf("[Worker %d] Cursor of %s failed: %v", id, u.Name(), err)
		m.monitor.OnException(u, err)
		m.retire(item)
		return
	}

	for _, c := range cases {
		if u.Completed() {
			break
		}
		m.monitor.OnWork(id, u, c)
		m.evaluations.Add(1)
		if err := evaluate(u, c); err != nil {
			m.exceptions.Add(1)
			m.logger.Debugf("[Worker %d] %s failed: %v", id, u.Name(), err)
			m.monitor.OnException(u, err)
		}
	}

	if exhausted {
		m.retire(item)
	}
}

// pull takes up to BatchSize cases from the item's cursor. When the cursor
// still has cases the item goes back on the queue before the lock is
// released, so another worker can continue it while this batch runs.
func (m *Manager) pull(item *WorkItem) ([]unit.Case, bool, error) {
	m.genMu.Lock()
	defer m.genMu.Unlock()

	cases := make([]unit.Case, 0, BatchSize)
	for len(cases) < BatchSize {
		c, ok, err := next(item.Cases)
		if err != nil {
			return nil, false, err
		}
		if !ok {
			return cases, true, nil
		}
		cases = append(cases, c)
	}
	m.requeue(item)
	return cases, false, nil
}

func next(cur unit.Cursor) (c unit.Case, ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("cursor panic: %v", r)
		}
	}()
	return cur.Next()
}

func evaluate(u unit.Unit, c unit.Case) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s panicked: %v", u.Name(), r)
		}
	}()
	return u.Evaluate(c)
}

// ArtifactPath returns a path under the output directory where u may write
// a file called name. Parent directories are created.
func (m *Manager) ArtifactPath(u unit.Unit, name string) (string, error) {
	hash := u.Target().Hash()
	if len(hash) > 16 {
		hash = hash[:16]
	}
	dir := filepath.Join(m.config.OutDir, hash, u.Name())
	if err := os.MkdirAll(dir, 0750); err != nil {
		return "", fmt.Errorf("failed to create artifact directory %s: %w", dir, err)
	}
	return filepath.Join(dir, filepath.Base(name)), nil
}

// ActiveDownloads lists URL downloads still in flight.
func (m *Manager) ActiveDownloads() []networking.Download {
	return m.fetcher.ActiveDownloads()
}

// Stats snapshots the Manager's counters.
func (m *Manager) Stats() Stats {
	m.stateMu.Lock()
	state, started := m.state, m.started
	m.stateMu.Unlock()

	m.regMu.Lock()
	targets := len(m.targetHash)
	m.regMu.Unlock()

	m.flagMu.Lock()
	flags := len(m.flags)
	m.flagMu.Unlock()

	var elapsed time.Duration
	if !started.IsZero() {
		elapsed = time.Since(started)
	}
	return Stats{
		State:        state.String(),
		Threads:      m.config.Threads,
		Targets:      targets,
		Units:        m.arena.Len(),
		UnitsQueued:  m.unitsQueued.Load(),
		UnitsDone:    m.unitsDone.Load(),
		Evaluations:  m.evaluations.Load(),
		Exceptions:   m.exceptions.Load(),
		Duplicates:   m.duplicates.Load(),
		DepthLimited: m.depthLimited.Load(),
		Flags:        flags,
		Pending:      m.work.Len(),
		Elapsed:      elapsed,
	}
}
