package unit

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rafabd1/Nightshade/internal/target"
)

// Registry holds every known unit definition. Analysis packages add theirs
// with Register at startup; nothing is discovered implicitly.
type Registry struct {
	mu     sync.RWMutex
	defs   []*Definition
	byName map[string]*Definition
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]*Definition)}
}

// Register adds a definition. Names are case-insensitive and unique.
func (r *Registry) Register(def Definition) error {
	name := strings.ToLower(strings.TrimSpace(def.Name))
	if name == "" {
		return fmt.Errorf("unit definition has no name")
	}
	if def.New == nil {
		return fmt.Errorf("unit %s has no constructor", name)
	}
	if def.Priority < HighestPriority || def.Priority > LowestPriority {
		return fmt.Errorf("unit %s priority %d out of range [%d, %d]", name, def.Priority, HighestPriority, LowestPriority)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byName[name]; exists {
		return fmt.Errorf("unit %s already registered", name)
	}
	def.Name = name
	d := &def
	r.defs = append(r.defs, d)
	r.byName[name] = d
	return nil
}

// MustRegister is Register for static registration tables.
func (r *Registry) MustRegister(defs ...Definition) {
	for _, def := range defs {
		if err := r.Register(def); err != nil {
			panic(err)
		}
	}
}

// Lookup finds a definition by name.
func (r *Registry) Lookup(name string) (*Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.byName[strings.ToLower(name)]
	return d, ok
}

// Definitions returns the definitions in registration order.
func (r *Registry) Definitions() []*Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Definition, len(r.defs))
	copy(out, r.defs)
	return out
}

// Names returns the registered unit names in registration order.
func (r *Registry) Names() []string {
	defs := r.Definitions()
	names := make([]string, len(defs))
	for i, d := range defs {
		names[i] = d.Name
	}
	return names
}

// Ignored records a unit that was considered and rejected for a target.
type Ignored struct {
	Name   string
	Reason string
}

// Matches is the outcome of Finder.Match.
type Matches struct {
	Units   []Unit
	Ignored []Ignored
}

// FinderOptions tune matching.
type FinderOptions struct {
	Exclude []string
	// NoPriority keeps registry order instead of sorting by priority.
	NoPriority bool
}

// Finder instantiates the units that apply to a target.
type Finder struct {
	registry   *Registry
	arena      *Arena
	host       Host
	exclude    map[string]bool
	noPriority bool
}

// NewFinder creates a Finder. Matched units are registered in arena and
// bound to host.
func NewFinder(registry *Registry, arena *Arena, host Host, opts FinderOptions) *Finder {
	exclude := make(map[string]bool, len(opts.Exclude))
	for _, name := range opts.Exclude {
		exclude[strings.ToLower(name)] = true
	}
	return &Finder{
		registry:   registry,
		arena:      arena,
		host:       host,
		exclude:    exclude,
		noPriority: opts.NoPriority,
	}
}

// Match tries every candidate definition against t. With a non-empty allow
// list only those units are candidates. parent is the unit that produced t
// (nil for roots) and drives the recursion filters.
func (f *Finder) Match(t *target.Target, parent Unit, allow []string) Matches {
	var m Matches

	candidates := f.registry.Definitions()
	if len(allow) > 0 {
		candidates = candidates[:0:0]
		for _, name := range allow {
			def, ok := f.registry.Lookup(name)
			if !ok {
				m.Ignored = append(m.Ignored, Ignored{Name: name, Reason: "unknown unit"})
				continue
			}
			candidates = append(candidates, def)
		}
	}

	var parentDef *Definition
	if parent != nil {
		parentDef = parent.base().def
	}

	for _, def := range candidates {
		if f.exclude[def.Name] {
			m.Ignored = append(m.Ignored, Ignored{Name: def.Name, Reason: "excluded"})
			continue
		}
		if parentDef != nil {
			if parentDef.ProtectedRecurse && def.ProtectedRecurse {
				m.Ignored = append(m.Ignored, Ignored{Name: def.Name, Reason: fmt.Sprintf("protected recursion from %s", parentDef.Name)})
				continue
			}
			if group, blocked := intersects(parentDef.BlockedGroups, def.Groups); blocked {
				m.Ignored = append(m.Ignored, Ignored{Name: def.Name, Reason: fmt.Sprintf("group %s blocked by %s", group, parentDef.Name)})
				continue
			}
		}

		res := f.construct(def, t)
		u, ok := res.Unit()
		if !ok {
			m.Ignored = append(m.Ignored, Ignored{Name: def.Name, Reason: res.Reason()})
			continue
		}
		f.arena.Add(u)
		m.Units = append(m.Units, u)
	}

	if !f.noPriority {
		sort.SliceStable(m.Units, func(i, j int) bool {
			return m.Units[i].Priority() < m.Units[j].Priority()
		})
	}
	return m
}

// construct runs a constructor, turning a panic into a rejection.
func (f *Finder) construct(def *Definition, t *target.Target) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = NotApplicable("constructor panicked: %v", r)
		}
	}()
	res = def.New(newBase(def, t, f.host, f.arena))
	if u, ok := res.Unit(); ok && u.base().def != def {
		return NotApplicable("constructor returned a unit bound to another definition")
	}
	return res
}

func intersects(a, b []string) (string, bool) {
	for _, x := range a {
		for _, y := range b {
			if strings.EqualFold(x, y) {
				return x, true
			}
		}
	}
	return "", false
}
