// Package unit defines the contract every analysis plugin satisfies, the
// arena that tracks unit lineage and completion, and the registry/finder
// pair that decides which units apply to a target.
package unit

import (
	"errors"
	"fmt"

	"github.com/rafabd1/Nightshade/internal/config"
	"github.com/rafabd1/Nightshade/internal/target"
	"github.com/rafabd1/Nightshade/internal/utils"
)

// Priority bounds. Lower values are scheduled first.
const (
	HighestPriority = 0
	DefaultPriority = 50
	LowestPriority  = 100
)

// ErrCompletionReset is returned when something tries to clear a unit's
// completed flag.
var ErrCompletionReset = errors.New("unit completion cannot be reset")

// Host is the side of the manager units call back into while evaluating.
type Host interface {
	Config() *config.Config
	Logger() utils.Logger
	RegisterData(u Unit, data any, recurse bool)
	RegisterArtifact(u Unit, path string, recurse bool)
	FindFlag(u Unit, data any) bool
	QueueTarget(payload any, parent Unit, units ...string) error
	ArtifactPath(u Unit, name string) (string, error)
}

// Unit is one analysis step bound to a single target. Implementations embed
// *Base, which provides identity and lineage, and supply Evaluate (and
// Enumerate when they have more than one case).
type Unit interface {
	ID() ID
	Name() string
	Priority() int
	Strict() bool
	Target() *target.Target
	Host() Host

	Completed() bool
	SetCompleted(v bool) error
	Parent() Unit
	FamilyTree() []Unit
	Origin() Unit

	// Enumerate returns a fresh cursor over the unit's cases.
	Enumerate() Cursor
	// Evaluate consumes one case. Errors are reported, never fatal.
	Evaluate(c Case) error

	base() *Base
}

// Constructor decides whether a unit applies to the target bound to b.
type Constructor func(b *Base) Result

// Definition is the static description of a unit kind.
type Definition struct {
	Name        string
	Description string
	// Priority ranges from HighestPriority to LowestPriority. Use
	// DefaultPriority when the unit has no opinion.
	Priority int
	// ProtectedRecurse units are never matched against a target produced by
	// another ProtectedRecurse unit.
	ProtectedRecurse bool
	// Strict units only accept flags spanning their whole output.
	Strict        bool
	Groups        []string
	BlockedGroups []string
	New           Constructor
}

// Result is what a Constructor returns: either an applicable unit or the
// reason it does not apply.
type Result struct {
	unit   Unit
	reason string
}

// Applicable wraps a constructed unit.
func Applicable(u Unit) Result {
	return Result{unit: u}
}

// NotApplicable records why a unit does not fit a target.
func NotApplicable(format string, args ...any) Result {
	return Result{reason: fmt.Sprintf(format, args...)}
}

// Unit returns the constructed unit, if any.
func (r Result) Unit() (Unit, bool) {
	return r.unit, r.unit != nil
}

// Reason returns the not-applicable reason.
func (r Result) Reason() string {
	return r.reason
}

// Base carries the identity every unit shares. It is created by the Finder
// and handed to the unit's Constructor.
type Base struct {
	def    *Definition
	target *target.Target
	host   Host
	arena  *Arena
	id     ID
}

func newBase(def *Definition, t *target.Target, host Host, arena *Arena) *Base {
	return &Base{def: def, target: t, host: host, arena: arena, id: NoID}
}

func (b *Base) base() *Base { return b }

// ID returns the unit's arena index, or NoID before registration.
func (b *Base) ID() ID { return b.id }

func (b *Base) Name() string { return b.def.Name }

func (b *Base) Definition() *Definition { return b.def }

func (b *Base) Priority() int { return b.def.Priority }

func (b *Base) Strict() bool { return b.def.Strict }

func (b *Base) Target() *target.Target { return b.target }

func (b *Base) Host() Host { return b.host }

// Completed reports whether the unit, or any descendant that found a flag,
// has completed it.
func (b *Base) Completed() bool {
	if b.id == NoID {
		return false
	}
	return b.arena.Completed(b.id)
}

// SetCompleted latches completion on the unit and every ancestor.
// Clearing the flag is refused.
func (b *Base) SetCompleted(v bool) error {
	if !v {
		return ErrCompletionReset
	}
	if b.id != NoID {
		b.arena.Complete(b.id)
	}
	return nil
}

// Parent returns the unit that produced this unit's target, or nil.
func (b *Base) Parent() Unit {
	if b.target.IsRoot() {
		return nil
	}
	return b.arena.Get(b.target.Parent())
}

// FamilyTree returns the ancestors of the unit, root first.
func (b *Base) FamilyTree() []Unit {
	if b.id == NoID {
		return nil
	}
	ids := b.arena.Ancestors(b.id)
	tree := make([]Unit, 0, len(ids))
	for _, id := range ids {
		tree = append(tree, b.arena.Get(id))
	}
	return tree
}

// Origin returns the root-most ancestor, or the unit itself for roots.
func (b *Base) Origin() Unit {
	if b.id == NoID {
		return nil
	}
	return b.arena.Get(b.arena.Root(b.id))
}

// Enumerate yields a single nil case. Units with more cases override it.
func (b *Base) Enumerate() Cursor {
	return Single(nil)
}

// Option reads a key from this unit's configuration section.
func (b *Base) Option(key, fallback string) string {
	if b.host == nil {
		return fallback
	}
	if v, ok := b.host.Config().UnitOption(b.def.Name, key); ok {
		return v
	}
	return fallback
}

// Bytes is a shortcut for the target content.
func (b *Base) Bytes() ([]byte, error) {
	return b.target.Bytes()
}

func (b *Base) String() string {
	return fmt.Sprintf("%s(%s)", b.def.Name, b.target)
}
