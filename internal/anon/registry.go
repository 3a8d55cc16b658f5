// Package anon keeps the per-game mapping between durable participant ids
// and the anonymous display names every agent-visible text uses.
package anon

import (
	"errors"
	"math/rand/v2"
	"strings"
	"sync"

	"golang.org/x/text/cases"
)

var ErrPoolExhausted = errors.New("display name pool exhausted")
var ErrAlreadyNamed = errors.New("participant already has a display name")
var ErrUnknownID = errors.New("no display name for participant")
var ErrUnknownName = errors.New("no participant with that display name")

// DefaultPool is the name pool used when the rules file does not supply one.
var DefaultPool = []string{
	"Ash", "Birch", "Cedar", "Dune", "Ember", "Fern", "Grove", "Hazel",
	"Iris", "Juniper", "Kestrel", "Linden", "Moss", "Nettle", "Onyx", "Pike",
	"Quill", "Rowan", "Sable", "Thistle", "Umber", "Vale", "Wren", "Yarrow",
}

// key folds a display name for lookups. A Caser is stateful, so each call
// builds its own.
func key(name string) string {
	return cases.Fold().String(strings.TrimSpace(name))
}

// Registry is a bijection between ids and display names for one game.
// It is safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	pool   []string
	byID   map[string]string
	byName map[string]string // folded name -> id
}

// New copies pool and shuffles it with rng; names are then handed out in
// that order, each at most once.
func New(pool []string, rng *rand.Rand) *Registry {
	shuffled := distinct(pool)
	rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
	return &Registry{
		pool:   shuffled,
		byID:   map[string]string{},
		byName: map[string]string{},
	}
}

// Capacity is how many participants a registry built from pool can name.
func Capacity(pool []string) int {
	return len(distinct(pool))
}

// distinct drops blank and case-insensitive duplicate names. An empty pool
// means DefaultPool.
func distinct(pool []string) []string {
	if len(pool) == 0 {
		pool = DefaultPool
	}
	seen := make(map[string]bool, len(pool))
	out := make([]string, 0, len(pool))
	for _, name := range pool {
		folded := key(name)
		if folded == "" || seen[folded] {
			continue
		}
		seen[folded] = true
		out = append(out, name)
	}
	return out
}

// Assign draws the next unused name for id. A participant's name never
// changes once assigned.
func (r *Registry) Assign(id string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byID[id]; ok {
		return "", ErrAlreadyNamed
	}
	if len(r.pool) == 0 {
		return "", ErrPoolExhausted
	}
	name := r.pool[0]
	r.pool = r.pool[1:]
	r.byID[id] = name
	r.byName[key(name)] = id
	return name, nil
}

func (r *Registry) Name(id string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	name, ok := r.byID[id]
	if !ok {
		return "", ErrUnknownID
	}
	return name, nil
}

// ID resolves a display name back to its participant. Matching ignores case.
func (r *Registry) ID(name string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byName[key(name)]
	if !ok {
		return "", ErrUnknownName
	}
	return id, nil
}

// Names maps ids to display names, skipping ids without one.
func (r *Registry) Names(ids []string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(ids))
	for _, id := range ids {
		if name, ok := r.byID[id]; ok {
			names = append(names, name)
		}
	}
	return names
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// Reset discards every mapping; the registry must not be reused afterwards.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pool = nil
	clear(r.byID)
	clear(r.byName)
}
