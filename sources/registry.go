package sources

import (
	"database/sql"
	"sync"

	"github.com/hazyhaar/alerte/idgen"
)

// Registry is the source registry: a sqlite-backed store plus per-source
// serialization for read-modify-write priority adjustments. Pass it by
// reference to the components that need it; there is no process-wide
// singleton.
type Registry struct {
	DB    *sql.DB
	newID idgen.Generator

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithIDGenerator sets a custom ID generator for history and adjustment rows.
func WithIDGenerator(gen idgen.Generator) RegistryOption {
	return func(r *Registry) { r.newID = gen }
}

// NewRegistry wraps an opened database. The schema must already be applied
// (ApplySchema or dbopen.WithSchema).
func NewRegistry(db *sql.DB, opts ...RegistryOption) *Registry {
	r := &Registry{
		DB:    db,
		newID: idgen.Default,
		locks: make(map[string]*sync.Mutex),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// WithSourceLock runs fn while holding the lock for sourceID. Adjustments
// to different sources proceed independently; concurrent adjustments to the
// same source are serialized so no update is lost.
func (r *Registry) WithSourceLock(sourceID string, fn func() error) error {
	r.mu.Lock()
	l, ok := r.locks[sourceID]
	if !ok {
		l = &sync.Mutex{}
		r.locks[sourceID] = l
	}
	r.mu.Unlock()

	l.Lock()
	defer l.Unlock()
	return fn()
}
