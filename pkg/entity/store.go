package entity

import (
	"reflect"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/argus-labs/entitystore/pkg/component"
	"github.com/argus-labs/entitystore/pkg/telemetry"
	"github.com/google/go-cmp/cmp"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
)

// Store holds the committed state shared by every transaction: which entities exist, their
// revisions, and their component values. Values are copied on the way in and out, so nothing a
// transaction holds aliases committed state.
//
// Add, Update and Remove each bump the entity revision. Commits call them while holding Lock over
// the ids they touch; other callers must do the same for concurrent transactions to observe a
// consistent revision history.
type Store struct {
	components *component.Manager
	logger     zerolog.Logger

	mu          sync.RWMutex     // Guards records and lastID
	records     map[ID]*record   // Entity ID -> committed state
	lastID      ID               // Highest issued entity ID
	maxEntities uint64           // Issue limit, 0 for unbounded
	stripes     []sync.Mutex     // Commit locks, indexed by ID & stripeMask
	stripeMask  uint64           // len(stripes) - 1
	serial      atomic.Uint64    // Source of placeholder serial numbers
	listenerMu  sync.RWMutex     // Guards listeners and observers
	listeners   []Listener       // Begin/commit/rollback listeners, in registration order
	observers   []CommitObserver // Index-stage observers, in registration order
}

// record is the committed state of one entity. A record with no components is a deleted entity
// whose revision is kept for conflict detection.
type record struct {
	revision   uint64
	components map[component.TypeID]any
}

// NewStore creates an empty store. Environment configuration is loaded first and non-zero
// fields of opts override it.
func NewStore(opts StoreOptions) (*Store, error) {
	cfg, err := loadStoreConfig()
	if err != nil {
		return nil, eris.Wrap(err, "failed to load store config")
	}

	options := newDefaultStoreOptions()
	cfg.applyToOptions(&options)
	options.apply(opts)
	if err := options.validate(); err != nil {
		return nil, eris.Wrap(err, "invalid store options")
	}

	if options.Components == nil {
		options.Components = NewComponentManager()
	}
	logger := telemetry.GetGlobalLogger("entity.store")
	if options.Logger != nil {
		logger = *options.Logger
	}

	return &Store{
		components:  options.Components,
		logger:      logger,
		records:     make(map[ID]*record),
		maxEntities: options.MaxEntities,
		stripes:     make([]sync.Mutex, options.LockStripes),
		stripeMask:  uint64(options.LockStripes - 1), //nolint:gosec // validated positive
	}, nil
}

// ComponentManager returns the component registry of the store.
func (s *Store) ComponentManager() *component.Manager {
	return s.components
}

// CreateEntityID issues a fresh entity id.
func (s *Store) CreateEntityID() (ID, error) {
	ids, err := s.createEntityIDs(1)
	if err != nil {
		return 0, err
	}
	return ids[0], nil
}

func (s *Store) createEntityIDs(n int) ([]ID, error) {
	if n == 0 {
		return nil, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.maxEntities != 0 && uint64(s.lastID)+uint64(n) > s.maxEntities {
		return nil, eris.Wrapf(ErrEntityLimitExceeded, "limit %d", s.maxEntities)
	}

	ids := make([]ID, n)
	for i := range ids {
		s.lastID++
		ids[i] = s.lastID
	}
	return ids, nil
}

// issued reports whether id was ever handed out by the store.
func (s *Store) issued(id ID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return id != 0 && id <= s.lastID
}

// Revision returns the current revision of an entity, 0 if it never existed.
func (s *Store) Revision(id ID) uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if rec, ok := s.records[id]; ok {
		return rec.revision
	}
	return 0
}

// Components returns copies of the committed component values of an entity.
func (s *Store) Components(id ID) map[component.TypeID]any {
	_, comps := s.snapshot(id)
	return comps
}

// snapshot returns the revision and copies of the components of an entity as of one instant.
func (s *Store) snapshot(id ID) (uint64, map[component.TypeID]any) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[id]
	if !ok {
		return 0, map[component.TypeID]any{}
	}
	comps := make(map[component.TypeID]any, len(rec.components))
	for tid, v := range rec.components {
		comps[tid] = s.components.Clone(v)
	}
	return rec.revision, comps
}

// Add attaches a copy of v to the entity. It fails if the entity already has the component.
func (s *Store) Add(id ID, tid component.TypeID, v any) bool {
	v = s.components.Clone(v)

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		rec = &record{components: make(map[component.TypeID]any)}
		s.records[id] = rec
	}
	if _, exists := rec.components[tid]; exists {
		return false
	}
	rec.components[tid] = v
	rec.revision++
	return true
}

// Update replaces the entity's component with a copy of v. It fails if the component is absent.
func (s *Store) Update(id ID, tid component.TypeID, v any) bool {
	v = s.components.Clone(v)

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return false
	}
	if _, exists := rec.components[tid]; !exists {
		return false
	}
	rec.components[tid] = v
	rec.revision++
	return true
}

// Remove detaches a component from the entity. It fails if the component is absent.
func (s *Store) Remove(id ID, tid component.TypeID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return false
	}
	if _, exists := rec.components[tid]; !exists {
		return false
	}
	delete(rec.components, tid)
	rec.revision++
	return true
}

// unchanged reports whether the committed component equals v. cmp compares Ref fields through
// Ref.Equal, so a reference equals its settled form.
func (s *Store) unchanged(id ID, tid component.TypeID, v any) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[id]
	if !ok {
		return false
	}
	current, exists := rec.components[tid]
	return exists && cmp.Equal(current, v, exportAll)
}

// exportAll lets cmp compare unexported component fields, which the store copies as well.
var exportAll = cmp.Exporter(func(reflect.Type) bool { return true }) //nolint:gochecknoglobals // immutable option

// Len returns the number of entities with at least one component.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, rec := range s.records {
		if len(rec.components) > 0 {
			n++
		}
	}
	return n
}

// Lock acquires exclusive commit access over ids and returns the function releasing it. Ids are
// hashed onto stripes which are always acquired in ascending order, so overlapping callers
// cannot deadlock. The returned function must be called exactly once.
func (s *Store) Lock(ids []ID) func() {
	stripes := make([]uint64, 0, len(ids))
	for _, id := range ids {
		stripes = append(stripes, uint64(id)&s.stripeMask)
	}
	slices.Sort(stripes)
	stripes = slices.Compact(stripes)

	for _, i := range stripes {
		s.stripes[i].Lock()
	}
	return func() {
		for j := len(stripes) - 1; j >= 0; j-- {
			s.stripes[stripes[j]].Unlock()
		}
	}
}

// AddListener registers a listener invoked on every transaction begin, commit and rollback.
func (s *Store) AddListener(l Listener) {
	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()
	s.listeners = append(s.listeners, l)
}

// AddCommitObserver registers an observer invoked with the changes of every successful commit,
// while the commit still holds its locks.
func (s *Store) AddCommitObserver(o CommitObserver) {
	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()
	s.observers = append(s.observers, o)
}

// addSeededObserver registers o and calls seed with the committed state in one step, so the
// observer misses no commit and every commit it observes after seeding is newer or idempotent.
func (s *Store) addSeededObserver(o CommitObserver, seed func(id ID, comps map[component.TypeID]any)) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	s.AddCommitObserver(o)
	for id, rec := range s.records {
		if len(rec.components) > 0 {
			seed(id, rec.components)
		}
	}
}

func (s *Store) notifyListeners(fn func(Listener)) {
	s.listenerMu.RLock()
	listeners := slices.Clone(s.listeners)
	s.listenerMu.RUnlock()

	for _, l := range listeners {
		fn(l)
	}
}

func (s *Store) notifyObservers(ctx *CommitContext) {
	s.listenerMu.RLock()
	observers := slices.Clone(s.observers)
	s.listenerMu.RUnlock()

	for _, o := range observers {
		o.ObserveCommit(ctx)
	}
}

// NewTransaction returns a transaction workspace bound to this store. A transaction must only
// be used by one goroutine at a time.
func (s *Store) NewTransaction() *Transaction {
	return &Transaction{
		store:  s,
		frames: make([]*frame, 0),
		logger: s.logger,
	}
}
