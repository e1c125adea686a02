package entity

import (
	"maps"
	"slices"

	"github.com/argus-labs/entitystore/pkg/assert"
	"github.com/argus-labs/entitystore/pkg/component"
	"github.com/google/uuid"
	"github.com/kelindar/bitmap"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
)

// Transaction is a stack of isolated transaction frames over a Store. Every operation works on
// the top frame. Frames are independent: a frame begun while another is open does not see the
// outer frame's pending changes, and the outer frame does not see the inner frame's commit until
// it begins again. The two only interact through conflicts detected at commit.
//
// A Transaction is not safe for concurrent use. Give each goroutine its own.
type Transaction struct {
	store     *Store
	frames    []*frame
	logger    zerolog.Logger
	notifying bool
}

// action is the change a cache entry applies to the store on commit.
type action uint8

const (
	actionNone   action = iota // Nothing to apply
	actionAdd                  // Component is new to the entity
	actionUpdate               // Component existed in the store and may have changed
	actionRemove               // Component existed in the store and is removed
)

// compKey identifies one component of one entity.
type compKey struct {
	typeID   component.TypeID
	entityID ID
}

// cacheEntry is a frame's view of one component. A nil value means the component is absent.
type cacheEntry struct {
	value  any
	action action
}

// frame is the state of one open transaction.
type frame struct {
	id       uuid.UUID
	cache    map[compKey]*cacheEntry // Cached components, including absent ones that were looked up
	kinds    map[ID]*bitmap.Bitmap   // Component kinds present in cache, per entity
	expected map[ID]uint64           // Revision observed when the entity was first touched
	created  []*placeholder          // Entities created by this frame, in creation order
}

func newFrame() *frame {
	return &frame{
		id:       uuid.New(),
		cache:    make(map[compKey]*cacheEntry),
		kinds:    make(map[ID]*bitmap.Bitmap),
		expected: make(map[ID]uint64),
		created:  make([]*placeholder, 0),
	}
}

// cacheEntity copies the committed state of id into the frame on first touch and records the
// revision the frame's commit will be validated against.
func (f *frame) cacheEntity(s *Store, id ID) {
	if _, ok := f.expected[id]; ok {
		return
	}

	revision, comps := s.snapshot(id)
	f.expected[id] = revision

	kinds := &bitmap.Bitmap{}
	for tid, v := range comps {
		f.cache[compKey{typeID: tid, entityID: id}] = &cacheEntry{value: v, action: actionUpdate}
		kinds.Set(tid)
	}
	f.kinds[id] = kinds
}

func (f *frame) entry(s *Store, id ID, tid component.TypeID) *cacheEntry {
	f.cacheEntity(s, id)

	key := compKey{typeID: tid, entityID: id}
	e, ok := f.cache[key]
	if !ok {
		e = &cacheEntry{value: nil, action: actionNone}
		f.cache[key] = e
		f.kinds[id].Set(tid)
	}
	return e
}

// live returns the kinds the frame currently sees on id.
func (f *frame) live(s *Store, id ID) bitmap.Bitmap {
	f.cacheEntity(s, id)

	var out bitmap.Bitmap
	f.kinds[id].Range(func(tid uint32) {
		if f.cache[compKey{typeID: tid, entityID: id}].value != nil {
			out.Set(tid)
		}
	})
	return out
}

// Begin opens a new frame on top of the stack.
func (tx *Transaction) Begin() {
	tx.checkReentry("begin")

	f := newFrame()
	tx.frames = append(tx.frames, f)
	tx.logger.Debug().Stringer("tx", f.id).Int("depth", len(tx.frames)).Msg("transaction begin")

	tx.notify(Listener.OnBegin)
}

// IsActive reports whether a frame is open.
func (tx *Transaction) IsActive() bool {
	return len(tx.frames) > 0
}

// Depth returns the number of open frames.
func (tx *Transaction) Depth() int {
	return len(tx.frames)
}

func (tx *Transaction) top() (*frame, error) {
	if len(tx.frames) == 0 {
		return nil, ErrNoActiveTransaction
	}
	return tx.frames[len(tx.frames)-1], nil
}

func (tx *Transaction) pop() (*frame, error) {
	f, err := tx.top()
	if err != nil {
		return nil, err
	}
	tx.frames = tx.frames[:len(tx.frames)-1]
	return f, nil
}

// claim returns the placeholder behind a still-pending reference. Entities in creation belong to
// the transaction that created them; every other transaction sees no such entity.
func (tx *Transaction) claim(r Ref, op string) (*placeholder, error) {
	if r.pending.owner != tx {
		return nil, eris.Wrapf(ErrEntityDoesNotExist, "%s %s: created by another transaction", op, r)
	}
	return r.pending, nil
}

func (tx *Transaction) checkReentry(op string) {
	assert.That(!tx.notifying, "transaction listener must not %s the notifying transaction", op)
}

func (tx *Transaction) notify(fn func(Listener)) {
	tx.notifying = true
	defer func() { tx.notifying = false }()
	tx.store.notifyListeners(fn)
}

// Exists reports whether the entity has at least one component. Pending entities exist.
func (tx *Transaction) Exists(ref Ref) (bool, error) {
	f, err := tx.top()
	if err != nil {
		return false, err
	}

	r := ref.resolve()
	switch r.kind {
	case refNull, refRecipe, refPrefab:
		return false, nil
	case refPending:
		if _, err := tx.claim(r, "look up"); err != nil {
			return false, err
		}
		return true, nil
	case refResolved:
		live := f.live(tx.store, r.id)
		return live.Count() > 0, nil
	}
	assert.Unreachable("ref kind %d", r.kind)
	return false, nil
}

// Component returns the entity's component of kind t as a pointer the caller may mutate in
// place. The boolean is false when the entity has no such component.
func (tx *Transaction) Component(ref Ref, t *component.Type) (any, bool, error) {
	f, err := tx.top()
	if err != nil {
		return nil, false, err
	}

	r := ref.resolve()
	switch r.kind {
	case refNull, refRecipe, refPrefab:
		return nil, false, nil
	case refPending:
		p, err := tx.claim(r, "read "+t.Name()+" of")
		if err != nil {
			return nil, false, err
		}
		v, ok := p.components[t.ID()]
		return v, ok, nil
	case refResolved:
		e := f.entry(tx.store, r.id, t.ID())
		return e.value, e.value != nil, nil
	}
	assert.Unreachable("ref kind %d", r.kind)
	return nil, false, nil
}

// Composition returns the component kinds the entity has.
func (tx *Transaction) Composition(ref Ref) (Composition, error) {
	f, err := tx.top()
	if err != nil {
		return Composition{}, err
	}

	c := Composition{manager: tx.store.components}
	r := ref.resolve()
	switch r.kind {
	case refNull, refRecipe, refPrefab:
	case refPending:
		p, err := tx.claim(r, "read composition of")
		if err != nil {
			return Composition{}, err
		}
		for tid := range p.components {
			c.bits.Set(tid)
		}
	case refResolved:
		c.bits = f.live(tx.store, r.id)
	}
	return c, nil
}

// Components returns every component of the entity ordered by component type id.
func (tx *Transaction) Components(ref Ref) ([]any, error) {
	f, err := tx.top()
	if err != nil {
		return nil, err
	}

	r := ref.resolve()
	switch r.kind {
	case refNull, refRecipe, refPrefab:
		return []any{}, nil
	case refPending:
		p, err := tx.claim(r, "read components of")
		if err != nil {
			return nil, err
		}
		out := make([]any, 0, len(p.components))
		for _, tid := range slices.Sorted(maps.Keys(p.components)) {
			out = append(out, p.components[tid])
		}
		return out, nil
	case refResolved:
		live := f.live(tx.store, r.id)
		out := make([]any, 0, live.Count())
		live.Range(func(tid uint32) {
			out = append(out, f.cache[compKey{typeID: tid, entityID: r.id}].value)
		})
		return out, nil
	}
	assert.Unreachable("ref kind %d", r.kind)
	return nil, nil
}

// AddComponent attaches a new default component of kind t and returns it for in-place
// mutation.
func (tx *Transaction) AddComponent(ref Ref, t *component.Type) (any, error) {
	f, err := tx.top()
	if err != nil {
		return nil, err
	}

	r := ref.resolve()
	switch r.kind {
	case refNull, refRecipe, refPrefab:
		return nil, eris.Wrapf(ErrEntityDoesNotExist, "add %s to %s", t.Name(), r)
	case refPending:
		p, err := tx.claim(r, "add "+t.Name()+" to")
		if err != nil {
			return nil, err
		}
		if _, ok := p.components[t.ID()]; ok {
			return nil, eris.Wrapf(ErrComponentAlreadyExists, "%s on %s", t.Name(), r)
		}
		v := tx.store.components.Create(t)
		p.components[t.ID()] = v
		return v, nil
	case refResolved:
		if !tx.store.issued(r.id) {
			return nil, eris.Wrapf(ErrEntityDoesNotExist, "add %s to %s", t.Name(), r)
		}
		e := f.entry(tx.store, r.id, t.ID())
		if e.value != nil {
			return nil, eris.Wrapf(ErrComponentAlreadyExists, "%s on %s", t.Name(), r)
		}
		e.value = tx.store.components.Create(t)
		if e.action == actionRemove {
			e.action = actionUpdate
		} else {
			e.action = actionAdd
		}
		return e.value, nil
	}
	assert.Unreachable("ref kind %d", r.kind)
	return nil, nil
}

// RemoveComponent detaches the component of kind t from the entity.
func (tx *Transaction) RemoveComponent(ref Ref, t *component.Type) error {
	f, err := tx.top()
	if err != nil {
		return err
	}

	r := ref.resolve()
	switch r.kind {
	case refNull, refRecipe, refPrefab:
		return eris.Wrapf(ErrEntityDoesNotExist, "remove %s from %s", t.Name(), r)
	case refPending:
		p, err := tx.claim(r, "remove "+t.Name()+" from")
		if err != nil {
			return err
		}
		if _, ok := p.components[t.ID()]; !ok {
			return eris.Wrapf(ErrComponentDoesNotExist, "%s on %s", t.Name(), r)
		}
		delete(p.components, t.ID())
		return nil
	case refResolved:
		if !tx.store.issued(r.id) {
			return eris.Wrapf(ErrEntityDoesNotExist, "remove %s from %s", t.Name(), r)
		}
		e := f.entry(tx.store, r.id, t.ID())
		if e.value == nil {
			return eris.Wrapf(ErrComponentDoesNotExist, "%s on %s", t.Name(), r)
		}
		e.value = nil
		if e.action == actionAdd {
			e.action = actionNone
		} else {
			e.action = actionRemove
		}
		return nil
	}
	assert.Unreachable("ref kind %d", r.kind)
	return nil
}

// DeleteEntity removes every component of the entity. Deleting through the null reference is a
// no-op.
func (tx *Transaction) DeleteEntity(ref Ref) error {
	comp, err := tx.Composition(ref)
	if err != nil {
		return err
	}
	for _, t := range comp.Types() {
		if err := tx.RemoveComponent(ref, t); err != nil {
			return err
		}
	}
	return nil
}

// CreateEntity returns a pending reference to a new entity. The entity gets an id when the
// frame commits with at least one component attached; otherwise the reference becomes null.
func (tx *Transaction) CreateEntity() (Ref, error) {
	f, err := tx.top()
	if err != nil {
		return Ref{}, err
	}

	p := &placeholder{
		serial:     tx.store.serial.Add(1),
		owner:      tx,
		frame:      f.id,
		components: make(map[component.TypeID]any),
	}
	f.created = append(f.created, p)
	return Ref{kind: refPending, pending: p}, nil
}

// EntityJSON encodes the entity's components as a JSON object keyed by component name.
func (tx *Transaction) EntityJSON(ref Ref) ([]byte, error) {
	comps, err := tx.Components(ref)
	if err != nil {
		return nil, err
	}

	out := make(map[string]any, len(comps))
	for _, v := range comps {
		t, err := tx.store.components.TypeOf(v)
		if err != nil {
			return nil, err
		}
		out[t.Name()] = v
	}
	return component.Encode(out)
}

// Rollback discards the top frame. Entities it created become null references.
func (tx *Transaction) Rollback() error {
	tx.checkReentry("rollback")

	f, err := tx.pop()
	if err != nil {
		return err
	}
	tx.abandon(f)
	return nil
}

func (tx *Transaction) abandon(f *frame) {
	for _, p := range f.created {
		p.discard()
	}
	tx.logger.Debug().Stringer("tx", f.id).Int("depth", len(tx.frames)+1).Msg("transaction rolled back")
	tx.notify(Listener.OnRollback)
}

// Commit validates and applies the top frame.
//
// Every entity the frame touched must still have the revision the frame observed; otherwise
// nothing is applied, the frame's created entities become null references and the error wraps
// ErrConcurrentModification. On success new entities get ids, references to them inside
// committed components are rewritten to the resolved entities, and the changes are applied to
// the store and reported to commit observers before the locks are released.
//
// Commit pops the frame whatever the outcome.
func (tx *Transaction) Commit() error {
	tx.checkReentry("commit")

	f, err := tx.pop()
	if err != nil {
		return err
	}
	s := tx.store

	spawned := make([]*placeholder, 0, len(f.created))
	for _, p := range f.created {
		if len(p.components) > 0 {
			spawned = append(spawned, p)
		}
	}

	// New ids are issued before locking so they join the same ordered lock acquisition.
	newIDs, err := s.createEntityIDs(len(spawned))
	if err != nil {
		tx.abandon(f)
		return eris.Wrap(err, "failed to create entities")
	}

	touched := slices.Sorted(maps.Keys(f.expected))
	ctx, err := tx.commitLocked(f, touched, spawned, newIDs)
	if err != nil {
		tx.abandon(f)
		return err
	}

	logCommit(tx.logger.Debug().Stringer("tx", f.id), ctx).Msg("transaction committed")
	tx.notify(Listener.OnCommit)
	return nil
}

func (tx *Transaction) commitLocked(
	f *frame, touched []ID, spawned []*placeholder, newIDs []ID,
) (*CommitContext, error) {
	s := tx.store

	unlock := s.Lock(slices.Concat(touched, newIDs))
	defer unlock()

	for _, id := range touched {
		if current := s.Revision(id); current != f.expected[id] {
			tx.logger.Debug().
				Stringer("tx", f.id).
				Uint64("entity_id", uint64(id)).
				Uint64("expected_revision", f.expected[id]).
				Uint64("current_revision", current).
				Msg("transaction conflict")
			return nil, eris.Wrapf(ErrConcurrentModification, "entity %d", id)
		}
	}

	for i, p := range spawned {
		p.resolveTo(newIDs[i])
	}
	for _, p := range f.created {
		p.discard()
	}

	ctx := newCommitContext()

	for _, p := range spawned {
		for _, tid := range slices.Sorted(maps.Keys(p.components)) {
			v := p.components[tid]
			tx.rewriteRefs(f, p.target, tid, v)
			if !s.Add(p.target, tid, v) {
				violation("add", tid, p.target)
			}
			mark(ctx.Created, p.target, tid)
		}
		p.components = nil
	}

	for _, id := range touched {
		f.kinds[id].Range(func(tid uint32) {
			e := f.cache[compKey{typeID: tid, entityID: id}]
			switch e.action {
			case actionNone:
			case actionAdd:
				tx.rewriteRefs(f, id, tid, e.value)
				if !s.Add(id, tid, e.value) {
					violation("add", tid, id)
				}
				mark(ctx.Added, id, tid)
			case actionUpdate:
				tx.rewriteRefs(f, id, tid, e.value)
				if s.unchanged(id, tid, e.value) {
					return
				}
				if !s.Update(id, tid, e.value) {
					violation("update", tid, id)
				}
			case actionRemove:
				if !s.Remove(id, tid) {
					violation("remove", tid, id)
				}
				mark(ctx.Removed, id, tid)
			}
		})
	}

	s.notifyObservers(ctx)
	return ctx, nil
}

// rewriteRefs replaces references to entities settled by this commit with their outcome. A
// reference to an entity another frame is still creating cannot be stored: it is logged and
// replaced with the null reference.
func (tx *Transaction) rewriteRefs(f *frame, id ID, tid component.TypeID, v any) {
	t, err := tx.store.components.ByID(tid)
	assert.That(err == nil, "cached component type %d is not registered", tid)

	for _, a := range t.PropertiesOfType(refType) {
		a.Rewrite(v, func(path string, value any) any {
			ref, _ := value.(Ref)
			settled := ref.settle()
			if settled.kind != refPending {
				return settled
			}
			tx.logger.Error().
				Stringer("tx", f.id).
				Stringer("owner_frame", settled.pending.frame).
				Uint64("entity_id", uint64(id)).
				Str("component", t.Name()).
				Str("field", path).
				Stringer("ref", settled).
				Msg("reference to an entity another frame is still creating, storing null")
			return Null()
		})
	}
}

// violation aborts a commit whose validated changes the store rejected. Locks are released by
// the deferred unlock while the panic unwinds.
func violation(op string, tid component.TypeID, id ID) {
	panic(eris.Wrapf(ErrInvariantViolation, "store rejected %s of component %d on entity %d", op, tid, id))
}
