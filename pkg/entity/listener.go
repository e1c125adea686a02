package entity

import "github.com/kelindar/bitmap"

// Listener is notified of transaction lifecycle events. Listeners run synchronously on the
// goroutine driving the transaction, in registration order, and must not begin, commit or roll
// back the transaction that notified them.
type Listener interface {
	OnBegin()
	OnCommit()
	OnRollback()
}

// ListenerFuncs adapts optional functions to a Listener.
type ListenerFuncs struct {
	Begin    func()
	Commit   func()
	Rollback func()
}

var _ Listener = ListenerFuncs{}

func (l ListenerFuncs) OnBegin() {
	if l.Begin != nil {
		l.Begin()
	}
}

func (l ListenerFuncs) OnCommit() {
	if l.Commit != nil {
		l.Commit()
	}
}

func (l ListenerFuncs) OnRollback() {
	if l.Rollback != nil {
		l.Rollback()
	}
}

// CommitObserver receives the entity-level changes of every successful commit. Observers run at
// the index update stage, after the changes are applied and before the commit releases its
// locks, so observers see commits touching the same entity in commit order. Commits over
// disjoint entities may notify concurrently.
type CommitObserver interface {
	ObserveCommit(ctx *CommitContext)
}

// CommitContext describes what one commit changed. Component kinds are bitmaps of
// component.TypeID.
type CommitContext struct {
	Created map[ID]bitmap.Bitmap // New entities and the kinds they were created with
	Added   map[ID]bitmap.Bitmap // Kinds added to existing entities
	Removed map[ID]bitmap.Bitmap // Kinds removed from existing entities
}

func newCommitContext() *CommitContext {
	return &CommitContext{
		Created: make(map[ID]bitmap.Bitmap),
		Added:   make(map[ID]bitmap.Bitmap),
		Removed: make(map[ID]bitmap.Bitmap),
	}
}

func mark(set map[ID]bitmap.Bitmap, id ID, tid uint32) {
	bits := set[id]
	bits.Set(tid)
	set[id] = bits
}

// Empty reports whether the commit changed no entity.
func (c *CommitContext) Empty() bool {
	return len(c.Created) == 0 && len(c.Added) == 0 && len(c.Removed) == 0
}
