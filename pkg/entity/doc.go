/*
Package entity implements a transactional, in-memory entity-component store.

An entity is an id with a set of components, at most one per component kind. Committed state
lives in a Store shared by any number of goroutines. Each goroutine reads and writes through its
own Transaction, a stack of isolated frames:

	tx := store.NewTransaction()
	tx.Begin()
	player, _ := tx.CreateEntity()
	name, _ := entity.Add[Name](tx, player)
	name.Value = "Fred"
	if err := tx.Commit(); err != nil {
		// errors.Is(err, entity.ErrConcurrentModification): retry from Begin
	}

Frames use optimistic concurrency. The first touch of an entity copies its committed state into
the frame and records its revision; commit locks the touched ids, checks the revisions are
unchanged, then applies. Nothing is locked between Begin and Commit.

Entities created in a frame are pending until commit. Pending references stored in components
of the same commit are rewritten to the resolved entities. ComponentIndex observes commits to
maintain the set of entities having one component kind.
*/
package entity
