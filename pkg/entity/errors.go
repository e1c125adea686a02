package entity

import "github.com/rotisserie/eris"

var (
	// ErrNoActiveTransaction is returned when an operation needs an open transaction frame and
	// there is none.
	ErrNoActiveTransaction = eris.New("no active transaction")

	// ErrComponentAlreadyExists is returned when adding a component kind the entity already has.
	ErrComponentAlreadyExists = eris.New("component already exists on entity")

	// ErrComponentDoesNotExist is returned when removing a component kind the entity lacks.
	ErrComponentDoesNotExist = eris.New("component does not exist on entity")

	// ErrConcurrentModification is returned by Commit when an entity read by the transaction was
	// changed by another commit in the meantime. The store is left untouched; retry from Begin.
	ErrConcurrentModification = eris.New("entity modified outside of transaction")

	// ErrEntityDoesNotExist is returned when mutating through a reference that has no live entity
	// behind it.
	ErrEntityDoesNotExist = eris.New("entity does not exist")

	// ErrInvariantViolation is the panic value, wrapped, raised when the store rejects a change
	// after the transaction's revisions were validated.
	ErrInvariantViolation = eris.New("entity store invariant violated")

	// ErrEntityLimitExceeded is returned when a commit would issue more entity ids than allowed.
	ErrEntityLimitExceeded = eris.New("max number of entities exceeded")
)
