package entity

import (
	"github.com/argus-labs/entitystore/pkg/component"
	"github.com/rotisserie/eris"
)

// Get returns the entity's component of type T. The boolean is false when the entity does not
// have it.
//
// Example:
//
//	health, ok, err := entity.Get[Health](tx, player)
//	if err != nil {
//		return err
//	}
//	if ok {
//		health.HP -= damage
//	}
func Get[T component.Component](tx *Transaction, ref Ref) (*T, bool, error) {
	t, err := component.TypeFor[T](tx.store.components)
	if err != nil {
		return nil, false, eris.Wrap(err, "failed to get component")
	}

	v, ok, err := tx.Component(ref, t)
	if err != nil || !ok {
		return nil, false, err
	}
	return v.(*T), true, nil //nolint:errcheck // the cache only holds *T for T's type id
}

// Add attaches a new default component of type T to the entity and returns it.
func Add[T component.Component](tx *Transaction, ref Ref) (*T, error) {
	t, err := component.TypeFor[T](tx.store.components)
	if err != nil {
		return nil, eris.Wrap(err, "failed to add component")
	}

	v, err := tx.AddComponent(ref, t)
	if err != nil {
		return nil, err
	}
	return v.(*T), nil //nolint:errcheck // Create returns *T for T's type
}

// Remove detaches the component of type T from the entity.
func Remove[T component.Component](tx *Transaction, ref Ref) error {
	t, err := component.TypeFor[T](tx.store.components)
	if err != nil {
		return eris.Wrap(err, "failed to remove component")
	}
	return tx.RemoveComponent(ref, t)
}
