package component

import "github.com/rotisserie/eris"

var (
	// ErrComponentNotRegistered is returned when looking up a component type the manager does not know.
	ErrComponentNotRegistered = eris.New("component type is not registered")

	// ErrComponentSchemaMismatch is returned when a stored schema differs from the registered type's schema.
	ErrComponentSchemaMismatch = eris.New("component schema mismatch")
)
