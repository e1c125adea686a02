package prefab

import "github.com/rotisserie/eris"

var (
	// ErrPrefabNotFound is returned when no prefab is registered under a name.
	ErrPrefabNotFound = eris.New("prefab not found")

	// ErrPrefabExists is returned when registering a second prefab under the same name.
	ErrPrefabExists = eris.New("prefab already exists")

	// ErrInvalidPrefab is returned for malformed prefab definitions.
	ErrInvalidPrefab = eris.New("invalid prefab")
)
