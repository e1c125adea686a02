package testutils

import "github.com/argus-labs/entitystore/pkg/component"

// Shared components for tests that do not need entity references. Packages that do need them
// declare their own, since testutils cannot depend on the entity package.

type Label struct {
	Value string
}

func (Label) Name() string {
	return "label"
}

type Position struct {
	X, Y float64
}

func (Position) Name() string {
	return "position"
}

type Health struct {
	HP  int
	Max int
}

func (Health) Name() string {
	return "health"
}

type Tags struct {
	Values []string
	Counts map[string]int
}

func (Tags) Name() string {
	return "tags"
}

// RegisterComponents registers every shared test component with m and fails on error.
func RegisterComponents(m *component.Manager) ([]*component.Type, error) {
	var types []*component.Type
	for _, register := range []func(*component.Manager) (*component.Type, error){
		func(m *component.Manager) (*component.Type, error) { return component.Register[Label](m) },
		func(m *component.Manager) (*component.Type, error) { return component.Register[Position](m) },
		func(m *component.Manager) (*component.Type, error) { return component.Register[Health](m) },
		func(m *component.Manager) (*component.Type, error) { return component.Register[Tags](m) },
	} {
		t, err := register(m)
		if err != nil {
			return nil, err
		}
		types = append(types, t)
	}
	return types, nil
}
