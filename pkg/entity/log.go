package entity

import (
	"slices"

	"github.com/argus-labs/entitystore/pkg/component"
	"github.com/rs/zerolog"
)

func loadComponentIntoArrayLogger(t *component.Type, arrayLogger *zerolog.Array) *zerolog.Array {
	dictLogger := zerolog.Dict()
	dictLogger = dictLogger.Uint32("component_id", t.ID())
	dictLogger = dictLogger.Str("component_name", t.Name())
	return arrayLogger.Dict(dictLogger)
}

func loadEntityIntoEvent(zeroLoggerEvent *zerolog.Event, ref Ref, comp Composition) *zerolog.Event {
	arrayLogger := zerolog.Arr()
	for _, t := range comp.Types() {
		arrayLogger = loadComponentIntoArrayLogger(t, arrayLogger)
	}
	zeroLoggerEvent.Array("components", arrayLogger)
	return zeroLoggerEvent.Stringer("entity", ref)
}

// logCommit adds the size of a commit to the event.
func logCommit(zeroLoggerEvent *zerolog.Event, ctx *CommitContext) *zerolog.Event {
	modified := make([]ID, 0, len(ctx.Added)+len(ctx.Removed))
	for id := range ctx.Added {
		modified = append(modified, id)
	}
	for id := range ctx.Removed {
		modified = append(modified, id)
	}
	slices.Sort(modified)
	modified = slices.Compact(modified)

	return zeroLoggerEvent.
		Int("created", len(ctx.Created)).
		Int("modified", len(modified))
}

// Components logs every component type registered with the manager.
func Components(logger *zerolog.Logger, m *component.Manager, level zerolog.Level) {
	types := m.Types()
	zeroLoggerEvent := logger.WithLevel(level).Int("total_components", len(types))
	arrayLogger := zerolog.Arr()
	for _, t := range types {
		arrayLogger = loadComponentIntoArrayLogger(t, arrayLogger)
	}
	zeroLoggerEvent.Array("components", arrayLogger).Send()
}

// Entity logs the composition of an entity as seen by the transaction.
func Entity(logger *zerolog.Logger, level zerolog.Level, tx *Transaction, ref Ref) {
	comp, err := tx.Composition(ref)
	if err != nil {
		logger.WithLevel(level).Err(err).Stringer("entity", ref).Msg("failed to log entity")
		return
	}
	loadEntityIntoEvent(logger.WithLevel(level), ref, comp).Send()
}
