package manager

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/dmitrijs2005/osteokeeper/internal/storage"
)

// ErrNoLegacySource is returned by MigrateFromLegacyStorage when the manager
// was built without a legacy source.
var ErrNoLegacySource = errors.New("no legacy source configured")

// MigrationReport describes one legacy migration run.
type MigrationReport struct {
	// Migrated maps entity names to the number of records imported.
	Migrated map[string]int `json:"migrated"`
	// Skipped lists configured entities the legacy source had no data for.
	Skipped []string `json:"skipped"`
	// Kept lists legacy entities with no secure store. Their data is left
	// in the legacy source.
	Kept []string `json:"kept"`
	// Failed maps entity names to the error that stopped them.
	Failed map[string]string `json:"failed"`
	// Cleared is true when the migrated entities were removed from the
	// legacy source afterwards.
	Cleared bool `json:"cleared"`
}

// MigrateFromLegacyStorage copies each entity the legacy source holds for
// userID into secure storage, merging by id. A failing entity does not stop
// the others. Only when no entity failed are the migrated entities removed
// from the legacy source; entities without a secure store are never removed.
func (m *Manager) MigrateFromLegacyStorage(ctx context.Context, userID string) (MigrationReport, error) {
	rep := MigrationReport{
		Migrated: map[string]int{},
		Skipped:  []string{},
		Kept:     []string{},
		Failed:   map[string]string{},
	}

	if m.deps.Legacy == nil {
		return rep, ErrNoLegacySource
	}
	backend, err := m.unlockedBackend()
	if err != nil {
		return rep, err
	}

	log := m.logger.With("user", userID)

	legacyNames, err := m.deps.Legacy.Entities(ctx, userID)
	if err != nil {
		return rep, fmt.Errorf("list legacy entities: %w", err)
	}
	sort.Strings(legacyNames)

	inLegacy := make(map[string]bool, len(legacyNames))
	var migrated []string
	for _, name := range legacyNames {
		inLegacy[name] = true

		store := backend.Store(name)
		if store == nil {
			log.Warn(ctx, "legacy entity has no secure store, kept", "entity", name)
			rep.Kept = append(rep.Kept, name)
			continue
		}

		records, found, err := m.deps.Legacy.Load(ctx, userID, name)
		if err != nil {
			log.Warn(ctx, "legacy load failed", "entity", name, "error", err)
			rep.Failed[name] = err.Error()
			continue
		}
		if !found {
			continue
		}

		ir, err := store.Import(ctx, records, storage.StrategyMerge)
		if err != nil {
			log.Warn(ctx, "legacy import failed", "entity", name, "error", err)
			rep.Failed[name] = err.Error()
			continue
		}
		rep.Migrated[name] = ir.Added + ir.Updated
		migrated = append(migrated, name)
	}

	for _, name := range backend.Entities() {
		if !inLegacy[name] {
			rep.Skipped = append(rep.Skipped, name)
		}
	}

	if len(rep.Failed) > 0 {
		log.Warn(ctx, "legacy migration incomplete, source kept", "failed", len(rep.Failed))
		return rep, nil
	}
	if len(migrated) == 0 {
		return rep, nil
	}

	if err := m.deps.Legacy.Remove(ctx, userID, migrated...); err != nil {
		log.Error(ctx, "legacy cleanup failed", "error", err)
		return rep, err
	}
	rep.Cleared = true
	log.Info(ctx, "legacy migration complete", "entities", len(rep.Migrated), "kept", len(rep.Kept))
	return rep, nil
}
