package cli

import (
	"fmt"
	"log/slog"

	"github.com/wildthink/pipeline"
	"github.com/wildthink/pipeline/internal/manifest"
)

// queryInt64 runs a single-row, single-column query.
func queryInt64(c *pipeline.Connection, sql string) (int64, error) {
	stmt, err := c.Prepare(sql)
	if err != nil {
		return 0, err
	}
	defer stmt.Finalize()
	ok, err := stmt.Step()
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("no row from %q", sql)
	}
	row, err := stmt.Row()
	if err != nil {
		return 0, err
	}
	return pipeline.RowInt64(row, 0)
}

// currentVersion reads the schema version stamp (PRAGMA user_version).
func currentVersion(c *pipeline.Connection) (int64, error) {
	return queryInt64(c, "PRAGMA user_version")
}

// schemaObjectCount counts tables, indexes, views and triggers.
func schemaObjectCount(c *pipeline.Connection) (int64, error) {
	return queryInt64(c, "SELECT COUNT(*) FROM sqlite_schema")
}

// applyMigration runs one migration's statements and the version stamp
// inside a single immediate transaction, so a failed step leaves both
// schema and stamp untouched.
func applyMigration(c *pipeline.Connection, mig manifest.Migration) error {
	return c.Transaction(pipeline.TxImmediate, func(tx *pipeline.Connection) (pipeline.TxOutcome, error) {
		for i, sql := range mig.Up {
			if err := tx.Execute(sql); err != nil {
				return pipeline.TxRollback, fmt.Errorf("migration %d step %d: %w", mig.Version, i+1, err)
			}
		}
		if err := tx.Execute(fmt.Sprintf("PRAGMA user_version = %d", mig.Version)); err != nil {
			return pipeline.TxRollback, fmt.Errorf("migration %d: stamp version: %w", mig.Version, err)
		}
		return pipeline.TxCommit, nil
	})
}

// applyPending replays every manifest migration above the current stamp.
func applyPending(queue *pipeline.ConnectionQueue, m *manifest.Manifest, target int) (applied int, final int64, err error) {
	err = queue.Sync(func(c *pipeline.Connection) error {
		version, err := currentVersion(c)
		if err != nil {
			return err
		}
		final = version
		for _, mig := range m.Pending(int(version)) {
			if target > 0 && mig.Version > target {
				break
			}
			slog.Info("applying migration",
				"version", mig.Version, "description", mig.Description)
			if err := applyMigration(c, mig); err != nil {
				return err
			}
			applied++
			final = int64(mig.Version)
		}
		return nil
	})
	return applied, final, err
}
