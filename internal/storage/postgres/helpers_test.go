// Package postgres provides a PostgreSQL implementation of storage interfaces.
// This file contains test helpers only available during testing.
package postgres

import (
	"context"
	"fmt"
)

// TruncateForTest removes all rows from every table. It is exported so that
// the postgres_test package can reset the database between tests.
func (s *Store) TruncateForTest(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `TRUNCATE TABLE
		memory_links, memory_projects, memory_documents, memory_code_artifacts, entity_memories,
		entity_relationships, entities, documents, code_artifacts, projects, memories
		RESTART IDENTITY CASCADE`)
	if err != nil {
		return fmt.Errorf("postgres: failed to truncate tables: %w", err)
	}
	return nil
}
