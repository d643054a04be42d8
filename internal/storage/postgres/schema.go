// Package postgres implements storage.Store on PostgreSQL with the pgvector
// extension. Embeddings live in a fixed-size vector(n) column searched by
// cosine distance through an HNSW index.
package postgres

import "fmt"

// Schema contains the relational tables. The embedding column is added
// separately by embeddingColumnDDL because its size is only known at runtime.
const Schema = `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS memories (
    id              BIGSERIAL PRIMARY KEY,
    title           TEXT NOT NULL,
    content         TEXT NOT NULL,
    context         TEXT NOT NULL DEFAULT '',
    keywords        TEXT[] NOT NULL DEFAULT '{}',
    tags            TEXT[] NOT NULL DEFAULT '{}',
    importance      INTEGER NOT NULL DEFAULT 5 CHECK (importance BETWEEN 1 AND 10),
    is_obsolete     BOOLEAN NOT NULL DEFAULT FALSE,
    obsolete_reason TEXT NOT NULL DEFAULT '',
    superseded_by   BIGINT REFERENCES memories(id),
    obsoleted_at    TIMESTAMPTZ,
    created_at      TIMESTAMPTZ NOT NULL,
    updated_at      TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_memories_obsolete ON memories(is_obsolete);
CREATE INDEX IF NOT EXISTS idx_memories_importance ON memories(importance DESC, created_at DESC);

-- Links are stored once per unordered pair.
CREATE TABLE IF NOT EXISTS memory_links (
    source_id  BIGINT NOT NULL REFERENCES memories(id),
    target_id  BIGINT NOT NULL REFERENCES memories(id),
    created_at TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (source_id, target_id),
    CHECK (source_id < target_id)
);
CREATE INDEX IF NOT EXISTS idx_memory_links_target ON memory_links(target_id);

CREATE TABLE IF NOT EXISTS projects (
    id           BIGSERIAL PRIMARY KEY,
    name         TEXT NOT NULL,
    description  TEXT NOT NULL DEFAULT '',
    project_type TEXT NOT NULL DEFAULT '',
    status       TEXT NOT NULL DEFAULT 'active',
    repo_name    TEXT NOT NULL DEFAULT '',
    notes        TEXT NOT NULL DEFAULT '',
    created_at   TIMESTAMPTZ NOT NULL,
    updated_at   TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS documents (
    id            BIGSERIAL PRIMARY KEY,
    project_id    BIGINT REFERENCES projects(id) ON DELETE SET NULL,
    title         TEXT NOT NULL,
    description   TEXT NOT NULL DEFAULT '',
    content       TEXT NOT NULL,
    document_type TEXT NOT NULL DEFAULT '',
    filename      TEXT NOT NULL DEFAULT '',
    size_bytes    BIGINT NOT NULL DEFAULT 0,
    tags          TEXT[] NOT NULL DEFAULT '{}',
    created_at    TIMESTAMPTZ NOT NULL,
    updated_at    TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_documents_project ON documents(project_id);

CREATE TABLE IF NOT EXISTS code_artifacts (
    id          BIGSERIAL PRIMARY KEY,
    project_id  BIGINT REFERENCES projects(id) ON DELETE SET NULL,
    title       TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    code        TEXT NOT NULL,
    language    TEXT NOT NULL,
    tags        TEXT[] NOT NULL DEFAULT '{}',
    created_at  TIMESTAMPTZ NOT NULL,
    updated_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_code_artifacts_project ON code_artifacts(project_id);

CREATE TABLE IF NOT EXISTS entities (
    id          BIGSERIAL PRIMARY KEY,
    name        TEXT NOT NULL,
    entity_type TEXT NOT NULL,
    custom_type TEXT NOT NULL DEFAULT '',
    notes       TEXT NOT NULL DEFAULT '',
    aka         TEXT[] NOT NULL DEFAULT '{}',
    tags        TEXT[] NOT NULL DEFAULT '{}',
    metadata    JSONB NOT NULL DEFAULT '{}',
    project_id  BIGINT REFERENCES projects(id) ON DELETE SET NULL,
    created_at  TIMESTAMPTZ NOT NULL,
    updated_at  TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS entity_relationships (
    id                BIGSERIAL PRIMARY KEY,
    source_entity_id  BIGINT NOT NULL REFERENCES entities(id),
    target_entity_id  BIGINT NOT NULL REFERENCES entities(id),
    relationship_type TEXT NOT NULL,
    strength          DOUBLE PRECISION NOT NULL DEFAULT 1.0,
    confidence        DOUBLE PRECISION NOT NULL DEFAULT 1.0,
    metadata          JSONB NOT NULL DEFAULT '{}',
    created_at        TIMESTAMPTZ NOT NULL,
    updated_at        TIMESTAMPTZ NOT NULL,
    UNIQUE (source_entity_id, target_entity_id, relationship_type)
);
CREATE INDEX IF NOT EXISTS idx_entity_relationships_target ON entity_relationships(target_entity_id);

CREATE TABLE IF NOT EXISTS memory_projects (
    memory_id  BIGINT NOT NULL REFERENCES memories(id),
    project_id BIGINT NOT NULL REFERENCES projects(id),
    PRIMARY KEY (memory_id, project_id)
);
CREATE INDEX IF NOT EXISTS idx_memory_projects_project ON memory_projects(project_id);

CREATE TABLE IF NOT EXISTS memory_documents (
    memory_id   BIGINT NOT NULL REFERENCES memories(id),
    document_id BIGINT NOT NULL REFERENCES documents(id),
    PRIMARY KEY (memory_id, document_id)
);
CREATE INDEX IF NOT EXISTS idx_memory_documents_document ON memory_documents(document_id);

CREATE TABLE IF NOT EXISTS memory_code_artifacts (
    memory_id        BIGINT NOT NULL REFERENCES memories(id),
    code_artifact_id BIGINT NOT NULL REFERENCES code_artifacts(id),
    PRIMARY KEY (memory_id, code_artifact_id)
);
CREATE INDEX IF NOT EXISTS idx_memory_code_artifacts_artifact ON memory_code_artifacts(code_artifact_id);

CREATE TABLE IF NOT EXISTS entity_memories (
    entity_id BIGINT NOT NULL REFERENCES entities(id),
    memory_id BIGINT NOT NULL REFERENCES memories(id),
    PRIMARY KEY (entity_id, memory_id)
);
CREATE INDEX IF NOT EXISTS idx_entity_memories_memory ON entity_memories(memory_id);

CREATE TABLE IF NOT EXISTS embedding_meta (
    id         INTEGER PRIMARY KEY CHECK (id = 1),
    dimensions INTEGER NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL
);
`

const embeddingIndex = "idx_memories_embedding_hnsw"

// embeddingColumnDDL adds the vector column and its HNSW index when missing.
func embeddingColumnDDL(dims int) string {
	return fmt.Sprintf(`
ALTER TABLE memories ADD COLUMN IF NOT EXISTS embedding vector(%d);
CREATE INDEX IF NOT EXISTS %s ON memories USING hnsw (embedding vector_cosine_ops);
`, dims, embeddingIndex)
}

// resizeDDL replaces the vector column with one of the new size. Every
// stored vector is dropped.
func resizeDDL(dims int) string {
	return fmt.Sprintf(`
DROP INDEX IF EXISTS %s;
ALTER TABLE memories DROP COLUMN IF EXISTS embedding;
ALTER TABLE memories ADD COLUMN embedding vector(%d);
CREATE INDEX %s ON memories USING hnsw (embedding vector_cosine_ops);
`, embeddingIndex, dims, embeddingIndex)
}
