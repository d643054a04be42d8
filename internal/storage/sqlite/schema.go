package sqlite

// Schema is the complete SQLite schema. Every statement is idempotent.
//
// Links are stored once per unordered pair with source_id < target_id.
// Embeddings are little-endian float32 BLOBs; embedding_meta records the
// dimensionality every stored vector must have.
const Schema = `
CREATE TABLE IF NOT EXISTS memories (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	title           TEXT NOT NULL,
	content         TEXT NOT NULL,
	context         TEXT NOT NULL DEFAULT '',
	keywords        TEXT NOT NULL DEFAULT '[]',
	tags            TEXT NOT NULL DEFAULT '[]',
	importance      INTEGER NOT NULL DEFAULT 5 CHECK (importance BETWEEN 1 AND 10),
	embedding       BLOB,
	is_obsolete     INTEGER NOT NULL DEFAULT 0,
	obsolete_reason TEXT NOT NULL DEFAULT '',
	superseded_by   INTEGER REFERENCES memories(id),
	obsoleted_at    TIMESTAMP,
	created_at      TIMESTAMP NOT NULL,
	updated_at      TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_memories_obsolete ON memories(is_obsolete);
CREATE INDEX IF NOT EXISTS idx_memories_importance ON memories(importance DESC, created_at DESC);

CREATE TABLE IF NOT EXISTS memory_links (
	source_id  INTEGER NOT NULL REFERENCES memories(id),
	target_id  INTEGER NOT NULL REFERENCES memories(id),
	created_at TIMESTAMP NOT NULL,
	PRIMARY KEY (source_id, target_id),
	CHECK (source_id < target_id)
);
CREATE INDEX IF NOT EXISTS idx_memory_links_target ON memory_links(target_id);

CREATE TABLE IF NOT EXISTS projects (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	name         TEXT NOT NULL,
	description  TEXT NOT NULL DEFAULT '',
	project_type TEXT NOT NULL DEFAULT '',
	status       TEXT NOT NULL DEFAULT 'active',
	repo_name    TEXT NOT NULL DEFAULT '',
	notes        TEXT NOT NULL DEFAULT '',
	created_at   TIMESTAMP NOT NULL,
	updated_at   TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS documents (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	project_id    INTEGER REFERENCES projects(id) ON DELETE SET NULL,
	title         TEXT NOT NULL,
	description   TEXT NOT NULL DEFAULT '',
	content       TEXT NOT NULL,
	document_type TEXT NOT NULL DEFAULT '',
	filename      TEXT NOT NULL DEFAULT '',
	size_bytes    INTEGER NOT NULL DEFAULT 0,
	tags          TEXT NOT NULL DEFAULT '[]',
	created_at    TIMESTAMP NOT NULL,
	updated_at    TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_documents_project ON documents(project_id);

CREATE TABLE IF NOT EXISTS code_artifacts (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	project_id  INTEGER REFERENCES projects(id) ON DELETE SET NULL,
	title       TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	code        TEXT NOT NULL,
	language    TEXT NOT NULL,
	tags        TEXT NOT NULL DEFAULT '[]',
	created_at  TIMESTAMP NOT NULL,
	updated_at  TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_code_artifacts_project ON code_artifacts(project_id);

CREATE TABLE IF NOT EXISTS entities (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	name        TEXT NOT NULL,
	entity_type TEXT NOT NULL,
	custom_type TEXT NOT NULL DEFAULT '',
	notes       TEXT NOT NULL DEFAULT '',
	aka         TEXT NOT NULL DEFAULT '[]',
	tags        TEXT NOT NULL DEFAULT '[]',
	metadata    TEXT NOT NULL DEFAULT '{}',
	project_id  INTEGER REFERENCES projects(id) ON DELETE SET NULL,
	created_at  TIMESTAMP NOT NULL,
	updated_at  TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS entity_relationships (
	id                INTEGER PRIMARY KEY AUTOINCREMENT,
	source_entity_id  INTEGER NOT NULL REFERENCES entities(id),
	target_entity_id  INTEGER NOT NULL REFERENCES entities(id),
	relationship_type TEXT NOT NULL,
	strength          REAL NOT NULL DEFAULT 1.0,
	confidence        REAL NOT NULL DEFAULT 1.0,
	metadata          TEXT NOT NULL DEFAULT '{}',
	created_at        TIMESTAMP NOT NULL,
	updated_at        TIMESTAMP NOT NULL,
	UNIQUE (source_entity_id, target_entity_id, relationship_type)
);
CREATE INDEX IF NOT EXISTS idx_entity_relationships_target ON entity_relationships(target_entity_id);

CREATE TABLE IF NOT EXISTS memory_projects (
	memory_id  INTEGER NOT NULL REFERENCES memories(id),
	project_id INTEGER NOT NULL REFERENCES projects(id),
	PRIMARY KEY (memory_id, project_id)
);
CREATE INDEX IF NOT EXISTS idx_memory_projects_project ON memory_projects(project_id);

CREATE TABLE IF NOT EXISTS memory_documents (
	memory_id   INTEGER NOT NULL REFERENCES memories(id),
	document_id INTEGER NOT NULL REFERENCES documents(id),
	PRIMARY KEY (memory_id, document_id)
);
CREATE INDEX IF NOT EXISTS idx_memory_documents_document ON memory_documents(document_id);

CREATE TABLE IF NOT EXISTS memory_code_artifacts (
	memory_id        INTEGER NOT NULL REFERENCES memories(id),
	code_artifact_id INTEGER NOT NULL REFERENCES code_artifacts(id),
	PRIMARY KEY (memory_id, code_artifact_id)
);
CREATE INDEX IF NOT EXISTS idx_memory_code_artifacts_artifact ON memory_code_artifacts(code_artifact_id);

CREATE TABLE IF NOT EXISTS entity_memories (
	entity_id INTEGER NOT NULL REFERENCES entities(id),
	memory_id INTEGER NOT NULL REFERENCES memories(id),
	PRIMARY KEY (entity_id, memory_id)
);
CREATE INDEX IF NOT EXISTS idx_entity_memories_memory ON entity_memories(memory_id);

CREATE TABLE IF NOT EXISTS embedding_meta (
	id         INTEGER PRIMARY KEY CHECK (id = 1),
	dimensions INTEGER NOT NULL,
	updated_at TIMESTAMP NOT NULL
);
`
