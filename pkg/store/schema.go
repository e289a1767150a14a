package store

// schema is the Record Store's DDL, applied once at Open via a single
// transaction. Every table uses a TEXT primary key matching the
// hash-derived ids from pkg/identity.
const schema = `
CREATE TABLE IF NOT EXISTS symbols (
	id                    TEXT PRIMARY KEY,
	language              TEXT NOT NULL,
	file_path             TEXT NOT NULL,
	kind                  TEXT NOT NULL,
	name                  TEXT NOT NULL,
	qualified_name        TEXT NOT NULL,
	signature_fingerprint TEXT NOT NULL,
	content_hash          TEXT NOT NULL,
	start_line            INTEGER NOT NULL,
	start_col             INTEGER NOT NULL,
	end_line              INTEGER NOT NULL,
	end_col               INTEGER NOT NULL,
	removed_at            INTEGER,
	access_count          INTEGER NOT NULL DEFAULT 0,
	last_accessed_at      INTEGER NOT NULL DEFAULT 0,
	updated_at            INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_symbols_file ON symbols(file_path);
CREATE INDEX IF NOT EXISTS idx_symbols_qname ON symbols(qualified_name);

CREATE TABLE IF NOT EXISTS edges (
	source_id             TEXT NOT NULL,
	target_qualified_name TEXT NOT NULL,
	kind                  TEXT NOT NULL,
	file_path             TEXT NOT NULL,
	PRIMARY KEY (source_id, target_qualified_name, kind, file_path)
);
CREATE INDEX IF NOT EXISTS idx_edges_file ON edges(file_path);

CREATE TABLE IF NOT EXISTS sir_blobs (
	symbol_id    TEXT PRIMARY KEY,
	body         BLOB NOT NULL,
	sir_hash     TEXT NOT NULL,
	version      INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS sir_meta (
	symbol_id     TEXT PRIMARY KEY,
	status        TEXT NOT NULL,
	retry_count   INTEGER NOT NULL DEFAULT 0,
	last_error    TEXT,
	generated_at  INTEGER NOT NULL,
	source_hash   TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS sir_history (
	symbol_id   TEXT NOT NULL,
	version     INTEGER NOT NULL,
	sir_hash    TEXT NOT NULL,
	body        BLOB NOT NULL DEFAULT '',
	recorded_at INTEGER NOT NULL,
	PRIMARY KEY (symbol_id, version)
);

CREATE TABLE IF NOT EXISTS project_notes (
	id               TEXT PRIMARY KEY,
	content          TEXT NOT NULL,
	content_hash     TEXT NOT NULL,
	source_type      TEXT NOT NULL DEFAULT 'manual',
	source_agent     TEXT,
	tags             TEXT NOT NULL DEFAULT '[]',
	entity_refs      TEXT NOT NULL DEFAULT '[]',
	file_refs        TEXT NOT NULL DEFAULT '[]',
	symbol_refs      TEXT NOT NULL DEFAULT '[]',
	created_at       INTEGER NOT NULL,
	updated_at       INTEGER NOT NULL,
	access_count     INTEGER NOT NULL DEFAULT 0,
	last_accessed_at INTEGER NOT NULL DEFAULT 0,
	is_archived      INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS test_intents (
	id           TEXT PRIMARY KEY,
	file_path    TEXT NOT NULL,
	test_name    TEXT NOT NULL,
	intent_text  TEXT NOT NULL,
	group_label  TEXT,
	language     TEXT NOT NULL,
	symbol_id    TEXT,
	target_id    TEXT,
	method       TEXT,
	confidence   REAL NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_test_intents_file ON test_intents(file_path);
CREATE INDEX IF NOT EXISTS idx_test_intents_target ON test_intents(target_id);

CREATE TABLE IF NOT EXISTS tested_by (
	target_file      TEXT NOT NULL,
	test_file        TEXT NOT NULL,
	intent_count     INTEGER NOT NULL DEFAULT 0,
	confidence       REAL NOT NULL DEFAULT 0,
	inference_method TEXT NOT NULL,
	PRIMARY KEY (target_file, test_file)
);

CREATE TABLE IF NOT EXISTS coupling_edges (
	file_a                 TEXT NOT NULL,
	file_b                 TEXT NOT NULL,
	temporal_score         REAL NOT NULL DEFAULT 0,
	static_score           REAL NOT NULL DEFAULT 0,
	semantic_score         REAL NOT NULL DEFAULT 0,
	fused_score            REAL NOT NULL DEFAULT 0,
	coupling_type          TEXT NOT NULL,
	co_change_count        INTEGER NOT NULL DEFAULT 0,
	total_commits_a        INTEGER NOT NULL DEFAULT 0,
	total_commits_b        INTEGER NOT NULL DEFAULT 0,
	last_co_change_commit  TEXT NOT NULL DEFAULT '',
	last_co_change_at      INTEGER NOT NULL DEFAULT 0,
	updated_at             INTEGER NOT NULL,
	PRIMARY KEY (file_a, file_b)
);

CREATE TABLE IF NOT EXISTS coupling_mining_state (
	id              INTEGER PRIMARY KEY CHECK (id = 1),
	last_commit_oid TEXT NOT NULL DEFAULT '',
	updated_at      INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS drift_results (
	id                  TEXT PRIMARY KEY,
	kind                TEXT NOT NULL,
	subject             TEXT NOT NULL,
	symbol_name         TEXT NOT NULL DEFAULT '',
	magnitude           REAL NOT NULL,
	current_sir_hash    TEXT NOT NULL DEFAULT '',
	baseline_sir_hash   TEXT NOT NULL DEFAULT '',
	commit_range_start  TEXT NOT NULL DEFAULT '',
	commit_range_end    TEXT NOT NULL DEFAULT '',
	summary             TEXT NOT NULL DEFAULT '',
	detail              TEXT NOT NULL,
	detected_at         INTEGER NOT NULL,
	acknowledged_at     INTEGER
);
CREATE INDEX IF NOT EXISTS idx_drift_subject ON drift_results(subject);
CREATE INDEX IF NOT EXISTS idx_drift_kind_range ON drift_results(kind, commit_range_end);

CREATE TABLE IF NOT EXISTS intent_snapshots (
	id          TEXT PRIMARY KEY,
	label       TEXT NOT NULL DEFAULT '',
	scope       TEXT NOT NULL,
	target      TEXT NOT NULL DEFAULT '',
	symbols_json TEXT NOT NULL,
	commit_hash TEXT,
	created_at  INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS embeddings_legacy (
	symbol_id TEXT PRIMARY KEY,
	provider  TEXT NOT NULL,
	model     TEXT NOT NULL,
	dim       INTEGER NOT NULL,
	vector    BLOB NOT NULL,
	migrated  INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS drift_analysis_state (
	id                   INTEGER PRIMARY KEY CHECK (id = 1),
	last_analysis_commit TEXT NOT NULL DEFAULT '',
	last_analysis_at     INTEGER NOT NULL DEFAULT 0,
	symbols_analyzed     INTEGER NOT NULL DEFAULT 0,
	drift_detected       INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS community_snapshots (
	id          TEXT PRIMARY KEY,
	symbol_id   TEXT NOT NULL,
	community   INTEGER NOT NULL,
	pagerank    REAL NOT NULL,
	recorded_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_community_snapshots_symbol ON community_snapshots(symbol_id);
`
