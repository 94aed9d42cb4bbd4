package postgres

import "context"

// style and marker_end are TEXT, not JSONB, so editor payloads keep their exact bytes.
// flow_edges holds the single link of plain nodes and, flagged as branch, the authored
// edges behind flow_options rows, keyed by their canonical handle.
const schemaSQL = `
CREATE TABLE IF NOT EXISTS flow_programs (
    standard_process_id TEXT PRIMARY KEY,
    user_id             TEXT NOT NULL,
    entry_node_id       TEXT NOT NULL,
    compiled_at         TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS flow_nodes (
    standard_process_id TEXT NOT NULL REFERENCES flow_programs(standard_process_id) ON DELETE CASCADE,
    id                  TEXT NOT NULL,
    type                TEXT NOT NULL,
    position            JSONB NOT NULL DEFAULT '{}',
    data                JSONB NOT NULL DEFAULT '{}',
    PRIMARY KEY (standard_process_id, id)
);

CREATE TABLE IF NOT EXISTS flow_edges (
    standard_process_id TEXT NOT NULL REFERENCES flow_programs(standard_process_id) ON DELETE CASCADE,
    id                  TEXT NOT NULL,
    source              TEXT NOT NULL,
    target              TEXT NOT NULL,
    source_handle       TEXT NOT NULL DEFAULT '',
    type                TEXT NOT NULL DEFAULT '',
    style               TEXT,
    marker_end          TEXT,
    user_id             TEXT NOT NULL DEFAULT '',
    branch              BOOLEAN NOT NULL DEFAULT FALSE,
    PRIMARY KEY (standard_process_id, source, source_handle)
);

CREATE TABLE IF NOT EXISTS flow_options (
    standard_process_id TEXT NOT NULL REFERENCES flow_programs(standard_process_id) ON DELETE CASCADE,
    widget_id           TEXT NOT NULL,
    position            INT  NOT NULL,
    value               TEXT NOT NULL,
    operator            TEXT NOT NULL CHECK (operator IN ('equals', 'time_range', 'default')),
    next                TEXT NOT NULL,
    PRIMARY KEY (standard_process_id, widget_id, position)
);

CREATE TABLE IF NOT EXISTS flow_sessions (
    session_id          TEXT PRIMARY KEY,
    user_id             TEXT NOT NULL,
    standard_process_id TEXT NOT NULL,
    phone               TEXT NOT NULL,
    variables           JSONB NOT NULL DEFAULT '{}',
    current_node_id     TEXT NOT NULL DEFAULT '',
    status              TEXT NOT NULL,
    correlation_key     TEXT,
    turn                BIGINT NOT NULL,
    created_at          TIMESTAMPTZ NOT NULL,
    updated_at          TIMESTAMPTZ NOT NULL,
    UNIQUE (standard_process_id, phone)
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_flow_sessions_correlation
    ON flow_sessions(correlation_key) WHERE correlation_key IS NOT NULL;

CREATE TABLE IF NOT EXISTS flow_history (
    id         BIGSERIAL PRIMARY KEY,
    session_id TEXT NOT NULL REFERENCES flow_sessions(session_id) ON DELETE CASCADE,
    type       TEXT NOT NULL,
    sender     TEXT NOT NULL DEFAULT '',
    node_id    TEXT NOT NULL DEFAULT '',
    created    TIMESTAMPTZ NOT NULL,
    payload    JSONB NOT NULL DEFAULT '{}'
);

CREATE INDEX IF NOT EXISTS idx_flow_history_session ON flow_history(session_id, id);
`

// CreateSchema creates the flowbot tables if they don't exist.
func (s *Store) CreateSchema(ctx context.Context) error {
	_, err := s.db.Exec(ctx, schemaSQL)
	return err
}

// DropSchema drops every flowbot table.
func (s *Store) DropSchema(ctx context.Context) error {
	_, err := s.db.Exec(ctx, `DROP TABLE IF EXISTS flow_history, flow_sessions, flow_options, flow_edges, flow_nodes, flow_programs CASCADE;`)
	return err
}
