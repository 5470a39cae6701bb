package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rohankatakam/memory-engine/internal/models"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
)

// PostgresStore implements Store using PostgreSQL, following the teacher's
// sqlx+pgx connection pooling and named-query conventions.
type PostgresStore struct {
	db     *sqlx.DB
	logger *logrus.Logger
}

// NewPostgresStore connects to Postgres and ensures the schema exists.
func NewPostgresStore(dsn string, logger *logrus.Logger) (*PostgresStore, error) {
	db, err := sqlx.Connect("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	s := &PostgresStore{db: db, logger: logger}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return s, nil
}

func (s *PostgresStore) initSchema() error {
	_, err := s.db.Exec(postgresSchema)
	return err
}

const postgresSchema = `
CREATE TABLE IF NOT EXISTS memories (
	id TEXT PRIMARY KEY,
	content TEXT NOT NULL,
	source TEXT,
	derived_from TEXT,
	resolves_by TIMESTAMPTZ,
	outcome_condition TEXT,
	assumes TEXT,
	invalidates_if TEXT,
	confirms_if TEXT,
	tags TEXT,
	starting_confidence DOUBLE PRECISION NOT NULL DEFAULT 0.5,
	confirmations INTEGER NOT NULL DEFAULT 0,
	times_tested INTEGER NOT NULL DEFAULT 0,
	contradictions INTEGER NOT NULL DEFAULT 0,
	centrality INTEGER NOT NULL DEFAULT 0,
	propagated_confidence DOUBLE PRECISION,
	state TEXT NOT NULL DEFAULT 'active',
	retracted BOOLEAN NOT NULL DEFAULT FALSE,
	retracted_at TIMESTAMPTZ,
	retraction_reason TEXT,
	outcome TEXT,
	violations TEXT,
	exposure_status TEXT NOT NULL DEFAULT 'pending',
	agent_id TEXT,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_memories_retracted ON memories(retracted);
CREATE INDEX IF NOT EXISTS idx_memories_source ON memories(source);
CREATE INDEX IF NOT EXISTS idx_memories_resolves_by ON memories(resolves_by);
CREATE INDEX IF NOT EXISTS idx_memories_created_at ON memories(created_at);

CREATE TABLE IF NOT EXISTS edges (
	id TEXT PRIMARY KEY,
	source_id TEXT NOT NULL REFERENCES memories(id) ON DELETE CASCADE,
	target_id TEXT NOT NULL REFERENCES memories(id) ON DELETE CASCADE,
	edge_type TEXT NOT NULL,
	strength DOUBLE PRECISION NOT NULL DEFAULT 1.0,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_edges_source_type ON edges(source_id, edge_type);
CREATE INDEX IF NOT EXISTS idx_edges_target_type ON edges(target_id, edge_type);

CREATE TABLE IF NOT EXISTS memory_versions (
	id BIGSERIAL PRIMARY KEY,
	entity_id TEXT NOT NULL,
	version_number INTEGER NOT NULL,
	change_type TEXT NOT NULL,
	content_snapshot JSONB,
	change_reason TEXT,
	session_id TEXT,
	request_id TEXT,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_versions_entity ON memory_versions(entity_id);

CREATE TABLE IF NOT EXISTS access_events (
	id BIGSERIAL PRIMARY KEY,
	entity_id TEXT NOT NULL,
	access_type TEXT NOT NULL,
	session_id TEXT,
	query_text TEXT,
	result_rank INTEGER,
	similarity DOUBLE PRECISION,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_access_entity ON access_events(entity_id);

CREATE TABLE IF NOT EXISTS memory_events (
	id BIGSERIAL PRIMARY KEY,
	session_id TEXT NOT NULL,
	event_type TEXT NOT NULL,
	memory_id TEXT NOT NULL,
	violated_by TEXT,
	damage_level TEXT,
	context JSONB,
	created_at TIMESTAMPTZ NOT NULL,
	dispatched BOOLEAN NOT NULL DEFAULT FALSE,
	dispatched_at TIMESTAMPTZ,
	workflow_id TEXT
);
CREATE INDEX IF NOT EXISTS idx_events_session ON memory_events(session_id, dispatched);
CREATE INDEX IF NOT EXISTS idx_events_workflow ON memory_events(workflow_id);

CREATE TABLE IF NOT EXISTS system_stats (
	key TEXT PRIMARY KEY,
	value DOUBLE PRECISION NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS notifications (
	id BIGSERIAL PRIMARY KEY,
	type TEXT NOT NULL,
	memory_id TEXT NOT NULL,
	content TEXT NOT NULL,
	context JSONB,
	read BOOLEAN NOT NULL DEFAULT FALSE,
	created_at TIMESTAMPTZ NOT NULL
);
`

func (s *PostgresStore) Close() error { return s.db.Close() }

// CreateMemory is idempotent on ID.
func (s *PostgresStore) CreateMemory(ctx context.Context, m *models.Memory) error {
	query := `
		INSERT INTO memories (
			id, content, source, derived_from, resolves_by, outcome_condition,
			assumes, invalidates_if, confirms_if, tags, starting_confidence,
			confirmations, times_tested, contradictions, centrality,
			propagated_confidence, state, retracted, retracted_at,
			retraction_reason, outcome, violations, exposure_status, agent_id,
			created_at, updated_at
		) VALUES (
			:id, :content, :source, :derived_from, :resolves_by, :outcome_condition,
			:assumes, :invalidates_if, :confirms_if, :tags, :starting_confidence,
			:confirmations, :times_tested, :contradictions, :centrality,
			:propagated_confidence, :state, :retracted, :retracted_at,
			:retraction_reason, :outcome, :violations, :exposure_status, :agent_id,
			:created_at, :updated_at
		) ON CONFLICT (id) DO NOTHING
	`
	_, err := s.db.NamedExecContext(ctx, query, m)
	if err != nil {
		return fmt.Errorf("create memory: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetMemory(ctx context.Context, id string) (*models.Memory, error) {
	var m models.Memory
	err := s.db.GetContext(ctx, &m, `SELECT * FROM memories WHERE id = $1`, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get memory: %w", err)
	}
	return &m, nil
}

func (s *PostgresStore) GetMemories(ctx context.Context, ids []string) ([]*models.Memory, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query, args, err := sqlx.In(`SELECT * FROM memories WHERE id IN (?)`, ids)
	if err != nil {
		return nil, fmt.Errorf("build batched read: %w", err)
	}
	query = s.db.Rebind(query)
	var out []*models.Memory
	if err := s.db.SelectContext(ctx, &out, query, args...); err != nil {
		return nil, fmt.Errorf("get memories: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) ListMemories(ctx context.Context, agentID string) ([]*models.Memory, error) {
	var out []*models.Memory
	var err error
	if agentID == "" {
		err = s.db.SelectContext(ctx, &out, `SELECT * FROM memories WHERE retracted = FALSE`)
	} else {
		err = s.db.SelectContext(ctx, &out, `SELECT * FROM memories WHERE retracted = FALSE AND agent_id = $1`, agentID)
	}
	if err != nil {
		return nil, fmt.Errorf("list memories: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) ListPendingMemories(ctx context.Context, olderThan time.Time) ([]*models.Memory, error) {
	var out []*models.Memory
	err := s.db.SelectContext(ctx, &out,
		`SELECT * FROM memories WHERE exposure_status = 'pending' AND created_at < $1`, olderThan)
	if err != nil {
		return nil, fmt.Errorf("list pending memories: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) SetExposureStatus(ctx context.Context, id string, status string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE memories SET exposure_status = $1, updated_at = now() WHERE id = $2`, status, id)
	if err != nil {
		return fmt.Errorf("set exposure status: %w", err)
	}
	return nil
}

func (s *PostgresStore) PromoteDraft(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE memories SET state = 'active', updated_at = now() WHERE id = $1 AND state = 'draft'`, id)
	if err != nil {
		return fmt.Errorf("promote draft: %w", err)
	}
	return nil
}

func (s *PostgresStore) IncrementCentrality(ctx context.Context, id string, delta int) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE memories SET centrality = centrality + $1, updated_at = now() WHERE id = $2`, delta, id)
	if err != nil {
		return fmt.Errorf("increment centrality: %w", err)
	}
	return nil
}

func (s *PostgresStore) AppendViolation(ctx context.Context, id string, v models.Violation) (int, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var violationsRaw []byte
	var centrality int
	err = tx.QueryRowContext(ctx, `SELECT violations, centrality FROM memories WHERE id = $1 FOR UPDATE`, id).
		Scan(&violationsRaw, &centrality)
	if err != nil {
		if err == sql.ErrNoRows {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("lock memory: %w", err)
	}

	var list models.ViolationList
	if len(violationsRaw) > 0 {
		if err := json.Unmarshal(violationsRaw, &list); err != nil {
			return 0, fmt.Errorf("unmarshal violations: %w", err)
		}
	}
	list = append(list, v)
	encoded, err := json.Marshal([]models.Violation(list))
	if err != nil {
		return 0, fmt.Errorf("marshal violations: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE memories
		SET violations = $1, contradictions = contradictions + 1,
			times_tested = times_tested + 1, state = 'violated', updated_at = now()
		WHERE id = $2
	`, string(encoded), id)
	if err != nil {
		return 0, fmt.Errorf("update violations: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return centrality, nil
}

func (s *PostgresStore) AppendConfirmation(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE memories
		SET confirmations = confirmations + 1, times_tested = times_tested + 1, updated_at = now()
		WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("append confirmation: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateState(ctx context.Context, id string, state models.MemoryState) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE memories SET state = $1, updated_at = now() WHERE id = $2`, string(state), id)
	if err != nil {
		return fmt.Errorf("update state: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateConfidence(ctx context.Context, id string, confidence float64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE memories SET propagated_confidence = $1, updated_at = now() WHERE id = $2`, confidence, id)
	if err != nil {
		return fmt.Errorf("update confidence: %w", err)
	}
	return nil
}

func (s *PostgresStore) ReplaceContent(ctx context.Context, id string, content string, resetCounters bool) error {
	query := `UPDATE memories SET content = $1, updated_at = now()`
	if resetCounters {
		query += `, confirmations = 0, times_tested = 0`
	}
	query += ` WHERE id = $2`
	if _, err := s.db.ExecContext(ctx, query, content, id); err != nil {
		return fmt.Errorf("replace content: %w", err)
	}
	return nil
}

func (s *PostgresStore) RetractMemory(ctx context.Context, id string, reason string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE memories SET retracted = TRUE, retracted_at = now(), retraction_reason = $1, updated_at = now()
		WHERE id = $2
	`, reason, id)
	if err != nil {
		return fmt.Errorf("retract memory: %w", err)
	}
	return nil
}

func (s *PostgresStore) ResolveMemory(ctx context.Context, id string, outcome models.Outcome) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE memories SET state = 'resolved', outcome = $1, updated_at = now() WHERE id = $2
	`, string(outcome), id)
	if err != nil {
		return fmt.Errorf("resolve memory: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateEdge(ctx context.Context, e *models.Edge) error {
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO edges (id, source_id, target_id, edge_type, strength, created_at)
		VALUES (:id, :source_id, :target_id, :edge_type, :strength, :created_at)
		ON CONFLICT (id) DO NOTHING
	`, e)
	if err != nil {
		return fmt.Errorf("create edge: %w", err)
	}
	return nil
}

func (s *PostgresStore) EdgesFrom(ctx context.Context, ids []string, types []models.EdgeType) ([]*models.Edge, error) {
	return s.edgesByColumn(ctx, "source_id", ids, types)
}

func (s *PostgresStore) EdgesTo(ctx context.Context, ids []string, types []models.EdgeType) ([]*models.Edge, error) {
	return s.edgesByColumn(ctx, "target_id", ids, types)
}

func (s *PostgresStore) edgesByColumn(ctx context.Context, column string, ids []string, types []models.EdgeType) ([]*models.Edge, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := fmt.Sprintf(`SELECT * FROM edges WHERE %s IN (?)`, column)
	args := []interface{}{ids}
	if len(types) > 0 {
		query += ` AND edge_type IN (?)`
		args = append(args, types)
	}
	query, inArgs, err := sqlx.In(query, args...)
	if err != nil {
		return nil, fmt.Errorf("build edge query: %w", err)
	}
	query = s.db.Rebind(query)
	var out []*models.Edge
	if err := s.db.SelectContext(ctx, &out, query, inArgs...); err != nil {
		return nil, fmt.Errorf("query edges: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) ScaleEdgeStrength(ctx context.Context, sourceID string, types []models.EdgeType, factor float64) error {
	if len(types) == 0 {
		_, err := s.db.ExecContext(ctx,
			`UPDATE edges SET strength = LEAST(1.0, GREATEST(0.0, strength * $1)) WHERE source_id = $2`,
			factor, sourceID)
		if err != nil {
			return fmt.Errorf("scale edge strength: %w", err)
		}
		return nil
	}
	query, args, err := sqlx.In(`
		UPDATE edges SET strength = LEAST(1.0, GREATEST(0.0, strength * ?))
		WHERE source_id = ? AND edge_type IN (?)
	`, factor, sourceID, types)
	if err != nil {
		return fmt.Errorf("build scale query: %w", err)
	}
	query = s.db.Rebind(query)
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("scale edge strength: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListPositiveEdges(ctx context.Context, minStrength float64) ([]*models.Edge, error) {
	var out []*models.Edge
	err := s.db.SelectContext(ctx, &out, `
		SELECT * FROM edges
		WHERE edge_type IN ('derived_from', 'confirmed_by') AND strength >= $1
	`, minStrength)
	if err != nil {
		return nil, fmt.Errorf("list positive edges: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) ListContradictionEdges(ctx context.Context) ([]*models.Edge, error) {
	var out []*models.Edge
	err := s.db.SelectContext(ctx, &out, `SELECT * FROM edges WHERE edge_type = 'violated_by'`)
	if err != nil {
		return nil, fmt.Errorf("list contradiction edges: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) InsertVersion(ctx context.Context, v *models.Version) error {
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO memory_versions (entity_id, version_number, change_type, content_snapshot,
			change_reason, session_id, request_id, created_at)
		VALUES (:entity_id, :version_number, :change_type, :content_snapshot,
			:change_reason, :session_id, :request_id, :created_at)
	`, v)
	if err != nil {
		return fmt.Errorf("insert version: %w", err)
	}
	return nil
}

func (s *PostgresStore) NextVersionNumber(ctx context.Context, entityID string) (int, error) {
	var n sql.NullInt64
	err := s.db.GetContext(ctx, &n, `SELECT MAX(version_number) FROM memory_versions WHERE entity_id = $1`, entityID)
	if err != nil {
		return 0, fmt.Errorf("next version number: %w", err)
	}
	if !n.Valid {
		return 1, nil
	}
	return int(n.Int64) + 1, nil
}

func (s *PostgresStore) ListVersions(ctx context.Context, entityID string) ([]*models.Version, error) {
	var out []*models.Version
	err := s.db.SelectContext(ctx, &out,
		`SELECT * FROM memory_versions WHERE entity_id = $1 ORDER BY version_number ASC`, entityID)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) InsertAccessEvent(ctx context.Context, e *models.AccessEvent) error {
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO access_events (entity_id, access_type, session_id, query_text,
			result_rank, similarity, created_at)
		VALUES (:entity_id, :access_type, :session_id, :query_text, :result_rank, :similarity, :created_at)
	`, e)
	if err != nil {
		return fmt.Errorf("insert access event: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListAccessEvents(ctx context.Context, entityID string) ([]*models.AccessEvent, error) {
	var out []*models.AccessEvent
	err := s.db.SelectContext(ctx, &out,
		`SELECT * FROM access_events WHERE entity_id = $1 ORDER BY created_at DESC`, entityID)
	if err != nil {
		return nil, fmt.Errorf("list access events: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) InsertEvent(ctx context.Context, e *models.MemoryEvent) error {
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO memory_events (session_id, event_type, memory_id, violated_by, damage_level,
			context, created_at, dispatched)
		VALUES (:session_id, :event_type, :memory_id, :violated_by, :damage_level,
			:context, :created_at, FALSE)
	`, e)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

func (s *PostgresStore) ClaimStaleSessions(ctx context.Context, cutoff time.Time, workflowID string) ([]string, error) {
	var sessions []string
	err := s.db.SelectContext(ctx, &sessions, `
		SELECT session_id FROM memory_events
		WHERE dispatched = FALSE AND workflow_id IS NULL
		GROUP BY session_id
		HAVING MAX(created_at) < $1
	`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("find stale sessions: %w", err)
	}
	if len(sessions) == 0 {
		return nil, nil
	}
	query, args, err := sqlx.In(`
		UPDATE memory_events SET workflow_id = ? WHERE session_id IN (?) AND workflow_id IS NULL
	`, workflowID, sessions)
	if err != nil {
		return nil, fmt.Errorf("build claim query: %w", err)
	}
	query = s.db.Rebind(query)
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return nil, fmt.Errorf("claim stale sessions: %w", err)
	}
	return sessions, nil
}

func (s *PostgresStore) EventsForWorkflow(ctx context.Context, workflowID string) ([]*models.MemoryEvent, error) {
	var out []*models.MemoryEvent
	err := s.db.SelectContext(ctx, &out,
		`SELECT * FROM memory_events WHERE workflow_id = $1 ORDER BY created_at ASC`, workflowID)
	if err != nil {
		return nil, fmt.Errorf("events for workflow: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) MarkEventsDispatched(ctx context.Context, workflowID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE memory_events SET dispatched = TRUE, dispatched_at = now() WHERE workflow_id = $1
	`, workflowID)
	if err != nil {
		return fmt.Errorf("mark events dispatched: %w", err)
	}
	return nil
}

func (s *PostgresStore) ReleaseStuckClaims(ctx context.Context, olderThan time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE memory_events SET workflow_id = NULL
		WHERE dispatched = FALSE AND workflow_id IS NOT NULL AND created_at < $1
	`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("release stuck claims: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *PostgresStore) GetSystemStat(ctx context.Context, key string) (*models.SystemStat, error) {
	var stat models.SystemStat
	err := s.db.GetContext(ctx, &stat, `SELECT * FROM system_stats WHERE key = $1`, key)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get system stat: %w", err)
	}
	return &stat, nil
}

func (s *PostgresStore) SetSystemStat(ctx context.Context, key string, value float64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO system_stats (key, value, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at
	`, key, value)
	if err != nil {
		return fmt.Errorf("set system stat: %w", err)
	}
	return nil
}

func (s *PostgresStore) InsertNotification(ctx context.Context, n *models.Notification) error {
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO notifications (type, memory_id, content, context, read, created_at)
		VALUES (:type, :memory_id, :content, :context, :read, :created_at)
	`, n)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListNotifications(ctx context.Context, unreadOnly bool, limit int) ([]*models.Notification, error) {
	var out []*models.Notification
	var err error
	if unreadOnly {
		err = s.db.SelectContext(ctx, &out,
			`SELECT * FROM notifications WHERE read = FALSE ORDER BY created_at DESC LIMIT $1`, limit)
	} else {
		err = s.db.SelectContext(ctx, &out,
			`SELECT * FROM notifications ORDER BY created_at DESC LIMIT $1`, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) MarkNotificationRead(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE notifications SET read = TRUE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("mark notification read: %w", err)
	}
	return nil
}
