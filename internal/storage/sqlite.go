package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rohankatakam/memory-engine/internal/models"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
)

// SQLiteStore implements Store using SQLite, for local development and
// tests where spinning up Postgres is unwanted.
type SQLiteStore struct {
	db     *sqlx.DB
	logger *logrus.Logger
}

// NewSQLiteStore opens path (creating its parent directory if needed) and
// ensures the schema exists.
func NewSQLiteStore(path string, logger *logrus.Logger) (*SQLiteStore, error) {
	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sqlx.Connect("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("connect to sqlite: %w", err)
	}

	db.Exec("PRAGMA foreign_keys = ON")
	db.Exec("PRAGMA journal_mode = WAL")

	store := &SQLiteStore{db: db, logger: logger}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	_, err := s.db.Exec(sqliteSchema)
	return err
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS memories (
	id TEXT PRIMARY KEY,
	content TEXT NOT NULL,
	source TEXT,
	derived_from TEXT,
	resolves_by DATETIME,
	outcome_condition TEXT,
	assumes TEXT,
	invalidates_if TEXT,
	confirms_if TEXT,
	tags TEXT,
	starting_confidence REAL NOT NULL DEFAULT 0.5,
	confirmations INTEGER NOT NULL DEFAULT 0,
	times_tested INTEGER NOT NULL DEFAULT 0,
	contradictions INTEGER NOT NULL DEFAULT 0,
	centrality INTEGER NOT NULL DEFAULT 0,
	propagated_confidence REAL,
	state TEXT NOT NULL DEFAULT 'active',
	retracted INTEGER NOT NULL DEFAULT 0,
	retracted_at DATETIME,
	retraction_reason TEXT,
	outcome TEXT,
	violations TEXT,
	exposure_status TEXT NOT NULL DEFAULT 'pending',
	agent_id TEXT,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
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
	strength REAL NOT NULL DEFAULT 1.0,
	created_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_edges_source_type ON edges(source_id, edge_type);
CREATE INDEX IF NOT EXISTS idx_edges_target_type ON edges(target_id, edge_type);

CREATE TABLE IF NOT EXISTS memory_versions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	entity_id TEXT NOT NULL,
	version_number INTEGER NOT NULL,
	change_type TEXT NOT NULL,
	content_snapshot TEXT,
	change_reason TEXT,
	session_id TEXT,
	request_id TEXT,
	created_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_versions_entity ON memory_versions(entity_id);

CREATE TABLE IF NOT EXISTS access_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	entity_id TEXT NOT NULL,
	access_type TEXT NOT NULL,
	session_id TEXT,
	query_text TEXT,
	result_rank INTEGER,
	similarity REAL,
	created_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_access_entity ON access_events(entity_id);

CREATE TABLE IF NOT EXISTS memory_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL,
	event_type TEXT NOT NULL,
	memory_id TEXT NOT NULL,
	violated_by TEXT,
	damage_level TEXT,
	context TEXT,
	created_at DATETIME NOT NULL,
	dispatched INTEGER NOT NULL DEFAULT 0,
	dispatched_at DATETIME,
	workflow_id TEXT
);
CREATE INDEX IF NOT EXISTS idx_events_session ON memory_events(session_id, dispatched);
CREATE INDEX IF NOT EXISTS idx_events_workflow ON memory_events(workflow_id);

CREATE TABLE IF NOT EXISTS system_stats (
	key TEXT PRIMARY KEY,
	value REAL NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS notifications (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	type TEXT NOT NULL,
	memory_id TEXT NOT NULL,
	content TEXT NOT NULL,
	context TEXT,
	read INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL
);
`

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) CreateMemory(ctx context.Context, m *models.Memory) error {
	_, err := s.db.NamedExecContext(ctx, `
		INSERT OR IGNORE INTO memories (
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
		)
	`, m)
	if err != nil {
		return fmt.Errorf("create memory: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetMemory(ctx context.Context, id string) (*models.Memory, error) {
	var m models.Memory
	err := s.db.GetContext(ctx, &m, `SELECT * FROM memories WHERE id = ?`, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get memory: %w", err)
	}
	return &m, nil
}

func (s *SQLiteStore) GetMemories(ctx context.Context, ids []string) ([]*models.Memory, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query, args, err := sqlx.In(`SELECT * FROM memories WHERE id IN (?)`, ids)
	if err != nil {
		return nil, fmt.Errorf("build batched read: %w", err)
	}
	var out []*models.Memory
	if err := s.db.SelectContext(ctx, &out, query, args...); err != nil {
		return nil, fmt.Errorf("get memories: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) ListMemories(ctx context.Context, agentID string) ([]*models.Memory, error) {
	var out []*models.Memory
	var err error
	if agentID == "" {
		err = s.db.SelectContext(ctx, &out, `SELECT * FROM memories WHERE retracted = 0`)
	} else {
		err = s.db.SelectContext(ctx, &out, `SELECT * FROM memories WHERE retracted = 0 AND agent_id = ?`, agentID)
	}
	if err != nil {
		return nil, fmt.Errorf("list memories: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) ListPendingMemories(ctx context.Context, olderThan time.Time) ([]*models.Memory, error) {
	var out []*models.Memory
	err := s.db.SelectContext(ctx, &out,
		`SELECT * FROM memories WHERE exposure_status = 'pending' AND created_at < ?`, olderThan)
	if err != nil {
		return nil, fmt.Errorf("list pending memories: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) SetExposureStatus(ctx context.Context, id string, status string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE memories SET exposure_status = ?, updated_at = ? WHERE id = ?`, status, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("set exposure status: %w", err)
	}
	return nil
}

func (s *SQLiteStore) PromoteDraft(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE memories SET state = 'active', updated_at = ? WHERE id = ? AND state = 'draft'`,
		time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("promote draft: %w", err)
	}
	return nil
}

func (s *SQLiteStore) IncrementCentrality(ctx context.Context, id string, delta int) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE memories SET centrality = centrality + ?, updated_at = ? WHERE id = ?`,
		delta, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("increment centrality: %w", err)
	}
	return nil
}

func (s *SQLiteStore) AppendViolation(ctx context.Context, id string, v models.Violation) (int, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var violationsRaw sql.NullString
	var centrality int
	err = tx.QueryRowContext(ctx, `SELECT violations, centrality FROM memories WHERE id = ?`, id).
		Scan(&violationsRaw, &centrality)
	if err != nil {
		if err == sql.ErrNoRows {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("lock memory: %w", err)
	}

	var list models.ViolationList
	if violationsRaw.Valid && violationsRaw.String != "" {
		if err := json.Unmarshal([]byte(violationsRaw.String), &list); err != nil {
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
		SET violations = ?, contradictions = contradictions + 1,
			times_tested = times_tested + 1, state = 'violated', updated_at = ?
		WHERE id = ?
	`, string(encoded), time.Now().UTC(), id)
	if err != nil {
		return 0, fmt.Errorf("update violations: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return centrality, nil
}

func (s *SQLiteStore) AppendConfirmation(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE memories
		SET confirmations = confirmations + 1, times_tested = times_tested + 1, updated_at = ?
		WHERE id = ?
	`, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("append confirmation: %w", err)
	}
	return nil
}

func (s *SQLiteStore) UpdateState(ctx context.Context, id string, state models.MemoryState) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE memories SET state = ?, updated_at = ? WHERE id = ?`, string(state), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update state: %w", err)
	}
	return nil
}

func (s *SQLiteStore) UpdateConfidence(ctx context.Context, id string, confidence float64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE memories SET propagated_confidence = ?, updated_at = ? WHERE id = ?`,
		confidence, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update confidence: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ReplaceContent(ctx context.Context, id string, content string, resetCounters bool) error {
	query := `UPDATE memories SET content = ?, updated_at = ?`
	args := []interface{}{content, time.Now().UTC()}
	if resetCounters {
		query += `, confirmations = 0, times_tested = 0`
	}
	query += ` WHERE id = ?`
	args = append(args, id)
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("replace content: %w", err)
	}
	return nil
}

func (s *SQLiteStore) RetractMemory(ctx context.Context, id string, reason string) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		UPDATE memories SET retracted = 1, retracted_at = ?, retraction_reason = ?, updated_at = ?
		WHERE id = ?
	`, now, reason, now, id)
	if err != nil {
		return fmt.Errorf("retract memory: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ResolveMemory(ctx context.Context, id string, outcome models.Outcome) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE memories SET state = 'resolved', outcome = ?, updated_at = ? WHERE id = ?
	`, string(outcome), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("resolve memory: %w", err)
	}
	return nil
}

func (s *SQLiteStore) CreateEdge(ctx context.Context, e *models.Edge) error {
	_, err := s.db.NamedExecContext(ctx, `
		INSERT OR IGNORE INTO edges (id, source_id, target_id, edge_type, strength, created_at)
		VALUES (:id, :source_id, :target_id, :edge_type, :strength, :created_at)
	`, e)
	if err != nil {
		return fmt.Errorf("create edge: %w", err)
	}
	return nil
}

func (s *SQLiteStore) EdgesFrom(ctx context.Context, ids []string, types []models.EdgeType) ([]*models.Edge, error) {
	return s.edgesByColumn(ctx, "source_id", ids, types)
}

func (s *SQLiteStore) EdgesTo(ctx context.Context, ids []string, types []models.EdgeType) ([]*models.Edge, error) {
	return s.edgesByColumn(ctx, "target_id", ids, types)
}

func (s *SQLiteStore) edgesByColumn(ctx context.Context, column string, ids []string, types []models.EdgeType) ([]*models.Edge, error) {
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
	var out []*models.Edge
	if err := s.db.SelectContext(ctx, &out, query, inArgs...); err != nil {
		return nil, fmt.Errorf("query edges: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) ScaleEdgeStrength(ctx context.Context, sourceID string, types []models.EdgeType, factor float64) error {
	if len(types) == 0 {
		_, err := s.db.ExecContext(ctx,
			`UPDATE edges SET strength = MIN(1.0, MAX(0.0, strength * ?)) WHERE source_id = ?`,
			factor, sourceID)
		if err != nil {
			return fmt.Errorf("scale edge strength: %w", err)
		}
		return nil
	}
	query, args, err := sqlx.In(`
		UPDATE edges SET strength = MIN(1.0, MAX(0.0, strength * ?))
		WHERE source_id = ? AND edge_type IN (?)
	`, factor, sourceID, types)
	if err != nil {
		return fmt.Errorf("build scale query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("scale edge strength: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListPositiveEdges(ctx context.Context, minStrength float64) ([]*models.Edge, error) {
	var out []*models.Edge
	err := s.db.SelectContext(ctx, &out, `
		SELECT * FROM edges
		WHERE edge_type IN ('derived_from', 'confirmed_by') AND strength >= ?
	`, minStrength)
	if err != nil {
		return nil, fmt.Errorf("list positive edges: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) ListContradictionEdges(ctx context.Context) ([]*models.Edge, error) {
	var out []*models.Edge
	err := s.db.SelectContext(ctx, &out, `SELECT * FROM edges WHERE edge_type = 'violated_by'`)
	if err != nil {
		return nil, fmt.Errorf("list contradiction edges: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) InsertVersion(ctx context.Context, v *models.Version) error {
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

func (s *SQLiteStore) NextVersionNumber(ctx context.Context, entityID string) (int, error) {
	var n sql.NullInt64
	err := s.db.GetContext(ctx, &n, `SELECT MAX(version_number) FROM memory_versions WHERE entity_id = ?`, entityID)
	if err != nil {
		return 0, fmt.Errorf("next version number: %w", err)
	}
	if !n.Valid {
		return 1, nil
	}
	return int(n.Int64) + 1, nil
}

func (s *SQLiteStore) ListVersions(ctx context.Context, entityID string) ([]*models.Version, error) {
	var out []*models.Version
	err := s.db.SelectContext(ctx, &out,
		`SELECT * FROM memory_versions WHERE entity_id = ? ORDER BY version_number ASC`, entityID)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) InsertAccessEvent(ctx context.Context, e *models.AccessEvent) error {
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

func (s *SQLiteStore) ListAccessEvents(ctx context.Context, entityID string) ([]*models.AccessEvent, error) {
	var out []*models.AccessEvent
	err := s.db.SelectContext(ctx, &out,
		`SELECT * FROM access_events WHERE entity_id = ? ORDER BY created_at DESC`, entityID)
	if err != nil {
		return nil, fmt.Errorf("list access events: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) InsertEvent(ctx context.Context, e *models.MemoryEvent) error {
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO memory_events (session_id, event_type, memory_id, violated_by, damage_level,
			context, created_at, dispatched)
		VALUES (:session_id, :event_type, :memory_id, :violated_by, :damage_level,
			:context, :created_at, 0)
	`, e)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ClaimStaleSessions(ctx context.Context, cutoff time.Time, workflowID string) ([]string, error) {
	var sessions []string
	err := s.db.SelectContext(ctx, &sessions, `
		SELECT session_id FROM memory_events
		WHERE dispatched = 0 AND workflow_id IS NULL
		GROUP BY session_id
		HAVING MAX(created_at) < ?
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
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return nil, fmt.Errorf("claim stale sessions: %w", err)
	}
	return sessions, nil
}

func (s *SQLiteStore) EventsForWorkflow(ctx context.Context, workflowID string) ([]*models.MemoryEvent, error) {
	var out []*models.MemoryEvent
	err := s.db.SelectContext(ctx, &out,
		`SELECT * FROM memory_events WHERE workflow_id = ? ORDER BY created_at ASC`, workflowID)
	if err != nil {
		return nil, fmt.Errorf("events for workflow: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) MarkEventsDispatched(ctx context.Context, workflowID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE memory_events SET dispatched = 1, dispatched_at = ? WHERE workflow_id = ?
	`, time.Now().UTC(), workflowID)
	if err != nil {
		return fmt.Errorf("mark events dispatched: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ReleaseStuckClaims(ctx context.Context, olderThan time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE memory_events SET workflow_id = NULL
		WHERE dispatched = 0 AND workflow_id IS NOT NULL AND created_at < ?
	`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("release stuck claims: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *SQLiteStore) GetSystemStat(ctx context.Context, key string) (*models.SystemStat, error) {
	var stat models.SystemStat
	err := s.db.GetContext(ctx, &stat, `SELECT * FROM system_stats WHERE key = ?`, key)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get system stat: %w", err)
	}
	return &stat, nil
}

func (s *SQLiteStore) SetSystemStat(ctx context.Context, key string, value float64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO system_stats (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("set system stat: %w", err)
	}
	return nil
}

func (s *SQLiteStore) InsertNotification(ctx context.Context, n *models.Notification) error {
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO notifications (type, memory_id, content, context, read, created_at)
		VALUES (:type, :memory_id, :content, :context, :read, :created_at)
	`, n)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListNotifications(ctx context.Context, unreadOnly bool, limit int) ([]*models.Notification, error) {
	var out []*models.Notification
	q := `SELECT * FROM notifications`
	args := []interface{}{}
	if unreadOnly {
		q += ` WHERE read = 0`
	}
	q += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)
	if err := s.db.SelectContext(ctx, &out, q, args...); err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) MarkNotificationRead(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE notifications SET read = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("mark notification read: %w", err)
	}
	return nil
}
