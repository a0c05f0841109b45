package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists turns and assets in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS turns (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			role TEXT NOT NULL,
			kind TEXT NOT NULL,
			content TEXT NOT NULL,
			payload JSONB,
			prev_turn_id TEXT,
			cancelled BOOLEAN NOT NULL DEFAULT FALSE,
			saved BOOLEAN NOT NULL DEFAULT FALSE,
			liked BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_turns_session_created ON turns (session_id, created_at);`,
		`CREATE TABLE IF NOT EXISTS assets (
			id TEXT PRIMARY KEY,
			project_id TEXT NOT NULL,
			question TEXT NOT NULL,
			transcript TEXT NOT NULL,
			analysis TEXT,
			version INTEGER NOT NULL,
			kind TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_assets_project_question ON assets (project_id, question, version);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) SaveTurn(ctx context.Context, record TurnRecord) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	var payload []byte
	if record.Payload != nil {
		var err error
		payload, err = json.Marshal(record.Payload)
		if err != nil {
			return fmt.Errorf("encode turn payload: %w", err)
		}
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO turns (id, session_id, role, kind, content, payload, prev_turn_id, cancelled, saved, liked, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8, $9, $10, $11)`,
		record.ID,
		record.SessionID,
		record.Role,
		record.Kind,
		record.Content,
		payload,
		record.PrevTurnID,
		record.Cancelled,
		record.Saved,
		record.Liked,
		record.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("save turn: %w", err)
	}
	return nil
}

func (s *PostgresStore) SessionTurns(ctx context.Context, sessionID string, limit int) ([]TurnRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, session_id, role, kind, content, payload, COALESCE(prev_turn_id, ''), cancelled, saved, liked, created_at
		 FROM turns WHERE session_id=$1 ORDER BY created_at DESC LIMIT $2`,
		sessionID,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query session turns: %w", err)
	}
	defer rows.Close()

	items := make([]TurnRecord, 0, limit)
	for rows.Next() {
		var r TurnRecord
		var payload []byte
		if err := rows.Scan(&r.ID, &r.SessionID, &r.Role, &r.Kind, &r.Content, &payload, &r.PrevTurnID, &r.Cancelled, &r.Saved, &r.Liked, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan turn row: %w", err)
		}
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &r.Payload); err != nil {
				return nil, fmt.Errorf("decode turn payload: %w", err)
			}
		}
		items = append(items, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate turn rows: %w", err)
	}

	// Reverse into chronological order for prompt coherence.
	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}

	return items, nil
}

func (s *PostgresStore) MarkTurn(ctx context.Context, turnID string, saved, liked *bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE turns SET saved = COALESCE($2, saved), liked = COALESCE($3, liked) WHERE id=$1`,
		turnID, saved, liked,
	)
	if err != nil {
		return fmt.Errorf("mark turn: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) SaveAsset(ctx context.Context, asset Asset) (Asset, error) {
	if asset.ID == "" {
		asset.ID = uuid.NewString()
	}
	if asset.CreatedAt.IsZero() {
		asset.CreatedAt = time.Now().UTC()
	}

	err := s.pool.QueryRow(ctx,
		`INSERT INTO assets (id, project_id, question, transcript, analysis, version, kind, created_at)
		 VALUES ($1, $2, $3, $4, $5,
			(SELECT COALESCE(MAX(version), 0) + 1 FROM assets WHERE project_id=$2 AND question=$3),
			$6, $7)
		 RETURNING version`,
		asset.ID,
		asset.ProjectID,
		asset.Question,
		asset.Transcript,
		asset.Analysis,
		string(asset.Kind),
		asset.CreatedAt,
	).Scan(&asset.Version)
	if err != nil {
		return Asset{}, fmt.Errorf("save asset: %w", err)
	}
	return asset, nil
}

func (s *PostgresStore) ProjectAssets(ctx context.Context, projectID string) ([]Asset, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, project_id, question, transcript, COALESCE(analysis, ''), version, kind, created_at
		 FROM assets WHERE project_id=$1 ORDER BY created_at`,
		projectID,
	)
	if err != nil {
		return nil, fmt.Errorf("query project assets: %w", err)
	}
	defer rows.Close()

	var items []Asset
	for rows.Next() {
		var a Asset
		var kind string
		if err := rows.Scan(&a.ID, &a.ProjectID, &a.Question, &a.Transcript, &a.Analysis, &a.Version, &kind, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan asset row: %w", err)
		}
		a.Kind = AssetKind(kind)
		items = append(items, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate asset rows: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
