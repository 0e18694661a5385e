package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresPersister stores the answer mapping in a survey_answers table for
// shared deployments where several reviewers look at the same session. Each
// save replaces the table contents for the session in one transaction,
// matching the file persister's whole-mapping semantics.
type PostgresPersister struct {
	pool      *pgxpool.Pool
	sessionID string
}

func NewPostgresPersister(ctx context.Context, databaseURL, sessionID string) (*PostgresPersister, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &PostgresPersister{pool: pool, sessionID: sessionID}, nil
}

func (pp *PostgresPersister) Close() {
	pp.pool.Close()
}

func (pp *PostgresPersister) Save(ctx context.Context, answers map[string]Record) error {
	tx, err := pp.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM survey_answers WHERE session_id = $1`, pp.sessionID); err != nil {
		return fmt.Errorf("clear session answers: %w", err)
	}

	for id, r := range answers {
		value, err := json.Marshal(r.Value)
		if err != nil {
			return fmt.Errorf("marshal value for %s: %w", id, err)
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO survey_answers (session_id, question_id, value, certainty, rationale, provenance, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			pp.sessionID, id, value, r.Certainty, r.Rationale, string(r.Provenance), r.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert answer %s: %w", id, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Load reads the persisted answer mapping for the session.
func (pp *PostgresPersister) Load(ctx context.Context) (map[string]Record, error) {
	rows, err := pp.pool.Query(ctx, `
		SELECT question_id, value, certainty, rationale, provenance, updated_at
		FROM survey_answers
		WHERE session_id = $1`, pp.sessionID)
	if err != nil {
		return nil, fmt.Errorf("query answers: %w", err)
	}
	defer rows.Close()

	answers := make(map[string]Record)
	for rows.Next() {
		var (
			id    string
			value []byte
			r     Record
			prov  string
		)
		if err := rows.Scan(&id, &value, &r.Certainty, &r.Rationale, &prov, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan answer: %w", err)
		}
		if err := json.Unmarshal(value, &r.Value); err != nil {
			return nil, fmt.Errorf("parse value for %s: %w", id, err)
		}
		r.Provenance = Provenance(prov)
		answers[id] = r
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate answers: %w", err)
	}
	return answers, nil
}
