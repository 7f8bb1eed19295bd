package store

import (
	"context"

	"github.com/woozymasta/mapnote/internal/editor"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// Postgres stores saves in two tables: one row per save and one per point.
type Postgres struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects to the database at url.
func OpenPostgres(ctx context.Context, url string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &Postgres{pool: pool}, nil
}

// Close releases the connection pool.
func (p *Postgres) Close() { p.pool.Close() }

// EnsureSchema creates the tables on first run.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS annotation_saves (
			id UUID PRIMARY KEY,
			scope TEXT NOT NULL DEFAULT '',
			saved_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`ALTER TABLE annotation_saves ADD COLUMN IF NOT EXISTS scope TEXT NOT NULL DEFAULT ''`,
		`CREATE TABLE IF NOT EXISTS annotation_points (
			save_id UUID NOT NULL REFERENCES annotation_saves(id) ON DELETE CASCADE,
			idx INT NOT NULL,
			point_id UUID NOT NULL,
			lat DOUBLE PRECISION NOT NULL,
			lng DOUBLE PRECISION NOT NULL,
			district TEXT NOT NULL,
			PRIMARY KEY (save_id, idx)
		)`,
	}
	for i, s := range stmts {
		log.Trace().Int("idx", i).Msg("Applying schema statement")
		if _, err := p.pool.Exec(ctx, s); err != nil {
			return err
		}
	}
	return nil
}

// Save implements editor.Saver. Points are written in one transaction and
// the reference is the save id.
func (p *Postgres) Save(ctx context.Context, scope string, points []editor.AnnotatedPoint) (string, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return "", err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	saveID := uuid.New()
	if _, err := tx.Exec(ctx, `INSERT INTO annotation_saves (id, scope) VALUES ($1, $2)`, [16]byte(saveID), scope); err != nil {
		return "", err
	}

	rows := make([][]any, 0, len(points))
	for i, pt := range points {
		rows = append(rows, []any{[16]byte(saveID), int32(i), [16]byte(pt.ID), pt.Lat, pt.Lng, pt.District})
	}
	if _, err := tx.CopyFrom(ctx,
		pgx.Identifier{"annotation_points"},
		[]string{"save_id", "idx", "point_id", "lat", "lng", "district"},
		pgx.CopyFromRows(rows),
	); err != nil {
		return "", err
	}

	if err := tx.Commit(ctx); err != nil {
		return "", err
	}

	log.Info().Stringer("save_id", saveID).Str("scope", scope).Int("count", len(points)).Msg("Markers saved to database")
	return saveID.String(), nil
}
