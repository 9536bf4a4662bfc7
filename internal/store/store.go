// Package store persists ingested documents and their chunk sets, embedding
// vectors included, in Postgres via bun. It backs the engine's snapshot
// restore path so a restart does not re-embed unchanged documents.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/extra/bundebug"

	"document-qa/internal/config"
	"document-qa/internal/models"
)

// FormatVersion is bumped whenever the persisted shape changes. A loaded
// snapshot with a different version is rejected so the caller rebuilds
// instead of misreading old data.
const FormatVersion = 1

type documentRow struct {
	bun.BaseModel `bun:"table:documents,alias:d"`
	ID            string    `bun:"id,pk"`
	Source        string    `bun:"source,notnull"`
	Text          string    `bun:"text,notnull"`
	FormatVersion int       `bun:"format_version,notnull"`
	CreatedAt     time.Time `bun:"created_at,notnull"`
}

type chunkRow struct {
	bun.BaseModel `bun:"table:chunks,alias:c"`
	ID            int64     `bun:"id,pk,autoincrement"`
	DocumentID    string    `bun:"document_id,notnull"`
	Seq           int       `bun:"seq,notnull"`
	Start         int       `bun:"start_offset,notnull"`
	End           int       `bun:"end_offset,notnull"`
	Text          string    `bun:"text,notnull"`
	Embedding     []float32 `bun:"embedding,array"`
}

// Store implements engine.SnapshotStore on Postgres.
type Store struct {
	db *bun.DB
}

func ConnectDB(cfg *config.DatabaseConfig) (*sql.DB, error) {
	connector := pgdriver.NewConnector(
		pgdriver.WithDSN(cfg.URL),
		pgdriver.WithPassword(cfg.Key),
	)
	return sql.OpenDB(connector), nil
}

func NewStore(sqldb *sql.DB, debug bool) *Store {
	db := bun.NewDB(sqldb, pgdialect.New())
	if debug {
		db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true)))
	}
	return &Store{db: db}
}

// Init creates the tables when missing.
func (s *Store) Init(ctx context.Context) error {
	if _, err := s.db.NewCreateTable().Model((*documentRow)(nil)).IfNotExists().Exec(ctx); err != nil {
		return fmt.Errorf("creating documents table: %w", err)
	}
	if _, err := s.db.NewCreateTable().Model((*chunkRow)(nil)).IfNotExists().Exec(ctx); err != nil {
		return fmt.Errorf("creating chunks table: %w", err)
	}
	return nil
}

func (s *Store) Close() error { return s.db.Close() }

// Save replaces the persisted snapshot of the document wholesale.
func (s *Store) Save(ctx context.Context, doc models.Document, chunks []models.Chunk) error {
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewDelete().Model((*chunkRow)(nil)).
			Where("document_id = ?", doc.ID).Exec(ctx); err != nil {
			return err
		}
		if _, err := tx.NewDelete().Model((*documentRow)(nil)).
			Where("id = ?", doc.ID).Exec(ctx); err != nil {
			return err
		}

		row := &documentRow{
			ID:            doc.ID,
			Source:        doc.Source,
			Text:          doc.Text,
			FormatVersion: FormatVersion,
			CreatedAt:     doc.CreatedAt,
		}
		if _, err := tx.NewInsert().Model(row).Exec(ctx); err != nil {
			return err
		}

		rows := make([]chunkRow, len(chunks))
		for i, c := range chunks {
			rows[i] = chunkRow{
				DocumentID: c.DocumentID,
				Seq:        c.Seq,
				Start:      c.Start,
				End:        c.End,
				Text:       c.Text,
				Embedding:  c.Embedding,
			}
		}
		if len(rows) > 0 {
			if _, err := tx.NewInsert().Model(&rows).Exec(ctx); err != nil {
				return err
			}
		}
		return nil
	})
}

// Load returns the persisted snapshot for docID. A snapshot written with a
// different format version yields ErrSnapshotVersion.
func (s *Store) Load(ctx context.Context, docID string) (models.Document, []models.Chunk, error) {
	var docRow documentRow
	err := s.db.NewSelect().Model(&docRow).Where("id = ?", docID).Scan(ctx)
	if err != nil {
		return models.Document{}, nil, fmt.Errorf("loading document %s: %w", docID, err)
	}
	if docRow.FormatVersion != FormatVersion {
		return models.Document{}, nil, fmt.Errorf("%w: have %d, want %d",
			models.ErrSnapshotVersion, docRow.FormatVersion, FormatVersion)
	}

	var rows []chunkRow
	err = s.db.NewSelect().Model(&rows).
		Where("document_id = ?", docID).
		Order("seq ASC").
		Scan(ctx)
	if err != nil {
		return models.Document{}, nil, fmt.Errorf("loading chunks for %s: %w", docID, err)
	}

	doc := models.Document{
		ID:        docRow.ID,
		Source:    docRow.Source,
		Text:      docRow.Text,
		CreatedAt: docRow.CreatedAt,
	}
	chunks := make([]models.Chunk, len(rows))
	for i, r := range rows {
		chunks[i] = models.Chunk{
			DocumentID: r.DocumentID,
			Seq:        r.Seq,
			Start:      r.Start,
			End:        r.End,
			Text:       r.Text,
			Embedding:  r.Embedding,
		}
	}
	return doc, chunks, nil
}
