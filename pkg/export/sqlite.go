package export

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"

	"github.com/Sternrassler/lingq-export/pkg/pagination"
	_ "github.com/mattn/go-sqlite3"
)

const cardsSchema = `
CREATE TABLE cards (
	language              TEXT    NOT NULL,
	id                    INTEGER NOT NULL,
	term                  TEXT    NOT NULL,
	fragment              TEXT,
	best_translation      TEXT,
	translation_locale    TEXT,
	all_translations      TEXT,
	importance            INTEGER,
	status                INTEGER,
	notes                 TEXT,
	tags                  TEXT,
	srs_due_date          TEXT,
	last_reviewed_correct TEXT,
	words                 TEXT,
	audio                 TEXT,
	url                   TEXT,
	raw                   TEXT,
	PRIMARY KEY (language, id)
);
CREATE INDEX idx_cards_term ON cards (language, term);
CREATE TABLE partitions (
	language TEXT PRIMARY KEY,
	state    TEXT    NOT NULL,
	complete INTEGER NOT NULL,
	records  INTEGER NOT NULL,
	error    TEXT
)`

// WriteSQLite archives all partitions into a new SQLite database at path.
// The database is built under a temp name and published like every other
// artifact, so path is never overwritten.
func WriteSQLite(ctx context.Context, path string, results []*pagination.Result) error {
	if _, err := os.Lstat(path); err == nil {
		return fmt.Errorf("%w: %s", ErrArtifactExists, path)
	}

	tmpName, err := tempPath(path)
	if err != nil {
		return err
	}
	defer os.Remove(tmpName)

	if err := fillSQLite(ctx, tmpName, results); err != nil {
		return fmt.Errorf("sqlite archive: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return fmt.Errorf("chmod %s: %w", path, err)
	}
	return publish(tmpName, path)
}

func fillSQLite(ctx context.Context, dbPath string, results []*pagination.Result) error {
	conn, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return err
	}
	defer conn.Close()

	for _, stmt := range strings.Split(cardsSchema, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback() // ignored if committed
	}()

	insertCard, err := tx.PrepareContext(ctx, `INSERT INTO cards (
		language, id, term, fragment, best_translation, translation_locale,
		all_translations, importance, status, notes, tags, srs_due_date,
		last_reviewed_correct, words, audio, url, raw
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer insertCard.Close()

	insertPartition, err := tx.PrepareContext(ctx,
		`INSERT INTO partitions (language, state, complete, records, error) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer insertPartition.Close()

	for _, r := range results {
		for _, rec := range r.Records {
			row := Flatten(rec)
			raw, err := marshalJSON(rec)
			if err != nil {
				return fmt.Errorf("encode card %d: %w", rec.ID, err)
			}
			if _, err := insertCard.ExecContext(ctx,
				r.Language, row.ID, row.Term, row.Fragment, row.BestTranslation, row.TranslationLocale,
				row.AllTranslations, row.Importance, row.Status, row.Notes, row.Tags, row.SRSDueDate,
				row.LastReviewedCorrect, row.Words, row.Audio, row.URL, string(raw),
			); err != nil {
				return fmt.Errorf("insert card %s/%d: %w", r.Language, rec.ID, err)
			}
		}

		var cause sql.NullString
		if r.Err != nil {
			cause = sql.NullString{String: r.Err.Error(), Valid: true}
		}
		if _, err := insertPartition.ExecContext(ctx,
			r.Language, string(r.State), r.Complete, len(r.Records), cause,
		); err != nil {
			return fmt.Errorf("insert partition %s: %w", r.Language, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
