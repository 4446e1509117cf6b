package repos

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/wheelibin/sunlamp/internal/models"
)

const initSchema = `
  CREATE TABLE IF NOT EXISTS output (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    applied_at INTEGER NOT NULL, -- unix milliseconds
    warm REAL NOT NULL,
    cool REAL NOT NULL,
    warm_duty INTEGER NOT NULL,
    cool_duty INTEGER NOT NULL,
    source TEXT NOT NULL
  );

  CREATE INDEX IF NOT EXISTS output_applied_at ON output (applied_at);
`

// OutputRepo is the journal of everything written to the lamp
type OutputRepo struct {
	logger *log.Logger
	db     *sql.DB
}

func NewOutputRepo(logger *log.Logger, db *sql.DB) (*OutputRepo, error) {

	_, err := db.Exec(initSchema)
	if err != nil {
		return nil, fmt.Errorf("Error initialising output schema: %w", err)
	}

	return &OutputRepo{logger: logger, db: db}, nil
}

func (r *OutputRepo) Record(rec models.OutputRecord) error {
	_, err := r.db.Exec(
		`INSERT INTO output
      (applied_at, warm, cool, warm_duty, cool_duty, source)
     VALUES ($1, $2, $3, $4, $5, $6);`,
		rec.At.UnixMilli(),
		rec.Warm,
		rec.Cool,
		rec.WarmDuty,
		rec.CoolDuty,
		rec.Source,
	)
	if err != nil {
		return fmt.Errorf("Error recording output (%s): %w", rec.Source, err)
	}
	return nil
}

// Last returns the most recent record, nil when the journal is empty
func (r *OutputRepo) Last() (*models.OutputRecord, error) {
	row := r.db.QueryRow(`
    SELECT applied_at, warm, cool, warm_duty, cool_duty, source
    FROM output
    ORDER BY id DESC
    LIMIT 1`)

	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("Error reading last output: %w", err)
	}
	return &rec, nil
}

// Recent returns up to limit records, newest first
func (r *OutputRepo) Recent(limit int) ([]models.OutputRecord, error) {
	rows, err := r.db.Query(`
    SELECT applied_at, warm, cool, warm_duty, cool_duty, source
    FROM output
    ORDER BY id DESC
    LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("Error reading recent output: %w", err)
	}
	defer rows.Close()

	records := []models.OutputRecord{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("Error reading output row: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Prune deletes records applied before the cutoff
func (r *OutputRepo) Prune(before time.Time) (int64, error) {
	res, err := r.db.Exec("DELETE FROM output WHERE applied_at < $1", before.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("Error pruning output journal: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		r.logger.Debug("Pruned output journal", "rows", n)
	}
	return n, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (models.OutputRecord, error) {
	var (
		at  int64
		rec models.OutputRecord
	)
	err := s.Scan(&at, &rec.Warm, &rec.Cool, &rec.WarmDuty, &rec.CoolDuty, &rec.Source)
	if err != nil {
		return models.OutputRecord{}, err
	}
	rec.At = time.UnixMilli(at)
	return rec, nil
}
