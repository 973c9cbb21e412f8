package progress

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

var ErrNotFound = errors.New("progress record not found")

const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 500
)

// Store persists progress records in SQLite. Every write is an idempotent
// upsert keyed by (task_id, user_id); rows are never deleted here.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.InitTable(); err != nil {
		return nil, err
	}
	return s, nil
}

// InitTable creates the progress table if it doesn't exist
func (s *Store) InitTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS progress (
		task_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		file_name TEXT,
		type TEXT,
		status TEXT,
		transferred INTEGER NOT NULL DEFAULT 0,
		total INTEGER NOT NULL DEFAULT 0,
		progress_percent REAL NOT NULL DEFAULT 0,
		speed_bytes_per_sec REAL NOT NULL DEFAULT 0,
		eta_seconds REAL,
		eta_friendly TEXT,
		error TEXT,
		started_at INTEGER,
		updated_at INTEGER,
		PRIMARY KEY (task_id, user_id)
	);

	CREATE INDEX IF NOT EXISTS idx_progress_user_updated ON progress(user_id, updated_at);
	`
	_, err := s.db.Exec(query)
	return err
}

// Upsert writes rec. started_at is set on insert (falling back to updated_at
// when the task has not started) and only overwritten once a start time is known.
func (s *Store) Upsert(ctx context.Context, rec Record) error {
	updated := rec.UpdatedAt
	if updated.IsZero() {
		updated = time.Now().UTC()
	}
	insertStarted := updated.UnixNano()
	var knownStarted sql.NullInt64
	if !rec.StartedAt.IsZero() {
		insertStarted = rec.StartedAt.UnixNano()
		knownStarted = sql.NullInt64{Int64: insertStarted, Valid: true}
	}
	var eta sql.NullFloat64
	if rec.ETASeconds != nil {
		eta = sql.NullFloat64{Float64: *rec.ETASeconds, Valid: true}
	}

	query := `
	INSERT INTO progress (
		task_id, user_id, file_name, type, status, transferred, total,
		progress_percent, speed_bytes_per_sec, eta_seconds, eta_friendly, error,
		started_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(task_id, user_id) DO UPDATE SET
		file_name = excluded.file_name,
		type = excluded.type,
		status = excluded.status,
		transferred = excluded.transferred,
		total = excluded.total,
		progress_percent = excluded.progress_percent,
		speed_bytes_per_sec = excluded.speed_bytes_per_sec,
		eta_seconds = excluded.eta_seconds,
		eta_friendly = excluded.eta_friendly,
		error = excluded.error,
		started_at = COALESCE(?, progress.started_at),
		updated_at = excluded.updated_at`
	_, err := s.db.ExecContext(ctx, query,
		rec.TaskID, rec.UserID, rec.FileName, rec.Type, rec.Status, rec.Transferred, rec.Total,
		rec.ProgressPercent, rec.SpeedBytesPerSec, eta, rec.ETAFriendly, rec.Error,
		insertStarted, updated.UnixNano(),
		knownStarted,
	)
	return err
}

const selectColumns = `task_id, user_id, file_name, type, status, transferred, total,
	progress_percent, speed_bytes_per_sec, eta_seconds, eta_friendly, error, started_at, updated_at`

// Get returns the record for a task id.
func (s *Store) Get(ctx context.Context, taskID string) (Record, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM progress WHERE task_id = ?`, taskID)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	return rec, err
}

// HistoryQuery selects a page of an owner's records.
type HistoryQuery struct {
	UserID string
	Status string // optional
	Limit  int
	Skip   int
}

// History returns records for an owner, most recently updated first.
func (s *Store) History(ctx context.Context, q HistoryQuery) ([]Record, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}
	skip := q.Skip
	if skip < 0 {
		skip = 0
	}

	query := `SELECT ` + selectColumns + ` FROM progress WHERE user_id = ?`
	args := []any{q.UserID}
	if q.Status != "" {
		query += ` AND status = ?`
		args = append(args, q.Status)
	}
	query += ` ORDER BY updated_at DESC, rowid DESC LIMIT ? OFFSET ?`
	args = append(args, limit, skip)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := []Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(sc scanner) (Record, error) {
	var (
		rec                              Record
		fileName, typ, status, etaFriend sql.NullString
		errText                          sql.NullString
		eta                              sql.NullFloat64
		started, updated                 sql.NullInt64
	)
	err := sc.Scan(
		&rec.TaskID, &rec.UserID, &fileName, &typ, &status, &rec.Transferred, &rec.Total,
		&rec.ProgressPercent, &rec.SpeedBytesPerSec, &eta, &etaFriend, &errText, &started, &updated,
	)
	if err != nil {
		return Record{}, err
	}
	rec.FileName = fileName.String
	rec.Type = typ.String
	rec.Status = status.String
	rec.ETAFriendly = etaFriend.String
	rec.Error = errText.String
	if eta.Valid {
		v := eta.Float64
		rec.ETASeconds = &v
	}
	if started.Valid {
		rec.StartedAt = time.Unix(0, started.Int64).UTC()
	}
	if updated.Valid {
		rec.UpdatedAt = time.Unix(0, updated.Int64).UTC()
	}
	return rec, nil
}
