// Package catalog stores file metadata and public share links in SQLite.
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound  = errors.New("file not found")
	ErrDuplicate = errors.New("file already exists")
)

type File struct {
	ID          string    `json:"id"`
	OwnerID     string    `json:"owner_id"`
	Name        string    `json:"name"`
	ObjectKey   string    `json:"-"`
	Size        int64     `json:"size"`
	ContentType string    `json:"content_type"`
	SHA256      string    `json:"sha256,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type Share struct {
	Token     string    `json:"token"`
	FileID    string    `json:"file_id"`
	OwnerID   string    `json:"owner_id"`
	Views     int64     `json:"views"`
	CreatedAt time.Time `json:"created_at"`
}

type Repository struct {
	db  *sql.DB
	now func() time.Time
}

func NewRepository(db *sql.DB) (*Repository, error) {
	r := &Repository{db: db, now: time.Now}
	if err := r.InitTable(); err != nil {
		return nil, fmt.Errorf("init catalog tables: %w", err)
	}
	return r, nil
}

// InitTable creates the files and shares tables if they don't exist.
func (r *Repository) InitTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS files (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		name TEXT NOT NULL,
		object_key TEXT NOT NULL,
		size INTEGER NOT NULL DEFAULT 0,
		content_type TEXT NOT NULL DEFAULT '',
		sha256 TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_files_owner ON files(owner_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_files_owner_sha ON files(owner_id, sha256);

	CREATE TABLE IF NOT EXISTS shares (
		token TEXT PRIMARY KEY,
		file_id TEXT NOT NULL REFERENCES files(id) ON DELETE CASCADE,
		owner_id TEXT NOT NULL,
		views INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL
	);
	`
	_, err := r.db.Exec(query)
	return err
}

// Create inserts f, assigning an id and timestamps when unset.
func (r *Repository) Create(ctx context.Context, f File) (File, error) {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	now := r.now().UTC()
	if f.CreatedAt.IsZero() {
		f.CreatedAt = now
	}
	f.UpdatedAt = now

	query := `INSERT INTO files (id, owner_id, name, object_key, size, content_type, sha256, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := r.db.ExecContext(ctx, query, f.ID, f.OwnerID, f.Name, f.ObjectKey, f.Size, f.ContentType, f.SHA256,
		f.CreatedAt.UnixNano(), f.UpdatedAt.UnixNano())
	if err != nil {
		return File{}, err
	}
	return f, nil
}

func (r *Repository) Get(ctx context.Context, id string) (File, error) {
	query := `SELECT id, owner_id, name, object_key, size, content_type, sha256, created_at, updated_at
	FROM files WHERE id = ?`
	return scanFile(r.db.QueryRowContext(ctx, query, id))
}

// FindByHash returns the owner's file with the given content digest.
func (r *Repository) FindByHash(ctx context.Context, owner, sha string) (File, error) {
	query := `SELECT id, owner_id, name, object_key, size, content_type, sha256, created_at, updated_at
	FROM files WHERE owner_id = ? AND sha256 = ? LIMIT 1`
	return scanFile(r.db.QueryRowContext(ctx, query, owner, sha))
}

func (r *Repository) List(ctx context.Context, owner string) ([]File, error) {
	query := `SELECT id, owner_id, name, object_key, size, content_type, sha256, created_at, updated_at
	FROM files WHERE owner_id = ? ORDER BY created_at DESC, rowid DESC`
	rows, err := r.db.QueryContext(ctx, query, owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	files := []File{}
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

func (r *Repository) Rename(ctx context.Context, id, name string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE files SET name = ?, updated_at = ? WHERE id = ?`,
		name, r.now().UTC().UnixNano(), id)
	return affected(res, err)
}

func (r *Repository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM shares WHERE file_id = ?`, id); err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, `DELETE FROM files WHERE id = ?`, id)
	return affected(res, err)
}

// CreateShare issues a new public token for a file.
func (r *Repository) CreateShare(ctx context.Context, fileID, owner string) (Share, error) {
	s := Share{
		Token:     uuid.NewString(),
		FileID:    fileID,
		OwnerID:   owner,
		CreatedAt: r.now().UTC(),
	}
	_, err := r.db.ExecContext(ctx, `INSERT INTO shares (token, file_id, owner_id, views, created_at) VALUES (?, ?, ?, 0, ?)`,
		s.Token, s.FileID, s.OwnerID, s.CreatedAt.UnixNano())
	if err != nil {
		return Share{}, err
	}
	return s, nil
}

// ResolveShare counts a view on token and returns the shared file.
func (r *Repository) ResolveShare(ctx context.Context, token string) (File, error) {
	var fileID string
	err := r.db.QueryRowContext(ctx, `UPDATE shares SET views = views + 1 WHERE token = ? RETURNING file_id`, token).Scan(&fileID)
	if errors.Is(err, sql.ErrNoRows) {
		return File{}, ErrNotFound
	}
	if err != nil {
		return File{}, err
	}
	return r.Get(ctx, fileID)
}

func (r *Repository) ShareViews(ctx context.Context, token string) (int64, error) {
	var views int64
	err := r.db.QueryRowContext(ctx, `SELECT views FROM shares WHERE token = ?`, token).Scan(&views)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	return views, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanFile(row scanner) (File, error) {
	var f File
	var created, updated int64
	err := row.Scan(&f.ID, &f.OwnerID, &f.Name, &f.ObjectKey, &f.Size, &f.ContentType, &f.SHA256, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return File{}, ErrNotFound
	}
	if err != nil {
		return File{}, err
	}
	f.CreatedAt = time.Unix(0, created).UTC()
	f.UpdatedAt = time.Unix(0, updated).UTC()
	return f, nil
}

func affected(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
