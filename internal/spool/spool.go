// Package spool manages the local staging directory used by transfers.
package spool

import (
	"crypto/md5"
	"encoding/hex"
	"os"
	"path/filepath"

	"github.com/gabriel-vasile/mimetype"
)

type Spool struct {
	dir string
}

// New creates the spool directory if it doesn't exist.
func New(dir string) (*Spool, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Join(abs, "previews"), 0755); err != nil {
		return nil, err
	}
	return &Spool{dir: abs}, nil
}

func (s *Spool) Dir() string {
	return s.dir
}

// Create opens a new uniquely named staging file.
func (s *Spool) Create(prefix string) (*os.File, error) {
	return os.CreateTemp(s.dir, prefix+"-*")
}

// PreviewPath is the cache location of the preview copy for key.
func (s *Spool) PreviewPath(key string) string {
	hash := md5.Sum([]byte(key))
	return filepath.Join(s.dir, "previews", hex.EncodeToString(hash[:]))
}

// Exists reports whether path is a regular file.
func (s *Spool) Exists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

// Remove deletes a staged file, ignoring files that are already gone.
func (s *Spool) Remove(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// DetectType sniffs the content type of a staged file.
func DetectType(path string) string {
	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return "application/octet-stream"
	}
	return mt.String()
}
