package store

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// AcquiredFile is a manifest entry for a raw price file on disk.
type AcquiredFile struct {
	Name       string
	Origin     string
	SHA256     string
	SizeBytes  int64
	AcquiredAt time.Time
}

// HashFile returns the hex SHA-256 and size of a file.
func HashFile(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return "", 0, fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// RecordAcquiredFile hashes the file at path and upserts it into the manifest
// under its base name.
func (s *Store) RecordAcquiredFile(path, origin string) (*AcquiredFile, error) {
	hash, size, err := HashFile(path)
	if err != nil {
		return nil, err
	}
	f := &AcquiredFile{
		Name:       filepath.Base(path),
		Origin:     origin,
		SHA256:     hash,
		SizeBytes:  size,
		AcquiredAt: time.Now().UTC(),
	}
	_, err = s.db.Exec(`
		INSERT INTO acquired_files (name, origin, sha256, size_bytes, acquired_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			origin = excluded.origin,
			sha256 = excluded.sha256,
			size_bytes = excluded.size_bytes,
			acquired_at = excluded.acquired_at
	`, f.Name, f.Origin, f.SHA256, f.SizeBytes, f.AcquiredAt)
	if err != nil {
		return nil, fmt.Errorf("record acquired file %s: %w", f.Name, err)
	}
	return f, nil
}

// GetAcquiredFile returns the manifest entry for name, or nil if absent.
func (s *Store) GetAcquiredFile(name string) (*AcquiredFile, error) {
	var f AcquiredFile
	var origin sql.NullString
	err := s.db.QueryRow(`
		SELECT name, origin, sha256, size_bytes, acquired_at FROM acquired_files WHERE name = ?
	`, name).Scan(&f.Name, &origin, &f.SHA256, &f.SizeBytes, &f.AcquiredAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	f.Origin = origin.String
	return &f, nil
}

// Freshness is the result of checking a raw directory against the manifest.
type Freshness struct {
	Files    []string // CSV files present
	Unknown  []string // present but not in the manifest
	Modified []string // present with a different hash
}

// Complete reports whether the directory holds at least one CSV and every
// CSV matches its manifest entry.
func (f Freshness) Complete() bool {
	return len(f.Files) > 0 && len(f.Unknown) == 0 && len(f.Modified) == 0
}

// CheckFreshness compares every CSV in dir with the acquisition manifest.
func (s *Store) CheckFreshness(dir string) (Freshness, error) {
	var fr Freshness
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return fr, nil
	}
	if err != nil {
		return fr, err
	}

	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".csv") {
			continue
		}
		fr.Files = append(fr.Files, e.Name())

		recorded, err := s.GetAcquiredFile(e.Name())
		if err != nil {
			return fr, err
		}
		if recorded == nil {
			fr.Unknown = append(fr.Unknown, e.Name())
			continue
		}
		hash, _, err := HashFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return fr, err
		}
		if hash != recorded.SHA256 {
			fr.Modified = append(fr.Modified, e.Name())
		}
	}
	sort.Strings(fr.Files)
	return fr, nil
}
