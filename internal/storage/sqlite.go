// Package storage provides the SQLite implementation of the Store interface.
package storage

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens or creates a SQLite database at dbPath and initializes
// the schema. Parent directories are created if they do not exist.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS fingerprints (
		project TEXT NOT NULL,
		identifier TEXT NOT NULL,
		checksum TEXT NOT NULL,
		dimensions INTEGER NOT NULL,
		vector BLOB NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (project, identifier)
	);

	CREATE INDEX IF NOT EXISTS idx_fingerprints_project ON fingerprints(project);
	`
	_, err := db.Exec(schema)
	return err
}

// Put inserts or replaces the fingerprint for (project, identifier).
func (s *SQLiteStore) Put(ctx context.Context, fp *Fingerprint) error {
	fp.CreatedAt = time.Now()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO fingerprints (project, identifier, checksum, dimensions, vector, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(project, identifier) DO UPDATE SET
		   checksum = excluded.checksum,
		   dimensions = excluded.dimensions,
		   vector = excluded.vector,
		   created_at = excluded.created_at`,
		fp.Project, fp.Identifier, fp.Checksum, fp.Dimensions, encodeVector(fp.Vector), fp.CreatedAt,
	)
	return err
}

// Get returns the cached fingerprint for (project, identifier).
func (s *SQLiteStore) Get(ctx context.Context, project, identifier string) (*Fingerprint, error) {
	fp := Fingerprint{Project: project, Identifier: identifier}
	var blob []byte

	err := s.db.QueryRowContext(ctx,
		`SELECT checksum, dimensions, vector, created_at
		 FROM fingerprints WHERE project = ? AND identifier = ?`,
		project, identifier,
	).Scan(&fp.Checksum, &fp.Dimensions, &blob, &fp.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	fp.Vector, err = decodeVector(blob, fp.Dimensions)
	if err != nil {
		return nil, fmt.Errorf("corrupt vector for %s/%s: %w", project, identifier, err)
	}
	return &fp, nil
}

// Delete removes one fingerprint.
func (s *SQLiteStore) Delete(ctx context.Context, project, identifier string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM fingerprints WHERE project = ? AND identifier = ?`,
		project, identifier,
	)
	return err
}

// DeleteProject removes every fingerprint for a project.
func (s *SQLiteStore) DeleteProject(ctx context.Context, project string) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM fingerprints WHERE project = ?`, project,
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// ListProject returns all fingerprints for a project ordered by identifier.
func (s *SQLiteStore) ListProject(ctx context.Context, project string) ([]*Fingerprint, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT identifier, checksum, dimensions, vector, created_at
		 FROM fingerprints WHERE project = ? ORDER BY identifier`,
		project,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var fps []*Fingerprint
	for rows.Next() {
		fp := Fingerprint{Project: project}
		var blob []byte
		if err := rows.Scan(&fp.Identifier, &fp.Checksum, &fp.Dimensions, &blob, &fp.CreatedAt); err != nil {
			return nil, err
		}
		fp.Vector, err = decodeVector(blob, fp.Dimensions)
		if err != nil {
			return nil, fmt.Errorf("corrupt vector for %s/%s: %w", project, fp.Identifier, err)
		}
		fps = append(fps, &fp)
	}
	return fps, rows.Err()
}

// Count returns the total number of cached fingerprints.
func (s *SQLiteStore) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM fingerprints`).Scan(&count)
	return count, err
}

// CountProject returns the number of cached fingerprints for a project.
func (s *SQLiteStore) CountProject(ctx context.Context, project string) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM fingerprints WHERE project = ?`, project,
	).Scan(&count)
	return count, err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// encodeVector serializes a float32 vector as little-endian bytes.
func encodeVector(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// decodeVector deserializes a little-endian float32 vector, checking that the
// blob length matches the recorded dimensionality.
func decodeVector(buf []byte, dims int) ([]float32, error) {
	if len(buf) != 4*dims {
		return nil, fmt.Errorf("blob length %d does not match %d dimensions", len(buf), dims)
	}
	vec := make([]float32, dims)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return vec, nil
}
