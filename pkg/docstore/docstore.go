// Package docstore persists patent documents and their versions. The
// workflow coordinator resolves a document ID to its latest content here
// before analysis begins.
package docstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Document is a patent document owned by a client.
type Document struct {
	ID        string    `json:"id"`
	ClientID  string    `json:"client_id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
}

// Version is one stored revision of a document's text.
type Version struct {
	ID         string    `json:"id"`
	DocumentID string    `json:"document_id"`
	Version    int       `json:"version"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"created_at"`
}

// ErrNotFound is returned when a document or version does not exist.
var ErrNotFound = fmt.Errorf("docstore: not found")

// Store provides document CRUD over a shared SQLite handle.
type Store struct {
	db *sql.DB
}

// NewStore creates a document store. The schema is managed by the memory
// package's migrations, which own the shared database.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Create inserts a new document with its initial content as version 1.
func (s *Store) Create(ctx context.Context, clientID, title, content string) (*Document, error) {
	doc := &Document{
		ID:        "doc-" + uuid.New().String(),
		ClientID:  clientID,
		Title:     title,
		CreatedAt: time.Now().UTC(),
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin create document: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO documents (id, client_id, title, created_at) VALUES (?, ?, ?, ?)`,
		doc.ID, doc.ClientID, doc.Title, doc.CreatedAt); err != nil {
		return nil, fmt.Errorf("insert document: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO document_versions (id, document_id, version, content, created_at) VALUES (?, ?, 1, ?, ?)`,
		"ver-"+uuid.New().String(), doc.ID, content, doc.CreatedAt); err != nil {
		return nil, fmt.Errorf("insert initial version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit create document: %w", err)
	}

	return doc, nil
}

// Get fetches a document by ID.
func (s *Store) Get(ctx context.Context, documentID string) (*Document, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, client_id, title, created_at FROM documents WHERE id = ?`, documentID)

	var doc Document
	err := row.Scan(&doc.ID, &doc.ClientID, &doc.Title, &doc.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get document %s: %w", documentID, err)
	}
	return &doc, nil
}

// CreateVersion appends a new revision of the document's content.
func (s *Store) CreateVersion(ctx context.Context, documentID, content string) (*Version, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin create version: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var latest int
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM document_versions WHERE document_id = ?`, documentID).Scan(&latest)
	if err != nil {
		return nil, fmt.Errorf("read latest version for %s: %w", documentID, err)
	}

	ver := &Version{
		ID:         "ver-" + uuid.New().String(),
		DocumentID: documentID,
		Version:    latest + 1,
		Content:    content,
		CreatedAt:  time.Now().UTC(),
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO document_versions (id, document_id, version, content, created_at) VALUES (?, ?, ?, ?, ?)`,
		ver.ID, ver.DocumentID, ver.Version, ver.Content, ver.CreatedAt); err != nil {
		return nil, fmt.Errorf("insert version %d for %s: %w", ver.Version, documentID, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit create version: %w", err)
	}

	return ver, nil
}

// GetLatestVersion returns the newest revision of a document.
func (s *Store) GetLatestVersion(ctx context.Context, documentID string) (*Version, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, document_id, version, content, created_at
		 FROM document_versions WHERE document_id = ?
		 ORDER BY version DESC LIMIT 1`, documentID)

	var ver Version
	err := row.Scan(&ver.ID, &ver.DocumentID, &ver.Version, &ver.Content, &ver.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get latest version of %s: %w", documentID, err)
	}
	return &ver, nil
}

// ListByClient returns all documents owned by a client, newest first.
func (s *Store) ListByClient(ctx context.Context, clientID string) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, client_id, title, created_at FROM documents
		 WHERE client_id = ? ORDER BY created_at DESC`, clientID)
	if err != nil {
		return nil, fmt.Errorf("list documents for client %s: %w", clientID, err)
	}
	defer func() { _ = rows.Close() }()

	var docs []Document
	for rows.Next() {
		var doc Document
		if err := rows.Scan(&doc.ID, &doc.ClientID, &doc.Title, &doc.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan document row: %w", err)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}
