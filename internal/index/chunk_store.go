package index

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"gopherai-docqa/internal/model"
	"gopherai-docqa/internal/storage"
)

// ChunkStore persists the chunk list of each document's retrieval index.
// Load returns storage.ErrNotFound when no chunk list exists.
type ChunkStore interface {
	Save(ctx context.Context, userID, docID string, chunks []model.Chunk) error
	Load(ctx context.Context, userID, docID string) ([]model.Chunk, error)
	Delete(ctx context.Context, userID, docID string) error
}

type chunkFile struct {
	DocumentID string        `json:"document_id"`
	CreatedAt  time.Time     `json:"created_at"`
	Chunks     []model.Chunk `json:"chunks"`
}

// FileChunkStore writes one JSON chunk list per document next to its content.
type FileChunkStore struct {
	layout storage.Layout
}

func NewFileChunkStore(layout storage.Layout) *FileChunkStore {
	return &FileChunkStore{layout: layout}
}

func (s *FileChunkStore) Save(_ context.Context, userID, docID string, chunks []model.Chunk) error {
	path, err := s.layout.ChunksPath(userID, docID)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(chunkFile{DocumentID: docID, CreatedAt: time.Now().UTC(), Chunks: chunks})
	if err != nil {
		return fmt.Errorf("encode chunk list failed: %w", err)
	}
	return storage.WriteFileAtomic(path, payload, 0o644)
}

func (s *FileChunkStore) Load(_ context.Context, userID, docID string) ([]model.Chunk, error) {
	path, err := s.layout.ChunksPath(userID, docID)
	if err != nil {
		return nil, err
	}
	raw, err := storage.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var file chunkFile
	if err := json.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("decode chunk list failed: %w", err)
	}
	if len(file.Chunks) == 0 {
		return nil, storage.ErrNotFound
	}
	return file.Chunks, nil
}

func (s *FileChunkStore) Delete(_ context.Context, userID, docID string) error {
	path, err := s.layout.ChunksPath(userID, docID)
	if err != nil {
		return err
	}
	return storage.RemoveFile(path)
}

// SQLiteChunkStore keeps chunk lists in a document_chunks table.
type SQLiteChunkStore struct {
	db *sql.DB
}

func NewSQLiteChunkStore(ctx context.Context, db *sql.DB) (*SQLiteChunkStore, error) {
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS document_chunks (
		user_id     TEXT    NOT NULL,
		document_id TEXT    NOT NULL,
		chunk_index INTEGER NOT NULL,
		content     TEXT    NOT NULL,
		created_at  TEXT    NOT NULL,
		PRIMARY KEY (user_id, document_id, chunk_index)
	)`); err != nil {
		return nil, fmt.Errorf("create document_chunks table failed: %w", err)
	}
	return &SQLiteChunkStore{db: db}, nil
}

// Save replaces the document's chunk list in one transaction.
func (s *SQLiteChunkStore) Save(ctx context.Context, userID, docID string, chunks []model.Chunk) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin chunk transaction failed: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM document_chunks WHERE user_id = ? AND document_id = ?`, userID, docID); err != nil {
		return fmt.Errorf("clear chunks failed: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO document_chunks (user_id, document_id, chunk_index, content, created_at) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare chunk insert failed: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC().Format(time.RFC3339)
	for _, c := range chunks {
		if _, err := stmt.ExecContext(ctx, userID, docID, c.Index, c.Content, now); err != nil {
			return fmt.Errorf("insert chunk %d failed: %w", c.Index, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit chunks failed: %w", err)
	}
	return nil
}

func (s *SQLiteChunkStore) Load(ctx context.Context, userID, docID string) ([]model.Chunk, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT chunk_index, content FROM document_chunks
		WHERE user_id = ? AND document_id = ? ORDER BY chunk_index`, userID, docID)
	if err != nil {
		return nil, fmt.Errorf("query chunks failed: %w", err)
	}
	defer rows.Close()

	var chunks []model.Chunk
	for rows.Next() {
		var c model.Chunk
		if err := rows.Scan(&c.Index, &c.Content); err != nil {
			return nil, fmt.Errorf("scan chunk failed: %w", err)
		}
		chunks = append(chunks, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chunks failed: %w", err)
	}
	if len(chunks) == 0 {
		return nil, storage.ErrNotFound
	}
	return chunks, nil
}

func (s *SQLiteChunkStore) Delete(ctx context.Context, userID, docID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM document_chunks WHERE user_id = ? AND document_id = ?`, userID, docID); err != nil {
		return fmt.Errorf("delete chunks failed: %w", err)
	}
	return nil
}
