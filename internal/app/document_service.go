// Package app is the ingestion orchestrator: it accepts uploads, drives each
// document through extract, persist, index and summarize, and serves content,
// summaries and answers to the transport layer.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"gopherai-docqa/internal/extract"
	"gopherai-docqa/internal/index"
	"gopherai-docqa/internal/metrics"
	"gopherai-docqa/internal/model"
	"gopherai-docqa/internal/pkg/textutil"
	"gopherai-docqa/internal/repository"
	"gopherai-docqa/internal/storage"
)

var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrDocumentNotFound   = errors.New("document not found")
	ErrContentNotFound    = errors.New("document content not found")
	ErrDocumentProcessing = errors.New("document is still processing")
	ErrDocumentFailed     = errors.New("document processing failed")
)

const (
	msgUnreadableUpload = "The uploaded file could not be read. Please upload it again."
	msgStoreFailed      = "The document text could not be saved. Please upload it again."
	msgScheduleFailed   = "The document could not be queued for processing. Please upload it again."
)

type ContentStore interface {
	Save(ctx context.Context, userID, docID, text string) error
	Load(ctx context.Context, userID, docID string) (string, error)
	Delete(ctx context.Context, userID, docID string) error
}

type BlobStore interface {
	Save(ctx context.Context, userID, docID string, data []byte) error
	Load(ctx context.Context, userID, docID string) ([]byte, error)
	Delete(ctx context.Context, userID, docID string) error
}

type Extractor interface {
	Extract(data []byte, mediaType string) (string, error)
}

type ChunkIndexer interface {
	Build(ctx context.Context, userID, docID, text string) (*index.Index, error)
	Delete(ctx context.Context, userID, docID string) error
}

type Retriever interface {
	RetrieveTopK(ctx context.Context, userID, docID, question string, k int) string
}

type Summarizer interface {
	Summarize(ctx context.Context, text, docID, caller, fileName string) string
	Invalidate(ctx context.Context, docID string)
}

type Answerer interface {
	Answer(ctx context.Context, question, docContext string) string
}

// Dispatcher hands a processing task to whatever runs it in the background.
type Dispatcher interface {
	Dispatch(ctx context.Context, task model.ProcessTask) error
}

// Pipeline groups the collaborators of DocumentService.
type Pipeline struct {
	Documents  repository.DocumentRepository
	Blobs      BlobStore
	Contents   ContentStore
	Extractor  Extractor
	Indexer    ChunkIndexer
	Retriever  Retriever
	Summarizer Summarizer
	Answerer   Answerer
}

type DocumentServiceConfig struct {
	TopK             int
	MaxAnswerContext int
}

type UploadInput struct {
	UserID       string
	OriginalName string
	MediaType    string
	Data         []byte
}

type DocumentService struct {
	p          Pipeline
	dispatcher Dispatcher
	cfg        DocumentServiceConfig
	metrics    *metrics.Metrics
	logger     *slog.Logger
	now        func() time.Time
}

func NewDocumentService(p Pipeline, cfg DocumentServiceConfig, m *metrics.Metrics, logger *slog.Logger) *DocumentService {
	if cfg.TopK <= 0 {
		cfg.TopK = 4
	}
	if cfg.MaxAnswerContext <= 0 {
		cfg.MaxAnswerContext = 12000
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DocumentService{
		p:       p,
		cfg:     cfg,
		metrics: m,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// SetDispatcher must be called before Upload. It is separate from the
// constructor because dispatchers call back into Process.
func (s *DocumentService) SetDispatcher(d Dispatcher) {
	s.dispatcher = d
}

// Upload stores the original bytes, records the document and schedules its
// processing. The returned document has status processing.
func (s *DocumentService) Upload(ctx context.Context, in UploadInput) (*model.Document, error) {
	name := strings.TrimSpace(in.OriginalName)
	if storage.ValidateID(in.UserID) != nil || name == "" {
		return nil, ErrInvalidInput
	}

	doc := &model.Document{
		ID:           uuid.NewString(),
		UserID:       in.UserID,
		OriginalName: name,
		MediaType:    strings.TrimSpace(in.MediaType),
		Size:         int64(len(in.Data)),
		Status:       model.StatusUploading,
		UploadedAt:   s.now(),
	}
	if err := s.p.Documents.Upsert(ctx, doc); err != nil {
		return nil, fmt.Errorf("record document failed: %w", err)
	}
	if err := s.p.Blobs.Save(ctx, doc.UserID, doc.ID, in.Data); err != nil {
		s.rejectUpload(ctx, doc, msgUnreadableUpload)
		return nil, fmt.Errorf("store upload failed: %w", err)
	}

	updated, err := s.p.Documents.Update(ctx, doc.UserID, doc.ID, func(d *model.Document) error {
		d.Status = model.StatusProcessing
		return nil
	})
	if err != nil {
		s.rejectUpload(ctx, doc, msgScheduleFailed)
		return nil, fmt.Errorf("mark document processing failed: %w", err)
	}

	task := model.ProcessTask{UserID: doc.UserID, DocumentID: doc.ID}
	if err := s.dispatcher.Dispatch(ctx, task); err != nil {
		s.rejectUpload(ctx, doc, msgScheduleFailed)
		return nil, fmt.Errorf("dispatch processing failed: %w", err)
	}
	s.logger.Info("document accepted", "user_id", doc.UserID, "document_id", doc.ID, "media_type", doc.MediaType, "size", doc.Size)
	return updated, nil
}

// Process runs extract, persist, index and summarize for one document.
// Failures are recorded on the document; an error is returned only when the
// outcome could not be recorded.
func (s *DocumentService) Process(ctx context.Context, task model.ProcessTask) error {
	logger := s.logger.With("user_id", task.UserID, "document_id", task.DocumentID)
	doc, err := s.p.Documents.Get(ctx, task.UserID, task.DocumentID)
	if err != nil {
		return fmt.Errorf("load document failed: %w", err)
	}
	if doc == nil {
		logger.Info("document deleted before processing")
		return nil
	}

	started := time.Now()
	data, err := s.p.Blobs.Load(ctx, doc.UserID, doc.ID)
	if err != nil {
		logger.Error("load original file failed", "stage", "extract", "error", err)
		return s.fail(ctx, doc.UserID, doc.ID, msgUnreadableUpload)
	}
	text, err := s.p.Extractor.Extract(data, doc.MediaType)
	s.metrics.ObserveStage("extract", started)
	if err != nil {
		logger.Warn("extraction failed", "stage", "extract", "kind", extract.Classify(err), "error", err)
		return s.fail(ctx, doc.UserID, doc.ID, extract.UserMessage(err))
	}

	if err := s.p.Contents.Save(ctx, doc.UserID, doc.ID, text); err != nil {
		logger.Error("persist content failed", "stage", "persist", "error", err)
		if recErr := s.fail(ctx, doc.UserID, doc.ID, msgStoreFailed); recErr != nil {
			return recErr
		}
		return fmt.Errorf("persist content failed: %w", err)
	}

	started = time.Now()
	if _, err := s.p.Indexer.Build(ctx, doc.UserID, doc.ID, text); err != nil {
		logger.Warn("index build failed, retrieval will use truncated content", "stage", "index", "error", err)
	}
	s.metrics.ObserveStage("index", started)

	started = time.Now()
	summary := s.p.Summarizer.Summarize(ctx, text, doc.ID, doc.UserID, doc.OriginalName)
	s.metrics.ObserveStage("summarize", started)

	processedAt := s.now()
	_, err = s.p.Documents.Update(ctx, doc.UserID, doc.ID, func(d *model.Document) error {
		d.Status = model.StatusCompleted
		d.Error = ""
		d.Summary = &summary
		d.ProcessedAt = &processedAt
		return nil
	})
	if errors.Is(err, repository.ErrDocumentNotFound) {
		logger.Info("document deleted during processing, dropping artifacts")
		if err := s.removeArtifacts(ctx, doc.UserID, doc.ID); err != nil {
			logger.Warn("drop artifacts failed", "error", err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("mark document completed failed: %w", err)
	}
	s.metrics.DocumentProcessed(string(model.StatusCompleted))
	logger.Info("document processed", "chars", len(text))
	return nil
}

func (s *DocumentService) List(ctx context.Context, userID string) ([]model.Document, error) {
	if storage.ValidateID(userID) != nil {
		return nil, ErrInvalidInput
	}
	docs, err := s.p.Documents.List(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list documents failed: %w", err)
	}
	return docs, nil
}

func (s *DocumentService) Get(ctx context.Context, userID, docID string) (*model.Document, error) {
	if storage.ValidateID(userID) != nil || storage.ValidateID(docID) != nil {
		return nil, ErrDocumentNotFound
	}
	doc, err := s.p.Documents.Get(ctx, userID, docID)
	if err != nil {
		return nil, fmt.Errorf("load document failed: %w", err)
	}
	if doc == nil {
		return nil, ErrDocumentNotFound
	}
	return doc, nil
}

// GetContent returns the extracted text. A completed document whose text is
// missing is re-extracted from the original file.
func (s *DocumentService) GetContent(ctx context.Context, userID, docID string) (string, error) {
	doc, err := s.Get(ctx, userID, docID)
	if err != nil {
		return "", err
	}
	return s.content(ctx, doc)
}

// GetSummary returns the document's summary, generating one when none is
// stored or refresh is set.
func (s *DocumentService) GetSummary(ctx context.Context, userID, docID, caller string, refresh bool) (string, error) {
	doc, err := s.Get(ctx, userID, docID)
	if err != nil {
		return "", err
	}
	if err := readyErr(doc); err != nil {
		return "", err
	}
	if !refresh && doc.HasSummary() {
		return *doc.Summary, nil
	}

	text, err := s.content(ctx, doc)
	if err != nil {
		return "", err
	}
	if refresh {
		s.p.Summarizer.Invalidate(ctx, doc.ID)
	}
	summary := s.p.Summarizer.Summarize(ctx, text, doc.ID, caller, doc.OriginalName)
	if _, err := s.p.Documents.Update(ctx, doc.UserID, doc.ID, func(d *model.Document) error {
		d.Summary = &summary
		return nil
	}); err != nil {
		s.logger.Warn("store summary failed", "document_id", doc.ID, "error", err)
	}
	return summary, nil
}

// Ask answers question from the most relevant passages of the document, or
// from its leading text when no index is available.
func (s *DocumentService) Ask(ctx context.Context, userID, docID, question string) (string, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return "", ErrInvalidInput
	}
	doc, err := s.Get(ctx, userID, docID)
	if err != nil {
		return "", err
	}
	if err := readyErr(doc); err != nil {
		return "", err
	}
	text, err := s.content(ctx, doc)
	if err != nil {
		return "", err
	}

	docContext := s.p.Retriever.RetrieveTopK(ctx, doc.UserID, doc.ID, question, s.cfg.TopK)
	if docContext == "" {
		s.metrics.Fallback("retrieval", "no_index")
		docContext = textutil.TruncateRunes(text, s.cfg.MaxAnswerContext)
	}
	return s.p.Answerer.Answer(ctx, question, docContext), nil
}

// Delete removes the document with its original file, content and index.
func (s *DocumentService) Delete(ctx context.Context, userID, docID string) error {
	doc, err := s.Get(ctx, userID, docID)
	if err != nil {
		return err
	}
	if err := s.p.Documents.Delete(ctx, doc.UserID, doc.ID); err != nil {
		if errors.Is(err, repository.ErrDocumentNotFound) {
			return ErrDocumentNotFound
		}
		return fmt.Errorf("delete document failed: %w", err)
	}
	if err := s.removeArtifacts(ctx, doc.UserID, doc.ID); err != nil {
		return fmt.Errorf("delete document artifacts failed: %w", err)
	}
	s.logger.Info("document deleted", "user_id", doc.UserID, "document_id", doc.ID)
	return nil
}

func (s *DocumentService) content(ctx context.Context, doc *model.Document) (string, error) {
	text, err := s.p.Contents.Load(ctx, doc.UserID, doc.ID)
	if err == nil {
		return text, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return "", fmt.Errorf("load content failed: %w", err)
	}
	if err := readyErr(doc); err != nil {
		return "", err
	}
	return s.reextract(ctx, doc)
}

func (s *DocumentService) reextract(ctx context.Context, doc *model.Document) (string, error) {
	logger := s.logger.With("user_id", doc.UserID, "document_id", doc.ID)
	data, err := s.p.Blobs.Load(ctx, doc.UserID, doc.ID)
	if errors.Is(err, storage.ErrNotFound) {
		return "", ErrContentNotFound
	}
	if err != nil {
		return "", fmt.Errorf("load original file failed: %w", err)
	}
	text, err := s.p.Extractor.Extract(data, doc.MediaType)
	if err != nil {
		logger.Warn("re-extraction failed", "kind", extract.Classify(err), "error", err)
		return "", ErrContentNotFound
	}
	if err := s.p.Contents.Save(ctx, doc.UserID, doc.ID, text); err != nil {
		return "", fmt.Errorf("persist content failed: %w", err)
	}
	if _, err := s.p.Indexer.Build(ctx, doc.UserID, doc.ID, text); err != nil {
		logger.Warn("index rebuild failed", "error", err)
	}
	logger.Info("content re-extracted from original file")
	return text, nil
}

// fail marks the document as errored with a user-facing reason.
func (s *DocumentService) fail(ctx context.Context, userID, docID, reason string) error {
	processedAt := s.now()
	_, err := s.p.Documents.Update(ctx, userID, docID, func(d *model.Document) error {
		d.Status = model.StatusError
		d.Error = reason
		d.ProcessedAt = &processedAt
		return nil
	})
	if errors.Is(err, repository.ErrDocumentNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("mark document failed: %w", err)
	}
	s.metrics.DocumentProcessed(string(model.StatusError))
	return nil
}

// rejectUpload marks an upload that never reached processing as failed and
// drops its stored original.
func (s *DocumentService) rejectUpload(ctx context.Context, doc *model.Document, reason string) {
	logger := s.logger.With("user_id", doc.UserID, "document_id", doc.ID)
	if err := s.fail(ctx, doc.UserID, doc.ID, reason); err != nil {
		logger.Error("record upload failure failed", "error", err)
	}
	if err := s.p.Blobs.Delete(ctx, doc.UserID, doc.ID); err != nil {
		logger.Warn("drop rejected upload failed", "error", err)
	}
}

func (s *DocumentService) removeArtifacts(ctx context.Context, userID, docID string) error {
	s.p.Summarizer.Invalidate(ctx, docID)
	return errors.Join(
		s.p.Contents.Delete(ctx, userID, docID),
		s.p.Indexer.Delete(ctx, userID, docID),
		s.p.Blobs.Delete(ctx, userID, docID),
	)
}

// readyErr maps a non-completed status to the error callers see.
func readyErr(doc *model.Document) error {
	switch doc.Status {
	case model.StatusCompleted:
		return nil
	case model.StatusError:
		return fmt.Errorf("%w: %s", ErrDocumentFailed, doc.Error)
	default:
		return ErrDocumentProcessing
	}
}
