package app

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gopherai-docqa/internal/ai/testutil"
	"gopherai-docqa/internal/answer"
	"gopherai-docqa/internal/cache"
	"gopherai-docqa/internal/extract"
	"gopherai-docqa/internal/index"
	"gopherai-docqa/internal/model"
	"gopherai-docqa/internal/repository"
	"gopherai-docqa/internal/retrieval"
	"gopherai-docqa/internal/storage"
	"gopherai-docqa/internal/summarize"
	"gopherai-docqa/internal/worker"
)

const contract = `Service Agreement

This agreement is made between Acme Corp and Beta LLC for consulting services.

The consultant shall deliver the final report to the client. The report is due by April 5, 2024.

The client must pay a fee of $12,000 within thirty days of receiving the invoice.

Either party may terminate this agreement with sixty days written notice.`

type harness struct {
	svc      *DocumentService
	repo     repository.DocumentRepository
	contents *storage.ContentStore
	blobs    *storage.BlobStore
	chunks   index.ChunkStore
	gen      *testutil.MockGenerator
	pool     *worker.Pool
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	layout := storage.NewLayout(t.TempDir())
	embedder := &testutil.HashEmbedder{}
	gen := &testutil.MockGenerator{Response: "Generated summary of the agreement."}
	chunks := index.NewFileChunkStore(layout)
	indexer := index.NewIndexer(chunks, embedder, index.Config{ChunkSize: 200, ChunkOverlap: 30}, nil)
	repo := repository.NewMemoryDocumentRepository()
	contents := storage.NewContentStore(layout)
	blobs := storage.NewBlobStore(layout)

	svc := NewDocumentService(Pipeline{
		Documents:  repo,
		Blobs:      blobs,
		Contents:   contents,
		Extractor:  extract.New(),
		Indexer:    indexer,
		Retriever:  retrieval.NewRetriever(indexer, embedder, time.Second, nil),
		Summarizer: summarize.New(gen, cache.NewMemorySummaryCache(time.Hour), cache.NewMemoryRateLimiter(100, time.Minute), summarize.Config{}, nil, nil),
		Answerer:   answer.New(nil, answer.Config{}, nil, nil),
	}, DocumentServiceConfig{}, nil, nil)

	pool := worker.NewPool(2, 8, nil)
	require.NoError(t, pool.Start(context.Background(), svc.Process))
	t.Cleanup(pool.Close)
	svc.SetDispatcher(pool)

	return &harness{svc: svc, repo: repo, contents: contents, blobs: blobs, chunks: chunks, gen: gen, pool: pool}
}

func (h *harness) upload(t *testing.T, name, mediaType, body string) *model.Document {
	t.Helper()
	doc, err := h.svc.Upload(context.Background(), UploadInput{
		UserID:       "user-1",
		OriginalName: name,
		MediaType:    mediaType,
		Data:         []byte(body),
	})
	require.NoError(t, err)
	assert.Equal(t, model.StatusProcessing, doc.Status)
	return doc
}

func (h *harness) waitFor(t *testing.T, docID string, status model.DocumentStatus) *model.Document {
	t.Helper()
	var doc *model.Document
	require.Eventually(t, func() bool {
		got, err := h.svc.Get(context.Background(), "user-1", docID)
		if err != nil {
			return false
		}
		doc = got
		return got.Status == status
	}, 3*time.Second, 10*time.Millisecond)
	return doc
}

func TestDocumentService_UploadProcessesToCompleted(t *testing.T) {
	h := newHarness(t)
	doc := h.upload(t, "contract.txt", "text/plain", contract)
	done := h.waitFor(t, doc.ID, model.StatusCompleted)

	require.True(t, done.HasSummary())
	assert.Equal(t, "Generated summary of the agreement.", *done.Summary)
	assert.NotNil(t, done.ProcessedAt)
	assert.Empty(t, done.Error)

	text, err := h.svc.GetContent(context.Background(), "user-1", doc.ID)
	require.NoError(t, err)
	assert.Equal(t, contract, text)

	chunks, err := h.chunks.Load(context.Background(), "user-1", doc.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, chunks)
}

func TestDocumentService_ExtractionFailureMarksError(t *testing.T) {
	h := newHarness(t)
	doc := h.upload(t, "empty.txt", "text/plain", "")
	failed := h.waitFor(t, doc.ID, model.StatusError)
	assert.Equal(t, extract.UserMessage(extract.ErrEmptyInput), failed.Error)

	_, err := h.svc.GetSummary(context.Background(), "user-1", doc.ID, "caller", false)
	assert.ErrorIs(t, err, ErrDocumentFailed)
	_, err = h.svc.Ask(context.Background(), "user-1", doc.ID, "what?")
	assert.ErrorIs(t, err, ErrDocumentFailed)

	again := h.upload(t, "fixed.txt", "text/plain", contract)
	assert.NotEqual(t, doc.ID, again.ID)
	h.waitFor(t, again.ID, model.StatusCompleted)

	docs, err := h.svc.List(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Len(t, docs, 2, "the failed upload stays visible with its reason")
}

func TestDocumentService_IndexFailureIsNotFatal(t *testing.T) {
	h := newHarness(t)
	doc := h.upload(t, "short.txt", "text/plain", "Tiny note.")
	done := h.waitFor(t, doc.ID, model.StatusCompleted)
	assert.True(t, done.HasSummary())

	_, err := h.chunks.Load(context.Background(), "user-1", doc.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestDocumentService_GetSummaryStatuses(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	doc := &model.Document{ID: "doc-p", UserID: "user-1", OriginalName: "p.txt", Status: model.StatusProcessing, UploadedAt: time.Now()}
	require.NoError(t, h.repo.Upsert(ctx, doc))

	_, err := h.svc.GetSummary(ctx, "user-1", "doc-p", "caller", false)
	assert.ErrorIs(t, err, ErrDocumentProcessing)

	_, err = h.svc.GetSummary(ctx, "user-1", "missing", "caller", false)
	assert.ErrorIs(t, err, ErrDocumentNotFound)

	_, err = h.svc.GetSummary(ctx, "user-2", "doc-p", "caller", false)
	assert.ErrorIs(t, err, ErrDocumentNotFound, "documents are scoped to their owner")
}

func TestDocumentService_GetSummaryRefresh(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	doc := h.upload(t, "contract.txt", "text/plain", contract)
	h.waitFor(t, doc.ID, model.StatusCompleted)
	calls := h.gen.Calls()

	got, err := h.svc.GetSummary(ctx, "user-1", doc.ID, "caller", false)
	require.NoError(t, err)
	assert.Equal(t, "Generated summary of the agreement.", got)
	assert.Equal(t, calls, h.gen.Calls(), "stored summary is served without generating")

	h.gen.Response = "Refreshed summary."
	got, err = h.svc.GetSummary(ctx, "user-1", doc.ID, "caller", true)
	require.NoError(t, err)
	assert.Equal(t, "Refreshed summary.", got)

	stored, err := h.svc.Get(ctx, "user-1", doc.ID)
	require.NoError(t, err)
	assert.Equal(t, "Refreshed summary.", *stored.Summary)
}

func TestDocumentService_AskUsesRetrievedContext(t *testing.T) {
	h := newHarness(t)
	doc := h.upload(t, "contract.txt", "text/plain", contract)
	h.waitFor(t, doc.ID, model.StatusCompleted)

	got, err := h.svc.Ask(context.Background(), "user-1", doc.ID, "What is the deadline?")
	require.NoError(t, err)
	assert.Contains(t, got, "April 5, 2024")

	_, err = h.svc.Ask(context.Background(), "user-1", doc.ID, "   ")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestDocumentService_AskWithoutIndexUsesContent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	doc := h.upload(t, "contract.txt", "text/plain", contract)
	h.waitFor(t, doc.ID, model.StatusCompleted)
	require.NoError(t, h.chunks.Delete(ctx, "user-1", doc.ID))

	got, err := h.svc.Ask(ctx, "user-1", doc.ID, "How much is the fee?")
	require.NoError(t, err)
	assert.Contains(t, got, "$12,000")
}

func TestDocumentService_LazyReextraction(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	doc := h.upload(t, "contract.txt", "text/plain", contract)
	h.waitFor(t, doc.ID, model.StatusCompleted)

	require.NoError(t, h.contents.Delete(ctx, "user-1", doc.ID))
	text, err := h.svc.GetContent(ctx, "user-1", doc.ID)
	require.NoError(t, err)
	assert.Equal(t, contract, text)

	stored, err := h.contents.Load(ctx, "user-1", doc.ID)
	require.NoError(t, err)
	assert.Equal(t, contract, stored)
}

func TestDocumentService_DeleteRemovesEverything(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	doc := h.upload(t, "contract.txt", "text/plain", contract)
	h.waitFor(t, doc.ID, model.StatusCompleted)

	require.NoError(t, h.svc.Delete(ctx, "user-1", doc.ID))

	_, err := h.svc.GetContent(ctx, "user-1", doc.ID)
	assert.ErrorIs(t, err, ErrDocumentNotFound)
	_, err = h.svc.Ask(ctx, "user-1", doc.ID, "What is the deadline?")
	assert.ErrorIs(t, err, ErrDocumentNotFound)
	_, err = h.contents.Load(ctx, "user-1", doc.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = h.chunks.Load(ctx, "user-1", doc.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	assert.ErrorIs(t, h.svc.Delete(ctx, "user-1", doc.ID), ErrDocumentNotFound)
}

type failingDispatcher struct{}

func (failingDispatcher) Dispatch(context.Context, model.ProcessTask) error {
	return errors.New("broker unavailable")
}

func TestDocumentService_DispatchFailureMarksError(t *testing.T) {
	h := newHarness(t)
	h.svc.SetDispatcher(failingDispatcher{})
	_, err := h.svc.Upload(context.Background(), UploadInput{UserID: "user-1", OriginalName: "a.txt", MediaType: "text/plain", Data: []byte(contract)})
	require.Error(t, err)

	docs, err := h.svc.List(context.Background(), "user-1")
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, model.StatusError, docs[0].Status)
	assert.Equal(t, msgScheduleFailed, docs[0].Error)
}

// flakyRepository fails the next failUpdates calls to Update.
type flakyRepository struct {
	repository.DocumentRepository

	mu          sync.Mutex
	failUpdates int
}

func (r *flakyRepository) Update(ctx context.Context, userID, docID string, fn func(*model.Document) error) (*model.Document, error) {
	r.mu.Lock()
	fail := r.failUpdates > 0
	if fail {
		r.failUpdates--
	}
	r.mu.Unlock()
	if fail {
		return nil, errors.New("database unavailable")
	}
	return r.DocumentRepository.Update(ctx, userID, docID, fn)
}

func TestDocumentService_MarkProcessingFailureRejectsUpload(t *testing.T) {
	h := newHarness(t)
	h.svc.p.Documents = &flakyRepository{DocumentRepository: h.repo, failUpdates: 1}
	ctx := context.Background()

	_, err := h.svc.Upload(ctx, UploadInput{UserID: "user-1", OriginalName: "a.txt", MediaType: "text/plain", Data: []byte(contract)})
	require.Error(t, err)

	docs, err := h.svc.List(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, model.StatusError, docs[0].Status)
	assert.Equal(t, msgScheduleFailed, docs[0].Error)

	_, err = h.blobs.Load(ctx, "user-1", docs[0].ID)
	assert.Error(t, err, "rejected upload keeps no stored original")
}

func TestDocumentService_UploadLogsUnrecordedFailure(t *testing.T) {
	h := newHarness(t)
	var logs bytes.Buffer
	h.svc.logger = slog.New(slog.NewTextHandler(&logs, nil))
	h.svc.p.Documents = &flakyRepository{DocumentRepository: h.repo, failUpdates: 2}
	ctx := context.Background()

	_, err := h.svc.Upload(ctx, UploadInput{UserID: "user-1", OriginalName: "a.txt", MediaType: "text/plain", Data: []byte(contract)})
	require.Error(t, err)
	assert.Contains(t, logs.String(), "record upload failure failed")
	assert.Contains(t, logs.String(), "database unavailable")

	docs, err := h.svc.List(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, docs, 1)
	_, err = h.blobs.Load(ctx, "user-1", docs[0].ID)
	assert.Error(t, err)
}

func TestDocumentService_UploadValidation(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.Upload(context.Background(), UploadInput{UserID: "../x", OriginalName: "a.txt", Data: []byte("x")})
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = h.svc.Upload(context.Background(), UploadInput{UserID: "user-1", OriginalName: " ", Data: []byte("x")})
	assert.ErrorIs(t, err, ErrInvalidInput)
}
