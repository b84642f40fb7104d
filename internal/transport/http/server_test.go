package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	stdhttp "net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gopherai-docqa/internal/bootstrap"
	"gopherai-docqa/internal/config"
	"gopherai-docqa/internal/model"
	"gopherai-docqa/internal/pkg/jwtutil"
	"gopherai-docqa/internal/transport/http/response"
)

const contractText = `Service Agreement between Acme Corp and Beta LLC.

Acme Corp will provide software maintenance to Beta LLC for twelve months.
The client must pay a total fee of $12,000 in monthly installments.
The final report deadline is April 5, 2024 and late delivery incurs a penalty.`

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type testServer struct {
	router *gin.Engine
	token  string
}

func newTestServer(t *testing.T, mutate func(*config.Config)) *testServer {
	t.Helper()
	cfg := config.Default()
	cfg.App.GinMode = gin.TestMode
	cfg.Storage.RootDir = t.TempDir()
	cfg.LLM.Offline = true
	if mutate != nil {
		mutate(cfg)
	}
	a, err := bootstrap.Build(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	token, err := jwtutil.GenerateToken(cfg.Auth.JWTSecret, "user-1", "alice", time.Hour)
	require.NoError(t, err)
	return &testServer{router: NewRouter(a), token: token}
}

func (s *testServer) do(t *testing.T, method, path string, body io.Reader, contentType string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Authorization", "Bearer "+s.token)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	var env envelope
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	}
	return rec, env
}

func (s *testServer) upload(t *testing.T, name string, data []byte) (*httptest.ResponseRecorder, model.Document) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", name)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	rec, env := s.do(t, stdhttp.MethodPost, "/api/v1/documents", &buf, mw.FormDataContentType())
	var doc model.Document
	if rec.Code == stdhttp.StatusAccepted {
		require.NoError(t, json.Unmarshal(env.Data, &doc))
	}
	return rec, doc
}

func (s *testServer) waitForStatus(t *testing.T, docID string, want model.DocumentStatus) {
	t.Helper()
	require.Eventually(t, func() bool {
		rec, env := s.do(t, stdhttp.MethodGet, "/api/v1/documents/"+docID, nil, "")
		if rec.Code != stdhttp.StatusOK {
			return false
		}
		var doc model.Document
		return json.Unmarshal(env.Data, &doc) == nil && doc.Status == want
	}, 5*time.Second, 20*time.Millisecond)
}

func TestRouter_DocumentLifecycle(t *testing.T) {
	s := newTestServer(t, nil)

	rec, doc := s.upload(t, "contract.txt", []byte(contractText))
	require.Equal(t, stdhttp.StatusAccepted, rec.Code)
	assert.Equal(t, model.StatusProcessing, doc.Status)
	assert.Equal(t, "text/plain", doc.MediaType)

	s.waitForStatus(t, doc.ID, model.StatusCompleted)

	rec, env := s.do(t, stdhttp.MethodGet, "/api/v1/documents", nil, "")
	require.Equal(t, stdhttp.StatusOK, rec.Code)
	var docs []model.Document
	require.NoError(t, json.Unmarshal(env.Data, &docs))
	require.Len(t, docs, 1)

	rec, env = s.do(t, stdhttp.MethodGet, "/api/v1/documents/"+doc.ID+"/content", nil, "")
	require.Equal(t, stdhttp.StatusOK, rec.Code)
	assert.Contains(t, string(env.Data), "Service Agreement")

	rec, env = s.do(t, stdhttp.MethodGet, "/api/v1/documents/"+doc.ID+"/summary?refresh=true", nil, "")
	require.Equal(t, stdhttp.StatusOK, rec.Code)
	var summary struct {
		Summary string `json:"summary"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &summary))
	assert.NotEmpty(t, summary.Summary)

	rec, env = s.do(t, stdhttp.MethodPost, "/api/v1/documents/"+doc.ID+"/ask",
		strings.NewReader(`{"question":"What is the deadline for the final report?"}`), "application/json")
	require.Equal(t, stdhttp.StatusOK, rec.Code)
	var answer struct {
		Answer string `json:"answer"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &answer))
	assert.Contains(t, answer.Answer, "April 5, 2024")

	rec, _ = s.do(t, stdhttp.MethodDelete, "/api/v1/documents/"+doc.ID, nil, "")
	require.Equal(t, stdhttp.StatusOK, rec.Code)
	rec, _ = s.do(t, stdhttp.MethodGet, "/api/v1/documents/"+doc.ID, nil, "")
	assert.Equal(t, stdhttp.StatusNotFound, rec.Code)
}

func TestRouter_FailedDocumentReportsReason(t *testing.T) {
	s := newTestServer(t, nil)

	rec, doc := s.upload(t, "empty.txt", nil)
	require.Equal(t, stdhttp.StatusAccepted, rec.Code)
	s.waitForStatus(t, doc.ID, model.StatusError)

	rec, env := s.do(t, stdhttp.MethodGet, "/api/v1/documents/"+doc.ID+"/summary", nil, "")
	assert.Equal(t, stdhttp.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, env.Message, "empty")
}

func TestRouter_RequestErrors(t *testing.T) {
	s := newTestServer(t, func(cfg *config.Config) { cfg.App.MaxUploadMB = 1 })

	rec, _ := s.upload(t, "big.txt", bytes.Repeat([]byte("a"), 2<<20))
	assert.Equal(t, stdhttp.StatusRequestEntityTooLarge, rec.Code)

	rec, _ = s.do(t, stdhttp.MethodGet, "/api/v1/documents/missing-doc", nil, "")
	assert.Equal(t, stdhttp.StatusNotFound, rec.Code)

	rec, _ = s.do(t, stdhttp.MethodGet, "/api/v1/documents/missing-doc/summary?refresh=maybe", nil, "")
	assert.Equal(t, stdhttp.StatusBadRequest, rec.Code)

	rec, _ = s.do(t, stdhttp.MethodPost, "/api/v1/documents/missing-doc/ask", strings.NewReader(`{}`), "application/json")
	assert.Equal(t, stdhttp.StatusBadRequest, rec.Code)

	rec, _ = s.do(t, stdhttp.MethodPost, "/api/v1/documents", strings.NewReader(""), "multipart/form-data; boundary=x")
	assert.Equal(t, stdhttp.StatusBadRequest, rec.Code)
}

func TestRouter_RejectsUnreadableUnknownType(t *testing.T) {
	s := newTestServer(t, nil)

	rec, _ := s.upload(t, "photo.png", []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a, 0x00, 0xff})
	assert.Equal(t, stdhttp.StatusBadRequest, rec.Code)
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.Equal(t, response.CodeUnsupportedFile, env.Code)

	rec, _ = s.do(t, stdhttp.MethodGet, "/api/v1/documents", nil, "")
	require.Equal(t, stdhttp.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "photo.png", "rejected uploads create no document")

	rec, doc := s.upload(t, "notes.log", []byte("Plain notes about the renewal clause."))
	require.Equal(t, stdhttp.StatusAccepted, rec.Code, "readable text of an unknown type is still accepted")
	s.waitForStatus(t, doc.ID, model.StatusCompleted)
}

func TestRouter_RequiresBearerToken(t *testing.T) {
	s := newTestServer(t, nil)
	req := httptest.NewRequest(stdhttp.MethodGet, "/api/v1/documents", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, stdhttp.StatusUnauthorized, rec.Code)

	s.token = "not-a-token"
	rec, _ = s.do(t, stdhttp.MethodGet, "/api/v1/documents", nil, "")
	assert.Equal(t, stdhttp.StatusUnauthorized, rec.Code)
}

func TestRouter_HealthAndMetrics(t *testing.T) {
	s := newTestServer(t, nil)

	rec, doc := s.upload(t, "contract.txt", []byte(contractText))
	require.Equal(t, stdhttp.StatusAccepted, rec.Code)
	s.waitForStatus(t, doc.ID, model.StatusCompleted)

	req := httptest.NewRequest(stdhttp.MethodGet, "/healthz", nil)
	rec = httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, stdhttp.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"rabbitmq":{"ok":true,"enabled":false}`)

	req = httptest.NewRequest(stdhttp.MethodGet, "/metrics", nil)
	rec = httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, stdhttp.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `docqa_documents_processed_total{status="completed"} 1`)
}
