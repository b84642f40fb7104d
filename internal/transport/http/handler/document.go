package handler

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/gin-gonic/gin"

	"gopherai-docqa/internal/app"
	"gopherai-docqa/internal/extract"
	"gopherai-docqa/internal/model"
	"gopherai-docqa/internal/transport/http/middleware"
	"gopherai-docqa/internal/transport/http/response"
)

type DocumentHandler struct {
	documents      *app.DocumentService
	extractor      *extract.Extractor
	maxUploadBytes int64
}

type AskRequest struct {
	Question string `json:"question" binding:"required"`
}

type ContentResponse struct {
	DocumentID string `json:"document_id"`
	Content    string `json:"content"`
}

type SummaryResponse struct {
	DocumentID string `json:"document_id"`
	Summary    string `json:"summary"`
}

type AnswerResponse struct {
	DocumentID string `json:"document_id"`
	Question   string `json:"question"`
	Answer     string `json:"answer"`
}

func NewDocumentHandler(documents *app.DocumentService, maxUploadBytes int64) *DocumentHandler {
	return &DocumentHandler{documents: documents, extractor: extract.New(), maxUploadBytes: maxUploadBytes}
}

// Upload accepts a multipart form with "file" and schedules processing.
func (h *DocumentHandler) Upload(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}

	file, err := c.FormFile("file")
	if err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "missing file")
		return
	}
	if file.Size > h.maxUploadBytes {
		response.Error(c, http.StatusRequestEntityTooLarge, response.CodeFileTooLarge,
			fmt.Sprintf("file too large (max %d MB)", h.maxUploadBytes>>20))
		return
	}

	f, err := file.Open()
	if err != nil {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "failed to read file")
		return
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, h.maxUploadBytes+1))
	if err != nil {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "failed to read file")
		return
	}
	if int64(len(data)) > h.maxUploadBytes {
		response.Error(c, http.StatusRequestEntityTooLarge, response.CodeFileTooLarge, "file too large")
		return
	}

	// Unknown types are decoded as text later; binary content of an
	// unknown type can never be read.
	mediaType := uploadMediaType(file.Header.Get("Content-Type"), file.Filename)
	if !h.extractor.Supported(mediaType) && len(data) > 0 && !utf8.Valid(data) {
		response.Error(c, http.StatusBadRequest, response.CodeUnsupportedFile, "unsupported file type")
		return
	}

	doc, err := h.documents.Upload(c.Request.Context(), app.UploadInput{
		UserID:       userID,
		OriginalName: file.Filename,
		MediaType:    mediaType,
		Data:         data,
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	response.Accepted(c, doc)
}

func (h *DocumentHandler) List(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}
	docs, err := h.documents.List(c.Request.Context(), userID)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	if docs == nil {
		docs = []model.Document{}
	}
	response.OK(c, docs)
}

func (h *DocumentHandler) Get(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}
	doc, err := h.documents.Get(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	response.OK(c, doc)
}

func (h *DocumentHandler) Content(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}
	docID := c.Param("id")
	text, err := h.documents.GetContent(c.Request.Context(), userID, docID)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	response.OK(c, ContentResponse{DocumentID: docID, Content: text})
}

func (h *DocumentHandler) Summary(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}
	refresh, err := strconv.ParseBool(c.DefaultQuery("refresh", "false"))
	if err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid refresh flag")
		return
	}
	docID := c.Param("id")
	summary, err := h.documents.GetSummary(c.Request.Context(), userID, docID, userID, refresh)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	response.OK(c, SummaryResponse{DocumentID: docID, Summary: summary})
}

func (h *DocumentHandler) Ask(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}
	var req AskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}
	docID := c.Param("id")
	answer, err := h.documents.Ask(c.Request.Context(), userID, docID, req.Question)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	response.OK(c, AnswerResponse{DocumentID: docID, Question: req.Question, Answer: answer})
}

func (h *DocumentHandler) Delete(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}
	docID := c.Param("id")
	if err := h.documents.Delete(c.Request.Context(), userID, docID); err != nil {
		writeServiceError(c, err)
		return
	}
	response.OK(c, gin.H{"deleted_document_id": docID})
}

func writeServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, app.ErrInvalidInput):
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
	case errors.Is(err, app.ErrDocumentNotFound):
		response.Error(c, http.StatusNotFound, response.CodeDocumentNotFound, err.Error())
	case errors.Is(err, app.ErrContentNotFound):
		response.Error(c, http.StatusNotFound, response.CodeContentNotFound, err.Error())
	case errors.Is(err, app.ErrDocumentProcessing):
		response.ErrorWithData(c, http.StatusConflict, response.CodeDocumentProcessing, err.Error(),
			gin.H{"status": model.StatusProcessing})
	case errors.Is(err, app.ErrDocumentFailed):
		response.ErrorWithData(c, http.StatusUnprocessableEntity, response.CodeDocumentFailed, err.Error(),
			gin.H{"status": model.StatusError})
	default:
		_ = c.Error(err)
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "internal error")
	}
}

// uploadMediaType prefers the declared part type and falls back to the file
// extension when the client sent none or a generic one.
func uploadMediaType(declared, filename string) string {
	declared = strings.TrimSpace(declared)
	if declared != "" && !strings.HasPrefix(declared, "application/octet-stream") {
		return declared
	}
	if guessed := extract.MediaTypeFromName(filename); guessed != "" {
		return guessed
	}
	return declared
}
