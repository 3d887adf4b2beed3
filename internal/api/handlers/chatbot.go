package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/cloo-solutions/taxbot/internal/api"
	"github.com/cloo-solutions/taxbot/internal/domain"
	"github.com/cloo-solutions/taxbot/internal/service"
)

type ChatbotService interface {
	Ask(ctx context.Context, input service.AskInput) (*service.AskOutput, error)
	Status() *service.ChatbotStatus
	ProcessDocuments(ctx context.Context) (*service.BuildResult, error)
}

type ChatbotHandler struct {
	svc ChatbotService
}

func NewChatbotHandler(svc ChatbotService) *ChatbotHandler {
	return &ChatbotHandler{svc: svc}
}

// AskRequest is the chat request body. Context is usually a string; any other
// JSON value is passed through as its raw text.
type AskRequest struct {
	Question string          `json:"question"`
	Context  json.RawMessage `json:"context,omitempty"`
}

type AskResponse struct {
	Answer string `json:"answer"`
}

type DebugResponse struct {
	ChunksCount       int    `json:"chunksCount"`
	DocumentLoaded    bool   `json:"documentLoaded"`
	DocumentLength    int    `json:"documentLength"`
	DocumentPreview   string `json:"documentPreview"`
	FirstChunkPreview string `json:"firstChunkPreview"`
	DocumentOrigin    string `json:"documentOrigin,omitempty"`
	CorpusSource      string `json:"corpusSource,omitempty"`
	BuiltAt           string `json:"builtAt,omitempty"`
	Status            string `json:"status"`
}

type ProcessDocumentsResponse struct {
	Success    bool   `json:"success"`
	ChunkCount int    `json:"chunkCount,omitempty"`
	Skipped    int    `json:"skipped,omitempty"`
	Error      string `json:"error,omitempty"`
}

func (h *ChatbotHandler) Ask(w http.ResponseWriter, r *http.Request) {
	var req AskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if strings.TrimSpace(req.Question) == "" {
		api.HandleError(w, domain.ErrQuestionRequired)
		return
	}

	out, err := h.svc.Ask(r.Context(), service.AskInput{
		Question: req.Question,
		Context:  contextText(req.Context),
	})
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.JSON(w, http.StatusOK, AskResponse{Answer: out.Answer})
}

func (h *ChatbotHandler) Debug(w http.ResponseWriter, r *http.Request) {
	status := h.svc.Status()

	resp := DebugResponse{
		ChunksCount:       status.ChunksCount,
		DocumentLoaded:    status.DocumentLoaded,
		DocumentLength:    status.DocumentLength,
		DocumentPreview:   status.DocumentPreview,
		FirstChunkPreview: status.FirstChunkPreview,
		DocumentOrigin:    status.DocumentOrigin,
		CorpusSource:      string(status.Source),
		Status:            "ok",
	}
	if !status.BuiltAt.IsZero() {
		resp.BuiltAt = status.BuiltAt.Format(time.RFC3339)
	}

	api.JSON(w, http.StatusOK, resp)
}

func (h *ChatbotHandler) ProcessDocuments(w http.ResponseWriter, r *http.Request) {
	result, err := h.svc.ProcessDocuments(r.Context())
	if err != nil {
		api.JSON(w, http.StatusInternalServerError, ProcessDocumentsResponse{
			Success: false,
			Error:   api.ErrorMessage(err),
		})
		return
	}

	api.JSON(w, http.StatusOK, ProcessDocumentsResponse{
		Success:    true,
		ChunkCount: result.ChunkCount,
		Skipped:    result.Skipped,
	})
}

func contextText(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}
