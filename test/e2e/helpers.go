//go:build e2e

package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cloo-solutions/taxbot/internal/api/handlers"
	"github.com/cloo-solutions/taxbot/internal/knowledge"
	"github.com/cloo-solutions/taxbot/internal/metrics"
	"github.com/cloo-solutions/taxbot/internal/openai"
	"github.com/cloo-solutions/taxbot/internal/repository"
	"github.com/cloo-solutions/taxbot/internal/server"
	"github.com/cloo-solutions/taxbot/internal/service"
	"github.com/cloo-solutions/taxbot/internal/storage"
	"github.com/cloo-solutions/taxbot/internal/testutil"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	knowledgeKey = "knowledge/website_doc.txt"
	adminToken   = "e2e-admin-token"
)

// knowledgeDoc has one topic per sentence so each keyword lands in its own chunks.
const knowledgeDoc = "Refund requests are processed within 30 days of filing. " +
	"GST returns are filed from the GST tab before the 20th of each month. " +
	"Invoices can be downloaded as PDF from the invoice history page. " +
	"To reset your password use the Forgot password link on the login screen."

// E2ETestEnv holds all resources needed for E2E tests
type E2ETestEnv struct {
	T         *testing.T
	Ctx       context.Context
	PostgresC *testutil.PostgresContainer
	RustFSC   *testutil.RustFSContainer
	Pool      *pgxpool.Pool
	S3Client  *storage.S3Client
	Provider  *FakeProvider
	Logger    *slog.Logger

	ServerURL    string
	ServerCloser func()
	Index        *service.CorpusIndex
	BinaryDir    string
	HTTPClient   *http.Client
}

// SetupE2EEnv starts Postgres and RustFS, uploads the knowledge document and
// serves the full router against a fake provider.
func SetupE2EEnv(t *testing.T) *E2ETestEnv {
	ctx := context.Background()

	pgC := testutil.NewPostgresContainer(ctx, t)
	s3C := testutil.NewRustFSContainer(ctx, t)
	pool := testutil.NewTestPool(ctx, t, pgC)

	s3Client, err := storage.NewS3Client(ctx, storage.S3ClientConfig{
		Endpoint:        s3C.Endpoint(),
		Region:          "us-east-1",
		AccessKeyID:     s3C.AccessKey,
		SecretAccessKey: s3C.SecretKey,
		Bucket:          "taxbot-knowledge",
		UsePathStyle:    true,
	})
	if err != nil {
		t.Fatalf("failed to create S3 client: %v", err)
	}
	if err := s3Client.EnsureBucket(ctx); err != nil {
		t.Fatalf("failed to create bucket: %v", err)
	}
	if _, err := s3Client.PutObject(ctx, knowledgeKey, []byte(knowledgeDoc), "text/plain"); err != nil {
		t.Fatalf("failed to upload knowledge document: %v", err)
	}

	env := &E2ETestEnv{
		T:          t,
		Ctx:        ctx,
		PostgresC:  pgC,
		RustFSC:    s3C,
		Pool:       pool,
		S3Client:   s3Client,
		Provider:   NewFakeProvider(),
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
	env.StartServer()
	return env
}

// StartServer wires a fresh pipeline, as a restarted process would, and
// serves it. Any previous server is closed first.
func (e *E2ETestEnv) StartServer() {
	if e.ServerCloser != nil {
		e.ServerCloser()
	}

	client := openai.NewClientWithConfig(openai.Config{
		APIKey:  "test-key",
		BaseURL: e.Provider.URL() + "/v1",
	})
	m := metrics.New()

	source := knowledge.NewChainSource(e.Logger,
		knowledge.NewS3Source(e.S3Client, knowledgeKey),
		knowledge.NewEmbeddedSource(),
	)
	e.Index = service.NewCorpusIndexWithCache(source, client, repository.NewCorpusChunkRepository(e.Pool), service.CorpusConfig{
		Chunk:          service.ChunkConfig{Size: 80, Overlap: 10},
		Concurrency:    2,
		EmbedTimeout:   5 * time.Second,
		EmbeddingModel: "fake-embedding",
	}, e.Logger).WithMetrics(m)

	retriever := service.NewRetriever(e.Index, client, service.RetrieverConfig{TopK: 2}, e.Logger).WithMetrics(m)
	generator := service.NewAnswerGenerator(client, service.DefaultGeneratorConfig(), e.Logger).WithMetrics(m)
	chatbot := service.NewChatbotService(e.Index, retriever, generator, service.ChatbotConfig{TopK: 2}, e.Logger).WithMetrics(m)

	srv := httptest.NewServer(server.NewRouter(server.RouterConfig{
		ChatbotHandler: handlers.NewChatbotHandler(chatbot),
		AdminToken:     adminToken,
		MetricsHandler: m.Handler(),
		Logger:         e.Logger,
	}))
	e.ServerURL = srv.URL
	e.ServerCloser = srv.Close
}

// Cleanup releases all resources
func (e *E2ETestEnv) Cleanup() {
	if e.ServerCloser != nil {
		e.ServerCloser()
	}
	e.Provider.Close()
	if e.Pool != nil {
		e.Pool.Close()
	}
	if e.RustFSC != nil {
		e.RustFSC.Terminate(e.Ctx)
	}
	if e.PostgresC != nil {
		e.PostgresC.Terminate(e.Ctx)
	}
	if e.BinaryDir != "" {
		os.RemoveAll(e.BinaryDir)
	}
}

// BuildBinaries builds the taxbot client binary
func (e *E2ETestEnv) BuildBinaries() {
	tmpDir, err := os.MkdirTemp("", "taxbot-e2e-*")
	if err != nil {
		e.T.Fatalf("failed to create temp dir: %v", err)
	}
	e.BinaryDir = tmpDir

	cmd := exec.Command("go", "build", "-o", filepath.Join(tmpDir, "taxbot"), "./cmd/taxbot")
	cmd.Dir = "../.."
	if out, err := cmd.CombinedOutput(); err != nil {
		e.T.Fatalf("failed to build taxbot: %v\n%s", err, out)
	}
}

// RunTaxbot runs the taxbot CLI against the test server
func (e *E2ETestEnv) RunTaxbot(args ...string) (string, error) {
	cmd := exec.Command(filepath.Join(e.BinaryDir, "taxbot"), args...)
	cmd.Env = append(os.Environ(),
		fmt.Sprintf("TAXBOT_API_URL=%s", e.ServerURL),
		fmt.Sprintf("TAXBOT_ADMIN_TOKEN=%s", adminToken),
	)
	out, err := cmd.CombinedOutput()
	return string(out), err
}

// Response is a decoded JSON reply with its status code.
type Response struct {
	StatusCode int
	Body       map[string]any
}

func (e *E2ETestEnv) Get(path, token string) (*Response, error) {
	return e.doRequest(http.MethodGet, path, nil, token)
}

func (e *E2ETestEnv) Post(path string, body any, token string) (*Response, error) {
	return e.doRequest(http.MethodPost, path, body, token)
}

func (e *E2ETestEnv) doRequest(method, path string, body any, token string) (*Response, error) {
	var reqBody io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal body: %w", err)
		}
		reqBody = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(e.Ctx, method, e.ServerURL+path, reqBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := e.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	out := &Response{StatusCode: resp.StatusCode}
	if err := json.NewDecoder(resp.Body).Decode(&out.Body); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return out, nil
}

// FakeProvider serves the OpenAI embeddings and chat completion endpoints.
// Embeddings count keyword hits so similarity follows topic overlap.
type FakeProvider struct {
	server *httptest.Server

	embedCalls atomic.Int32
	chatCalls  atomic.Int32
	failEmbed  atomic.Bool

	mu         sync.Mutex
	lastPrompt string
}

var fakeVocabulary = []string{"refund", "gst", "invoice", "password"}

func NewFakeProvider() *FakeProvider {
	p := &FakeProvider{}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/embeddings", p.embeddings)
	mux.HandleFunc("POST /v1/chat/completions", p.chat)
	p.server = httptest.NewServer(mux)
	return p
}

func (p *FakeProvider) URL() string { return p.server.URL }

func (p *FakeProvider) Close() { p.server.Close() }

func (p *FakeProvider) EmbedCalls() int { return int(p.embedCalls.Load()) }

func (p *FakeProvider) ChatCalls() int { return int(p.chatCalls.Load()) }

// SetEmbeddingsFailing makes every embeddings request return 500.
func (p *FakeProvider) SetEmbeddingsFailing(fail bool) { p.failEmbed.Store(fail) }

func (p *FakeProvider) LastPrompt() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastPrompt
}

func (p *FakeProvider) embeddings(w http.ResponseWriter, r *http.Request) {
	p.embedCalls.Add(1)
	if p.failEmbed.Load() {
		http.Error(w, `{"error":{"message":"embedding backend down","type":"server_error"}}`, http.StatusInternalServerError)
		return
	}

	var req struct {
		Input []string `json:"input"`
		Model string   `json:"model"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	data := make([]map[string]any, 0, len(req.Input))
	for i, text := range req.Input {
		data = append(data, map[string]any{
			"object":    "embedding",
			"index":     i,
			"embedding": keywordVector(text),
		})
	}

	writeJSON(w, map[string]any{
		"object": "list",
		"data":   data,
		"model":  req.Model,
		"usage":  map[string]int{"prompt_tokens": 1, "total_tokens": 1},
	})
}

func (p *FakeProvider) chat(w http.ResponseWriter, r *http.Request) {
	p.chatCalls.Add(1)

	var req struct {
		Messages []struct {
			Content string `json:"content"`
		} `json:"messages"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Messages) == 0 {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	prompt := req.Messages[len(req.Messages)-1].Content

	p.mu.Lock()
	p.lastPrompt = prompt
	p.mu.Unlock()

	answer := "I don't have that information."
	if strings.Contains(prompt, "within 30 days") {
		answer = "Refunds are processed within 30 days."
	}

	writeJSON(w, map[string]any{
		"id":      "chatcmpl-e2e",
		"object":  "chat.completion",
		"created": time.Now().Unix(),
		"model":   "fake-chat",
		"choices": []map[string]any{{
			"index":         0,
			"message":       map[string]string{"role": "assistant", "content": answer},
			"finish_reason": "stop",
		}},
	})
}

func keywordVector(text string) []float32 {
	lower := strings.ToLower(text)
	vec := make([]float32, len(fakeVocabulary)+1)
	for i, word := range fakeVocabulary {
		vec[i] = float32(strings.Count(lower, word))
	}
	vec[len(fakeVocabulary)] = 0.1
	return vec
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
