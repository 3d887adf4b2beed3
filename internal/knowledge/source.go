// Package knowledge loads the support document the chatbot answers from.
package knowledge

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/cloo-solutions/taxbot/internal/domain"
	"github.com/cloo-solutions/taxbot/internal/storage"
)

// ErrNoSource means none of the configured sources produced a document.
var ErrNoSource = errors.New("no knowledge source available")

//go:embed default_faq.md
var defaultFAQ string

// Source loads the current knowledge document.
type Source interface {
	Load(ctx context.Context) (*domain.KnowledgeDocument, error)
}

// FileSource reads the first existing file among its candidate paths.
type FileSource struct {
	paths []string
}

func NewFileSource(paths ...string) *FileSource {
	return &FileSource{paths: paths}
}

// Paths returns the candidate paths in lookup order.
func (s *FileSource) Paths() []string {
	return s.paths
}

func (s *FileSource) Load(ctx context.Context) (*domain.KnowledgeDocument, error) {
	var errs []error
	for _, path := range s.paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		info, err := os.Stat(path)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if info.IsDir() {
			errs = append(errs, fmt.Errorf("%s is a directory", path))
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if strings.TrimSpace(string(data)) == "" {
			errs = append(errs, fmt.Errorf("%s is empty", path))
			continue
		}

		version := fmt.Sprintf("%d-%d", info.ModTime().UnixNano(), info.Size())
		return domain.NewKnowledgeDocument(string(data), path, version), nil
	}
	return nil, noSourceError(errs)
}

// ObjectGetter downloads an object body.
type ObjectGetter interface {
	GetObject(ctx context.Context, key string) (*storage.Object, error)
	Bucket() string
}

// S3Source reads the document from an object in a bucket.
type S3Source struct {
	store ObjectGetter
	key   string
}

func NewS3Source(store ObjectGetter, key string) *S3Source {
	return &S3Source{store: store, key: key}
}

func (s *S3Source) Load(ctx context.Context) (*domain.KnowledgeDocument, error) {
	obj, err := s.store.GetObject(ctx, s.key)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(string(obj.Body)) == "" {
		return nil, fmt.Errorf("s3://%s/%s is empty", s.store.Bucket(), s.key)
	}
	origin := fmt.Sprintf("s3://%s/%s", s.store.Bucket(), s.key)
	return domain.NewKnowledgeDocument(string(obj.Body), origin, obj.ETag), nil
}

// EmbeddedSource serves the built-in TaxFile Help & FAQ document.
type EmbeddedSource struct{}

func NewEmbeddedSource() *EmbeddedSource {
	return &EmbeddedSource{}
}

func (EmbeddedSource) Load(context.Context) (*domain.KnowledgeDocument, error) {
	return domain.NewKnowledgeDocument(defaultFAQ, "embedded:default_faq.md", "embedded"), nil
}

// DefaultDocument returns the built-in FAQ text.
func DefaultDocument() string {
	return defaultFAQ
}

// ChainSource returns the document of the first source that succeeds.
type ChainSource struct {
	sources []Source
	logger  *slog.Logger
}

func NewChainSource(logger *slog.Logger, sources ...Source) *ChainSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChainSource{sources: sources, logger: logger.With("component", "knowledge")}
}

func (s *ChainSource) Load(ctx context.Context) (*domain.KnowledgeDocument, error) {
	var errs []error
	for _, src := range s.sources {
		doc, err := src.Load(ctx)
		if err == nil {
			s.logger.Info("loaded knowledge document", "origin", doc.Origin, "length", len(doc.Text))
			return doc, nil
		}
		s.logger.Warn("knowledge source unavailable", "source", fmt.Sprintf("%T", src), "error", err)
		errs = append(errs, err)
	}
	return nil, noSourceError(errs)
}

func noSourceError(errs []error) error {
	if len(errs) == 0 {
		return ErrNoSource
	}
	return fmt.Errorf("%w: %w", ErrNoSource, errors.Join(errs...))
}
