package admin

import (
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"sort"

	"github.com/cloo-solutions/taxbot/internal/config"
	"github.com/cloo-solutions/taxbot/internal/database"
	"github.com/cloo-solutions/taxbot/internal/domain"
	"github.com/cloo-solutions/taxbot/internal/repository"
	"github.com/cloo-solutions/taxbot/internal/service"
	"github.com/spf13/cobra"
)

// KnowledgeCmd groups commands that manage the knowledge document.
func KnowledgeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "knowledge",
		Short: "Manage the knowledge document",
	}
	cmd.AddCommand(knowledgePushCmd())
	cmd.AddCommand(knowledgeStatusCmd())
	return cmd
}

func knowledgePushCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "push <file>",
		Short: "Upload a knowledge document to S3",
		Long:  "Uploads the file to TAXBOT_KNOWLEDGE_S3_KEY in TAXBOT_S3_BUCKET. Running servers pick it up on their next refresh.",
		Args:  cobra.ExactArgs(1),
		RunE:  runKnowledgePush,
	}
	cmd.Flags().String("key", "", "Object key (overrides TAXBOT_KNOWLEDGE_S3_KEY)")
	return cmd
}

func runKnowledgePush(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if !cfg.HasS3() {
		return fmt.Errorf("S3 is not configured: set TAXBOT_S3_ENDPOINT, TAXBOT_S3_ACCESS_KEY_ID and TAXBOT_S3_SECRET_ACCESS_KEY")
	}

	key, _ := cmd.Flags().GetString("key")
	if key == "" {
		key = cfg.KnowledgeS3Key
	}
	if key == "" {
		return fmt.Errorf("no object key: pass --key or set TAXBOT_KNOWLEDGE_S3_KEY")
	}

	body, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", args[0], err)
	}
	if err := domain.ValidateKnowledgeDocument(&domain.KnowledgeDocument{Text: string(body), Origin: args[0]}); err != nil {
		return err
	}

	client, err := newS3Client(ctx, cfg)
	if err != nil {
		return err
	}
	if err := client.EnsureBucket(ctx); err != nil {
		return fmt.Errorf("failed to ensure S3 bucket: %w", err)
	}

	contentType := mime.TypeByExtension(filepath.Ext(args[0]))
	if contentType == "" {
		contentType = "text/plain; charset=utf-8"
	}

	etag, err := client.PutObject(ctx, key, body, contentType)
	if err != nil {
		return fmt.Errorf("failed to upload knowledge document: %w", err)
	}

	fmt.Printf("Uploaded %s to s3://%s/%s (etag %s)\n", args[0], client.Bucket(), key, etag)
	return nil
}

func knowledgeStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the stored knowledge document and cached corpora",
		Args:  cobra.NoArgs,
		RunE:  runKnowledgeStatus,
	}
}

func runKnowledgeStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if cfg.HasS3Knowledge() {
		client, err := newS3Client(ctx, cfg)
		if err != nil {
			return err
		}
		meta, err := client.HeadObject(ctx, cfg.KnowledgeS3Key)
		if err != nil {
			fmt.Printf("S3 document:  %v\n", err)
		} else {
			fmt.Printf("S3 document:  s3://%s/%s (%d bytes, %s, etag %s)\n",
				client.Bucket(), cfg.KnowledgeS3Key, meta.ContentLength, meta.ContentType, meta.ETag)
		}
	} else {
		fmt.Println("S3 document:  not configured")
	}

	src, err := knowledgeSource(ctx, cfg, newLogger(cfg))
	if err != nil {
		return err
	}
	doc, err := src.Load(ctx)
	if err != nil {
		return fmt.Errorf("no knowledge document available: %w", err)
	}
	fingerprint := service.CorpusFingerprint(doc.Text, service.ChunkConfig{Size: cfg.ChunkSize, Overlap: cfg.ChunkOverlap}, cfg.EmbeddingModel)
	fmt.Printf("Active:       %s (%d chars, fingerprint %.12s)\n", doc.Origin, len([]rune(doc.Text)), fingerprint)

	if !cfg.HasDatabase() {
		fmt.Println("Chunk cache:  not configured")
		return nil
	}

	pool, err := database.NewPool(ctx, database.Config{URL: cfg.DatabaseURL})
	if err != nil {
		return err
	}
	defer pool.Close()

	counts, err := repository.NewCorpusChunkRepository(pool).Fingerprints(ctx)
	if err != nil {
		return fmt.Errorf("failed to read chunk cache: %w", err)
	}
	if len(counts) == 0 {
		fmt.Println("Chunk cache:  empty")
		return nil
	}

	fingerprints := make([]string, 0, len(counts))
	for fp := range counts {
		fingerprints = append(fingerprints, fp)
	}
	sort.Strings(fingerprints)
	for _, fp := range fingerprints {
		marker := ""
		if fp == fingerprint {
			marker = " (active)"
		}
		fmt.Printf("Chunk cache:  %.12s %d chunks%s\n", fp, counts[fp], marker)
	}
	return nil
}
