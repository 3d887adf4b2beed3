package admin

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/cloo-solutions/taxbot/internal/config"
	"github.com/spf13/cobra"
)

// IndexCmd builds the corpus once, warming the chunk cache when a database is configured.
func IndexCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Build the corpus once",
		Long:  "Loads the knowledge document, embeds every chunk and stores the result in the chunk cache.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			force, _ := cmd.Flags().GetBool("force")
			outputJSON, _ := cmd.Flags().GetBool("output")
			return runIndex(cmd.Context(), force, outputJSON)
		},
	}

	cmd.Flags().Bool("force", false, "Ignore cached chunks and re-embed the document")
	cmd.Flags().Bool("output", false, "Output as JSON")

	return cmd
}

func runIndex(ctx context.Context, force, outputJSON bool) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logger := newLogger(cfg)

	a, err := setupApp(ctx, cfg, logger, setupOptions{migrate: true})
	if err != nil {
		return err
	}
	defer a.Close()

	build := a.index.Build
	if force {
		build = a.index.Rebuild
	}
	result, err := build(ctx)
	if err != nil {
		return fmt.Errorf("build failed: %w", err)
	}

	out := indexOutput{
		ChunkCount:  result.ChunkCount,
		TotalChunks: result.TotalChunks,
		Skipped:     result.Skipped,
		Source:      string(result.Source),
		Fingerprint: result.Fingerprint,
		DurationMS:  result.Duration.Milliseconds(),
	}
	if doc := a.index.Snapshot().Document; doc != nil {
		out.Origin = doc.Origin
	}

	if outputJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	fmt.Printf("Indexed %d of %d chunks from %s (%s)\n", out.ChunkCount, out.TotalChunks, out.Origin, out.Source)
	return nil
}

type indexOutput struct {
	ChunkCount  int    `json:"chunk_count"`
	TotalChunks int    `json:"total_chunks"`
	Skipped     int    `json:"skipped"`
	Source      string `json:"source"`
	Origin      string `json:"origin"`
	Fingerprint string `json:"fingerprint"`
	DurationMS  int64  `json:"duration_ms"`
}
