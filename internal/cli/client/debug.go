package client

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

// DebugResponse mirrors the server's corpus status report.
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

// DebugCmd creates the debug command.
func DebugCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "debug",
		Short: "Show corpus status",
		Long:  "Prints the chunk count, document status and previews reported by the chatbot.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			outputJSON, _ := cmd.Flags().GetBool("output")
			api, err := NewAPIClientWithCmd(cmd)
			if err != nil {
				return err
			}
			return runDebug(cmd.Context(), api, os.Stdout, outputJSON)
		},
	}
	cmd.Annotations = envAnnotations()
	return cmd
}

func runDebug(ctx context.Context, api *APIClient, w io.Writer, outputJSON bool) error {
	var resp DebugResponse
	if err := api.Get(ctx, "/api/chatbot/debug", &resp); err != nil {
		return fmt.Errorf("debug failed: %w", err)
	}

	if outputJSON {
		return printJSON(w, resp)
	}

	fmt.Fprintf(w, "Chunks:          %d\n", resp.ChunksCount)
	fmt.Fprintf(w, "Document loaded: %t (%d chars)\n", resp.DocumentLoaded, resp.DocumentLength)
	if resp.DocumentOrigin != "" {
		fmt.Fprintf(w, "Origin:          %s\n", resp.DocumentOrigin)
	}
	if resp.CorpusSource != "" {
		fmt.Fprintf(w, "Embeddings from: %s\n", resp.CorpusSource)
	}
	if resp.BuiltAt != "" {
		fmt.Fprintf(w, "Built at:        %s\n", resp.BuiltAt)
	}
	fmt.Fprintf(w, "First chunk:     %s\n", resp.FirstChunkPreview)
	return nil
}
