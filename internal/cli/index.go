package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/raphaelgruber/nova-go/internal/service"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var (
	indexForce   bool
	indexRebuild bool
	indexQuiet   bool
)

var indexCmd = &cobra.Command{
	Use:   "index <path>",
	Short: "Index product documents for retrieval",
	Long: `Chunk, tag and embed a document or a directory of documents (.txt, .md)
into the vector store.

Sources already in the store are skipped unless --force is given. Each
source is stored completely or not at all.

Examples:
  nova index ./manuals
  nova index ./manuals/speaker.md --force
  nova index ./manuals --rebuild-index`,
	Args: cobra.ExactArgs(1),
	RunE: runIndex,
}

func init() {
	indexCmd.Flags().BoolVarP(&indexForce, "force", "f", false, "re-index sources that are already stored")
	indexCmd.Flags().BoolVar(&indexRebuild, "rebuild-index", false, "rebuild the vector index after the batch")
	indexCmd.Flags().BoolVarP(&indexQuiet, "quiet", "q", false, "no progress bar")
}

func runIndex(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	svc, err := deps.indexService(ctx)
	if err != nil {
		return err
	}

	run := func(onProgress func(service.IndexProgress)) (*service.IndexReport, error) {
		return svc.IndexPath(ctx, args[0], service.IndexOptions{
			Force:        indexForce,
			RebuildIndex: indexRebuild,
			Progress:     onProgress,
		})
	}

	if !indexQuiet && term.IsTerminal(int(os.Stdout.Fd())) {
		_, err := runIndexProgress(run, cancel)
		return err
	}

	report, err := run(func(p service.IndexProgress) {
		if p.Err != nil {
			logger.Warn("index failed", "file", p.Current, "error", p.Err)
			return
		}
		logger.Debug("indexed", "file", p.Current, "done", p.Done, "total", p.Total)
	})
	fmt.Print(renderReport(defaultTheme, report, err))
	return err
}
