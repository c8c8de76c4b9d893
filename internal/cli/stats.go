package cli

import (
	"fmt"
	"io"
	"maps"
	"slices"

	"github.com/raphaelgruber/nova-go/internal/metrics"
)

// printStats displays the in-memory runtime statistics.
func printStats(w io.Writer, s metrics.Snapshot) {
	fmt.Fprintf(w, "Statistics (since start)\n")
	fmt.Fprintf(w, "═══════════════════════════════════════\n")
	fmt.Fprintf(w, "Uptime: %.1f seconds\n", s.UptimeSeconds)

	ops := []struct {
		name string
		op   *metrics.OperationSnapshot
	}{
		{"LLM Generate", s.LLMGenerate},
		{"Embeddings", s.Embedding},
		{"Vector Search", s.VectorSearch},
		{"Query Execution", s.QueryExec},
		{"Chat Store", s.ChatStore},
	}
	for _, o := range ops {
		if o.op == nil {
			continue
		}
		fmt.Fprintf(w, "\n%s:\n", o.name)
		printOpStats(w, o.op)
		printTokenStats(w, o.op)
	}

	if len(s.Stages) > 0 {
		fmt.Fprintf(w, "\nPipeline stages:\n")
		for _, name := range slices.Sorted(maps.Keys(s.Stages)) {
			if op := s.Stages[name]; op != nil {
				fmt.Fprintf(w, "  %-12s avg %.1fms over %d calls\n", name, op.AvgTimeMs, op.Count)
			}
		}
	}

	printCounts(w, "Decisions", s.Decisions)
	printCounts(w, "Query attempts", s.QueryAttempts)
	printCounts(w, "Query cycles", s.QueryCycles)
	if s.ChunksIndexed > 0 {
		fmt.Fprintf(w, "\nChunks indexed: %d\n", s.ChunksIndexed)
	}
}

func printCounts(w io.Writer, title string, counts map[string]int64) {
	if len(counts) == 0 {
		return
	}
	fmt.Fprintf(w, "\n%s:\n", title)
	for _, k := range slices.Sorted(maps.Keys(counts)) {
		fmt.Fprintf(w, "  %-18s %d\n", k, counts[k])
	}
}

// printOpStats displays timing statistics for an operation.
func printOpStats(w io.Writer, op *metrics.OperationSnapshot) {
	fmt.Fprintf(w, "  Calls: %d, Total: %dms\n", op.Count, op.TotalTimeMs)
	fmt.Fprintf(w, "  Time: avg %.1fms, min %dms, max %dms\n",
		op.AvgTimeMs, op.MinTimeMs, op.MaxTimeMs)
}

// printTokenStats displays token statistics if available.
func printTokenStats(w io.Writer, op *metrics.OperationSnapshot) {
	if op.TotalInputTokens == nil || op.TotalOutputTokens == nil {
		return
	}
	fmt.Fprintf(w, "  Tokens In:  %d total", *op.TotalInputTokens)
	if op.AvgInputTokens != nil {
		fmt.Fprintf(w, ", avg %.0f", *op.AvgInputTokens)
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "  Tokens Out: %d total", *op.TotalOutputTokens)
	if op.AvgOutputTokens != nil {
		fmt.Fprintf(w, ", avg %.0f", *op.AvgOutputTokens)
	}
	fmt.Fprintln(w)
}
