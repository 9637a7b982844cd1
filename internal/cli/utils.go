// Package cli provides CLI utilities for vismatch.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/taipei-doit/vismatch-svc/internal/models"
)

// MatchOutputFormat is the format for match result output.
type MatchOutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText MatchOutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON MatchOutputFormat = "json"
)

// WriteMatchResults writes match results to w in the given format.
// Use OutputJSON for parseable output consumable by other apps.
func WriteMatchResults(w io.Writer, response *models.MatchResponse, format MatchOutputFormat) error {
	switch format {
	case OutputJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(response)
	default:
		writeMatchResultsText(w, response)
		return nil
	}
}

func writeMatchResultsText(w io.Writer, response *models.MatchResponse) {
	fmt.Fprintf(w, "\nProject %q: %d matches out of %d images in %dms\n\n",
		response.Project, len(response.Results), response.Total, response.QueryTime)
	for _, result := range response.Results {
		fmt.Fprintf(w, "─────────────────────────────────────────────────────────\n")
		fmt.Fprintf(w, "Rank: %d | Distance: %.6f\n", result.Rank, result.Distance)
		fmt.Fprintf(w, "Identifier: %s\n", result.Identifier)
		if result.Data != "" {
			fmt.Fprintf(w, "Image: %s\n", Truncate(result.Data, 48))
		}
		fmt.Fprintln(w)
	}
}

// PrintMatchResults prints match results to stdout in text format.
func PrintMatchResults(response *models.MatchResponse) {
	_ = WriteMatchResults(os.Stdout, response, OutputText)
}

// Truncate truncates s to maxLen and appends "..." if truncated.
func Truncate(s string, maxLen int) string {
	if maxLen <= 0 || len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
