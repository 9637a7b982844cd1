package cli

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/taipei-doit/vismatch-svc/internal/models"
)

func sampleResponse() *models.MatchResponse {
	return &models.MatchResponse{
		Project:   "animals",
		QueryTime: 12,
		Total:     5,
		Results: []*models.Match{
			{Identifier: "cat.png", Distance: 0.0123, Rank: 1},
			{Identifier: "dog.png", Distance: 0.3456, Rank: 2},
		},
	}
}

func TestWriteMatchResults_JSON(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteMatchResults(&buf, sampleResponse(), OutputJSON); err != nil {
		t.Fatalf("WriteMatchResults(json): %v", err)
	}
	var decoded models.MatchResponse
	if err := json.NewDecoder(&buf).Decode(&decoded); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if decoded.Project != "animals" || len(decoded.Results) != 2 {
		t.Errorf("decoded = %+v", decoded)
	}
	if decoded.Results[0].Identifier != "cat.png" || decoded.Results[0].Rank != 1 {
		t.Errorf("first result = %+v", decoded.Results[0])
	}
}

func TestWriteMatchResults_text(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteMatchResults(&buf, sampleResponse(), OutputText); err != nil {
		t.Fatalf("WriteMatchResults(text): %v", err)
	}
	out := buf.String()
	for _, sub := range []string{"animals", "2 matches out of 5", "12ms", "Rank: 1", "cat.png", "0.345600"} {
		if !strings.Contains(out, sub) {
			t.Errorf("text output missing %q:\n%s", sub, out)
		}
	}
}

func TestWriteMatchResults_textWithImage(t *testing.T) {
	response := sampleResponse()
	response.Results[0].Data = strings.Repeat("QUJD", 100)
	var buf bytes.Buffer
	if err := WriteMatchResults(&buf, response, OutputText); err != nil {
		t.Fatal(err)
	}
	// Image payloads are truncated, never dumped whole.
	if strings.Contains(buf.String(), response.Results[0].Data) {
		t.Error("full base64 payload leaked into text output")
	}
	if !strings.Contains(buf.String(), "...") {
		t.Error("expected truncation marker")
	}
}

func TestWriteMatchResults_unknownFormatTreatedAsText(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteMatchResults(&buf, sampleResponse(), MatchOutputFormat("unknown")); err != nil {
		t.Fatalf("WriteMatchResults(unknown): %v", err)
	}
	if !strings.Contains(buf.String(), "matches") {
		t.Errorf("unknown format should fall back to text; got %q", buf.String())
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		name   string
		s      string
		maxLen int
		want   string
	}{
		{"empty", "", 5, ""},
		{"short", "hi", 5, "hi"},
		{"exact", "hello", 5, "hello"},
		{"long", "hello world", 5, "hello..."},
		{"maxLen zero", "ab", 0, "ab"},
		{"maxLen negative", "ab", -1, "ab"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Truncate(tt.s, tt.maxLen)
			if got != tt.want {
				t.Errorf("Truncate(%q, %d) = %q, want %q", tt.s, tt.maxLen, got, tt.want)
			}
		})
	}
}
