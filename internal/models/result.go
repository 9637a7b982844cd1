package models

// Match represents a single similarity hit. Distance is the configured metric
// score where smaller means more similar; Rank starts at 1 for the best match.
type Match struct {
	Identifier string  `json:"identifier"`
	Distance   float64 `json:"distance"`
	Rank       int     `json:"rank"`
	// Data holds the matched image as base64 when the query asked for it.
	Data string `json:"data,omitempty"`
}

// MatchResponse is the response for a similarity query.
type MatchResponse struct {
	Project   string   `json:"project"`
	Results   []*Match `json:"results"`
	Total     int      `json:"total"`
	QueryTime int64    `json:"query_time_ms"`
}

// ProjectInfo describes one project for listing and diagnostics.
// Records is the in-memory index size; Loaded reports whether the project
// currently has a live index (a project on disk may not be loaded yet).
type ProjectInfo struct {
	Name    string `json:"name"`
	Records int    `json:"records"`
	Loaded  bool   `json:"loaded"`
}
