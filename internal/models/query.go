// Package models defines core data structures for match queries, results, and ingestion.
package models

import "fmt"

// MatchQuery represents a similarity query against one project.
// Data carries the query image as a base64 string.
type MatchQuery struct {
	Data      string `json:"data"`
	K         int    `json:"k,omitempty"`
	WithImage bool   `json:"with_image,omitempty"` // include base64 image data of matches in the response
}

// Validate ensures the query has valid fields and normalizes K.
// Returns an error if the image data is empty; K falls back to defaultK when
// unset and is capped at maxK.
func (q *MatchQuery) Validate(defaultK, maxK int) error {
	if q.Data == "" {
		return fmt.Errorf("image data cannot be empty")
	}
	if q.K <= 0 {
		q.K = defaultK
	}
	if maxK > 0 && q.K > maxK {
		q.K = maxK
	}
	return nil
}
