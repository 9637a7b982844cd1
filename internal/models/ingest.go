package models

import "fmt"

// IngestRequest is the input for uploading an image into a project.
// Data carries the image bytes as a base64 string. Identifier is optional;
// when empty the service assigns a generated one.
type IngestRequest struct {
	Identifier string `json:"identifier,omitempty"`
	Data       string `json:"data"`
}

// Validate ensures the request carries image data.
func (r *IngestRequest) Validate() error {
	if r.Data == "" {
		return fmt.Errorf("image data cannot be empty")
	}
	return nil
}

// IngestResponse reports a stored image.
type IngestResponse struct {
	Project    string `json:"project"`
	Identifier string `json:"identifier"`
	Records    int    `json:"records"`
}
