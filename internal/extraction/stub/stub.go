// Package stub provides a deterministic extraction capability for local
// development when no Vertex AI project is configured.
package stub

import (
	"context"

	"certvault/internal/extraction"
)

// Extractor returns fixed plausible fields for any document.
type Extractor struct{}

// New constructs the stub extractor.
func New() *Extractor {
	return &Extractor{}
}

func (e *Extractor) Analyze(_ context.Context, _ []byte) (*extraction.Result, error) {
	return &extraction.Result{
		Fields: map[string]any{
			"studentName":        "Dev Student",
			"studentId":          "S0000000",
			"certificateType":    "Bachelor Degree",
			"degreeProgram":      "Computer Science",
			"gpa":                3.5,
			"issuingInstitution": "Localhost University",
			"graduationDate":     "2024-06-15",
		},
		Confidence: 0.99,
	}, nil
}
