package orchestrator

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"certvault/internal/certificate"
	"certvault/internal/extraction"
)

var graduationDateLayouts = []string{
	"2006-01-02",
	"2006/01/02",
	"02.01.2006",
	"January 2, 2006",
	"2 January 2006",
}

// normalizeResult maps the capability's loose key-value output onto the record
// schema. Missing required fields and out-of-range confidence are permanent
// failures: resubmitting the same document would reproduce them.
func normalizeResult(result *extraction.Result) (*certificate.ExtractedFields, error) {
	if result == nil {
		return nil, extraction.Permanent(fmt.Errorf("empty extraction result"))
	}
	if result.Confidence < 0.0 || result.Confidence > 1.0 {
		return nil, extraction.Permanent(fmt.Errorf("confidence %v outside [0.0, 1.0]", result.Confidence))
	}

	fields := &certificate.ExtractedFields{
		StudentName:        stringField(result.Fields, "studentName", "student_name"),
		StudentID:          stringField(result.Fields, "studentId", "student_id"),
		DateOfBirth:        stringField(result.Fields, "dateOfBirth", "date_of_birth"),
		CertificateType:    stringField(result.Fields, "certificateType", "certificate_type"),
		DegreeProgram:      stringField(result.Fields, "degreeProgram", "degree_program"),
		IssuingInstitution: stringField(result.Fields, "issuingInstitution", "issuing_institution"),
		TranscriptNumber:   stringField(result.Fields, "transcriptNumber", "transcript_number"),
	}
	if fields.CertificateType == "" {
		return nil, extraction.Permanent(fmt.Errorf("required field certificateType missing"))
	}
	if fields.IssuingInstitution == "" {
		return nil, extraction.Permanent(fmt.Errorf("required field issuingInstitution missing"))
	}

	if gpa, ok := numberField(result.Fields, "gpa"); ok {
		fields.GPA = &gpa
	}
	if raw := stringField(result.Fields, "graduationDate", "graduation_date"); raw != "" {
		for _, layout := range graduationDateLayouts {
			if parsed, err := time.Parse(layout, raw); err == nil {
				fields.GraduationDate = &parsed
				break
			}
		}
	}
	confidence := result.Confidence
	fields.ConfidenceScore = &confidence
	return fields, nil
}

func stringField(fields map[string]any, keys ...string) string {
	for _, key := range keys {
		switch value := fields[key].(type) {
		case string:
			if trimmed := strings.TrimSpace(value); trimmed != "" {
				return trimmed
			}
		case float64:
			return strconv.FormatFloat(value, 'f', -1, 64)
		}
	}
	return ""
}

func numberField(fields map[string]any, keys ...string) (float64, bool) {
	for _, key := range keys {
		switch value := fields[key].(type) {
		case float64:
			return value, true
		case string:
			if parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64); err == nil {
				return parsed, true
			}
		}
	}
	return 0, false
}
