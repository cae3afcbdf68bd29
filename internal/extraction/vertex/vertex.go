// Package vertex implements the extraction capability with a Vertex AI
// generative model in JSON-output mode.
package vertex

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/vertexai/genai"

	"certvault/internal/extraction"
)

const systemPrompt = "You are a document parser for scanned academic certificates and transcripts. " +
	"You extract structured metadata and respond only with a single valid JSON object."

const userPrompt = `Extract the following fields from the attached certificate document and return them as a JSON object:

{
  "studentName": "full name of the student",
  "studentId": "student or matriculation number",
  "dateOfBirth": "date of birth as printed",
  "certificateType": "e.g. Bachelor Degree, Master Degree, Transcript, Diploma",
  "degreeProgram": "name of the degree program",
  "gpa": "grade point average as a number",
  "issuingInstitution": "name of the issuing university or school",
  "graduationDate": "graduation date in YYYY-MM-DD form if possible",
  "transcriptNumber": "certificate or transcript serial number",
  "confidence": "your overall extraction confidence between 0.0 and 1.0"
}

Omit any key you cannot find in the document. Do not invent values. Return ONLY the JSON object with no surrounding text or code fences.`

// Client holds the pre-configured generative model for certificate parsing.
type Client struct {
	model      *genai.GenerativeModel
	baseClient *genai.Client
}

// New creates a Vertex AI-backed extractor for the given project and region.
func New(ctx context.Context, projectID, region, modelName string) (*Client, error) {
	if projectID == "" || region == "" {
		return nil, fmt.Errorf("vertex.New: projectID and region cannot be empty")
	}
	baseClient, err := genai.NewClient(ctx, projectID, region)
	if err != nil {
		return nil, fmt.Errorf("genai.NewClient: %w", err)
	}

	model := baseClient.GenerativeModel(modelName)
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(systemPrompt)},
	}
	model.GenerationConfig = genai.GenerationConfig{
		// Force JSON output; the normalizer depends on it.
		ResponseMIMEType: "application/json",
		Temperature:      genai.Ptr[float32](0.0),
	}

	return &Client{model: model, baseClient: baseClient}, nil
}

// Analyze sends the document to the model and decodes its JSON response.
// Transport and quota errors surface as-is (transient); an unparseable or
// empty model response is permanent because resending the same bytes will
// reproduce it.
func (c *Client) Analyze(ctx context.Context, document []byte) (*extraction.Result, error) {
	resp, err := c.model.GenerateContent(ctx,
		genai.Blob{MIMEType: "application/pdf", Data: document},
		genai.Text(userPrompt),
	)
	if err != nil {
		return nil, fmt.Errorf("generate content: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, extraction.Permanent(fmt.Errorf("model returned no candidates"))
	}

	var raw string
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			raw += string(text)
		}
	}
	if raw == "" {
		return nil, extraction.Permanent(fmt.Errorf("model returned no text parts"))
	}

	var fields map[string]any
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return nil, extraction.Permanent(fmt.Errorf("decode model response: %w", err))
	}

	result := &extraction.Result{Fields: fields}
	if confidence, ok := fields["confidence"].(float64); ok {
		result.Confidence = confidence
		delete(fields, "confidence")
	}
	return result, nil
}

// Close releases the underlying client.
func (c *Client) Close() error {
	if c.baseClient != nil {
		return c.baseClient.Close()
	}
	return nil
}
