// Package extract sends the rasterized invoice page to Gemini and turns the
// response into structured invoice fields.
package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"cloud.google.com/go/vertexai/genai"
	"github.com/rs/zerolog"

	"github.com/kaiwenliu/invoiceflow/internal/model"
)

// extractionUserMessage is the one message shown on a record when extraction
// fails, regardless of the underlying cause (network, malformed response,
// missing field). The cause is logged, never displayed.
const extractionUserMessage = "發票分析失敗，請重試。"

const prompt = "這是一張台灣的電子發票。請辨識並回傳 JSON 格式的統一編號、開立日期和買方名稱。" +
	"統一編號是8位數字。開立日期請使用 YYYY/MM/DD 格式。買方名稱是公司全名。"

// ExtractionError wraps any failure between sending the page image and
// obtaining valid invoice fields.
type ExtractionError struct {
	cause error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract invoice fields: %v", e.cause)
}

func (e *ExtractionError) Unwrap() error { return e.cause }

// UserMessage returns the normalized localized error text.
func (e *ExtractionError) UserMessage() string { return extractionUserMessage }

// contentGenerator is the slice of *genai.GenerativeModel the extractor
// needs. Tests substitute a fake; production wires the model built by
// NewGeminiModel.
type contentGenerator interface {
	GenerateContent(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)
}

// responseSchema constrains the model output to exactly the fields the
// pipeline consumes. ResponseMIMEType application/json plus this schema means
// a well-behaved response is directly unmarshalable into model.InvoiceData.
var responseSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"businessNumber": {
			Type:        genai.TypeString,
			Description: "The 8-digit business number (統一編號).",
		},
		"invoiceDate": {
			Type:        genai.TypeString,
			Description: "The invoice issue date in YYYY/MM/DD format (開立日期).",
		},
		"buyerName": {
			Type:        genai.TypeString,
			Description: "The buyer company name (買方名稱).",
		},
	},
	Required: []string{"businessNumber", "invoiceDate", "buyerName"},
}

// NewGeminiModel builds the configured generative model. The returned close
// function releases the underlying client and should run at shutdown.
func NewGeminiModel(ctx context.Context, projectID, region, modelName string) (*genai.GenerativeModel, func() error, error) {
	if projectID == "" || region == "" {
		return nil, nil, fmt.Errorf("gemini project and region must be configured")
	}
	client, err := genai.NewClient(ctx, projectID, region)
	if err != nil {
		return nil, nil, fmt.Errorf("genai.NewClient: %w", err)
	}
	gm := client.GenerativeModel(modelName)
	gm.GenerationConfig = genai.GenerationConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema:   responseSchema,
		// Low temperature for deterministic, structured output.
		Temperature: genai.Ptr[float32](0.0),
	}
	return gm, client.Close, nil
}

// Extractor extracts invoice fields from a single page image.
type Extractor struct {
	gen contentGenerator
	log zerolog.Logger
}

// New constructs an Extractor around an injected content generator.
func New(gen contentGenerator, log zerolog.Logger) *Extractor {
	return &Extractor{gen: gen, log: log}
}

// Extract sends the JPEG page to the model and validates the structured
// response. Every failure path returns an *ExtractionError carrying the same
// user-facing message; the distinct causes only show up in the log. There is
// no retry here: the caller decides whether an attempt is repeated.
func (e *Extractor) Extract(ctx context.Context, image []byte) (model.InvoiceData, error) {
	resp, err := e.gen.GenerateContent(ctx,
		genai.ImageData("jpeg", image),
		genai.Text(prompt),
	)
	if err != nil {
		return model.InvoiceData{}, e.fail(fmt.Errorf("generate content: %w", err))
	}

	raw, err := responseText(resp)
	if err != nil {
		return model.InvoiceData{}, e.fail(err)
	}

	var data model.InvoiceData
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &data); err != nil {
		return model.InvoiceData{}, e.fail(fmt.Errorf("unmarshal response: %w", err))
	}
	// The business number and date feed the derived filename; an empty value
	// there means the extraction is unusable. The buyer name is requested in
	// the schema but a blank one is left for the user to fill in.
	if data.BusinessNumber == "" || data.InvoiceDate == "" {
		return model.InvoiceData{}, e.fail(fmt.Errorf("response missing required fields: %+v", data))
	}
	return data, nil
}

func (e *Extractor) fail(cause error) error {
	e.log.Error().Err(cause).Msg("invoice extraction failed")
	return &ExtractionError{cause: cause}
}

// responseText concatenates the text parts of the first candidate.
func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", fmt.Errorf("model returned no candidates")
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			b.WriteString(string(text))
		}
	}
	if b.Len() == 0 {
		return "", fmt.Errorf("model returned no text parts")
	}
	return b.String(), nil
}
