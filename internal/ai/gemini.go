package ai

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/genai"

	"bankfeed/internal/domain"
)

// Gemini implements both the categorization Oracle and the schema detection
// oracle on top of the GenAI API. The client reads credentials from the
// environment (GEMINI_API_KEY or application default credentials).
type Gemini struct {
	model string
}

// NewGemini creates the oracle bound to the given model name.
func NewGemini(model string) *Gemini {
	return &Gemini{model: model}
}

func (g *Gemini) generate(ctx context.Context, prompt string) (string, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		HTTPOptions: genai.HTTPOptions{APIVersion: "v1"},
	})
	if err != nil {
		return "", fmt.Errorf("%w: create client: %v", ErrUnavailable, err)
	}

	contents := []*genai.Content{
		{
			Role:  "user",
			Parts: []*genai.Part{{Text: prompt}},
		},
	}

	resp, err := client.Models.GenerateContent(ctx, g.model, contents, nil)
	if err != nil {
		return "", fmt.Errorf("%w: generate content: %v", ErrUnavailable, err)
	}

	rawText := resp.Text()
	if rawText == "" {
		return "", fmt.Errorf("gemini: empty response from model")
	}
	return cleanModelJSON(rawText), nil
}

// Categorize implements Oracle.
func (g *Gemini) Categorize(ctx context.Context, description string, taxonomy []domain.Category) (*CategorySuggestion, error) {
	taxonomyPrompt, err := buildTaxonomyPrompt(taxonomy)
	if err != nil {
		return nil, fmt.Errorf("Categorize: %w", err)
	}

	clean, err := g.generate(ctx, buildCategorizePrompt(description, taxonomyPrompt))
	if err != nil {
		return nil, fmt.Errorf("Categorize: %w", err)
	}

	var parsed struct {
		CategoryID *string `json:"category_id"`
		Confidence float64 `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(clean), &parsed); err != nil {
		return nil, fmt.Errorf("Categorize: unmarshal JSON: %w\nraw response: %s", err, clean)
	}
	if parsed.CategoryID == nil || *parsed.CategoryID == "" {
		return nil, fmt.Errorf("Categorize: model returned no category")
	}
	if !validCategory(*parsed.CategoryID, taxonomy) {
		return nil, fmt.Errorf("Categorize: model returned unknown category %q", *parsed.CategoryID)
	}

	return &CategorySuggestion{
		CategoryID: *parsed.CategoryID,
		Confidence: clampConfidence(parsed.Confidence),
	}, nil
}

// ExtractCounterparty implements Oracle.
func (g *Gemini) ExtractCounterparty(ctx context.Context, description string, accounts []domain.CounterpartyAccount) (*CounterpartySuggestion, error) {
	if len(accounts) == 0 {
		return nil, nil
	}

	clean, err := g.generate(ctx, buildCounterpartyPrompt(description, accounts))
	if err != nil {
		return nil, fmt.Errorf("ExtractCounterparty: %w", err)
	}

	var parsed struct {
		AccountID  *string `json:"account_id"`
		Confidence float64 `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(clean), &parsed); err != nil {
		return nil, fmt.Errorf("ExtractCounterparty: unmarshal JSON: %w\nraw response: %s", err, clean)
	}
	if parsed.AccountID == nil || *parsed.AccountID == "" {
		return nil, nil
	}
	for _, a := range accounts {
		if a.ID == *parsed.AccountID {
			return &CounterpartySuggestion{
				AccountID:  a.ID,
				Confidence: clampConfidence(parsed.Confidence),
			}, nil
		}
	}
	return nil, fmt.Errorf("ExtractCounterparty: model returned unknown account %q", *parsed.AccountID)
}

// DetectSchema implements the schema detection oracle: the returned mapping
// is adopted verbatim by the detector.
func (g *Gemini) DetectSchema(ctx context.Context, filename string, sample [][]string) (*domain.FileAnalysis, error) {
	clean, err := g.generate(ctx, buildSchemaPrompt(filename, sample))
	if err != nil {
		return nil, fmt.Errorf("DetectSchema: %w", err)
	}

	var parsed struct {
		HeaderRow         int    `json:"header_row"`
		DataStartRow      int    `json:"data_start_row"`
		DateColumn        int    `json:"date_column"`
		DescriptionColumn int    `json:"description_column"`
		AmountColumn      int    `json:"amount_column"`
		DebitColumn       int    `json:"debit_column"`
		CreditColumn      int    `json:"credit_column"`
		DateFormat        string `json:"date_format"`
	}
	if err := json.Unmarshal([]byte(clean), &parsed); err != nil {
		return nil, fmt.Errorf("DetectSchema: unmarshal JSON: %w\nraw response: %s", err, clean)
	}

	analysis := &domain.FileAnalysis{
		Mapping: domain.ColumnMapping{
			DateColumn:        parsed.DateColumn,
			DescriptionColumn: parsed.DescriptionColumn,
			AmountColumn:      parsed.AmountColumn,
			DebitColumn:       parsed.DebitColumn,
			CreditColumn:      parsed.CreditColumn,
			SplitAmount:       parsed.AmountColumn < 0 && parsed.DebitColumn >= 0 && parsed.CreditColumn >= 0,
			DateFormat:        parsed.DateFormat,
		},
		HeaderRow:    parsed.HeaderRow,
		DataStartRow: parsed.DataStartRow,
	}
	if analysis.Mapping.DateColumn < 0 || analysis.Mapping.DescriptionColumn < 0 ||
		(analysis.Mapping.AmountColumn < 0 && !analysis.Mapping.SplitAmount) {
		return nil, fmt.Errorf("DetectSchema: model returned incomplete mapping")
	}
	return analysis, nil
}

func validCategory(id string, taxonomy []domain.Category) bool {
	for _, c := range taxonomy {
		if c.ID == id {
			return true
		}
	}
	return false
}

func clampConfidence(c float64) float64 {
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}
