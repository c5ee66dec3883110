// Package ai wraps the model used for schema detection, transaction
// categorization and counterparty extraction. The pipeline treats it as an
// opaque oracle: no retry or backoff behavior is assumed here.
package ai

import (
	"context"
	"errors"

	"bankfeed/internal/domain"
)

// ErrUnavailable wraps transport-level failures (client construction, network,
// quota). The background processor distinguishes these from malformed answers
// when deciding whether an entire job is FAILED.
var ErrUnavailable = errors.New("ai oracle unavailable")

// CategorySuggestion is the oracle's answer for one description.
type CategorySuggestion struct {
	CategoryID string
	Confidence float64
}

// CounterpartySuggestion links a description to a known counterparty account.
type CounterpartySuggestion struct {
	AccountID  string
	Confidence float64
}

// Oracle is the categorization/enrichment collaborator.
type Oracle interface {
	// Categorize returns a category from the given taxonomy for the
	// description, or an explicit failure.
	Categorize(ctx context.Context, description string, taxonomy []domain.Category) (*CategorySuggestion, error)
	// ExtractCounterparty picks the known account the description refers to.
	// A nil suggestion with nil error means "no counterparty identified".
	ExtractCounterparty(ctx context.Context, description string, accounts []domain.CounterpartyAccount) (*CounterpartySuggestion, error)
}
