package ai

import (
	"fmt"
	"strings"

	"bankfeed/internal/domain"
)

// buildTaxonomyPrompt renders the category taxonomy the model must choose
// from, grouped by parent category.
func buildTaxonomyPrompt(taxonomy []domain.Category) (string, error) {
	if len(taxonomy) == 0 {
		return "", fmt.Errorf("buildTaxonomyPrompt: no active categories")
	}

	parents := make(map[string]string)
	for _, c := range taxonomy {
		if c.ParentID == "" {
			parents[c.ID] = c.Name
		}
	}

	var b strings.Builder
	b.WriteString("Use ONLY the following categories (id: name):\n\n")
	for _, c := range taxonomy {
		if !c.IsActive {
			continue
		}
		if parent, ok := parents[c.ParentID]; ok {
			b.WriteString(fmt.Sprintf("  %s: %s > %s\n", c.ID, parent, c.Name))
		} else {
			b.WriteString(fmt.Sprintf("  %s: %s\n", c.ID, c.Name))
		}
	}

	b.WriteString("\nCATEGORY ASSIGNMENT RULES:\n")
	b.WriteString("1. \"category_id\" must be EXACTLY one of the ids shown above.\n")
	b.WriteString("2. \"confidence\" must be a number between 0 and 1.\n")
	b.WriteString("3. If no category fits, respond with {\"category_id\": null}.\n")

	return b.String(), nil
}

func buildCategorizePrompt(description, taxonomyPrompt string) string {
	return "You are a financial transaction categorizer.\n\n" +
		"Task:\n" +
		"- Assign the single best category to the bank transaction below.\n" +
		"- Output STRICT JSON only (no comments, no extra text).\n" +
		"- Output one JSON object: {\"category_id\": string or null, \"confidence\": number}\n\n" +
		"Transaction description:\n" +
		description + "\n\n" +
		taxonomyPrompt + "\n" +
		"Return ONLY valid raw JSON.\n" +
		"Do NOT wrap the response in code fences.\n" +
		"Output must begin with \"{\" and end with \"}\".\n"
}

func buildCounterpartyPrompt(description string, accounts []domain.CounterpartyAccount) string {
	var b strings.Builder
	b.WriteString("You are a financial counterparty matcher.\n\n")
	b.WriteString("Task:\n")
	b.WriteString("- Decide which known account, if any, the transaction below involves.\n")
	b.WriteString("- Output STRICT JSON only: {\"account_id\": string or null, \"confidence\": number}\n\n")
	b.WriteString("Transaction description:\n")
	b.WriteString(description + "\n\n")
	b.WriteString("Known accounts (id: name / number / iban):\n")
	for _, a := range accounts {
		b.WriteString(fmt.Sprintf("  %s: %s / %s / %s\n", a.ID, a.Name, a.Number, a.IBAN))
	}
	b.WriteString("\nIf no account matches, respond with {\"account_id\": null}.\n")
	b.WriteString("Return ONLY valid raw JSON without code fences.\n")
	return b.String()
}

// buildSchemaPrompt asks the model for the column layout of a raw sample.
func buildSchemaPrompt(filename string, sample [][]string) string {
	var b strings.Builder
	b.WriteString("You are a bank statement schema detector.\n\n")
	b.WriteString("Task:\n")
	b.WriteString("- Identify the column layout of the statement sample below.\n")
	b.WriteString("- Columns are zero-indexed.\n")
	b.WriteString("- Output STRICT JSON only, one object with these fields:\n")
	b.WriteString("  \"header_row\": number (-1 when there is no header row)\n")
	b.WriteString("  \"data_start_row\": number\n")
	b.WriteString("  \"date_column\": number\n")
	b.WriteString("  \"description_column\": number\n")
	b.WriteString("  \"amount_column\": number (-1 when debit/credit are separate)\n")
	b.WriteString("  \"debit_column\": number (-1 when not present)\n")
	b.WriteString("  \"credit_column\": number (-1 when not present)\n")
	b.WriteString("  \"date_format\": string, Go reference layout such as \"02/01/2006\"\n\n")
	b.WriteString("Filename: " + filename + "\n")
	b.WriteString("Sample rows (tab separated, one line per row):\n")
	for _, row := range sample {
		b.WriteString(strings.Join(row, "\t"))
		b.WriteByte('\n')
	}
	b.WriteString("\nReturn ONLY valid raw JSON without code fences.\n")
	return b.String()
}
