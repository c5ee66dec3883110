package schema

import (
	"strings"

	"bankfeed/internal/domain"
	"bankfeed/internal/statement"
)

// columnScores holds per-column value-shape statistics over the sampled data
// rows: what fraction of populated cells parse as dates or amounts, and the
// average free-text length.
type columnScores struct {
	dateFrac    []float64
	amountFrac  []float64
	textLen     []float64
	dateLayouts []string
}

func scoreColumns(dataRows [][]string) *columnScores {
	width := 0
	for _, row := range dataRows {
		if len(row) > width {
			width = len(row)
		}
	}

	s := &columnScores{
		dateFrac:    make([]float64, width),
		amountFrac:  make([]float64, width),
		textLen:     make([]float64, width),
		dateLayouts: make([]string, width),
	}

	for col := 0; col < width; col++ {
		populated, dates, amounts, textTotal := 0, 0, 0, 0
		layoutVotes := map[string]int{}
		for _, row := range dataRows {
			if col >= len(row) {
				continue
			}
			cell := strings.TrimSpace(row[col])
			if cell == "" {
				continue
			}
			populated++
			if layout, ok := statement.LooksLikeDate(cell); ok {
				dates++
				layoutVotes[layout]++
			} else if statement.LooksLikeAmount(cell) {
				amounts++
			} else {
				textTotal += len(cell)
			}
		}
		if populated == 0 {
			continue
		}
		s.dateFrac[col] = float64(dates) / float64(populated)
		s.amountFrac[col] = float64(amounts) / float64(populated)
		s.textLen[col] = float64(textTotal) / float64(populated)

		bestLayout, bestVotes := "", 0
		for layout, votes := range layoutVotes {
			if votes > bestVotes {
				bestLayout, bestVotes = layout, votes
			}
		}
		s.dateLayouts[col] = bestLayout
	}
	return s
}

// bestColumn picks the highest-scoring column of the requested kind that is
// not already taken. For "text" the longest average free text wins.
func bestColumn(s *columnScores, kind string, taken []int) int {
	best, bestScore := -1, 0.0
	for col := range s.dateFrac {
		if contains(taken, col) {
			continue
		}
		var score float64
		switch kind {
		case "date":
			score = s.dateFrac[col]
		case "amount":
			score = s.amountFrac[col]
		case "text":
			score = s.textLen[col]
		}
		if score > bestScore {
			best, bestScore = col, score
		}
	}
	return best
}

// confidence is the weakest conformity fraction among the chosen columns.
// The description column counts as conforming when it holds any free text.
func (s *columnScores) confidence(m domain.ColumnMapping) float64 {
	conf := 1.0
	if m.DateColumn >= 0 && m.DateColumn < len(s.dateFrac) {
		conf = min(conf, s.dateFrac[m.DateColumn])
	} else {
		return 0
	}
	if m.SplitAmount {
		// Split columns are sparsely populated by nature; require that the
		// populated cells are amounts, not that every row fills both.
		for _, col := range []int{m.DebitColumn, m.CreditColumn} {
			if col < 0 || col >= len(s.amountFrac) {
				return 0
			}
		}
	} else if m.AmountColumn >= 0 && m.AmountColumn < len(s.amountFrac) {
		conf = min(conf, s.amountFrac[m.AmountColumn])
	} else {
		return 0
	}
	if m.DescriptionColumn < 0 || m.DescriptionColumn >= len(s.textLen) || s.textLen[m.DescriptionColumn] == 0 {
		return 0
	}
	return conf
}

func (s *columnScores) dateLayout(col int) string {
	if col >= 0 && col < len(s.dateLayouts) {
		return s.dateLayouts[col]
	}
	return ""
}

func contains(xs []int, x int) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}
