package pipeline

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Iriajul/LLM-model/internal/executor"
)

// maxFormatRows bounds how much result data is sent back to the model when
// asking for a prose answer. The full rows still reach the caller.
const maxFormatRows = 50

func resultJSON(result executor.Result) string {
	rows := result.Rows
	if len(rows) > maxFormatRows {
		rows = rows[:maxFormatRows]
	}
	payload := map[string]any{
		"columns":   result.Columns,
		"rows":      rows,
		"row_count": result.RowCount,
		"truncated": result.Truncated || len(rows) < result.RowCount,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Sprintf(`{"row_count": %d}`, result.RowCount)
	}
	return string(body)
}

// fallbackAnswer renders a plain summary when answer formatting fails. It is
// deliberately mechanical so it can never misstate the data.
func fallbackAnswer(result executor.Result) string {
	if result.RowCount == 0 {
		return "The query returned no rows."
	}

	var b strings.Builder
	fmt.Fprintf(&b, "The query returned %d row(s)", result.RowCount)
	if result.Truncated {
		b.WriteString(" (truncated)")
	}
	b.WriteString(". Columns: ")
	b.WriteString(strings.Join(result.Columns, ", "))
	b.WriteString(".")

	shown := result.Rows
	if len(shown) > 5 {
		shown = shown[:5]
	}
	for _, row := range shown {
		cells := make([]string, len(row))
		for i, cell := range row {
			cells[i] = fmt.Sprintf("%v", cell)
		}
		b.WriteString(" [")
		b.WriteString(strings.Join(cells, ", "))
		b.WriteString("]")
	}
	return b.String()
}
