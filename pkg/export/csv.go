package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"

	"github.com/Sternrassler/plantwatch/pkg/plant"
)

func (e *Exporter) renderCSV(rows []Row) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	header := make([]string, 0, len(e.fields)+1)
	header = append(header, "timestamp")
	for _, f := range e.fields {
		header = append(header, f.Header)
	}
	if err := w.Write(header); err != nil {
		return nil, fmt.Errorf("write csv header: %w", err)
	}

	record := make([]string, len(header))
	for i, row := range rows {
		record[0] = e.timestamp(row.Timestamp)
		for j, f := range e.fields {
			record[j+1] = formatValue(row.Values[f.Key])
		}
		if err := w.Write(record); err != nil {
			return nil, fmt.Errorf("write csv row %d: %w", i, err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}
	return buf.Bytes(), nil
}

// formatValue renders a number as plain decimal text; anything else is an
// empty cell.
func formatValue(v any) string {
	f, ok := plant.ToFloat(v)
	if !ok {
		return ""
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}
