package history

import (
	"encoding/csv"
	"io"
	"strconv"
	"time"
)

var csvHeader = []string{"occurred_at", "category", "kind", "amount", "status", "description", "reference"}

// WriteCSV serializes entries to a flat tabular export. Timestamps are
// RFC 3339 UTC so the same rows always produce byte-identical output.
func WriteCSV(w io.Writer, entries []Entry) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, e := range entries {
		record := []string{
			e.OccurredAt.UTC().Format(time.RFC3339),
			e.Category,
			e.Kind,
			strconv.FormatInt(e.Amount, 10),
			e.Status,
			e.Description,
			e.Reference,
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
