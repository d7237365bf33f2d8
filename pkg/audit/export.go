package audit

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// exportJSON exports audit records as JSON array
func exportJSON(records []*Record) ([]byte, error) {
	return json.MarshalIndent(records, "", "  ")
}

// exportNDJSON exports audit records as newline-delimited JSON
func exportNDJSON(records []*Record) ([]byte, error) {
	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)

	for _, rec := range records {
		if err := encoder.Encode(rec); err != nil {
			return nil, fmt.Errorf("failed to encode record: %w", err)
		}
	}

	return buf.Bytes(), nil
}

// exportCSV exports audit records as CSV. Value maps are written in their encoded form.
func exportCSV(records []*Record) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	header := []string{
		"ID",
		"Timestamp",
		"TableName",
		"Action",
		"UserID",
		"KeyValues",
		"OldValues",
		"NewValues",
	}

	if err := writer.Write(header); err != nil {
		return nil, fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, rec := range records {
		row := []string{
			strconv.FormatInt(rec.ID, 10),
			rec.Timestamp.UTC().Format(time.RFC3339Nano),
			rec.TableName,
			string(rec.Action),
			rec.UserID.String,
			rec.KeyValues,
			rec.OldValues.String,
			rec.NewValues.String,
		}

		if err := writer.Write(row); err != nil {
			return nil, fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}

	return buf.Bytes(), nil
}
