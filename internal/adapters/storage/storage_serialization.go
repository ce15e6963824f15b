package storage

import (
	json "github.com/goccy/go-json"

	"github.com/eleven-am/gantry/internal/domain"
)

func encodeRecord(record *domain.RunRecord) ([]byte, error) {
	return json.Marshal(record)
}

func decodeRecord(data []byte) (*domain.RunRecord, error) {
	var record domain.RunRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, err
	}
	return &record, nil
}

func encodeSummary(summary domain.RunSummary) ([]byte, error) {
	return json.Marshal(summary)
}

func decodeSummary(data []byte) (domain.RunSummary, error) {
	var summary domain.RunSummary
	err := json.Unmarshal(data, &summary)
	return summary, err
}

// matches applies the pipeline filter of opts.
func matches(summary domain.RunSummary, opts domain.ListOptions) bool {
	return opts.Pipeline == "" || summary.Pipeline == opts.Pipeline
}
