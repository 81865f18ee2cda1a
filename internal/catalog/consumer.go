package catalog

import (
	"context"
	"encoding/json"

	"github.com/sirupsen/logrus"
)

// ImportBatchSize is how many products go into one asynchronous import
// message.
const ImportBatchSize = 50

// Batches splits items into import messages of at most size products.
func Batches(items []ProductImport, size int) [][]ProductImport {
	if size < 1 {
		size = ImportBatchSize
	}
	var out [][]ProductImport
	for len(items) > 0 {
		n := size
		if n > len(items) {
			n = len(items)
		}
		out = append(out, items[:n])
		items = items[n:]
	}
	return out
}

// HandleProductBatch returns a consumer callback that upserts one batch of
// products published by an asynchronous import.
func HandleProductBatch(svc *Service) func([]byte) {
	return func(data []byte) {
		var items []ProductImport
		if err := json.Unmarshal(data, &items); err != nil {
			logrus.WithError(err).Error("Error unmarshaling product batch")
			return
		}
		logrus.WithField("count", len(items)).Info("Received product batch")

		valid := items[:0]
		for _, it := range items {
			if it.ID == 0 || it.Name == "" {
				logrus.WithField("id", it.ID).Warn("Skipping invalid product in batch")
				continue
			}
			valid = append(valid, it)
		}
		if len(valid) == 0 {
			return
		}

		if _, err := svc.Import(context.Background(), valid); err != nil {
			logrus.WithError(err).WithField("count", len(valid)).Error("Failed to import product batch")
		}
	}
}
