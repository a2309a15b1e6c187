package events

import "slices"

const (
	TopicMatrixIngested     = "matrix.ingested"
	TopicMatrixRemoved      = "matrix.removed"
	TopicMatrixIngestFailed = "matrix.ingest_failed"
)

var priceTopics = []string{TopicMatrixIngested, TopicMatrixRemoved}

// ChangesPrices reports whether topic may alter resolved prices.
func ChangesPrices(topic string) bool {
	return slices.Contains(priceTopics, topic)
}
