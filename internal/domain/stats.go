package domain

// StatusCount is one row of the per-status order breakdown used by the
// stats endpoint and the recap aggregator.
type StatusCount struct {
	Status OrderStatus `json:"status"`
	Count  int64       `json:"count"`
}
