package types

// BatchResult is the uniform summary returned by every batch entry point
// (reseal sweep, tier migration, expiry processing). Per-item failures are
// collected in Errors keyed by entity ID so callers can retry just the
// failed subset.
type BatchResult struct {
	Total     int               `json:"total"`
	Processed int               `json:"processed"`
	Failed    int               `json:"failed"`
	Errors    map[string]string `json:"errors,omitempty"`
}

// NewBatchResult creates an empty batch result
func NewBatchResult() *BatchResult {
	return &BatchResult{Errors: make(map[string]string)}
}

// RecordSuccess counts a successfully processed item
func (r *BatchResult) RecordSuccess() {
	r.Total++
	r.Processed++
}

// RecordFailure counts a failed item and keeps its error message
func (r *BatchResult) RecordFailure(id ID, err error) {
	r.Total++
	r.Failed++
	if r.Errors == nil {
		r.Errors = make(map[string]string)
	}
	r.Errors[id.String()] = err.Error()
}
