package model

// ErrorPrefix marks failed rows in the result spreadsheet.
const ErrorPrefix = "ERROR: "

// RowResult is the outcome of resolving one CredentialRow. Exactly one of
// Name and Error is set; use Resolved or Failed to build one.
type RowResult struct {
	ClientRef string `json:"clientRef"`
	Name      string `json:"name,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Resolved builds a successful result.
func Resolved(clientRef, name string) RowResult {
	return RowResult{ClientRef: clientRef, Name: name}
}

// Failed builds a failed result carrying a human-readable cause.
func Failed(clientRef, cause string) RowResult {
	if cause == "" {
		cause = "unknown failure"
	}
	return RowResult{ClientRef: clientRef, Error: cause}
}

// IsError reports whether the row failed.
func (r RowResult) IsError() bool {
	return r.Error != ""
}

// Display is the value written to the Name column of the result sheet.
func (r RowResult) Display() string {
	if r.IsError() {
		return ErrorPrefix + r.Error
	}
	return r.Name
}

// BatchState is the orchestrator-owned aggregate for one batch. The
// completed count is always len(Results).
type BatchState struct {
	Total   int         `json:"total"`
	Results []RowResult `json:"results"`
}

// NewBatchState allocates state for a batch of total rows.
func NewBatchState(total int) *BatchState {
	return &BatchState{Total: total, Results: make([]RowResult, 0, total)}
}

// Append records the next row result in input order.
func (b *BatchState) Append(r RowResult) {
	b.Results = append(b.Results, r)
}

// CompletedCount returns how many rows have a result.
func (b *BatchState) CompletedCount() int {
	return len(b.Results)
}

// Summary counts resolved and failed rows.
func (b *BatchState) Summary() (resolved, failed int) {
	for _, r := range b.Results {
		if r.IsError() {
			failed++
		} else {
			resolved++
		}
	}
	return resolved, failed
}
