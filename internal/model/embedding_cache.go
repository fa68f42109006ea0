package model

// CachedVector is a provider response remembered by content hash, so
// re-embedding unchanged text after a restart costs no provider call.
type CachedVector struct {
	Model       string    `json:"model"`
	TaskType    string    `json:"task_type"`
	ContentHash string    `json:"content_hash"`
	Vector      []float32 `json:"vector"`
	Ctime       int64     `json:"ctime"`
}
