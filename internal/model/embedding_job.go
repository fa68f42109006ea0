package model

type EntityKind string

const (
	EntityKindPost EntityKind = "post"
	EntityKindUser EntityKind = "user"
)

func (k EntityKind) Valid() bool {
	return k == EntityKindPost || k == EntityKindUser
}

// EmbeddingJob is the payload carried by the embedding queue.
type EmbeddingJob struct {
	Kind       EntityKind `json:"kind"`
	EntityID   string     `json:"entity_id"`
	EnqueuedAt int64      `json:"enqueued_at"`
}
