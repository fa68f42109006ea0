package embedcache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// cacheKey identifies a vector by model, task type and a digest of the
// exact input text.
type cacheKey struct {
	model    string
	taskType string
	hash     string
}

func newCacheKey(modelName, taskType, text string) cacheKey {
	modelName = strings.TrimSpace(modelName)
	if modelName == "" {
		modelName = "unknown"
	}
	digest := sha256.Sum256([]byte(text))
	return cacheKey{model: modelName, taskType: taskType, hash: hex.EncodeToString(digest[:])}
}

func (k cacheKey) String() string {
	return strings.Join([]string{"vec", k.model, k.taskType, k.hash}, ":")
}

func cloneVector(values []float32) []float32 {
	if len(values) == 0 {
		return nil
	}
	return append(make([]float32, 0, len(values)), values...)
}
