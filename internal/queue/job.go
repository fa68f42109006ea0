package queue

import (
	"errors"
	"fmt"
	"strings"

	"github.com/goccy/go-json"

	"github.com/thehao1505/backend-capstone/internal/model"
	appErr "github.com/thehao1505/backend-capstone/internal/pkg/errors"
)

// ErrPermanent marks a job failure that no retry can fix. Such jobs are
// acknowledged and dropped instead of retried or poisoned.
var ErrPermanent = errors.New("permanent job failure")

func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrPermanent, err)
}

func IsPermanent(err error) bool {
	return errors.Is(err, ErrPermanent)
}

func EncodeJob(job model.EmbeddingJob) ([]byte, error) {
	if err := validateJob(job); err != nil {
		return nil, err
	}
	return json.Marshal(job)
}

func DecodeJob(payload []byte) (model.EmbeddingJob, error) {
	var job model.EmbeddingJob
	if err := json.Unmarshal(payload, &job); err != nil {
		return job, fmt.Errorf("decode embedding job: %w", appErr.ErrInvalid)
	}
	if err := validateJob(job); err != nil {
		return job, err
	}
	return job, nil
}

func validateJob(job model.EmbeddingJob) error {
	if !job.Kind.Valid() {
		return fmt.Errorf("embedding job kind %q: %w", job.Kind, appErr.ErrInvalid)
	}
	if strings.TrimSpace(job.EntityID) == "" {
		return fmt.Errorf("embedding job without entity id: %w", appErr.ErrInvalid)
	}
	return nil
}
