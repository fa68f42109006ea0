package job

import (
	"context"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
)

type Reconciler interface {
	ReconcileUnembedded(ctx context.Context, limit int) (int, error)
}

// EmbeddingReconcileJob re-enqueues posts and users whose embedded flag is
// still false, covering lost enqueues and exhausted jobs.
type EmbeddingReconcileJob struct {
	reconciler Reconciler
	batchSize  int
}

func NewEmbeddingReconcileJob(reconciler Reconciler, batchSize int) *EmbeddingReconcileJob {
	return &EmbeddingReconcileJob{reconciler: reconciler, batchSize: batchSize}
}

func (j *EmbeddingReconcileJob) Name() string {
	return "embedding_reconcile"
}

func (j *EmbeddingReconcileJob) Run(ctx context.Context) error {
	if j.reconciler == nil {
		return nil
	}
	batch := j.batchSize
	if batch <= 0 {
		batch = 100
	}
	n, err := j.reconciler.ReconcileUnembedded(ctx, batch)
	if err != nil {
		return err
	}
	logutil.GetLogger(ctx).Debug("reconcile sweep done", zap.Int("enqueued", n))
	return nil
}
