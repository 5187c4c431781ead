package bulkupload

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dandantas/lms-worker/internal/model"
	"github.com/dandantas/lms-worker/internal/worker"
)

func TestTriggerHandlerQueuesJob(t *testing.T) {
	pool := &fakeSubmitter{}
	h := NewTriggerHandler(pool, model.OperationLocationBulkUpload)

	err := h.Handle(context.Background(), []byte(`{"jobId":" J1 ","correlationId":"c-1"}`))

	require.NoError(t, err)
	require.Len(t, pool.tasks, 1)
	assert.Equal(t, worker.Task{
		Operation:     model.OperationLocationBulkUpload,
		JobID:         "J1",
		CorrelationID: "c-1",
	}, pool.tasks[0])
}

func TestTriggerHandlerDropsMalformed(t *testing.T) {
	for _, payload := range []string{`not json`, `{}`, `{"jobId":"   "}`} {
		pool := &fakeSubmitter{}

		err := NewTriggerHandler(pool, model.OperationLocationBulkUpload).Handle(context.Background(), []byte(payload))

		assert.NoError(t, err, payload)
		assert.Empty(t, pool.tasks, payload)
	}
}

func TestTriggerHandlerReportsSubmitFailure(t *testing.T) {
	pool := &fakeSubmitter{err: worker.ErrPoolStopped}

	err := NewTriggerHandler(pool, model.OperationLocationBulkUpload).Handle(context.Background(), []byte(`{"jobId":"J1"}`))

	assert.ErrorIs(t, err, worker.ErrPoolStopped)
}
