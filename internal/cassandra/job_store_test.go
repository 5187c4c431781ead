package cassandra

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dandantas/lms-worker/internal/model"
)

func TestJobRecordKeepsRowsAndFailures(t *testing.T) {
	job := &model.BulkUpload{
		ID:          "J1",
		ObjectType:  model.ObjectTypeLocation,
		Status:      model.JobStatusCompletedWithErrors,
		Payload:     []model.Row{{"code": "A1", "locationType": "state"}, {"locationType": "district"}},
		SuccessRows: []model.Row{{"code": "A1", "locationType": "state"}},
		FailureRows: []model.Row{{"locationType": "district"}},
		Failures:    []model.RowFailure{{Index: 1, Reason: model.ReasonInvalidRow}},
		Attempts:    1,
		CreatedAt:   time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC),
	}

	rec, err := fromModel(job)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"locationType":"district"}]`, rec.FailureRows)

	back, err := rec.toModel()
	require.NoError(t, err)
	assert.Equal(t, job, back)
}

func TestJobRecordEmptyListsStayEmpty(t *testing.T) {
	rec, err := fromModel(&model.BulkUpload{ID: "J1", Status: model.JobStatusCreated})
	require.NoError(t, err)
	assert.Empty(t, rec.SuccessRows)

	back, err := rec.toModel()
	require.NoError(t, err)
	assert.Nil(t, back.SuccessRows)
	assert.Zero(t, back.Processed())
}

func TestJobRecordRejectsCorruptColumn(t *testing.T) {
	_, err := jobRecord{ID: "J1", Payload: "{not json"}.toModel()
	assert.ErrorContains(t, err, "payload")
}

func TestIsStale(t *testing.T) {
	cutoff := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	early := cutoff.Add(-time.Hour)
	late := cutoff.Add(time.Minute)

	assert.True(t, isStale(early, early, cutoff))
	assert.False(t, isStale(early, late, cutoff))
	assert.True(t, isStale(early, time.Time{}, cutoff))
	assert.False(t, isStale(late, time.Time{}, cutoff))
}

func TestTTLSecondsRoundsUp(t *testing.T) {
	assert.Equal(t, 1, ttlSeconds(0))
	assert.Equal(t, 1, ttlSeconds(300*time.Millisecond))
	assert.Equal(t, 600, ttlSeconds(10*time.Minute))
	assert.Equal(t, 2, ttlSeconds(1500*time.Millisecond))
}
