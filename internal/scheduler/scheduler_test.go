package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dandantas/lms-worker/internal/config"
	"github.com/dandantas/lms-worker/internal/model"
)

type fakeFinder struct {
	ids    []string
	cutoff time.Time
	limit  int
}

func (f *fakeFinder) FindStale(ctx context.Context, cutoff time.Time, limit int) ([]string, error) {
	f.cutoff, f.limit = cutoff, limit
	return f.ids, nil
}

type fakeLocker struct {
	held     bool
	leased   map[string]bool
	released int
}

func (l *fakeLocker) Acquire(ctx context.Context, id, owner string, ttl time.Duration) (bool, error) {
	return !l.held, nil
}

func (l *fakeLocker) Release(ctx context.Context, id, owner string) error {
	l.released++
	return nil
}

func (l *fakeLocker) IsLeased(ctx context.Context, id string) (bool, error) {
	return l.leased[id], nil
}

type published struct {
	subject string
	msg     model.TriggerMessage
}

type fakePublisher struct {
	sent []published
	fail map[string]bool
}

func (p *fakePublisher) PublishJSON(subject string, v any) error {
	msg := v.(model.TriggerMessage)
	if p.fail[msg.JobID] {
		return errors.New("nats down")
	}
	p.sent = append(p.sent, published{subject, msg})
	return nil
}

func testConfig() *config.Config {
	return &config.Config{
		PodID:              "pod-a",
		BulkUploadSubject:  "lms.bulkupload.location",
		RecoveryEnabled:    true,
		RecoverySchedule:   "*/5 * * * *",
		RecoveryStaleAfter: 15 * time.Minute,
		RecoveryBatchLimit: 50,
	}
}

func TestSweepRetriggersUnleasedJobs(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	finder := &fakeFinder{ids: []string{"J1", "J2", "J3"}}
	locker := &fakeLocker{leased: map[string]bool{"J2": true}}
	publisher := &fakePublisher{fail: map[string]bool{"J3": true}}

	s, err := NewSweeper(testConfig(), finder, locker, publisher)
	require.NoError(t, err)
	s.now = func() time.Time { return now }

	ids, err := s.Sweep(context.Background())

	require.NoError(t, err)
	assert.Equal(t, []string{"J1"}, ids)
	require.Len(t, publisher.sent, 1)
	assert.Equal(t, "lms.bulkupload.location", publisher.sent[0].subject)
	assert.Equal(t, "J1", publisher.sent[0].msg.JobID)
	assert.NotEmpty(t, publisher.sent[0].msg.CorrelationID)
	assert.Equal(t, now.Add(-15*time.Minute), finder.cutoff)
	assert.Equal(t, 50, finder.limit)
	assert.Equal(t, 1, locker.released)
}

func TestSweepSkippedWhenAnotherPodSweeps(t *testing.T) {
	finder := &fakeFinder{ids: []string{"J1"}}
	publisher := &fakePublisher{}

	s, err := NewSweeper(testConfig(), finder, &fakeLocker{held: true}, publisher)
	require.NoError(t, err)

	ids, err := s.Sweep(context.Background())

	require.NoError(t, err)
	assert.Empty(t, ids)
	assert.Empty(t, publisher.sent)
}

func TestSweepWithoutLocker(t *testing.T) {
	publisher := &fakePublisher{}
	s, err := NewSweeper(testConfig(), &fakeFinder{ids: []string{"J1", "J2"}}, nil, publisher)
	require.NoError(t, err)

	ids, err := s.Sweep(context.Background())

	require.NoError(t, err)
	assert.Equal(t, []string{"J1", "J2"}, ids)
}

func TestNewSweeperRejectsBadSchedule(t *testing.T) {
	cfg := testConfig()
	cfg.RecoverySchedule = "every now and then"

	_, err := NewSweeper(cfg, &fakeFinder{}, nil, &fakePublisher{})
	assert.Error(t, err)
}

func TestStartStopDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.RecoveryEnabled = false
	s, err := NewSweeper(cfg, &fakeFinder{}, nil, &fakePublisher{})
	require.NoError(t, err)

	s.Start()
	s.Stop(context.Background())
}

func TestStartStop(t *testing.T) {
	s, err := NewSweeper(testConfig(), &fakeFinder{}, nil, &fakePublisher{})
	require.NoError(t, err)

	s.Start()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)
}
