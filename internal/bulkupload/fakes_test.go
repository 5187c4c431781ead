package bulkupload

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dandantas/lms-worker/internal/model"
	"github.com/dandantas/lms-worker/internal/worker"
)

type fakeStore struct {
	mu      sync.Mutex
	jobs    map[string]*model.BulkUpload
	puts    []*model.BulkUpload
	getErr  error
	putErrs []error // consumed one per Put; nil entries succeed
}

func newFakeStore(jobs ...*model.BulkUpload) *fakeStore {
	s := &fakeStore{jobs: make(map[string]*model.BulkUpload)}
	for _, j := range jobs {
		s.jobs[j.ID] = j.Clone()
	}
	return s
}

func (s *fakeStore) Get(ctx context.Context, id string) (*model.BulkUpload, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, s.getErr
	}
	j, ok := s.jobs[id]
	if !ok {
		return nil, model.ErrJobNotFound
	}
	return j.Clone(), nil
}

func (s *fakeStore) Put(ctx context.Context, job *model.BulkUpload) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.putErrs) > 0 {
		err := s.putErrs[0]
		s.putErrs = s.putErrs[1:]
		if err != nil {
			return err
		}
	}
	s.jobs[job.ID] = job.Clone()
	s.puts = append(s.puts, job.Clone())
	return nil
}

func (s *fakeStore) stored(id string) *model.BulkUpload {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobs[id]
}

func (s *fakeStore) setStatus(id string, status model.JobStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[id].Status = status
}

// fakeClient answers searches by the row's code field
type fakeClient struct {
	matches   map[string][]model.Record
	searchErr map[string]error
	createErr map[string]error
	updateErr map[string]error
	calls     []string
	ctxErrs   []error
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		matches:   map[string][]model.Record{},
		searchErr: map[string]error{},
		createErr: map[string]error{},
		updateErr: map[string]error{},
	}
}

func (c *fakeClient) Search(ctx context.Context, filters map[string]any) ([]model.Record, error) {
	code := fmt.Sprint(filters["code"])
	c.calls = append(c.calls, "search:"+code)
	c.ctxErrs = append(c.ctxErrs, ctx.Err())
	if err := c.searchErr[code]; err != nil {
		return nil, err
	}
	return c.matches[code], nil
}

func (c *fakeClient) Create(ctx context.Context, fields model.Row) (model.Record, error) {
	code := fields.String("code")
	c.calls = append(c.calls, "create:"+code)
	if err := c.createErr[code]; err != nil {
		return nil, err
	}
	return model.Record{"id": "new-" + code}, nil
}

func (c *fakeClient) Update(ctx context.Context, id string, fields model.Row) (model.Record, error) {
	code := fields.String("code")
	c.calls = append(c.calls, "update:"+id)
	if err := c.updateErr[code]; err != nil {
		return nil, err
	}
	return model.Record{"id": id}, nil
}

func (c *fakeClient) downstreamCalls() []string {
	var out []string
	for _, call := range c.calls {
		if len(call) >= 6 && (call[:6] == "create" || call[:6] == "update") {
			out = append(out, call)
		}
	}
	return out
}

type fakeLeaser struct {
	grant      bool
	acquireErr error
	onAcquire  func()
	extendErrs []error // consumed one per call; the last entry repeats
	acquired   int
	extended   int
	released   int
}

func (l *fakeLeaser) Acquire(ctx context.Context, jobID, owner string, ttl time.Duration) (bool, error) {
	l.acquired++
	if l.acquireErr != nil {
		return false, l.acquireErr
	}
	if l.grant && l.onAcquire != nil {
		l.onAcquire()
	}
	return l.grant, nil
}

func (l *fakeLeaser) Extend(ctx context.Context, jobID, owner string, ttl time.Duration) error {
	l.extended++
	if len(l.extendErrs) == 0 {
		return nil
	}
	err := l.extendErrs[0]
	if len(l.extendErrs) > 1 {
		l.extendErrs = l.extendErrs[1:]
	}
	return err
}

func (l *fakeLeaser) Release(ctx context.Context, jobID, owner string) error {
	l.released++
	return nil
}

type panicRows struct {
	next  RowHandler
	panic string // code of the row that panics
}

func (p *panicRows) ProcessRow(ctx context.Context, row model.Row) model.Outcome {
	if row.String("code") == p.panic {
		panic("row handler exploded")
	}
	return p.next.ProcessRow(ctx, row)
}

type fakeSubmitter struct {
	tasks []worker.Task
	err   error
}

func (s *fakeSubmitter) Submit(ctx context.Context, task worker.Task) error {
	if s.err != nil {
		return s.err
	}
	s.tasks = append(s.tasks, task)
	return nil
}

var errBoom = errors.New("boom")
