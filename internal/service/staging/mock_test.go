package staging

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/fundbridge/merchant-staging/internal/domain"
)

const (
	tblMain       = "pre_staging"
	tblOther      = "other_pre_staging"
	tblStaging    = "staging"
	tblQuarantine = "staging_quarantine"
)

var (
	mainSource  = Source{Name: "main", Table: tblMain, PKColumn: "id", JobColumn: "import_job_id"}
	otherSource = Source{Name: "other", Table: tblOther, PKColumn: "row_id"}
)

type stagingRow struct {
	id     string
	origin string
	fields domain.Fields
}

type quarantineRow struct {
	origin string
	rec    domain.QuarantineRecord
}

// memStore is an in-memory Store with per-operation failure injection.
type memStore struct {
	mu         sync.Mutex
	pending    map[string][]domain.PendingRecord
	staging    []stagingRow
	quarantine []quarantineRow
	nextID     int

	writes int
	calls  map[string]int
	failAt map[string]int // op -> 1-based call number that fails
	chunks []int          // sizes of InsertPending calls
}

func newMemStore() *memStore {
	return &memStore{
		pending: make(map[string][]domain.PendingRecord),
		calls:   make(map[string]int),
		failAt:  make(map[string]int),
	}
}

// failOn makes the nth future call of op fail.
func (m *memStore) failOn(op string, nth int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failAt[op] = m.calls[op] + nth
}

func (m *memStore) clearFailures() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failAt = make(map[string]int)
}

func (m *memStore) check(op string) error {
	m.calls[op]++
	if n, ok := m.failAt[op]; ok && n == m.calls[op] {
		return fmt.Errorf("%s refused by store", op)
	}
	return nil
}

func (m *memStore) id() string {
	m.nextID++
	return strconv.Itoa(m.nextID)
}

func inScope(rec domain.PendingRecord, scope Scope) bool {
	switch {
	case scope.JobID != "":
		return rec.JobID != nil && *rec.JobID == scope.JobID
	case scope.Orphan:
		return rec.JobID == nil
	default:
		return true
	}
}

func (m *memStore) FetchPending(_ context.Context, src Source, scope Scope, limit int) ([]domain.PendingRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("fetch"); err != nil {
		return nil, err
	}
	var out []domain.PendingRecord
	for _, rec := range m.pending[src.Table] {
		if len(out) == limit {
			break
		}
		if inScope(rec, scope) {
			out = append(out, domain.PendingRecord{ID: rec.ID, JobID: rec.JobID, Fields: rec.Fields.Clone()})
		}
	}
	return out, nil
}

func (m *memStore) UpdatePending(_ context.Context, src Source, id string, f domain.Fields) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("update"); err != nil {
		return err
	}
	m.writes++
	for i, rec := range m.pending[src.Table] {
		if rec.ID == id {
			m.pending[src.Table][i].Fields = f.Clone()
		}
	}
	return nil
}

func (m *memStore) DeletePending(_ context.Context, src Source, ids []string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("delete"); err != nil {
		return 0, err
	}
	m.writes++
	drop := make(map[string]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}
	kept := m.pending[src.Table][:0]
	n := 0
	for _, rec := range m.pending[src.Table] {
		if drop[rec.ID] {
			n++
			continue
		}
		kept = append(kept, rec)
	}
	m.pending[src.Table] = kept
	return n, nil
}

func (m *memStore) CountPending(_ context.Context, src Source, scope Scope) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("count"); err != nil {
		return 0, err
	}
	n := 0
	for _, rec := range m.pending[src.Table] {
		if inScope(rec, scope) {
			n++
		}
	}
	return n, nil
}

func (m *memStore) InsertPending(_ context.Context, src Source, jobID string, rows []domain.Fields) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("insert_pending"); err != nil {
		return err
	}
	m.writes++
	m.chunks = append(m.chunks, len(rows))
	for _, f := range rows {
		rec := domain.PendingRecord{ID: m.id(), Fields: f.Clone()}
		if jobID != "" {
			j := jobID
			rec.JobID = &j
		}
		m.pending[src.Table] = append(m.pending[src.Table], rec)
	}
	return nil
}

// addPending seeds a row directly, bypassing call accounting.
func (m *memStore) addPending(table string, jobID *string, f domain.Fields) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.id()
	m.pending[table] = append(m.pending[table], domain.PendingRecord{ID: id, JobID: jobID, Fields: f})
	return id
}

// addStaging seeds a canonical row loaded outside the pipeline.
func (m *memStore) addStaging(f domain.Fields) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := "s" + m.id()
	m.staging = append(m.staging, stagingRow{id: id, fields: f})
	return id
}

func (m *memStore) ScanIdentities(_ context.Context, fn func(Identity) error) error {
	m.mu.Lock()
	rows := append([]stagingRow(nil), m.staging...)
	err := m.check("scan")
	m.mu.Unlock()
	if err != nil {
		return err
	}
	for _, r := range rows {
		if err := fn(Identity{StagingID: r.id, OriginKey: r.origin, Emails: r.fields.Emails()}); err != nil {
			return err
		}
	}
	return nil
}

func (m *memStore) InsertStaging(_ context.Context, originKey string, f domain.Fields) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("insert_staging"); err != nil {
		return "", err
	}
	for _, r := range m.staging {
		if r.origin != "" && r.origin == originKey {
			return "", errors.New("duplicate key value violates unique constraint on origin_key")
		}
	}
	m.writes++
	id := "s" + m.id()
	m.staging = append(m.staging, stagingRow{id: id, origin: originKey, fields: f.Clone()})
	return id, nil
}

func (m *memStore) InsertQuarantine(_ context.Context, originKey string, q *domain.QuarantineRecord) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("insert_quarantine"); err != nil {
		return false, err
	}
	for _, r := range m.quarantine {
		if r.origin == originKey {
			return false, nil
		}
	}
	m.writes++
	rec := *q
	rec.ID = "q" + m.id()
	rec.Fields = q.Fields.Clone()
	rec.CreatedAt = time.Now().UTC()
	m.quarantine = append(m.quarantine, quarantineRow{origin: originKey, rec: rec})
	return true, nil
}

func (m *memStore) ListQuarantine(_ context.Context, jobID string) ([]domain.QuarantineRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("list_quarantine"); err != nil {
		return nil, err
	}
	var out []domain.QuarantineRecord
	for _, r := range m.quarantine {
		if r.rec.JobID != nil && *r.rec.JobID == jobID {
			out = append(out, r.rec)
		}
	}
	return out, nil
}

func (m *memStore) pendingCount(table string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending[table])
}

func (m *memStore) stagingRows() []stagingRow {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]stagingRow(nil), m.staging...)
}

func (m *memStore) quarantineRecords() []domain.QuarantineRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.QuarantineRecord, len(m.quarantine))
	for i, r := range m.quarantine {
		out[i] = r.rec
	}
	return out
}

func (m *memStore) writeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

// memJobs is an in-memory JobRepository.
type memJobs struct {
	mu     sync.RWMutex
	jobs   map[string]*domain.ImportJob
	writes int
	fail   error
}

func newMemJobs() *memJobs {
	return &memJobs{jobs: make(map[string]*domain.ImportJob)}
}

func (m *memJobs) CreateJob(_ context.Context, job *domain.ImportJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	m.writes++
	cp := *job
	m.jobs[job.ID] = &cp
	return nil
}

func (m *memJobs) GetJob(_ context.Context, id string) (*domain.ImportJob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	cp := *j
	return &cp, nil
}

func (m *memJobs) ListJobs(_ context.Context, limit, offset int) ([]domain.ImportJob, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	all := make([]domain.ImportJob, 0, len(m.jobs))
	for _, j := range m.jobs {
		all = append(all, *j)
	}
	sort.Slice(all, func(a, b int) bool { return all[a].CreatedAt.After(all[b].CreatedAt) })
	total := len(all)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

func (m *memJobs) UpdateJobStatus(_ context.Context, id string, status domain.JobStatus, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	j, ok := m.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	m.writes++
	j.Status = status
	j.ErrorMessage = errMsg
	return nil
}

func (m *memJobs) AddJobCounters(_ context.Context, id string, inserted, duplicates int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	j, ok := m.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	m.writes++
	j.InsertedCount += inserted
	j.DuplicateCount += duplicates
	return nil
}

func (m *memJobs) get(id string) domain.ImportJob {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return *m.jobs[id]
}

func (m *memJobs) writeCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.writes
}

// memCounter counts memStore tables.
type memCounter struct {
	store    *memStore
	exactErr error
	procErr  error
	procCall int
}

func (c *memCounter) count(table string) int {
	switch table {
	case tblStaging:
		return len(c.store.stagingRows())
	case tblQuarantine:
		return len(c.store.quarantineRecords())
	default:
		return c.store.pendingCount(table)
	}
}

func (c *memCounter) ExactCount(_ context.Context, table string) (int, error) {
	if c.exactErr != nil {
		return 0, c.exactErr
	}
	return c.count(table), nil
}

func (c *memCounter) ProcedureCount(_ context.Context, table string) (int, error) {
	c.procCall++
	if c.procErr != nil {
		return 0, c.procErr
	}
	return c.count(table), nil
}

// harness wires a processor over the in-memory fakes.
type harness struct {
	store   *memStore
	jobs    *memJobs
	counter *memCounter
	ledger  *Ledger
	proc    *Processor
	opts    Options
}

func newHarness(withOther bool) *harness {
	store := newMemStore()
	jobs := newMemJobs()
	counter := &memCounter{store: store}
	opts := Options{
		Main:            mainSource,
		StagingTable:    tblStaging,
		QuarantineTable: tblQuarantine,
	}
	if withOther {
		other := otherSource
		opts.Other = &other
	}
	ledger := NewLedger(jobs)
	return &harness{
		store:   store,
		jobs:    jobs,
		counter: counter,
		ledger:  ledger,
		proc:    NewProcessor(store, ledger, NewReporter(counter, opts), opts),
		opts:    opts,
	}
}

// seedJob creates a pending job owning rows in the main table.
func (h *harness) seedJob(rows ...domain.Fields) string {
	job, err := h.ledger.Create(context.Background(), "upload.csv", len(rows))
	if err != nil {
		panic(err)
	}
	for _, f := range rows {
		id := job.ID
		h.store.addPending(tblMain, &id, f)
	}
	return job.ID
}

// row builds Fields from column/value pairs.
func row(kv ...string) domain.Fields {
	f := domain.NewFields()
	for i := 0; i+1 < len(kv); i += 2 {
		f.Set(domain.Column(kv[i]), kv[i+1])
	}
	return f
}
