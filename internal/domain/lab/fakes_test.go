package lab

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/medigen/labreport/internal/platform/events"
	"github.com/medigen/labreport/internal/platform/narrative"
)

// -- In-memory store --

// memStore backs every fake repository. Transactions are serialized on txMu
// and roll back by restoring a snapshot taken when they began.
type memStore struct {
	txMu sync.Mutex
	mu   sync.Mutex

	patients   map[uuid.UUID]*Patient
	categories map[uuid.UUID]*TestCategory
	types      map[uuid.UUID]*TestType
	results    map[uuid.UUID]*TestResult
	reports    map[uuid.UUID]*Report
	counters   map[IDKind]int64

	txErr      error
	headCalls  int
	publishHit func()
}

func newMemStore() *memStore {
	return &memStore{
		patients:   make(map[uuid.UUID]*Patient),
		categories: make(map[uuid.UUID]*TestCategory),
		types:      make(map[uuid.UUID]*TestType),
		results:    make(map[uuid.UUID]*TestResult),
		reports:    make(map[uuid.UUID]*Report),
		counters:   make(map[IDKind]int64),
	}
}

type memSnapshot struct {
	patients   map[uuid.UUID]Patient
	categories map[uuid.UUID]TestCategory
	types      map[uuid.UUID]TestType
	results    map[uuid.UUID]TestResult
	reports    map[uuid.UUID]Report
	counters   map[IDKind]int64
}

func (s *memStore) snapshot() memSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := memSnapshot{
		patients:   make(map[uuid.UUID]Patient, len(s.patients)),
		categories: make(map[uuid.UUID]TestCategory, len(s.categories)),
		types:      make(map[uuid.UUID]TestType, len(s.types)),
		results:    make(map[uuid.UUID]TestResult, len(s.results)),
		reports:    make(map[uuid.UUID]Report, len(s.reports)),
		counters:   make(map[IDKind]int64, len(s.counters)),
	}
	for k, v := range s.patients {
		snap.patients[k] = *v
	}
	for k, v := range s.categories {
		snap.categories[k] = *v
	}
	for k, v := range s.types {
		snap.types[k] = *v
	}
	for k, v := range s.results {
		snap.results[k] = *v
	}
	for k, v := range s.reports {
		snap.reports[k] = *v
	}
	for k, v := range s.counters {
		snap.counters[k] = v
	}
	return snap
}

func (s *memStore) restore(snap memSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.patients = make(map[uuid.UUID]*Patient, len(snap.patients))
	for k, v := range snap.patients {
		s.patients[k] = &v
	}
	s.categories = make(map[uuid.UUID]*TestCategory, len(snap.categories))
	for k, v := range snap.categories {
		s.categories[k] = &v
	}
	s.types = make(map[uuid.UUID]*TestType, len(snap.types))
	for k, v := range snap.types {
		s.types[k] = &v
	}
	s.results = make(map[uuid.UUID]*TestResult, len(snap.results))
	for k, v := range snap.results {
		s.results[k] = &v
	}
	s.reports = make(map[uuid.UUID]*Report, len(snap.reports))
	for k, v := range snap.reports {
		s.reports[k] = &v
	}
	s.counters = snap.counters
}

type memTxKey struct{}

type memTx struct{ *memStore }

func (t memTx) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(memTxKey{}) != nil {
		return fn(ctx)
	}
	if t.txErr != nil {
		return t.txErr
	}
	t.txMu.Lock()
	defer t.txMu.Unlock()
	snap := t.snapshot()
	if err := fn(context.WithValue(ctx, memTxKey{}, true)); err != nil {
		t.restore(snap)
		return err
	}
	return nil
}

// -- Patients --

type memPatients struct{ *memStore }

func (r memPatients) GetByID(_ context.Context, id uuid.UUID) (*Patient, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.patients[id]
	if !ok {
		return nil, notFound("patient %s", id)
	}
	cp := *p
	return &cp, nil
}

func (r memPatients) Count(context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.patients), nil
}

// -- Catalog --

type memCatalog struct{ *memStore }

func (r memCatalog) GetTestType(_ context.Context, id uuid.UUID) (*TestType, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.testTypeLocked(id)
}

func (s *memStore) testTypeLocked(id uuid.UUID) (*TestType, error) {
	tt, ok := s.types[id]
	if !ok {
		return nil, notFound("test type %s", id)
	}
	cp := *tt
	if c, ok := s.categories[tt.CategoryID]; ok {
		cp.CategoryName = c.Name
	}
	return &cp, nil
}

func (r memCatalog) UpsertCategory(_ context.Context, c *TestCategory) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.categories {
		if existing.Name == c.Name {
			c.ID = existing.ID
			return false, nil
		}
	}
	c.ID = uuid.New()
	cp := *c
	r.categories[c.ID] = &cp
	return true, nil
}

func (r memCatalog) UpsertTestType(_ context.Context, tt *TestType) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.types {
		if existing.CategoryID == tt.CategoryID && existing.Name == tt.Name {
			tt.ID = existing.ID
			return false, nil
		}
	}
	tt.ID = uuid.New()
	cp := *tt
	r.types[tt.ID] = &cp
	return true, nil
}

// -- Results --

type memResults struct{ *memStore }

func (s *memStore) cloneResultLocked(res *TestResult) *TestResult {
	cp := *res
	if tt, err := s.testTypeLocked(res.TestTypeID); err == nil {
		cp.TestType = tt
	}
	return &cp
}

func (r memResults) CreateBatch(_ context.Context, results []*TestResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, res := range results {
		for _, existing := range r.results {
			if existing.TestID == res.TestID {
				return fmt.Errorf("duplicate test id %s", res.TestID)
			}
		}
		cp := *res
		cp.TestType = nil
		r.results[res.ID] = &cp
	}
	return nil
}

func (r memResults) filter(keep func(*TestResult) bool) []*TestResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*TestResult
	for _, res := range r.results {
		if keep(res) {
			out = append(out, r.cloneResultLocked(res))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].GroupID != out[j].GroupID {
			return identifierLess(KindGroup, out[i].GroupID, out[j].GroupID)
		}
		return testIDLess(out[i].TestID, out[j].TestID)
	})
	return out
}

func (r memResults) ListByGroup(_ context.Context, groupID string, _ bool) ([]*TestResult, error) {
	return r.filter(func(res *TestResult) bool { return res.GroupID == groupID }), nil
}

func (r memResults) Update(_ context.Context, res *TestResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.results[res.ID]
	if !ok || cur.IsPublished {
		return invalidState("test %s is not an editable draft", res.TestID)
	}
	cur.Value, cur.Status, cur.Note = res.Value, res.Status, res.Note
	return nil
}

func (r memResults) deleteWhere(match func(*TestResult) bool) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, res := range r.results {
		if match(res) {
			delete(r.results, id)
			n++
		}
	}
	return n
}

func (r memResults) DeleteByGroup(_ context.Context, groupID string) (int, error) {
	return r.deleteWhere(func(res *TestResult) bool { return res.GroupID == groupID }), nil
}

func (r memResults) PublishGroup(_ context.Context, groupID string, reportID uuid.UUID, at time.Time) (int, error) {
	if r.publishHit != nil {
		r.publishHit()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.reports[reportID]; !ok {
		return 0, fmt.Errorf("report %s does not exist", reportID)
	}
	n := 0
	for _, res := range r.results {
		if res.GroupID == groupID && !res.IsPublished {
			id := reportID
			ts := at
			res.ReportID = &id
			res.IsPublished = true
			res.PublishedAt = &ts
			n++
		}
	}
	return n, nil
}

func (r memResults) ListByReport(_ context.Context, reportID uuid.UUID) ([]*TestResult, error) {
	return r.filter(func(res *TestResult) bool { return res.ReportID != nil && *res.ReportID == reportID }), nil
}

func (r memResults) DeleteByReport(_ context.Context, reportID uuid.UUID) (int, error) {
	return r.deleteWhere(func(res *TestResult) bool { return res.ReportID != nil && *res.ReportID == reportID }), nil
}

type memGroupAgg struct {
	head      GroupHead
	published bool
	abnormal  bool
	critical  bool
}

func (s *memStore) groupsLocked() map[string]*memGroupAgg {
	groups := make(map[string]*memGroupAgg)
	for _, res := range s.results {
		g, ok := groups[res.GroupID]
		if !ok {
			g = &memGroupAgg{head: GroupHead{GroupID: res.GroupID}, published: true}
			groups[res.GroupID] = g
		}
		if res.SubmittedAt.After(g.head.SubmittedAt) {
			g.head.SubmittedAt = res.SubmittedAt
		}
		g.published = g.published && res.IsPublished
		g.abnormal = g.abnormal || res.Status == ResultAbnormal
		g.critical = g.critical || res.Status == ResultCritical
	}
	return groups
}

func (r memResults) ListGroupHeads(_ context.Context, published bool, after *GroupCursor, limit int) ([]GroupHead, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.headCalls++
	var heads []GroupHead
	for _, g := range r.groupsLocked() {
		if g.published != published {
			continue
		}
		heads = append(heads, g.head)
	}
	sort.Slice(heads, func(i, j int) bool {
		if !heads[i].SubmittedAt.Equal(heads[j].SubmittedAt) {
			return heads[i].SubmittedAt.After(heads[j].SubmittedAt)
		}
		return identifierLess(KindGroup, heads[j].GroupID, heads[i].GroupID)
	})
	if after != nil {
		i := sort.Search(len(heads), func(i int) bool {
			h := heads[i]
			return h.SubmittedAt.Before(after.SubmittedAt) ||
				(h.SubmittedAt.Equal(after.SubmittedAt) && identifierLess(KindGroup, h.GroupID, after.GroupID))
		})
		heads = heads[i:]
	}
	if len(heads) > limit {
		heads = heads[:limit]
	}
	return heads, nil
}

func (r memResults) GroupCounts(context.Context) (*GroupCounts, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var c GroupCounts
	for _, g := range r.groupsLocked() {
		if !g.published {
			c.Draft++
			continue
		}
		c.Published++
		if g.abnormal {
			c.AbnormalPublished++
		}
		if g.critical {
			c.CriticalPublished++
		}
	}
	return &c, nil
}

// -- Reports --

type memReports struct{ *memStore }

func (r memReports) Create(_ context.Context, rp *Report) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.reports {
		if existing.ReportID == rp.ReportID {
			return fmt.Errorf("duplicate report id %s", rp.ReportID)
		}
	}
	cp := *rp
	r.reports[rp.ID] = &cp
	return nil
}

func (r memReports) GetByReportID(_ context.Context, reportID string, _ bool) (*Report, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rp := range r.reports {
		if rp.ReportID == reportID {
			cp := *rp
			return &cp, nil
		}
	}
	return nil, notFound("report %s", reportID)
}

func (r memReports) Update(_ context.Context, rp *Report) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.reports[rp.ID]; !ok {
		return notFound("report %s", rp.ReportID)
	}
	cp := *rp
	r.reports[rp.ID] = &cp
	return nil
}

// Delete refuses while results still reference the report.
func (r memReports) Delete(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, res := range r.results {
		if res.ReportID != nil && *res.ReportID == id {
			return fmt.Errorf("report %s still referenced by %s", id, res.TestID)
		}
	}
	delete(r.reports, id)
	return nil
}

func (r memReports) List(_ context.Context, f ReportFilter, limit, offset int) ([]*Report, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var items []*Report
	for _, rp := range r.reports {
		if f.Status != "" && rp.Status != f.Status {
			continue
		}
		if f.PatientID != nil && rp.PatientID != *f.PatientID {
			continue
		}
		cp := *rp
		items = append(items, &cp)
	}
	sort.Slice(items, func(i, j int) bool {
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.After(items[j].CreatedAt)
		}
		return identifierLess(KindReport, items[j].ReportID, items[i].ReportID)
	})
	total := len(items)
	if offset >= len(items) {
		return nil, total, nil
	}
	items = items[offset:]
	if len(items) > limit {
		items = items[:limit]
	}
	return items, total, nil
}

func (r memReports) CountByStatus(context.Context) (map[ReportStatus]int, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	counts := make(map[ReportStatus]int)
	ai := 0
	for _, rp := range r.reports {
		counts[rp.Status]++
		if rp.AIGenerated {
			ai++
		}
	}
	return counts, ai, nil
}

// -- Sequences --

type memSeq struct{ *memStore }

func (r memSeq) Next(_ context.Context, kind IDKind) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counters[kind]++
	return r.counters[kind], nil
}

// -- Collaborators --

type fakeGenerator struct {
	mu      sync.Mutex
	text    string
	err     error
	wait    bool
	onCall  func()
	calls   int
	lastReq narrative.Request
}

func (g *fakeGenerator) Generate(ctx context.Context, req narrative.Request) (string, error) {
	g.mu.Lock()
	g.calls++
	g.lastReq = req
	onCall, wait, text, err := g.onCall, g.wait, g.text, g.err
	g.mu.Unlock()
	if onCall != nil {
		onCall()
	}
	if wait {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return text, err
}

type recordingMetrics struct {
	mu        sync.Mutex
	groups    int
	published map[string]int
	augmented map[string]int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{published: make(map[string]int), augmented: make(map[string]int)}
}

func (m *recordingMetrics) GroupsCreated(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.groups += n
}

func (m *recordingMetrics) ReportPublished(status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published[status]++
}

func (m *recordingMetrics) Augmented(outcome string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.augmented[outcome]++
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, evt events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
	return p.err
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, e := range p.events {
		out[i] = e.Type
	}
	return out
}

// -- Fixtures --

func ptr[T any](v T) *T { return &v }

func num(v float64) *float64 { return &v }

func testType(category, name, unit string, lo, hi float64) *TestType {
	return &TestType{
		ID:             uuid.New(),
		CategoryID:     uuid.New(),
		CategoryName:   category,
		Name:           name,
		Unit:           ptr(unit),
		NormalRangeMin: ptr(lo),
		NormalRangeMax: ptr(hi),
	}
}

type fixture struct {
	svc        *Service
	store      *memStore
	metrics    *recordingMetrics
	events     *recordingPublisher
	patient    *Patient
	hemoglobin *TestType
	glucose    *TestType
	platelets  *TestType
	unranged   *TestType
}

// newFixture builds a service over an in-memory store seeded with one
// patient and a few test types. The clock advances one second per reading.
func newFixture() *fixture {
	store := newMemStore()
	f := &fixture{
		store:   store,
		metrics: newRecordingMetrics(),
		events:  &recordingPublisher{},
		patient: &Patient{ID: uuid.New(), Name: "Jane Roe", Age: 42, Gender: "Female", ContactNumber: "555-0101"},
	}
	store.patients[f.patient.ID] = f.patient

	addType := func(category, name, unit string, lo, hi *float64) *TestType {
		cat := &TestCategory{ID: uuid.New(), Name: category}
		store.categories[cat.ID] = cat
		tt := &TestType{ID: uuid.New(), CategoryID: cat.ID, CategoryName: category, Name: name, NormalRangeMin: lo, NormalRangeMax: hi}
		if unit != "" {
			tt.Unit = ptr(unit)
		}
		store.types[tt.ID] = tt
		return tt
	}
	f.hemoglobin = addType("Blood Count", "Hemoglobin", "g/dL", ptr(13.5), ptr(17.5))
	f.glucose = addType("Glucose Tests", "Fasting Glucose", "mg/dL", ptr(70.0), ptr(100.0))
	f.platelets = addType("Platelets", "Platelet Count", "10^3/μL", ptr(150.0), ptr(400.0))
	f.unranged = addType("Misc", "Observation", "", nil, nil)

	svc := NewService(memTx{store}, memPatients{store}, memCatalog{store}, memResults{store}, memReports{store}, memSeq{store})
	var tick atomic.Int64
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return base.Add(time.Duration(tick.Add(1)) * time.Second) }
	svc.SetRecorder(f.metrics)
	svc.SetEventPublisher(f.events)
	f.svc = svc
	return f
}

func (f *fixture) createGroup(t testing.TB, values ...NewResult) *Group {
	t.Helper()
	g, err := f.svc.CreateGroup(context.Background(), f.patient.ID, values, "tech-1")
	if err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}
	return g
}

// storedResults returns every persisted member of groupID.
func (f *fixture) storedResults(groupID string) []*TestResult {
	res, _ := memResults{f.store}.ListByGroup(context.Background(), groupID, false)
	return res
}
