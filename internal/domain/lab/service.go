package lab

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/medigen/labreport/internal/platform/db"
	"github.com/medigen/labreport/internal/platform/events"
)

// Augmentation outcomes reported to the Recorder.
const (
	OutcomeParsed   = "parsed"
	OutcomeFallback = "fallback"
	OutcomeFailed   = "failed"
)

const (
	defaultNarrativeTimeout = 60 * time.Second
	defaultPublishWorkers   = 4
	defaultListPageSize     = 50
)

// Recorder receives lifecycle counters.
type Recorder interface {
	GroupsCreated(n int)
	ReportPublished(status string)
	Augmented(outcome string, elapsed time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) GroupsCreated(int)               {}
func (nopRecorder) ReportPublished(string)          {}
func (nopRecorder) Augmented(string, time.Duration) {}

type Service struct {
	tx       Transactor
	patients PatientRepository
	catalog  CatalogRepository
	results  TestResultRepository
	reports  ReportRepository
	ids      *Allocator

	generator        NarrativeGenerator
	narrativeTimeout time.Duration
	events           events.Publisher
	metrics          Recorder
	logger           zerolog.Logger
	publishWorkers   int
	now              func() time.Time
}

func NewService(tx Transactor, patients PatientRepository, catalog CatalogRepository, results TestResultRepository, reports ReportRepository, seq SequenceRepository) *Service {
	return &Service{
		tx:               tx,
		patients:         patients,
		catalog:          catalog,
		results:          results,
		reports:          reports,
		ids:              NewAllocator(seq),
		narrativeTimeout: defaultNarrativeTimeout,
		events:           events.Nop{},
		metrics:          nopRecorder{},
		logger:           zerolog.Nop(),
		publishWorkers:   defaultPublishWorkers,
		now:              func() time.Time { return time.Now().UTC() },
	}
}

// SetNarrativeGenerator attaches the external narrative collaborator. Without
// one, Augment fails with ErrAugmentationFailed.
func (s *Service) SetNarrativeGenerator(g NarrativeGenerator) { s.generator = g }

// SetNarrativeTimeout bounds a single generation call.
func (s *Service) SetNarrativeTimeout(d time.Duration) {
	if d > 0 {
		s.narrativeTimeout = d
	}
}

func (s *Service) SetEventPublisher(p events.Publisher) { s.events = p }

func (s *Service) SetRecorder(r Recorder) { s.metrics = r }

func (s *Service) SetLogger(l zerolog.Logger) { s.logger = l.With().Str("component", "lab").Logger() }

// SetPublishWorkers caps how many groups PublishGroups publishes at once.
func (s *Service) SetPublishWorkers(n int) {
	if n > 0 {
		s.publishWorkers = n
	}
}

// runTx runs fn in a transaction and maps an exhausted retry budget onto
// ErrConcurrency.
func (s *Service) runTx(ctx context.Context, fn func(ctx context.Context) error) error {
	err := s.tx.InTx(ctx, fn)
	if errors.Is(err, db.ErrTxConflict) {
		return fmt.Errorf("%w: %v", ErrConcurrency, err)
	}
	return err
}

// emit publishes a lifecycle event. It is called only after the owning
// transaction has committed and never fails the operation.
func (s *Service) emit(ctx context.Context, typ, actor string, attrs map[string]string) {
	evt := events.Event{Type: typ, Actor: actor, Attributes: attrs, OccurredAt: s.now()}
	if err := s.events.Publish(context.WithoutCancel(ctx), evt); err != nil {
		s.logger.Warn().Err(err).Str("event", typ).Msg("failed to publish lifecycle event")
	}
}

// -- Test Group Lifecycle --

// CreateGroup records values as a new draft group for the patient. Every
// result gets its own test id and a status classified from its value.
func (s *Service) CreateGroup(ctx context.Context, patientID uuid.UUID, values []NewResult, actor string) (*Group, error) {
	if len(values) == 0 {
		return nil, invalid("at least one test result is required")
	}
	for i, v := range values {
		if v.TestTypeID == uuid.Nil {
			return nil, invalid("result %d: test_type_id is required", i)
		}
		if v.Value == nil {
			return nil, invalid("result %d: value is required", i)
		}
		if !isFinite(*v.Value) {
			return nil, invalid("result %d: value must be a finite number", i)
		}
	}

	var group *Group
	err := s.runTx(ctx, func(ctx context.Context) error {
		if _, err := s.patients.GetByID(ctx, patientID); err != nil {
			if errors.Is(err, ErrNotFound) {
				return invalid("patient %s does not exist", patientID)
			}
			return err
		}

		types := make(map[uuid.UUID]*TestType, len(values))
		for _, v := range values {
			if _, ok := types[v.TestTypeID]; ok {
				continue
			}
			tt, err := s.catalog.GetTestType(ctx, v.TestTypeID)
			if err != nil {
				if errors.Is(err, ErrNotFound) {
					return invalid("test type %s does not exist", v.TestTypeID)
				}
				return err
			}
			types[v.TestTypeID] = tt
		}

		groupID, err := s.ids.Next(ctx, KindGroup)
		if err != nil {
			return err
		}
		submitted := s.now()
		results := make([]*TestResult, 0, len(values))
		for _, v := range values {
			testID, err := s.ids.Next(ctx, KindTest)
			if err != nil {
				return err
			}
			tt := types[v.TestTypeID]
			results = append(results, &TestResult{
				ID:          uuid.New(),
				TestID:      testID,
				GroupID:     groupID,
				PatientID:   patientID,
				TestTypeID:  tt.ID,
				Value:       *v.Value,
				Status:      tt.Classify(*v.Value),
				CreatedBy:   actor,
				SubmittedAt: submitted,
				TestType:    tt,
			})
		}
		if err := s.results.CreateBatch(ctx, results); err != nil {
			return fmt.Errorf("create group %s: %w", groupID, err)
		}
		group, err = buildGroup(groupID, results)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.metrics.GroupsCreated(1)
	s.logger.Info().Str("group_id", group.GroupID).Int("results", len(group.Results)).Str("actor", actor).Msg("test group created")
	s.emit(ctx, events.GroupCreated, actor, map[string]string{
		"group_id":   group.GroupID,
		"patient_id": group.PatientID.String(),
		"results":    fmt.Sprint(len(group.Results)),
	})
	return group, nil
}

// EditGroup changes values and notes of members of a draft group and
// re-classifies every edited result.
func (s *Service) EditGroup(ctx context.Context, groupID string, edits []ResultEdit, actor string) (*Group, error) {
	if len(edits) == 0 {
		return nil, invalid("at least one edit is required")
	}
	for i, e := range edits {
		if e.Value == nil {
			return nil, invalid("edit %d (test %s): value is required", i, e.TestID)
		}
		if !isFinite(*e.Value) {
			return nil, invalid("test %s: value must be a finite number", e.TestID)
		}
	}

	var group *Group
	err := s.runTx(ctx, func(ctx context.Context) error {
		members, err := s.lockGroup(ctx, groupID)
		if err != nil {
			return err
		}
		state, err := groupState(groupID, members)
		if err != nil {
			return err
		}
		if state != GroupDraft {
			return invalidState("group %s is %s and can no longer be edited", groupID, state)
		}

		byTestID := make(map[string]*TestResult, len(members))
		for _, m := range members {
			byTestID[m.TestID] = m
		}
		for _, e := range edits {
			m, ok := byTestID[e.TestID]
			if !ok {
				return invalid("test %s is not a member of group %s", e.TestID, groupID)
			}
			tt, err := s.testTypeOf(ctx, m)
			if err != nil {
				return err
			}
			m.Value = *e.Value
			m.Note = e.Note
			m.Status = tt.Classify(*e.Value)
			if err := s.results.Update(ctx, m); err != nil {
				return fmt.Errorf("update test %s: %w", m.TestID, err)
			}
		}
		group, err = buildGroup(groupID, members)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().Str("group_id", groupID).Int("edits", len(edits)).Str("actor", actor).Msg("test group edited")
	s.emit(ctx, events.GroupEdited, actor, map[string]string{"group_id": groupID})
	return group, nil
}

// DeleteGroup removes every member of the group. A published group's report
// is kept; deleting it is a separate operation.
func (s *Service) DeleteGroup(ctx context.Context, groupID, actor string) error {
	var deleted *Group
	err := s.runTx(ctx, func(ctx context.Context) error {
		g, err := s.deleteGroup(ctx, groupID)
		deleted = g
		return err
	})
	if err != nil {
		return err
	}
	s.logDeletedGroup(ctx, deleted, actor)
	return nil
}

// DeleteGroups deletes several groups in one transaction. If any group is
// missing or inconsistent nothing is deleted.
func (s *Service) DeleteGroups(ctx context.Context, groupIDs []string, actor string) (int, error) {
	ids := dedupe(groupIDs)
	if len(ids) == 0 {
		return 0, invalid("at least one group id is required")
	}
	var deleted []*Group
	err := s.runTx(ctx, func(ctx context.Context) error {
		deleted = deleted[:0]
		for _, id := range ids {
			g, err := s.deleteGroup(ctx, id)
			if err != nil {
				return err
			}
			deleted = append(deleted, g)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	for _, g := range deleted {
		s.logDeletedGroup(ctx, g, actor)
	}
	return len(deleted), nil
}

func (s *Service) deleteGroup(ctx context.Context, groupID string) (*Group, error) {
	members, err := s.lockGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	g, err := buildGroup(groupID, members)
	if err != nil {
		return nil, err
	}
	n, err := s.results.DeleteByGroup(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("delete group %s: %w", groupID, err)
	}
	if n != len(members) {
		return nil, fmt.Errorf("%w: group %s changed during delete (%d of %d rows)", ErrConcurrency, groupID, n, len(members))
	}
	return g, nil
}

func (s *Service) logDeletedGroup(ctx context.Context, g *Group, actor string) {
	attrs := map[string]string{"group_id": g.GroupID, "state": string(g.State)}
	if g.ReportID != nil {
		attrs["report_uuid"] = g.ReportID.String()
	}
	s.logger.Info().Str("group_id", g.GroupID).Str("state", string(g.State)).Str("actor", actor).Msg("test group deleted")
	s.emit(ctx, events.GroupDeleted, actor, attrs)
}

// GetGroup returns the members of a group with their test types.
func (s *Service) GetGroup(ctx context.Context, groupID string) (*Group, error) {
	members, err := s.results.ListByGroup(ctx, groupID, false)
	if err != nil {
		return nil, err
	}
	if len(members) == 0 {
		return nil, notFound("group %s", groupID)
	}
	return buildGroup(groupID, members)
}

// ListGroups returns a lazy sequence of groups in state, newest submission
// first, ties broken by group id descending. Groups are fetched pageSize at
// a time as the sequence is consumed; ranging over it again starts over.
func (s *Service) ListGroups(ctx context.Context, state GroupState, pageSize int) iter.Seq2[*Group, error] {
	if pageSize <= 0 {
		pageSize = defaultListPageSize
	}
	return func(yield func(*Group, error) bool) {
		if state != GroupDraft && state != GroupPublished {
			yield(nil, invalid("unknown group state %q", state))
			return
		}
		published := state == GroupPublished
		var after *GroupCursor
		for {
			heads, err := s.results.ListGroupHeads(ctx, published, after, pageSize)
			if err != nil {
				yield(nil, fmt.Errorf("list %s groups: %w", state, err))
				return
			}
			for _, h := range heads {
				members, err := s.results.ListByGroup(ctx, h.GroupID, false)
				if err != nil {
					yield(nil, err)
					return
				}
				if len(members) == 0 {
					continue
				}
				g, err := buildGroup(h.GroupID, members)
				if err != nil {
					yield(nil, err)
					return
				}
				if g.State != state {
					continue
				}
				if !yield(g, nil) {
					return
				}
			}
			if len(heads) < pageSize {
				return
			}
			last := heads[len(heads)-1]
			after = &GroupCursor{SubmittedAt: last.SubmittedAt, GroupID: last.GroupID}
		}
	}
}

// -- Report Synthesis --

// Publish turns a draft group into a report. All members are linked to the
// new report in the same transaction that creates it.
func (s *Service) Publish(ctx context.Context, groupID, actor string) (*Report, error) {
	var report *Report
	err := s.runTx(ctx, func(ctx context.Context) error {
		members, err := s.lockGroup(ctx, groupID)
		if err != nil {
			return err
		}
		state, err := groupState(groupID, members)
		if err != nil {
			return err
		}
		if state == GroupPublished {
			return invalidState("group %s is already published", groupID)
		}
		for _, m := range members {
			if m.TestType == nil {
				if m.TestType, err = s.testTypeOf(ctx, m); err != nil {
					return err
				}
			}
		}

		r := SynthesizeReport(groupID, members)
		if r.ReportID, err = s.ids.Next(ctx, KindReport); err != nil {
			return err
		}
		now := s.now()
		r.ID = uuid.New()
		r.PatientID = members[0].PatientID
		r.CreatedBy = actor
		r.CreatedAt = now
		r.UpdatedAt = now
		if err := s.reports.Create(ctx, r); err != nil {
			return fmt.Errorf("create report %s: %w", r.ReportID, err)
		}

		n, err := s.results.PublishGroup(ctx, groupID, r.ID, now)
		if err != nil {
			return fmt.Errorf("publish group %s: %w", groupID, err)
		}
		if n != len(members) {
			return fmt.Errorf("%w: group %s changed during publish (%d of %d rows)", ErrConcurrency, groupID, n, len(members))
		}
		report = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.ReportPublished(string(report.Status))
	s.logger.Info().Str("group_id", groupID).Str("report_id", report.ReportID).
		Str("status", string(report.Status)).Str("actor", actor).Msg("test group published")
	s.emit(ctx, events.ReportPublished, actor, map[string]string{
		"group_id":  groupID,
		"report_id": report.ReportID,
		"status":    string(report.Status),
	})
	return report, nil
}

// PublishGroups publishes each group in its own transaction. Groups are
// disjoint, so they run concurrently; one failure does not affect the rest.
// Outcomes are returned in input order.
func (s *Service) PublishGroups(ctx context.Context, groupIDs []string, actor string) ([]PublishOutcome, error) {
	ids := dedupe(groupIDs)
	if len(ids) == 0 {
		return nil, invalid("at least one group id is required")
	}
	out := make([]PublishOutcome, len(ids))
	var g errgroup.Group
	g.SetLimit(s.publishWorkers)
	for i, id := range ids {
		g.Go(func() error {
			r, err := s.Publish(ctx, id, actor)
			out[i] = PublishOutcome{GroupID: id, Report: r, Err: err}
			if err != nil {
				out[i].Error = err.Error()
			}
			return nil
		})
	}
	_ = g.Wait()
	return out, nil
}

// DeleteReport removes the report's results and then the report itself.
func (s *Service) DeleteReport(ctx context.Context, reportID, actor string) error {
	var results int
	err := s.runTx(ctx, func(ctx context.Context) error {
		n, err := s.deleteReport(ctx, reportID)
		results = n
		return err
	})
	if err != nil {
		return err
	}
	s.logDeletedReport(ctx, reportID, results, actor)
	return nil
}

// DeleteReports deletes several reports in one transaction, all or nothing.
func (s *Service) DeleteReports(ctx context.Context, reportIDs []string, actor string) (int, error) {
	ids := dedupe(reportIDs)
	if len(ids) == 0 {
		return 0, invalid("at least one report id is required")
	}
	counts := make([]int, len(ids))
	err := s.runTx(ctx, func(ctx context.Context) error {
		for i, id := range ids {
			n, err := s.deleteReport(ctx, id)
			if err != nil {
				return err
			}
			counts[i] = n
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	for i, id := range ids {
		s.logDeletedReport(ctx, id, counts[i], actor)
	}
	return len(ids), nil
}

func (s *Service) deleteReport(ctx context.Context, reportID string) (int, error) {
	r, err := s.reports.GetByReportID(ctx, reportID, true)
	if err != nil {
		return 0, err
	}
	n, err := s.results.DeleteByReport(ctx, r.ID)
	if err != nil {
		return 0, fmt.Errorf("delete results of report %s: %w", reportID, err)
	}
	if err := s.reports.Delete(ctx, r.ID); err != nil {
		return 0, fmt.Errorf("delete report %s: %w", reportID, err)
	}
	return n, nil
}

func (s *Service) logDeletedReport(ctx context.Context, reportID string, results int, actor string) {
	s.logger.Info().Str("report_id", reportID).Int("results", results).Str("actor", actor).Msg("report deleted")
	s.emit(ctx, events.ReportDeleted, actor, map[string]string{
		"report_id": reportID,
		"results":   fmt.Sprint(results),
	})
}

// GetReport returns the report with its patient and its results grouped by
// test group.
func (s *Service) GetReport(ctx context.Context, reportID string) (*ReportDetail, error) {
	r, err := s.reports.GetByReportID(ctx, reportID, false)
	if err != nil {
		return nil, err
	}
	members, err := s.results.ListByReport(ctx, r.ID)
	if err != nil {
		return nil, err
	}
	p, err := s.patients.GetByID(ctx, r.PatientID)
	if err != nil {
		return nil, err
	}

	byGroup := make(map[string][]*TestResult)
	var order []string
	for _, m := range members {
		if _, ok := byGroup[m.GroupID]; !ok {
			order = append(order, m.GroupID)
		}
		byGroup[m.GroupID] = append(byGroup[m.GroupID], m)
	}
	detail := &ReportDetail{Report: r, Patient: p, Groups: make([]*Group, 0, len(order))}
	for _, id := range order {
		g, err := buildGroup(id, byGroup[id])
		if err != nil {
			return nil, err
		}
		detail.Groups = append(detail.Groups, g)
	}
	return detail, nil
}

func (s *Service) ListReports(ctx context.Context, f ReportFilter, limit, offset int) ([]*Report, int, error) {
	switch f.Status {
	case "", ReportNormal, ReportAtRisk, ReportCritical:
	default:
		return nil, 0, invalid("unknown report status %q", f.Status)
	}
	return s.reports.List(ctx, f, limit, offset)
}

// Stats summarises patients, reports and groups.
func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	patients, err := s.patients.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("count patients: %w", err)
	}
	byStatus, aiGenerated, err := s.reports.CountByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("count reports: %w", err)
	}
	groups, err := s.results.GroupCounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("count groups: %w", err)
	}
	st := &Stats{
		Patients:                patients,
		ReportsByStatus:         map[ReportStatus]int{ReportNormal: 0, ReportAtRisk: 0, ReportCritical: 0},
		AIGeneratedReports:      aiGenerated,
		DraftGroups:             groups.Draft,
		PublishedGroups:         groups.Published,
		AbnormalPublishedGroups: groups.AbnormalPublished,
		CriticalPublishedGroups: groups.CriticalPublished,
	}
	for status, n := range byStatus {
		st.ReportsByStatus[status] = n
		st.Reports += n
	}
	return st, nil
}

// -- Narrative Augmentation --

// Augment replaces the report's diagnosis and recommendations with generated
// text. The generator runs outside any transaction; the report is written
// only after it returns. On generator failure the report is left as is.
func (s *Service) Augment(ctx context.Context, reportID, actor string) (*Report, error) {
	if s.generator == nil {
		s.metrics.Augmented(OutcomeFailed, 0)
		return nil, fmt.Errorf("%w: narrative generation is not configured", ErrAugmentationFailed)
	}

	r, err := s.reports.GetByReportID(ctx, reportID, false)
	if err != nil {
		return nil, err
	}
	members, err := s.results.ListByReport(ctx, r.ID)
	if err != nil {
		return nil, err
	}
	p, err := s.patients.GetByID(ctx, r.PatientID)
	if err != nil {
		return nil, err
	}

	genCtx, cancel := context.WithTimeout(ctx, s.narrativeTimeout)
	start := time.Now()
	text, err := s.generator.Generate(genCtx, BuildNarrativeRequest(p, members))
	elapsed := time.Since(start)
	cancel()
	if err != nil {
		s.metrics.Augmented(OutcomeFailed, elapsed)
		s.logger.Error().Err(err).Str("report_id", reportID).Dur("elapsed", elapsed).Msg("narrative generation failed")
		return nil, fmt.Errorf("%w: report %s: %v", ErrAugmentationFailed, reportID, err)
	}

	n := ParseNarrative(text)
	outcome := OutcomeParsed
	if !n.Parsed {
		outcome = OutcomeFallback
		s.logger.Warn().Str("report_id", reportID).Msg("narrative had no recommendations section, using fallback")
	}

	var updated *Report
	err = s.runTx(ctx, func(ctx context.Context) error {
		cur, err := s.reports.GetByReportID(ctx, reportID, true)
		if err != nil {
			return err
		}
		current, err := s.results.ListByReport(ctx, cur.ID)
		if err != nil {
			return err
		}
		cur.Status = AggregateStatus(current)
		cur.Diagnosis = n.Diagnosis
		cur.Recommendations = n.Recommendations
		cur.AIGenerated = true
		cur.UpdatedAt = s.now()
		if err := s.reports.Update(ctx, cur); err != nil {
			return fmt.Errorf("update report %s: %w", reportID, err)
		}
		updated = cur
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.Augmented(outcome, elapsed)
	s.logger.Info().Str("report_id", reportID).Str("outcome", outcome).
		Str("status", string(updated.Status)).Dur("elapsed", elapsed).Str("actor", actor).Msg("report augmented")
	s.emit(ctx, events.ReportAugmented, actor, map[string]string{
		"report_id": reportID,
		"status":    string(updated.Status),
		"outcome":   outcome,
	})
	return updated, nil
}

// -- helpers --

// lockGroup loads and locks every member of groupID.
func (s *Service) lockGroup(ctx context.Context, groupID string) ([]*TestResult, error) {
	members, err := s.results.ListByGroup(ctx, groupID, true)
	if err != nil {
		return nil, err
	}
	if len(members) == 0 {
		return nil, notFound("group %s", groupID)
	}
	return members, nil
}

func (s *Service) testTypeOf(ctx context.Context, m *TestResult) (*TestType, error) {
	if m.TestType != nil {
		return m.TestType, nil
	}
	tt, err := s.catalog.GetTestType(ctx, m.TestTypeID)
	if err != nil {
		return nil, fmt.Errorf("test type of %s: %w", m.TestID, err)
	}
	return tt, nil
}

// groupState derives the lifecycle state of a non-empty group and rejects
// groups split across states or across reports.
func groupState(groupID string, members []*TestResult) (GroupState, error) {
	published := 0
	var reportID *uuid.UUID
	for _, m := range members {
		if !m.IsPublished {
			continue
		}
		published++
		if m.ReportID == nil {
			return "", fmt.Errorf("group %s: published test %s has no report: %w", groupID, m.TestID, ErrInconsistentGroup)
		}
		if reportID != nil && *reportID != *m.ReportID {
			return "", fmt.Errorf("group %s: members linked to different reports: %w", groupID, ErrInconsistentGroup)
		}
		reportID = m.ReportID
	}
	switch published {
	case 0:
		return GroupDraft, nil
	case len(members):
		return GroupPublished, nil
	default:
		return "", fmt.Errorf("group %s: %d of %d members published: %w", groupID, published, len(members), ErrInconsistentGroup)
	}
}

func buildGroup(groupID string, members []*TestResult) (*Group, error) {
	state, err := groupState(groupID, members)
	if err != nil {
		return nil, err
	}
	sorted := make([]*TestResult, len(members))
	copy(sorted, members)
	sort.SliceStable(sorted, func(i, j int) bool { return testIDLess(sorted[i].TestID, sorted[j].TestID) })

	g := &Group{
		GroupID:   groupID,
		PatientID: sorted[0].PatientID,
		State:     state,
		Results:   sorted,
	}
	for _, m := range sorted {
		if m.SubmittedAt.After(g.SubmittedAt) {
			g.SubmittedAt = m.SubmittedAt
		}
	}
	if state == GroupPublished {
		g.ReportID = sorted[0].ReportID
	}
	return g, nil
}

// testIDLess orders test ids numerically so TEST-10000 sorts after
// TEST-9999.
func testIDLess(a, b string) bool { return identifierLess(KindTest, a, b) }

// identifierLess compares two identifiers of kind by number. Malformed ids
// fall back to text order.
func identifierLess(kind IDKind, a, b string) bool {
	na, errA := ParseIdentifier(kind, a)
	nb, errB := ParseIdentifier(kind, b)
	if errA != nil || errB != nil {
		return a < b
	}
	return na < nb
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
