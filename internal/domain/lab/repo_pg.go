package lab

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medigen/labreport/internal/platform/db"
)

func mapNoRows(err error, format string, args ...interface{}) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return notFound(format, args...)
	}
	return err
}

// =========== Patient Repository ===========

type patientRepoPG struct{ pool *pgxpool.Pool }

func NewPatientRepoPG(pool *pgxpool.Pool) PatientRepository {
	return &patientRepoPG{pool: pool}
}

func (r *patientRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	var p Patient
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT id, name, age, gender, contact_number, created_at
		FROM patient WHERE id = $1`, id).
		Scan(&p.ID, &p.Name, &p.Age, &p.Gender, &p.ContactNumber, &p.CreatedAt)
	if err != nil {
		return nil, mapNoRows(err, "patient %s", id)
	}
	return &p, nil
}

func (r *patientRepoPG) Count(ctx context.Context) (int, error) {
	var n int
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT COUNT(*) FROM patient`).Scan(&n)
	return n, err
}

// =========== Catalog Repository ===========

type catalogRepoPG struct{ pool *pgxpool.Pool }

func NewCatalogRepoPG(pool *pgxpool.Pool) CatalogRepository {
	return &catalogRepoPG{pool: pool}
}

func (r *catalogRepoPG) GetTestType(ctx context.Context, id uuid.UUID) (*TestType, error) {
	var tt TestType
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT tt.id, tt.category_id, tc.name, tt.name, tt.unit, tt.normal_range_min, tt.normal_range_max
		FROM test_type tt JOIN test_category tc ON tc.id = tt.category_id
		WHERE tt.id = $1`, id).
		Scan(&tt.ID, &tt.CategoryID, &tt.CategoryName, &tt.Name, &tt.Unit, &tt.NormalRangeMin, &tt.NormalRangeMax)
	if err != nil {
		return nil, mapNoRows(err, "test type %s", id)
	}
	return &tt, nil
}

// The no-op DO UPDATE makes RETURNING yield the existing row; xmax = 0 only
// for a freshly inserted tuple.
func (r *catalogRepoPG) UpsertCategory(ctx context.Context, c *TestCategory) (bool, error) {
	var created bool
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO test_category (id, name, description) VALUES ($1, $2, $3)
		ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
		RETURNING id, (xmax = 0)`, uuid.New(), c.Name, c.Description).
		Scan(&c.ID, &created)
	return created, err
}

func (r *catalogRepoPG) UpsertTestType(ctx context.Context, tt *TestType) (bool, error) {
	var created bool
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO test_type (id, category_id, name, unit, normal_range_min, normal_range_max)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (category_id, name) DO UPDATE SET name = EXCLUDED.name
		RETURNING id, (xmax = 0)`,
		uuid.New(), tt.CategoryID, tt.Name, tt.Unit, tt.NormalRangeMin, tt.NormalRangeMax).
		Scan(&tt.ID, &created)
	return created, err
}

// =========== Test Result Repository ===========

type testResultRepoPG struct{ pool *pgxpool.Pool }

func NewTestResultRepoPG(pool *pgxpool.Pool) TestResultRepository {
	return &testResultRepoPG{pool: pool}
}

const resultCols = `pt.id, pt.test_id, pt.group_id, pt.patient_id, pt.test_type_id, pt.report_id,
	pt.result_value, pt.status, pt.note, pt.is_published, pt.published_at, pt.created_by, pt.submitted_at,
	tt.category_id, tc.name, tt.name, tt.unit, tt.normal_range_min, tt.normal_range_max`

// idNumber extracts the numeric part of an identifier column so ordering
// stays chronological past the zero padding (GRP-10000 after GRP-9999).
func idNumber(col string) string {
	return `CAST(SUBSTRING(` + col + ` FROM '[0-9]+$') AS BIGINT)`
}

const resultFrom = `patient_test pt
	JOIN test_type tt ON tt.id = pt.test_type_id
	JOIN test_category tc ON tc.id = tt.category_id`

func scanResult(row pgx.Row) (*TestResult, error) {
	var (
		res TestResult
		tt  TestType
	)
	err := row.Scan(&res.ID, &res.TestID, &res.GroupID, &res.PatientID, &res.TestTypeID, &res.ReportID,
		&res.Value, &res.Status, &res.Note, &res.IsPublished, &res.PublishedAt, &res.CreatedBy, &res.SubmittedAt,
		&tt.CategoryID, &tt.CategoryName, &tt.Name, &tt.Unit, &tt.NormalRangeMin, &tt.NormalRangeMax)
	if err != nil {
		return nil, err
	}
	tt.ID = res.TestTypeID
	res.TestType = &tt
	return &res, nil
}

func (r *testResultRepoPG) queryResults(ctx context.Context, sql string, args ...interface{}) ([]*TestResult, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*TestResult
	for rows.Next() {
		res, err := scanResult(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, res)
	}
	return items, rows.Err()
}

func (r *testResultRepoPG) CreateBatch(ctx context.Context, results []*TestResult) error {
	batch := &pgx.Batch{}
	for _, res := range results {
		batch.Queue(`
			INSERT INTO patient_test (id, test_id, group_id, patient_id, test_type_id,
				result_value, status, note, is_published, created_by, submitted_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, FALSE, $9, $10)`,
			res.ID, res.TestID, res.GroupID, res.PatientID, res.TestTypeID,
			res.Value, res.Status, res.Note, res.CreatedBy, res.SubmittedAt)
	}
	br := db.Conn(ctx, r.pool).SendBatch(ctx, batch)
	defer br.Close()
	for _, res := range results {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("insert %s: %w", res.TestID, err)
		}
	}
	return br.Close()
}

func (r *testResultRepoPG) ListByGroup(ctx context.Context, groupID string, forUpdate bool) ([]*TestResult, error) {
	q := `SELECT ` + resultCols + ` FROM ` + resultFrom + ` WHERE pt.group_id = $1 ORDER BY ` + idNumber("pt.test_id")
	if forUpdate {
		q += ` FOR UPDATE OF pt`
	}
	return r.queryResults(ctx, q, groupID)
}

func (r *testResultRepoPG) Update(ctx context.Context, res *TestResult) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `
		UPDATE patient_test SET result_value = $2, status = $3, note = $4
		WHERE id = $1 AND is_published = FALSE`,
		res.ID, res.Value, res.Status, res.Note)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return invalidState("test %s is not an editable draft", res.TestID)
	}
	return nil
}

func (r *testResultRepoPG) DeleteByGroup(ctx context.Context, groupID string) (int, error) {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `DELETE FROM patient_test WHERE group_id = $1`, groupID)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (r *testResultRepoPG) PublishGroup(ctx context.Context, groupID string, reportID uuid.UUID, at time.Time) (int, error) {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `
		UPDATE patient_test SET report_id = $2, is_published = TRUE, published_at = $3
		WHERE group_id = $1 AND is_published = FALSE`,
		groupID, reportID, at)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (r *testResultRepoPG) ListByReport(ctx context.Context, reportID uuid.UUID) ([]*TestResult, error) {
	return r.queryResults(ctx, `SELECT `+resultCols+` FROM `+resultFrom+`
		WHERE pt.report_id = $1 ORDER BY `+idNumber("pt.group_id")+`, `+idNumber("pt.test_id"), reportID)
}

func (r *testResultRepoPG) DeleteByReport(ctx context.Context, reportID uuid.UUID) (int, error) {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `DELETE FROM patient_test WHERE report_id = $1`, reportID)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// A group counts as published only when every member is; any unpublished
// member puts it in the draft listing.
func (r *testResultRepoPG) ListGroupHeads(ctx context.Context, published bool, after *GroupCursor, limit int) ([]GroupHead, error) {
	q := `SELECT group_id, MAX(submitted_at) FROM patient_test
		GROUP BY group_id
		HAVING bool_and(is_published) = $1`
	args := []interface{}{published}
	if after != nil {
		n, err := ParseIdentifier(KindGroup, after.GroupID)
		if err != nil {
			return nil, err
		}
		q += ` AND (MAX(submitted_at), ` + idNumber("group_id") + `) < ($2, $3)`
		args = append(args, after.SubmittedAt, n)
	}
	args = append(args, limit)
	q += ` ORDER BY MAX(submitted_at) DESC, ` + idNumber("group_id") + fmt.Sprintf(` DESC LIMIT $%d`, len(args))

	rows, err := db.Conn(ctx, r.pool).Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var heads []GroupHead
	for rows.Next() {
		var h GroupHead
		if err := rows.Scan(&h.GroupID, &h.SubmittedAt); err != nil {
			return nil, err
		}
		heads = append(heads, h)
	}
	return heads, rows.Err()
}

func (r *testResultRepoPG) GroupCounts(ctx context.Context) (*GroupCounts, error) {
	var c GroupCounts
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		WITH g AS (
			SELECT group_id,
				bool_and(is_published) AS published,
				bool_or(status = 'abnormal') AS any_abnormal,
				bool_or(status = 'critical') AS any_critical
			FROM patient_test GROUP BY group_id
		)
		SELECT
			COUNT(*) FILTER (WHERE NOT published),
			COUNT(*) FILTER (WHERE published),
			COUNT(*) FILTER (WHERE published AND any_abnormal),
			COUNT(*) FILTER (WHERE published AND any_critical)
		FROM g`).Scan(&c.Draft, &c.Published, &c.AbnormalPublished, &c.CriticalPublished)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// =========== Report Repository ===========

type reportRepoPG struct{ pool *pgxpool.Pool }

func NewReportRepoPG(pool *pgxpool.Pool) ReportRepository {
	return &reportRepoPG{pool: pool}
}

const reportCols = `id, report_id, patient_id, status, ai_generated, content, diagnosis,
	recommendations, created_by, created_at, updated_at`

func scanReport(row pgx.Row) (*Report, error) {
	var rp Report
	err := row.Scan(&rp.ID, &rp.ReportID, &rp.PatientID, &rp.Status, &rp.AIGenerated, &rp.Content, &rp.Diagnosis,
		&rp.Recommendations, &rp.CreatedBy, &rp.CreatedAt, &rp.UpdatedAt)
	return &rp, err
}

func (r *reportRepoPG) Create(ctx context.Context, rp *Report) error {
	_, err := db.Conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO medical_report (id, report_id, patient_id, status, ai_generated, content, diagnosis,
			recommendations, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		rp.ID, rp.ReportID, rp.PatientID, rp.Status, rp.AIGenerated, rp.Content, rp.Diagnosis,
		rp.Recommendations, rp.CreatedBy, rp.CreatedAt, rp.UpdatedAt)
	return err
}

func (r *reportRepoPG) GetByReportID(ctx context.Context, reportID string, forUpdate bool) (*Report, error) {
	q := `SELECT ` + reportCols + ` FROM medical_report WHERE report_id = $1`
	if forUpdate {
		q += ` FOR UPDATE`
	}
	rp, err := scanReport(db.Conn(ctx, r.pool).QueryRow(ctx, q, reportID))
	if err != nil {
		return nil, mapNoRows(err, "report %s", reportID)
	}
	return rp, nil
}

func (r *reportRepoPG) Update(ctx context.Context, rp *Report) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `
		UPDATE medical_report SET status = $2, ai_generated = $3, content = $4, diagnosis = $5,
			recommendations = $6, updated_at = $7
		WHERE id = $1`,
		rp.ID, rp.Status, rp.AIGenerated, rp.Content, rp.Diagnosis, rp.Recommendations, rp.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return notFound("report %s", rp.ReportID)
	}
	return nil
}

func (r *reportRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := db.Conn(ctx, r.pool).Exec(ctx, `DELETE FROM medical_report WHERE id = $1`, id)
	return err
}

func (r *reportRepoPG) List(ctx context.Context, f ReportFilter, limit, offset int) ([]*Report, int, error) {
	var (
		where []string
		args  []interface{}
	)
	if f.Status != "" {
		args = append(args, f.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if f.PatientID != nil {
		args = append(args, *f.PatientID)
		where = append(where, fmt.Sprintf("patient_id = $%d", len(args)))
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT COUNT(*) FROM medical_report`+clause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	args = append(args, limit, offset)
	rows, err := db.Conn(ctx, r.pool).Query(ctx, fmt.Sprintf(`SELECT %s FROM medical_report%s
		ORDER BY created_at DESC, %s DESC LIMIT $%d OFFSET $%d`,
		reportCols, clause, idNumber("report_id"), len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Report
	for rows.Next() {
		rp, err := scanReport(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, rp)
	}
	return items, total, rows.Err()
}

func (r *reportRepoPG) CountByStatus(ctx context.Context) (map[ReportStatus]int, int, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT status, COUNT(*), COUNT(*) FILTER (WHERE ai_generated)
		FROM medical_report GROUP BY status`)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	counts := make(map[ReportStatus]int)
	ai := 0
	for rows.Next() {
		var (
			status ReportStatus
			n, g   int
		)
		if err := rows.Scan(&status, &n, &g); err != nil {
			return nil, 0, err
		}
		counts[status] = n
		ai += g
	}
	return counts, ai, rows.Err()
}

// =========== Sequence Repository ===========

type sequenceSource struct {
	table, column, prefix string
}

// Existing rows seed a counter the first time its kind is used.
var sequenceSources = map[IDKind]sequenceSource{
	KindTest:   {table: "patient_test", column: "test_id", prefix: "TEST"},
	KindGroup:  {table: "patient_test", column: "group_id", prefix: "GRP"},
	KindReport: {table: "medical_report", column: "report_id", prefix: "REP"},
}

type sequenceRepoPG struct{ pool *pgxpool.Pool }

func NewSequenceRepoPG(pool *pgxpool.Pool) SequenceRepository {
	return &sequenceRepoPG{pool: pool}
}

// Next advances the kind's counter row. Concurrent callers contend on that
// row, so at most one of two racing serializable transactions commits.
func (r *sequenceRepoPG) Next(ctx context.Context, kind IDKind) (int64, error) {
	src, ok := sequenceSources[kind]
	if !ok {
		return 0, fmt.Errorf("unknown identifier kind: %s", kind)
	}
	q := fmt.Sprintf(`
		INSERT INTO identifier_counter (kind, last_value)
		VALUES ($1, COALESCE((
			SELECT MAX(%[4]s)
			FROM %[1]s WHERE %[2]s ~ '^%[3]s-[0-9]+$'
		), 0) + 1)
		ON CONFLICT (kind) DO UPDATE SET last_value = identifier_counter.last_value + 1
		RETURNING last_value`, src.table, src.column, src.prefix, idNumber(src.column))
	var n int64
	if err := db.Conn(ctx, r.pool).QueryRow(ctx, q, string(kind)).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}
