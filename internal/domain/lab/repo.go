package lab

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Transactor runs fn as one unit of work. Repositories called with the
// context handed to fn take part in the same transaction.
type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type PatientRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	Count(ctx context.Context) (int, error)
}

type CatalogRepository interface {
	GetTestType(ctx context.Context, id uuid.UUID) (*TestType, error)
	// UpsertCategory and UpsertTestType insert the row unless one with the
	// same natural key exists, set the ID either way, and report whether a
	// row was created. Existing rows are left untouched.
	UpsertCategory(ctx context.Context, c *TestCategory) (bool, error)
	UpsertTestType(ctx context.Context, tt *TestType) (bool, error)
}

// GroupCursor is the keyset position of the last group head already returned.
type GroupCursor struct {
	SubmittedAt time.Time
	GroupID     string
}

// GroupHead identifies one group in a listing page.
type GroupHead struct {
	GroupID     string
	SubmittedAt time.Time
}

// GroupCounts summarises groups for Stats.
type GroupCounts struct {
	Draft             int
	Published         int
	AbnormalPublished int
	CriticalPublished int
}

type TestResultRepository interface {
	CreateBatch(ctx context.Context, results []*TestResult) error
	// ListByGroup returns members ordered by test id, joined with their test
	// type. forUpdate locks the rows for the rest of the transaction.
	ListByGroup(ctx context.Context, groupID string, forUpdate bool) ([]*TestResult, error)
	Update(ctx context.Context, r *TestResult) error
	DeleteByGroup(ctx context.Context, groupID string) (int, error)
	// PublishGroup links every draft member of groupID to reportID and
	// returns the number of rows changed.
	PublishGroup(ctx context.Context, groupID string, reportID uuid.UUID, at time.Time) (int, error)
	ListByReport(ctx context.Context, reportID uuid.UUID) ([]*TestResult, error)
	DeleteByReport(ctx context.Context, reportID uuid.UUID) (int, error)
	ListGroupHeads(ctx context.Context, published bool, after *GroupCursor, limit int) ([]GroupHead, error)
	GroupCounts(ctx context.Context) (*GroupCounts, error)
}

type ReportRepository interface {
	Create(ctx context.Context, r *Report) error
	GetByReportID(ctx context.Context, reportID string, forUpdate bool) (*Report, error)
	Update(ctx context.Context, r *Report) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, f ReportFilter, limit, offset int) ([]*Report, int, error)
	// CountByStatus returns report counts per status and the number of
	// narrative-augmented reports.
	CountByStatus(ctx context.Context) (map[ReportStatus]int, int, error)
}
