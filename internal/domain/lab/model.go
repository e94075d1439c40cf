package lab

import (
	"time"

	"github.com/google/uuid"
)

// ResultStatus is the severity tier of a single test result.
type ResultStatus string

const (
	ResultNormal   ResultStatus = "normal"
	ResultAbnormal ResultStatus = "abnormal"
	ResultCritical ResultStatus = "critical"
)

// ReportStatus is the aggregate severity tier of a report. It is a different
// enumeration from ResultStatus: an abnormal member makes a report at_risk.
type ReportStatus string

const (
	ReportNormal   ReportStatus = "normal"
	ReportAtRisk   ReportStatus = "at_risk"
	ReportCritical ReportStatus = "critical"
)

// GroupState is the derived lifecycle state of a test group.
type GroupState string

const (
	GroupDraft     GroupState = "draft"
	GroupPublished GroupState = "published"
)

// Patient maps to the patient table. Owned by the registration system.
type Patient struct {
	ID            uuid.UUID `db:"id" json:"id"`
	Name          string    `db:"name" json:"name"`
	Age           int       `db:"age" json:"age"`
	Gender        string    `db:"gender" json:"gender"`
	ContactNumber string    `db:"contact_number" json:"contact_number"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}

// TestCategory maps to the test_category table.
type TestCategory struct {
	ID          uuid.UUID `db:"id" json:"id"`
	Name        string    `db:"name" json:"name"`
	Description *string   `db:"description" json:"description,omitempty"`
}

// TestType maps to the test_type table. CategoryName is populated by joins.
type TestType struct {
	ID             uuid.UUID `db:"id" json:"id"`
	CategoryID     uuid.UUID `db:"category_id" json:"category_id"`
	CategoryName   string    `db:"-" json:"category_name"`
	Name           string    `db:"name" json:"name"`
	Unit           *string   `db:"unit" json:"unit,omitempty"`
	NormalRangeMin *float64  `db:"normal_range_min" json:"normal_range_min,omitempty"`
	NormalRangeMax *float64  `db:"normal_range_max" json:"normal_range_max,omitempty"`
}

// Classify classifies value against this test type's normal range.
func (tt *TestType) Classify(value float64) ResultStatus {
	return Classify(value, tt.NormalRangeMin, tt.NormalRangeMax)
}

// TestResult maps to the patient_test table. ReportID is set if and only if
// IsPublished is true.
type TestResult struct {
	ID          uuid.UUID    `db:"id" json:"id"`
	TestID      string       `db:"test_id" json:"test_id"`
	GroupID     string       `db:"group_id" json:"group_id"`
	PatientID   uuid.UUID    `db:"patient_id" json:"patient_id"`
	TestTypeID  uuid.UUID    `db:"test_type_id" json:"test_type_id"`
	ReportID    *uuid.UUID   `db:"report_id" json:"report_id,omitempty"`
	Value       float64      `db:"result_value" json:"result_value"`
	Status      ResultStatus `db:"status" json:"status"`
	Note        *string      `db:"note" json:"note,omitempty"`
	IsPublished bool         `db:"is_published" json:"is_published"`
	PublishedAt *time.Time   `db:"published_at" json:"published_at,omitempty"`
	CreatedBy   string       `db:"created_by" json:"created_by,omitempty"`
	SubmittedAt time.Time    `db:"submitted_at" json:"submitted_at"`

	// TestType is populated by repository reads that join test_type.
	TestType *TestType `db:"-" json:"test_type,omitempty"`
}

// Report maps to the medical_report table.
type Report struct {
	ID              uuid.UUID    `db:"id" json:"id"`
	ReportID        string       `db:"report_id" json:"report_id"`
	PatientID       uuid.UUID    `db:"patient_id" json:"patient_id"`
	Status          ReportStatus `db:"status" json:"status"`
	AIGenerated     bool         `db:"ai_generated" json:"ai_generated"`
	Content         string       `db:"content" json:"content"`
	Diagnosis       string       `db:"diagnosis" json:"diagnosis"`
	Recommendations string       `db:"recommendations" json:"recommendations"`
	CreatedBy       string       `db:"created_by" json:"created_by,omitempty"`
	CreatedAt       time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time    `db:"updated_at" json:"updated_at"`
}

// Group is the derived aggregate of all results sharing a group id. It is
// never persisted on its own.
type Group struct {
	GroupID     string        `json:"group_id"`
	PatientID   uuid.UUID     `json:"patient_id"`
	State       GroupState    `json:"state"`
	SubmittedAt time.Time     `json:"submitted_at"`
	ReportID    *uuid.UUID    `json:"report_id,omitempty"`
	Results     []*TestResult `json:"results"`
}

// ReportDetail is a report together with its member results, grouped by
// test group.
type ReportDetail struct {
	Report  *Report  `json:"report"`
	Patient *Patient `json:"patient,omitempty"`
	Groups  []*Group `json:"groups"`
}

// ReportFilter narrows ListReports.
type ReportFilter struct {
	Status    ReportStatus
	PatientID *uuid.UUID
}

// Stats is the dashboard summary.
type Stats struct {
	Patients                int                  `json:"patients"`
	Reports                 int                  `json:"reports"`
	ReportsByStatus         map[ReportStatus]int `json:"reports_by_status"`
	AIGeneratedReports      int                  `json:"ai_generated_reports"`
	DraftGroups             int                  `json:"draft_groups"`
	PublishedGroups         int                  `json:"published_groups"`
	AbnormalPublishedGroups int                  `json:"abnormal_published_groups"`
	CriticalPublishedGroups int                  `json:"critical_published_groups"`
}

// NewResult is one (test type, value) pair submitted to CreateGroup. A nil
// Value means the field was absent or null in the request.
type NewResult struct {
	TestTypeID uuid.UUID `json:"test_type_id"`
	Value      *float64  `json:"value"`
}

// ResultEdit changes the value and note of one member of a draft group.
type ResultEdit struct {
	TestID string   `json:"test_id"`
	Value  *float64 `json:"value"`
	Note   *string  `json:"note,omitempty"`
}

// PublishOutcome is the per-group result of PublishGroups.
type PublishOutcome struct {
	GroupID string  `json:"group_id"`
	Report  *Report `json:"report,omitempty"`
	Err     error   `json:"-"`
	Error   string  `json:"error,omitempty"`
}

func strVal(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
