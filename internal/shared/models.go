// ============================================================================
// internal/shared/models.go
// Shared data models and structs for MongoDB documents
// ============================================================================

package shared

import (
	"time"
)

// ============================================================================
// Collection Names
// ============================================================================

const (
	ColStudents       = "students"              // registration records (canonical)
	ColLegacyStudents = "student_registrations" // legacy intake records
	ColUsers          = "users"                 // auth/user accounts
	ColCounters       = "registration_counters"
	ColGradeBatches   = "grade_submissions"
	ColGradeRecords   = "student_grades"
	ColConfig         = "academic_config"
	ColLegacySettings = "academic_settings"
)

// ============================================================================
// Student Models
// ============================================================================

// StudentRecord is the registration-office record for a student. It is the
// canonical representation; the legacy and auth collections carry
// denormalized copies of its identifying keys.
type StudentRecord struct {
	ID                 string    `bson:"_id" json:"id"`
	RegistrationNumber string    `bson:"registration_number" json:"registration_number"`
	IndexNumber        string    `bson:"index_number,omitempty" json:"index_number,omitempty"`
	Email              string    `bson:"email,omitempty" json:"email,omitempty"`
	DocumentID         string    `bson:"document_id,omitempty" json:"document_id,omitempty"`
	Surname            string    `bson:"surname" json:"surname"`
	OtherNames         string    `bson:"other_names,omitempty" json:"other_names,omitempty"`
	Programme          string    `bson:"programme,omitempty" json:"programme,omitempty"`
	CurrentLevel       int32     `bson:"current_level" json:"current_level"` // 100..400
	CurrentYear        int32     `bson:"current_year" json:"current_year"`   // 1..4
	EntryPeriod        string    `bson:"entry_period,omitempty" json:"entry_period,omitempty"`
	CreatedAt          time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt          time.Time `bson:"updated_at,omitempty" json:"updated_at,omitempty"`
}

// LegacyStudentRecord is the shape of documents in the legacy intake
// collection. Kept only for propagation targets; never written by new flows.
type LegacyStudentRecord struct {
	ID                 string `bson:"_id" json:"id"`
	RegistrationNumber string `bson:"registration_number,omitempty" json:"registration_number,omitempty"`
	IndexNumber        string `bson:"index_number,omitempty" json:"index_number,omitempty"`
	Email              string `bson:"email,omitempty" json:"email,omitempty"`
	DocumentID         string `bson:"document_id,omitempty" json:"document_id,omitempty"`
	Name               string `bson:"name,omitempty" json:"name,omitempty"`
	Level              int32  `bson:"level,omitempty" json:"level,omitempty"`
}

// UserAccount is the auth-collection record for a student or staff login.
type UserAccount struct {
	ID                 string    `bson:"_id" json:"id"`
	Email              string    `bson:"email" json:"email"`
	RegistrationNumber string    `bson:"registration_number,omitempty" json:"registration_number,omitempty"`
	IndexNumber        string    `bson:"index_number,omitempty" json:"index_number,omitempty"`
	Role               string    `bson:"role" json:"role"` // student, lecturer, director, admin
	Name               string    `bson:"name" json:"name"`
	IsActive           bool      `bson:"is_active" json:"is_active"`
	CreatedAt          time.Time `bson:"created_at" json:"created_at"`
}

// ============================================================================
// Counter Model
// ============================================================================

// Counter backs sequential registration-number allocation. One document per
// period key, created lazily on first allocation, mutated only via $inc.
type Counter struct {
	PeriodKey  string    `bson:"_id" json:"period_key"`
	LastNumber int64     `bson:"last_number" json:"last_number"`
	CreatedAt  time.Time `bson:"created_at" json:"created_at"`
}

// ============================================================================
// Grade Workflow Models
// ============================================================================

// GradeSubmissionBatch is one lecturer's submission for one course/period.
type GradeSubmissionBatch struct {
	ID              string    `bson:"_id" json:"id"`
	CourseID        string    `bson:"course_id" json:"course_id"`
	CourseCode      string    `bson:"course_code,omitempty" json:"course_code,omitempty"`
	PeriodKey       string    `bson:"period_key" json:"period_key"`
	LecturerID      string    `bson:"lecturer_id" json:"lecturer_id"`
	Status          string    `bson:"status" json:"status"`
	TotalStudents   int32     `bson:"total_students" json:"total_students"`
	MeanScore       float64   `bson:"mean_score,omitempty" json:"mean_score,omitempty"`
	MinScore        float64   `bson:"min_score,omitempty" json:"min_score,omitempty"`
	MaxScore        float64   `bson:"max_score,omitempty" json:"max_score,omitempty"`
	SubmittedAt     time.Time `bson:"submitted_at,omitempty" json:"submitted_at,omitempty"`
	ApprovedAt      time.Time `bson:"approved_at,omitempty" json:"approved_at,omitempty"`
	ApprovedBy      string    `bson:"approved_by,omitempty" json:"approved_by,omitempty"`
	PublishedAt     time.Time `bson:"published_at,omitempty" json:"published_at,omitempty"`
	PublishedBy     string    `bson:"published_by,omitempty" json:"published_by,omitempty"`
	RejectedAt      time.Time `bson:"rejected_at,omitempty" json:"rejected_at,omitempty"`
	RejectedBy      string    `bson:"rejected_by,omitempty" json:"rejected_by,omitempty"`
	RejectionReason string    `bson:"rejection_reason,omitempty" json:"rejection_reason,omitempty"`
	CreatedAt       time.Time `bson:"created_at" json:"created_at"`
}

// StudentGradeRecord is one student's grade for one course/period. Its status
// mirrors (but may transiently lag) its parent batch's status.
type StudentGradeRecord struct {
	ID           string    `bson:"_id" json:"id"`
	SubmissionID string    `bson:"submission_id" json:"submission_id"`
	StudentKey   string    `bson:"student_key" json:"student_key"`
	CourseID     string    `bson:"course_id" json:"course_id"`
	PeriodKey    string    `bson:"period_key" json:"period_key"`
	Status       string    `bson:"status" json:"status"`
	Score        float64   `bson:"score" json:"score"`
	Grade        string    `bson:"grade" json:"grade"`
	ApprovedAt   time.Time `bson:"approved_at,omitempty" json:"approved_at,omitempty"`
	ApprovedBy   string    `bson:"approved_by,omitempty" json:"approved_by,omitempty"`
	PublishedAt  time.Time `bson:"published_at,omitempty" json:"published_at,omitempty"`
	PublishedBy  string    `bson:"published_by,omitempty" json:"published_by,omitempty"`
	UpdatedAt    time.Time `bson:"updated_at,omitempty" json:"updated_at,omitempty"`
}

// Batch / record statuses. Forward-only except the rejection branch.
const (
	StatusDraft           = "draft"
	StatusPendingApproval = "pending_approval"
	StatusApproved        = "approved"
	StatusPublished       = "published"
	StatusRejected        = "rejected"
)

// statusRank orders the forward path. Rejected sits outside the ordering.
var statusRank = map[string]int{
	StatusDraft:           0,
	StatusPendingApproval: 1,
	StatusApproved:        2,
	StatusPublished:       3,
}

// StatusAhead reports whether status a is strictly ahead of b on the forward
// path. Unknown statuses (including rejected) are never ahead.
func StatusAhead(a, b string) bool {
	ra, oka := statusRank[a]
	rb, okb := statusRank[b]
	return oka && okb && ra > rb
}

// IsValidBatchStatus checks a status value against the workflow's enum.
func IsValidBatchStatus(status string) bool {
	if status == StatusRejected {
		return true
	}
	_, ok := statusRank[status]
	return ok
}

// ============================================================================
// Academic Period Models
// ============================================================================

// CurrentPeriodDocID is the _id of the singleton current-period document in
// the academic_config collection.
const CurrentPeriodDocID = "current_period"

// AcademicPeriod is the shared "current academic period" pointer. It is
// always passed explicitly; nothing reads it as ambient state.
type AcademicPeriod struct {
	ID           string    `bson:"_id" json:"id"`
	PeriodKey    string    `bson:"period_key" json:"period_key"` // e.g. "UCAES2025"
	AcademicYear string    `bson:"academic_year" json:"academic_year"`
	UpdatedAt    time.Time `bson:"updated_at,omitempty" json:"updated_at,omitempty"`
	UpdatedBy    string    `bson:"updated_by,omitempty" json:"updated_by,omitempty"`
}

// ============================================================================
// User Roles
// ============================================================================

const (
	RoleStudent  = "student"
	RoleLecturer = "lecturer"
	RoleDirector = "director"
	RoleAdmin    = "admin"
)
