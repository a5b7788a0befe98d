package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/beaconcrm/journey/pkg/models"
	"github.com/beaconcrm/journey/pkg/persistence"
	"github.com/lib/pq"
)

// uniqueViolation is the PostgreSQL error code raised by the partial unique
// index guarding the one-active-enrollment invariant.
const uniqueViolation = "23505"

// EnrollmentRepository handles enrollment-related database operations. The
// compare-and-swap transitions are plain conditional UPDATEs: the WHERE
// clause names the expected state and zero affected rows means the caller's
// view was stale.
type EnrollmentRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewEnrollmentRepository creates a new enrollment repository.
func NewEnrollmentRepository(db *sql.DB, logger *slog.Logger) *EnrollmentRepository {
	return &EnrollmentRepository{db: db, logger: logger}
}

// CreateEnrollment inserts a new enrollment. The partial unique index on
// (workflow_id, contact_id) WHERE status = 'active' enforces at most one
// active run per pair.
func (r *EnrollmentRepository) CreateEnrollment(ctx context.Context, enrollment *models.Enrollment) error {
	contextJSON, err := json.Marshal(enrollment.Context)
	if err != nil {
		return fmt.Errorf("failed to marshal enrollment context: %w", err)
	}

	query := `
		INSERT INTO enrollments (id, workflow_id, contact_id, status, current_step_id,
			context, enrolled_at, next_action_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err = r.db.ExecContext(ctx, query,
		enrollment.ID,
		enrollment.WorkflowID,
		enrollment.ContactID,
		enrollment.Status,
		enrollment.CurrentStepID,
		contextJSON,
		enrollment.EnrolledAt,
		enrollment.NextActionAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return persistence.NewEnrollmentError("CreateEnrollment", enrollment.ID, persistence.ErrEnrollmentExists)
		}

		return persistence.NewEnrollmentError("CreateEnrollment", enrollment.ID, err)
	}

	return nil
}

// EnrollmentByID returns an enrollment by its ID.
func (r *EnrollmentRepository) EnrollmentByID(ctx context.Context, id string) (*models.Enrollment, error) {
	query := `
		SELECT
			id
		  , workflow_id
		  , contact_id
		  , status
		  , current_step_id
		  , context
		  , enrolled_at
		  , next_action_at
		  , completed_at
		  , failure_reason
		FROM enrollments
		WHERE id = $1
	`

	var (
		enrollment    models.Enrollment
		contextJSON   []byte
		currentStep   sql.NullString
		nextActionAt  sql.NullTime
		completedAt   sql.NullTime
		failureReason sql.NullString
	)

	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&enrollment.ID,
		&enrollment.WorkflowID,
		&enrollment.ContactID,
		&enrollment.Status,
		&currentStep,
		&contextJSON,
		&enrollment.EnrolledAt,
		&nextActionAt,
		&completedAt,
		&failureReason,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewEnrollmentError("EnrollmentByID", id, persistence.ErrEnrollmentNotFound)
		}

		return nil, fmt.Errorf("failed to scan enrollment: %w", err)
	}

	enrollment.CurrentStepID = currentStep.String
	enrollment.FailureReason = failureReason.String

	if nextActionAt.Valid {
		enrollment.NextActionAt = &nextActionAt.Time
	}

	if completedAt.Valid {
		enrollment.CompletedAt = &completedAt.Time
	}

	err = json.Unmarshal(contextJSON, &enrollment.Context)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal enrollment context: %w", err)
	}

	return &enrollment, nil
}

// TransitionStep moves an active enrollment from one step to another.
func (r *EnrollmentRepository) TransitionStep(ctx context.Context, id, fromStepID, toStepID string, nextActionAt *time.Time) error {
	query := `
		UPDATE enrollments
		SET current_step_id = $1, next_action_at = $2
		WHERE id = $3 AND status = $4 AND current_step_id = $5
	`

	result, err := r.db.ExecContext(ctx, query,
		toStepID, nextActionAt, id, models.EnrollmentStatusActive, fromStepID)
	if err != nil {
		return persistence.NewEnrollmentError("TransitionStep", id, err)
	}

	return r.checkTransition(ctx, "TransitionStep", id, result)
}

// TransitionStatus moves an enrollment between lifecycle states.
func (r *EnrollmentRepository) TransitionStatus(ctx context.Context, id string, from, to models.EnrollmentStatus, reason string) error {
	query := `
		UPDATE enrollments
		SET status = $1,
			next_action_at = NULL,
			failure_reason = NULLIF($2, ''),
			completed_at = CASE WHEN $1 IN ('completed', 'exited', 'failed') THEN NOW() ELSE completed_at END
		WHERE id = $3 AND status = $4
	`

	result, err := r.db.ExecContext(ctx, query, to, reason, id, from)
	if err != nil {
		return persistence.NewEnrollmentError("TransitionStatus", id, err)
	}

	return r.checkTransition(ctx, "TransitionStatus", id, result)
}

func (r *EnrollmentRepository) checkTransition(ctx context.Context, op, id string, result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check transition result: %w", err)
	}

	if affected > 0 {
		return nil
	}

	// Distinguish a lost compare-and-swap from a missing row.
	var exists bool

	err = r.db.QueryRowContext(ctx, "SELECT EXISTS (SELECT 1 FROM enrollments WHERE id = $1)", id).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check enrollment existence: %w", err)
	}

	if !exists {
		return persistence.NewEnrollmentError(op, id, persistence.ErrEnrollmentNotFound)
	}

	return persistence.NewEnrollmentError(op, id, persistence.ErrStaleEnrollment)
}
