package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/beaconcrm/journey/pkg/models"
	"github.com/beaconcrm/journey/pkg/persistence"
	"github.com/google/uuid"
)

// WorkItemRepository implements the work queue on a PostgreSQL table.
// ClaimDue relies on FOR UPDATE SKIP LOCKED so concurrent workers never
// claim the same row.
type WorkItemRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewWorkItemRepository creates a new work item repository.
func NewWorkItemRepository(db *sql.DB, logger *slog.Logger) *WorkItemRepository {
	return &WorkItemRepository{db: db, logger: logger}
}

// Schedule creates or replaces the live item for an enrollment. The partial
// unique index on enrollment_id keeps the upsert race-free.
func (r *WorkItemRepository) Schedule(ctx context.Context, enrollmentID, stepID string, dueAt time.Time) error {
	query := `
		UPDATE work_items
		SET step_id = $1, due_at = $2, status = $3, attempts = 0, lease_expires = NULL, leased_by = NULL
		WHERE enrollment_id = $4 AND status IN ($3, $5)
	`

	result, err := r.db.ExecContext(ctx, query,
		stepID, dueAt, models.WorkItemStatusPending, enrollmentID, models.WorkItemStatusLeased)
	if err != nil {
		return fmt.Errorf("failed to reschedule work item: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check schedule result: %w", err)
	}

	if affected > 0 {
		return nil
	}

	insert := `
		INSERT INTO work_items (id, enrollment_id, step_id, due_at, attempts, status)
		VALUES ($1, $2, $3, $4, 0, $5)
	`

	_, err = r.db.ExecContext(ctx, insert,
		uuid.New().String(), enrollmentID, stepID, dueAt, models.WorkItemStatusPending)
	if err != nil {
		return fmt.Errorf("failed to insert work item: %w", err)
	}

	return nil
}

// ClaimDue atomically leases up to limit due items for a worker. Pending
// items and items whose lease expired are both claimable.
func (r *WorkItemRepository) ClaimDue(ctx context.Context, now time.Time, limit int, worker string, lease time.Duration) ([]*models.WorkItem, error) {
	query := `
		UPDATE work_items
		SET status = $1, lease_expires = $2, leased_by = $3
		WHERE id IN (
			SELECT id FROM work_items
			WHERE due_at <= $4
			  AND (status = $5 OR (status = $1 AND lease_expires < $4))
			ORDER BY due_at
			LIMIT $6
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, enrollment_id, step_id, due_at, attempts, status, lease_expires, leased_by
	`

	rows, err := r.db.QueryContext(ctx, query,
		models.WorkItemStatusLeased,
		now.Add(lease),
		worker,
		now,
		models.WorkItemStatusPending,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to claim due work items: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	items := make([]*models.WorkItem, 0)

	for rows.Next() {
		var (
			item         models.WorkItem
			leaseExpires sql.NullTime
			leasedBy     sql.NullString
		)

		err := rows.Scan(
			&item.ID,
			&item.EnrollmentID,
			&item.StepID,
			&item.DueAt,
			&item.Attempts,
			&item.Status,
			&leaseExpires,
			&leasedBy,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan work item: %w", err)
		}

		if leaseExpires.Valid {
			item.LeaseExpires = &leaseExpires.Time
		}

		item.LeasedBy = leasedBy.String

		items = append(items, &item)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating work items: %w", err)
	}

	return items, nil
}

// Complete marks a claimed item done.
func (r *WorkItemRepository) Complete(ctx context.Context, item *models.WorkItem) error {
	return r.resolve(ctx, item, models.WorkItemStatusDone)
}

// Fail marks a claimed item permanently failed.
func (r *WorkItemRepository) Fail(ctx context.Context, item *models.WorkItem) error {
	return r.resolve(ctx, item, models.WorkItemStatusFailed)
}

// resolve finishes a claimed item only while the claim still holds. The
// status and step_id predicates make it a no-op once Schedule has repurposed
// the row for a successor step.
func (r *WorkItemRepository) resolve(ctx context.Context, claim *models.WorkItem, status models.WorkItemStatus) error {
	query := `
		UPDATE work_items
		SET status = $1, lease_expires = NULL, leased_by = NULL
		WHERE id = $2 AND status = $3 AND step_id = $4
	`

	_, err := r.db.ExecContext(ctx, query, status, claim.ID, models.WorkItemStatusLeased, claim.StepID)
	if err != nil {
		return fmt.Errorf("failed to resolve work item %s: %w", claim.ID, err)
	}

	return nil
}

// Retry returns a claimed item to pending with a bumped attempt counter.
// Same claim guard as resolve.
func (r *WorkItemRepository) Retry(ctx context.Context, claim *models.WorkItem, dueAt time.Time) error {
	query := `
		UPDATE work_items
		SET status = $1, attempts = attempts + 1, due_at = $2,
			lease_expires = NULL, leased_by = NULL
		WHERE id = $3 AND status = $4 AND step_id = $5
	`

	_, err := r.db.ExecContext(ctx, query,
		models.WorkItemStatusPending, dueAt, claim.ID, models.WorkItemStatusLeased, claim.StepID)
	if err != nil {
		return fmt.Errorf("failed to retry work item %s: %w", claim.ID, err)
	}

	return nil
}

// CancelByEnrollment removes any live item for an enrollment.
func (r *WorkItemRepository) CancelByEnrollment(ctx context.Context, enrollmentID string) error {
	query := `
		DELETE FROM work_items
		WHERE enrollment_id = $1 AND status IN ($2, $3)
	`

	_, err := r.db.ExecContext(ctx, query, enrollmentID,
		models.WorkItemStatusPending, models.WorkItemStatusLeased)
	if err != nil {
		return fmt.Errorf("failed to cancel work items for enrollment %s: %w", enrollmentID, err)
	}

	return nil
}

// Stats returns aggregate work item counts by status.
func (r *WorkItemRepository) Stats(ctx context.Context) (persistence.QueueStats, error) {
	query := `
		SELECT
			COUNT(*) FILTER (WHERE status = 'pending'),
			COUNT(*) FILTER (WHERE status = 'leased'),
			COUNT(*) FILTER (WHERE status = 'done'),
			COUNT(*) FILTER (WHERE status = 'failed')
		FROM work_items
	`

	var stats persistence.QueueStats

	err := r.db.QueryRowContext(ctx, query).Scan(&stats.Pending, &stats.Leased, &stats.Done, &stats.Failed)
	if err != nil {
		return persistence.QueueStats{}, fmt.Errorf("failed to query queue stats: %w", err)
	}

	return stats, nil
}
