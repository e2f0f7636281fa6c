package postgres

import (
	"context"
	"fmt"

	"github.com/alem-hub/learning-engine/internal/domain/enrollment"
	"github.com/alem-hub/learning-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// ENROLLMENTS AND LESSON PROGRESS
// ══════════════════════════════════════════════════════════════════════════════

// EnrollmentRepository implements enrollment.Repository.
type EnrollmentRepository struct {
	q Querier
}

var _ enrollment.Repository = (*EnrollmentRepository)(nil)

const enrollmentColumns = `id, user_id, course_id, progress_percentage::FLOAT8, is_completed, completed_at, enrolled_at`

func (r *EnrollmentRepository) scanOne(ctx context.Context, where string, args ...any) (*enrollment.Enrollment, error) {
	var (
		e                    enrollment.Enrollment
		id, userID, courseID string
	)
	err := r.q.QueryRow(ctx, `SELECT `+enrollmentColumns+` FROM enrollments WHERE `+where, args...).
		Scan(&id, &userID, &courseID, &e.ProgressPercentage, &e.IsCompleted, &e.CompletedAt, &e.EnrolledAt)
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrEnrollmentNotFound
		}
		return nil, fmt.Errorf("get enrollment: %w", mapError("Get", err))
	}
	e.ID = shared.EnrollmentID(id)
	e.UserID = shared.UserID(userID)
	e.CourseID = shared.CourseID(courseID)
	return &e, nil
}

// Get returns an enrollment by ID.
func (r *EnrollmentRepository) Get(ctx context.Context, id shared.EnrollmentID) (*enrollment.Enrollment, error) {
	return r.scanOne(ctx, `id = $1`, string(id))
}

// GetByUserCourse returns the enrollment of a user in a course.
func (r *EnrollmentRepository) GetByUserCourse(ctx context.Context, userID shared.UserID, courseID shared.CourseID) (*enrollment.Enrollment, error) {
	return r.scanOne(ctx, `user_id = $1 AND course_id = $2`, userID.String(), string(courseID))
}

// Create stores a new enrollment. An existing (user, course) pair is
// returned as stored together with false.
func (r *EnrollmentRepository) Create(ctx context.Context, e *enrollment.Enrollment) (*enrollment.Enrollment, bool, error) {
	query := `
		INSERT INTO enrollments (id, user_id, course_id, progress_percentage, is_completed, completed_at, enrolled_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id, course_id) DO NOTHING
	`
	tag, err := r.q.Exec(ctx, query, string(e.ID), e.UserID.String(), string(e.CourseID),
		e.ProgressPercentage, e.IsCompleted, e.CompletedAt, e.EnrolledAt)
	if err != nil {
		return nil, false, fmt.Errorf("create enrollment: %w", mapError("Create", err))
	}
	if tag.RowsAffected() == 0 {
		existing, err := r.GetByUserCourse(ctx, e.UserID, e.CourseID)
		if err != nil {
			return nil, false, err
		}
		return existing, false, nil
	}
	cp := *e
	return &cp, true, nil
}

// Update saves the derived progress fields.
func (r *EnrollmentRepository) Update(ctx context.Context, e *enrollment.Enrollment) error {
	query := `
		UPDATE enrollments SET
			progress_percentage = $1,
			is_completed = $2,
			completed_at = $3
		WHERE id = $4
	`
	tag, err := r.q.Exec(ctx, query, e.ProgressPercentage, e.IsCompleted, e.CompletedAt, string(e.ID))
	if err != nil {
		return fmt.Errorf("update enrollment: %w", mapError("Update", err))
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrEnrollmentNotFound
	}
	return nil
}

// GetLessonProgress returns nil and no error when the row does not exist.
func (r *EnrollmentRepository) GetLessonProgress(ctx context.Context, enrollmentID shared.EnrollmentID, lessonID shared.LessonID) (*enrollment.LessonProgress, error) {
	query := `
		SELECT is_completed, completed_at, watch_time_seconds, started_at, last_accessed_at
		FROM lesson_progress
		WHERE enrollment_id = $1 AND lesson_id = $2
	`
	p := enrollment.LessonProgress{EnrollmentID: enrollmentID, LessonID: lessonID}
	err := r.q.QueryRow(ctx, query, string(enrollmentID), string(lessonID)).
		Scan(&p.IsCompleted, &p.CompletedAt, &p.WatchTimeSeconds, &p.StartedAt, &p.LastAccessedAt)
	if err != nil {
		if IsNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get lesson progress: %w", mapError("GetLessonProgress", err))
	}
	return &p, nil
}

// SaveLessonProgress upserts a lesson progress row.
func (r *EnrollmentRepository) SaveLessonProgress(ctx context.Context, p *enrollment.LessonProgress) error {
	query := `
		INSERT INTO lesson_progress (enrollment_id, lesson_id, is_completed, completed_at,
			watch_time_seconds, started_at, last_accessed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (enrollment_id, lesson_id) DO UPDATE SET
			is_completed = EXCLUDED.is_completed,
			completed_at = EXCLUDED.completed_at,
			watch_time_seconds = EXCLUDED.watch_time_seconds,
			last_accessed_at = EXCLUDED.last_accessed_at
	`
	_, err := r.q.Exec(ctx, query, string(p.EnrollmentID), string(p.LessonID), p.IsCompleted,
		p.CompletedAt, p.WatchTimeSeconds, p.StartedAt, p.LastAccessedAt)
	if err != nil {
		return fmt.Errorf("save lesson progress: %w", mapError("SaveLessonProgress", err))
	}
	return nil
}

// CountCompletedLessons counts completed lesson rows of one enrollment.
func (r *EnrollmentRepository) CountCompletedLessons(ctx context.Context, enrollmentID shared.EnrollmentID) (int, error) {
	return r.count(ctx, "CountCompletedLessons",
		`SELECT COUNT(*) FROM lesson_progress WHERE enrollment_id = $1 AND is_completed`,
		string(enrollmentID))
}

// CountCompletedLessonsByUser counts completed lessons across all enrollments.
func (r *EnrollmentRepository) CountCompletedLessonsByUser(ctx context.Context, userID shared.UserID) (int, error) {
	return r.count(ctx, "CountCompletedLessonsByUser", `
		SELECT COUNT(*)
		FROM lesson_progress lp
		JOIN enrollments e ON e.id = lp.enrollment_id
		WHERE e.user_id = $1 AND lp.is_completed
	`, userID.String())
}

// CountCompletedCourses counts completed enrollments of a user.
func (r *EnrollmentRepository) CountCompletedCourses(ctx context.Context, userID shared.UserID) (int, error) {
	return r.count(ctx, "CountCompletedCourses",
		`SELECT COUNT(*) FROM enrollments WHERE user_id = $1 AND is_completed`,
		userID.String())
}

func (r *EnrollmentRepository) count(ctx context.Context, op, query string, args ...any) (int, error) {
	var n int
	if err := r.q.QueryRow(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("%s: %w", op, mapError(op, err))
	}
	return n, nil
}
