package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/alem-hub/learning-engine/internal/domain/content"
	"github.com/alem-hub/learning-engine/internal/domain/quiz"
	"github.com/alem-hub/learning-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONTENT CATALOG
// Read-only; the CRUD layer owns these tables.
// ══════════════════════════════════════════════════════════════════════════════

// Catalog implements content.Catalog over the content tables.
type Catalog struct {
	conn *Connection
}

var _ content.Catalog = (*Catalog)(nil)

// NewCatalog creates a Catalog.
func NewCatalog(conn *Connection) *Catalog {
	return &Catalog{conn: conn}
}

// GetCourse returns a course or shared.ErrCourseNotFound.
func (c *Catalog) GetCourse(ctx context.Context, id shared.CourseID) (*content.Course, error) {
	course := content.Course{ID: id}
	err := c.conn.Pool().QueryRow(ctx, `SELECT title FROM courses WHERE id = $1`, string(id)).Scan(&course.Title)
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrCourseNotFound
		}
		return nil, fmt.Errorf("get course: %w", mapError("GetCourse", err))
	}
	return &course, nil
}

// GetLesson returns a lesson or shared.ErrLessonNotFound.
func (c *Catalog) GetLesson(ctx context.Context, id shared.LessonID) (*content.Lesson, error) {
	var (
		lesson   = content.Lesson{ID: id}
		courseID string
	)
	err := c.conn.Pool().QueryRow(ctx,
		`SELECT course_id, title, sort_order FROM lessons WHERE id = $1`, string(id),
	).Scan(&courseID, &lesson.Title, &lesson.Order)
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrLessonNotFound
		}
		return nil, fmt.Errorf("get lesson: %w", mapError("GetLesson", err))
	}
	lesson.CourseID = shared.CourseID(courseID)
	return &lesson, nil
}

// GetQuiz returns a quiz with its questions and answers in display order,
// or shared.ErrQuizNotFound.
func (c *Catalog) GetQuiz(ctx context.Context, id shared.QuizID) (*quiz.Quiz, error) {
	var (
		q        = quiz.Quiz{ID: id}
		courseID string
	)
	err := c.conn.Pool().QueryRow(ctx,
		`SELECT course_id, title, passing_score::FLOAT8, max_attempts FROM quizzes WHERE id = $1`, string(id),
	).Scan(&courseID, &q.Title, &q.PassingScore, &q.MaxAttempts)
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrQuizNotFound
		}
		return nil, fmt.Errorf("get quiz: %w", mapError("GetQuiz", err))
	}
	q.CourseID = shared.CourseID(courseID)

	query := `
		SELECT qs.id, qs.question_type, qs.text, qs.points, a.id, a.text, a.is_correct
		FROM questions qs
		LEFT JOIN answers a ON a.question_id = qs.id
		WHERE qs.quiz_id = $1
		ORDER BY qs.sort_order, qs.id, a.sort_order, a.id
	`
	rows, err := c.conn.Pool().Query(ctx, query, string(id))
	if err != nil {
		return nil, fmt.Errorf("get questions: %w", mapError("GetQuiz", err))
	}

	type questionRow struct {
		questionID, questionType, questionText string
		points                                 int
		answerID, answerText                   *string
		isCorrect                              *bool
	}
	flat, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (questionRow, error) {
		var r questionRow
		err := row.Scan(&r.questionID, &r.questionType, &r.questionText, &r.points,
			&r.answerID, &r.answerText, &r.isCorrect)
		return r, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan questions: %w", err)
	}

	for _, r := range flat {
		n := len(q.Questions)
		if n == 0 || string(q.Questions[n-1].ID) != r.questionID {
			q.Questions = append(q.Questions, quiz.Question{
				ID:     shared.QuestionID(r.questionID),
				Type:   quiz.QuestionType(r.questionType),
				Text:   r.questionText,
				Points: r.points,
			})
			n++
		}
		if r.answerID == nil {
			continue
		}
		answer := quiz.Answer{ID: shared.AnswerID(*r.answerID)}
		if r.answerText != nil {
			answer.Text = *r.answerText
		}
		if r.isCorrect != nil {
			answer.IsCorrect = *r.isCorrect
		}
		q.Questions[n-1].Answers = append(q.Questions[n-1].Answers, answer)
	}
	return &q, nil
}

// CountLessons returns the current number of lessons in a course.
func (c *Catalog) CountLessons(ctx context.Context, courseID shared.CourseID) (int, error) {
	var (
		exists bool
		n      int
	)
	err := c.conn.Pool().QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM courses WHERE id = $1),
			   (SELECT COUNT(*) FROM lessons WHERE course_id = $1)
	`, string(courseID)).Scan(&exists, &n)
	if err != nil {
		return 0, fmt.Errorf("count lessons: %w", mapError("CountLessons", err))
	}
	if !exists {
		return 0, shared.ErrCourseNotFound
	}
	return n, nil
}
