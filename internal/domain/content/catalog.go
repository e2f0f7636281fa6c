// Package content is the read-only view of courses, lessons and quizzes.
// Content is owned by the CRUD layer; it can be deleted after facts that
// reference it were produced, so every lookup may miss.
package content

import (
	"context"

	"github.com/alem-hub/learning-engine/internal/domain/quiz"
	"github.com/alem-hub/learning-engine/internal/domain/shared"
)

// Course is the part of a course the engine needs.
type Course struct {
	ID    shared.CourseID
	Title string
}

// Lesson is the part of a lesson the engine needs.
type Lesson struct {
	ID       shared.LessonID
	CourseID shared.CourseID
	Title    string
	Order    int
}

// Catalog looks up content. Misses return shared.ErrCourseNotFound,
// shared.ErrLessonNotFound or shared.ErrQuizNotFound.
type Catalog interface {
	GetCourse(ctx context.Context, id shared.CourseID) (*Course, error)
	GetLesson(ctx context.Context, id shared.LessonID) (*Lesson, error)
	GetQuiz(ctx context.Context, id shared.QuizID) (*quiz.Quiz, error)

	// CountLessons returns the current number of lessons in a course.
	CountLessons(ctx context.Context, courseID shared.CourseID) (int, error)
}
