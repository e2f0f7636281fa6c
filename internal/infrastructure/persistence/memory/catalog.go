package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/alem-hub/learning-engine/internal/domain/badge"
	"github.com/alem-hub/learning-engine/internal/domain/content"
	"github.com/alem-hub/learning-engine/internal/domain/quiz"
	"github.com/alem-hub/learning-engine/internal/domain/shared"
)

// Catalog returns the store's read-only content view.
func (s *Store) Catalog() content.Catalog {
	return catalogView{s: s}
}

type catalogView struct {
	s *Store
}

func (c catalogView) GetCourse(_ context.Context, id shared.CourseID) (*content.Course, error) {
	c.s.mu.RLock()
	defer c.s.mu.RUnlock()
	rec, ok := c.s.courses[id]
	if !ok {
		return nil, shared.ErrCourseNotFound
	}
	cp := *rec
	return &cp, nil
}

func (c catalogView) GetLesson(_ context.Context, id shared.LessonID) (*content.Lesson, error) {
	c.s.mu.RLock()
	defer c.s.mu.RUnlock()
	rec, ok := c.s.lessons[id]
	if !ok {
		return nil, shared.ErrLessonNotFound
	}
	cp := *rec
	return &cp, nil
}

func (c catalogView) GetQuiz(_ context.Context, id shared.QuizID) (*quiz.Quiz, error) {
	c.s.mu.RLock()
	defer c.s.mu.RUnlock()
	q, ok := c.s.quizzes[id]
	if !ok {
		return nil, shared.ErrQuizNotFound
	}
	cp := *q
	cp.Questions = append([]quiz.Question(nil), q.Questions...)
	return &cp, nil
}

func (c catalogView) CountLessons(_ context.Context, courseID shared.CourseID) (int, error) {
	c.s.mu.RLock()
	defer c.s.mu.RUnlock()
	if _, ok := c.s.courses[courseID]; !ok {
		return 0, shared.ErrCourseNotFound
	}
	n := 0
	for _, l := range c.s.lessons {
		if l.CourseID == courseID {
			n++
		}
	}
	return n, nil
}

// ═══════════════════════════════════════════════════════════════════════════
// Seeding
// ═══════════════════════════════════════════════════════════════════════════

// AddCourse stores or replaces a course.
func (s *Store) AddCourse(c content.Course) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.courses[c.ID] = &c
}

// AddLesson stores or replaces a lesson.
func (s *Store) AddLesson(l content.Lesson) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lessons[l.ID] = &l
}

// RemoveLesson deletes a lesson, as the CRUD layer may do at any time.
func (s *Store) RemoveLesson(id shared.LessonID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.lessons, id)
}

// AddQuiz stores or replaces a quiz. Unset settings get the defaults.
func (s *Store) AddQuiz(q quiz.Quiz) {
	if q.PassingScore == 0 {
		q.PassingScore = quiz.DefaultPassingScore
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quizzes[q.ID] = &q
}

// AddBadge appends a badge to the catalog, replacing one with the same ID.
func (s *Store) AddBadge(b badge.Badge) {
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.badges {
		if existing.ID == b.ID {
			s.badges[i] = &b
			return
		}
	}
	s.badges = append(s.badges, &b)
	sort.SliceStable(s.badges, func(i, j int) bool {
		return s.badges[i].PointsRequired < s.badges[j].PointsRequired
	})
}

// Seed is the JSON document accepted by LoadSeed.
type Seed struct {
	Courses []struct {
		ID      string `json:"id"`
		Title   string `json:"title"`
		Lessons []struct {
			ID    string `json:"id"`
			Title string `json:"title"`
		} `json:"lessons"`
		Quizzes []struct {
			ID           string  `json:"id"`
			Title        string  `json:"title"`
			PassingScore float64 `json:"passing_score"`
			MaxAttempts  *int    `json:"max_attempts"`
			Questions    []struct {
				ID      string `json:"id"`
				Type    string `json:"type"`
				Text    string `json:"text"`
				Points  int    `json:"points"`
				Answers []struct {
					ID        string `json:"id"`
					Text      string `json:"text"`
					IsCorrect bool   `json:"is_correct"`
				} `json:"answers"`
			} `json:"questions"`
		} `json:"quizzes"`
	} `json:"courses"`
	Badges []struct {
		ID              string `json:"id"`
		Name            string `json:"name"`
		Description     string `json:"description"`
		Icon            string `json:"icon"`
		Color           string `json:"color"`
		PointsRequired  int    `json:"points_required"`
		CoursesRequired int    `json:"courses_required"`
		LessonsRequired int    `json:"lessons_completed"`
		QuizzesRequired int    `json:"quizzes_passed"`
	} `json:"badges"`
}

// LoadSeed reads catalog content and badges from a JSON document.
func (s *Store) LoadSeed(r io.Reader) error {
	var seed Seed
	if err := json.NewDecoder(r).Decode(&seed); err != nil {
		return fmt.Errorf("decode seed: %w", err)
	}

	for _, c := range seed.Courses {
		courseID := shared.CourseID(c.ID)
		s.AddCourse(content.Course{ID: courseID, Title: c.Title})
		for i, l := range c.Lessons {
			s.AddLesson(content.Lesson{ID: shared.LessonID(l.ID), CourseID: courseID, Title: l.Title, Order: i + 1})
		}
		for _, q := range c.Quizzes {
			maxAttempts := quiz.DefaultMaxAttempts
			if q.MaxAttempts != nil {
				maxAttempts = *q.MaxAttempts
			}
			qz := quiz.Quiz{
				ID:           shared.QuizID(q.ID),
				CourseID:     courseID,
				Title:        q.Title,
				PassingScore: q.PassingScore,
				MaxAttempts:  maxAttempts,
			}
			for _, qq := range q.Questions {
				question := quiz.Question{
					ID:     shared.QuestionID(qq.ID),
					Type:   quiz.QuestionType(qq.Type),
					Text:   qq.Text,
					Points: qq.Points,
				}
				if !question.Type.IsValid() {
					return fmt.Errorf("quiz %s question %s: unknown type %q", q.ID, qq.ID, qq.Type)
				}
				for _, a := range qq.Answers {
					question.Answers = append(question.Answers, quiz.Answer{
						ID:        shared.AnswerID(a.ID),
						Text:      a.Text,
						IsCorrect: a.IsCorrect,
					})
				}
				qz.Questions = append(qz.Questions, question)
			}
			s.AddQuiz(qz)
		}
	}

	for _, b := range seed.Badges {
		s.AddBadge(badge.Badge{
			ID:              shared.BadgeID(b.ID),
			Name:            b.Name,
			Description:     b.Description,
			Icon:            b.Icon,
			Color:           b.Color,
			PointsRequired:  b.PointsRequired,
			CoursesRequired: b.CoursesRequired,
			LessonsRequired: b.LessonsRequired,
			QuizzesRequired: b.QuizzesRequired,
		})
	}
	return nil
}
