package points

import (
	"fmt"

	"github.com/alem-hub/learning-engine/internal/domain/shared"
)

// LessonCompletionAward pays for finishing a lesson, once per lesson.
func LessonCompletionAward(userID shared.UserID, courseID shared.CourseID, lessonID shared.LessonID, lessonTitle string) Award {
	return Award{
		UserID:      userID,
		Type:        TypeLessonCompletion,
		Points:      LessonCompletionPoints,
		Reference:   Reference{CourseID: courseID, LessonID: lessonID},
		Description: fmt.Sprintf("Completed lesson: %s", lessonTitle),
	}
}

// EnrollmentAward pays for enrolling in a course, once per course.
func EnrollmentAward(userID shared.UserID, courseID shared.CourseID, courseTitle string) Award {
	return Award{
		UserID:      userID,
		Type:        TypeEnrollment,
		Points:      EnrollmentPoints,
		Reference:   Reference{CourseID: courseID},
		Description: fmt.Sprintf("Enrolled in course: %s", courseTitle),
	}
}

// QuizCompletionAward pays for the first submitted attempt of a quiz.
func QuizCompletionAward(userID shared.UserID, courseID shared.CourseID, quizID shared.QuizID, quizTitle string, passed bool) Award {
	outcome := "Failed"
	if passed {
		outcome = "Passed"
	}
	return Award{
		UserID:      userID,
		Type:        TypeQuizCompletion,
		Points:      QuizCompletionPoints(passed),
		Reference:   Reference{CourseID: courseID, QuizID: quizID},
		Description: fmt.Sprintf("Completed quiz: %s (%s)", quizTitle, outcome),
	}
}

// ReviewAward pays for reviewing a course, once per course.
func ReviewAward(userID shared.UserID, courseID shared.CourseID, courseTitle string) Award {
	return Award{
		UserID:      userID,
		Type:        TypeReviewSubmission,
		Points:      ReviewPoints,
		Reference:   Reference{CourseID: courseID},
		Description: fmt.Sprintf("Submitted review for course: %s", courseTitle),
	}
}

// CourseCompletionAward pays for completing a course, once per course.
func CourseCompletionAward(userID shared.UserID, courseID shared.CourseID, courseTitle string) Award {
	return Award{
		UserID:      userID,
		Type:        TypeCourseCompletion,
		Points:      CourseCompletionPoints,
		Reference:   Reference{CourseID: courseID},
		Description: fmt.Sprintf("Completed course: %s", courseTitle),
	}
}

// StreakBonusAward pays a streak milestone, once per streak length.
func StreakBonusAward(userID shared.UserID, streak int) Award {
	return Award{
		UserID:      userID,
		Type:        TypeStreakBonus,
		Points:      StreakBonusPoints(streak),
		Reference:   Reference{StreakLength: streak},
		Description: fmt.Sprintf("Learning streak of %d days", streak),
	}
}
