package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/learning-engine/internal/application/command"
	"github.com/alem-hub/learning-engine/internal/application/query"
	"github.com/alem-hub/learning-engine/internal/application/saga"
	"github.com/alem-hub/learning-engine/internal/application/uow"
	"github.com/alem-hub/learning-engine/internal/domain/content"
	"github.com/alem-hub/learning-engine/internal/domain/enrollment"
	"github.com/alem-hub/learning-engine/internal/domain/quiz"
	"github.com/alem-hub/learning-engine/internal/domain/shared"
	"github.com/alem-hub/learning-engine/internal/infrastructure/persistence/memory"
	"github.com/alem-hub/learning-engine/internal/interface/http/handlers"
	"github.com/alem-hub/learning-engine/pkg/logger"
	"github.com/alem-hub/learning-engine/pkg/timeutil"
)

const testAPIKey = "ingest-secret"

var now = time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)

type capturePublisher struct {
	mu     sync.Mutex
	events []shared.Event
	err    error
}

func (p *capturePublisher) Publish(_ context.Context, event shared.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, event)
	return nil
}

type testEnv struct {
	store  *memory.Store
	facts  *capturePublisher
	health *handlers.CompositeHealthChecker
	server *Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := memory.New()
	store.AddCourse(content.Course{ID: "go", Title: "Go"})
	store.AddLesson(content.Lesson{ID: "l1", CourseID: "go", Title: "One", Order: 1})
	store.AddLesson(content.Lesson{ID: "l2", CourseID: "go", Title: "Two", Order: 2})
	store.AddQuiz(quiz.Quiz{
		ID: "q1", CourseID: "go", Title: "Basics", PassingScore: 50, MaxAttempts: 2,
		Questions: []quiz.Question{
			{ID: "a", Type: quiz.QuestionTrueFalse, Points: 10, Answers: []quiz.Answer{
				{ID: "t", Text: "True", IsCorrect: true}, {ID: "f", Text: "False"},
			}},
		},
	})

	clock := timeutil.NewFixedClock(now)
	runner := saga.NewRunner(saga.RunnerConfig{UnitOfWork: store, Clock: clock, Logger: logger.Discard()})
	awards := saga.NewAwardFlow(runner)
	lessons := saga.NewLessonFlow(runner, awards, store.Catalog())

	facts := &capturePublisher{}
	health := handlers.NewCompositeHealthChecker("test", time.Second)
	server := NewServer(Config{IngestAPIKey: testAPIKey, Version: "test"}, Dependencies{
		Facts:            facts,
		TrackLesson:      command.NewTrackLessonHandler(runner, lessons, logger.Discard()),
		SubmitAttempt:    command.NewSubmitAttemptHandler(runner, awards, store.Catalog(), logger.Discard()),
		GetBalance:       query.NewGetBalanceHandler(store),
		ListTransactions: query.NewListTransactionsHandler(store),
		GetStreak:        query.NewGetStreakHandler(store, clock, time.UTC),
		ListBadges:       query.NewListBadgesHandler(store),
		ListAchievements: query.NewListAchievementsHandler(store),
		GetProgress:      query.NewGetProgressHandler(store),
		Leaderboard:      query.NewLeaderboardHandler(nil, store, logger.Discard()),
		Health:           health,
		Clock:            clock,
		Logger:           logger.Discard(),
	})
	return &testEnv{store: store, facts: facts, health: health, server: server}
}

func (e *testEnv) enroll(t *testing.T, user shared.UserID) shared.EnrollmentID {
	t.Helper()
	id := shared.EnrollmentID("e-" + string(user))
	err := e.store.WithinUser(context.Background(), user, func(ctx context.Context, r uow.Repositories) error {
		_, _, err := r.Enrollments.Create(ctx, enrollment.New(id, user, "go", now))
		return err
	})
	require.NoError(t, err)
	return id
}

type decoded struct {
	Success bool              `json:"success"`
	Message string            `json:"message"`
	Data    json.RawMessage   `json:"data"`
	Errors  map[string]string `json:"errors"`
}

func (e *testEnv) do(t *testing.T, method, path, body string, headers map[string]string) (int, decoded) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := e.server.App().Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var out decoded
	require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	return resp.StatusCode, out
}

var withKey = map[string]string{handlers.APIKeyHeader: testAPIKey}

func TestFactIngestion(t *testing.T) {
	tests := []struct {
		name       string
		path       string
		body       string
		headers    map[string]string
		wantStatus int
		wantType   shared.EventType
		wantErrors map[string]string
	}{
		{
			name:       "missing api key",
			path:       "/api/v1/facts/review-created",
			body:       `{"user_id":"u1","course_id":"go"}`,
			wantStatus: fiber.StatusUnauthorized,
		},
		{
			name:       "wrong api key",
			path:       "/api/v1/facts/review-created",
			body:       `{"user_id":"u1","course_id":"go"}`,
			headers:    map[string]string{handlers.APIKeyHeader: "nope"},
			wantStatus: fiber.StatusUnauthorized,
		},
		{
			name:       "bearer token accepted",
			path:       "/api/v1/facts/enrollment-created",
			body:       `{"user_id":"u1","course_id":"go"}`,
			headers:    map[string]string{fiber.HeaderAuthorization: "Bearer " + testAPIKey},
			wantStatus: fiber.StatusAccepted,
			wantType:   shared.FactEnrollmentCreated,
		},
		{
			name:       "lesson completed",
			path:       "/api/v1/facts/lesson-completed",
			body:       `{"user_id":"u1","course_id":"go","lesson_id":"l1","occurred_at":"2024-05-09T08:00:00Z"}`,
			headers:    withKey,
			wantStatus: fiber.StatusAccepted,
			wantType:   shared.FactLessonCompleted,
		},
		{
			name:       "quiz submitted",
			path:       "/api/v1/facts/quiz-submitted",
			body:       `{"user_id":"u1","quiz_id":"q1","attempt_id":"a-1","answers":{"a":"t"}}`,
			headers:    withKey,
			wantStatus: fiber.StatusAccepted,
			wantType:   shared.FactQuizSubmitted,
		},
		{
			name:       "certificate issued",
			path:       "/api/v1/facts/certificate-issued",
			body:       `{"user_id":"u1","course_id":"go"}`,
			headers:    withKey,
			wantStatus: fiber.StatusAccepted,
			wantType:   shared.FactCertificateIssued,
		},
		{
			name:       "missing fields",
			path:       "/api/v1/facts/lesson-completed",
			body:       `{"user_id":"u1"}`,
			headers:    withKey,
			wantStatus: fiber.StatusBadRequest,
			wantErrors: map[string]string{"CourseID": "required", "LessonID": "required"},
		},
		{
			name:       "malformed json",
			path:       "/api/v1/facts/review-created",
			body:       `{"user_id":`,
			headers:    withKey,
			wantStatus: fiber.StatusBadRequest,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEnv(t)
			status, body := e.do(t, fiber.MethodPost, tt.path, tt.body, tt.headers)
			assert.Equal(t, tt.wantStatus, status)
			assert.Equal(t, tt.wantStatus == fiber.StatusAccepted, body.Success)

			if tt.wantErrors != nil {
				assert.Equal(t, tt.wantErrors, body.Errors)
			}
			if tt.wantType == "" {
				assert.Empty(t, e.facts.events)
				return
			}
			require.Len(t, e.facts.events, 1)
			assert.Equal(t, tt.wantType, e.facts.events[0].EventType())
			assert.Equal(t, "u1", e.facts.events[0].AggregateID())
		})
	}
}

func TestFactIngestion_OccurredAtDefaultsToClock(t *testing.T) {
	e := newTestEnv(t)
	status, _ := e.do(t, fiber.MethodPost, "/api/v1/facts/review-created", `{"user_id":"u1","course_id":"go"}`, withKey)
	require.Equal(t, fiber.StatusAccepted, status)
	require.Len(t, e.facts.events, 1)
	assert.True(t, now.Equal(e.facts.events[0].OccurredAt()))
}

func TestFactIngestion_BusFailure(t *testing.T) {
	e := newTestEnv(t)
	e.facts.err = shared.WrapError("eventbus", "Publish", shared.ErrServiceUnavailable, "bus closed", errors.New("closed"))
	status, body := e.do(t, fiber.MethodPost, "/api/v1/facts/review-created", `{"user_id":"u1","course_id":"go"}`, withKey)
	assert.Equal(t, fiber.StatusServiceUnavailable, status)
	assert.False(t, body.Success)
}

func TestSubmitAttempt(t *testing.T) {
	e := newTestEnv(t)

	status, body := e.do(t, fiber.MethodPost, "/api/v1/attempts", `{"user_id":"u1","quiz_id":"q1","answers":{"a":"t"}}`, nil)
	assert.Equal(t, fiber.StatusForbidden, status, "not enrolled")
	assert.False(t, body.Success)

	e.enroll(t, "u1")
	status, body = e.do(t, fiber.MethodPost, "/api/v1/attempts", `{"user_id":"u1","quiz_id":"q1","attempt_id":"at-1","answers":{"a":"t"}}`, nil)
	require.Equal(t, fiber.StatusCreated, status)

	var got attemptResponse
	require.NoError(t, json.Unmarshal(body.Data, &got))
	assert.Equal(t, "at-1", got.AttemptID)
	assert.Equal(t, 100.0, got.Score)
	assert.True(t, got.Passed)
	assert.Equal(t, 1, got.AttemptNumber)
	assert.Positive(t, got.PointsAwarded)
	assert.Equal(t, got.PointsAwarded, got.Balance)

	status, body = e.do(t, fiber.MethodPost, "/api/v1/attempts", `{"user_id":"u1","quiz_id":"q1","attempt_id":"at-1","answers":{"a":"f"}}`, nil)
	require.Equal(t, fiber.StatusOK, status, "resubmitting the same attempt replays it")
	require.NoError(t, json.Unmarshal(body.Data, &got))
	assert.True(t, got.Replayed)
	assert.True(t, got.Passed)

	status, _ = e.do(t, fiber.MethodPost, "/api/v1/attempts", `{"user_id":"u1","quiz_id":"q1","answers":{"a":"f"}}`, nil)
	require.Equal(t, fiber.StatusCreated, status)
	status, _ = e.do(t, fiber.MethodPost, "/api/v1/attempts", `{"user_id":"u1","quiz_id":"q1","answers":{"a":"t"}}`, nil)
	assert.Equal(t, fiber.StatusConflict, status, "attempts exhausted")

	status, _ = e.do(t, fiber.MethodPost, "/api/v1/attempts", `{"user_id":"u1","quiz_id":"missing"}`, nil)
	assert.Equal(t, fiber.StatusNotFound, status)
}

func TestTrackLessonAndQueries(t *testing.T) {
	e := newTestEnv(t)
	enrollmentID := e.enroll(t, "u1")

	status, body := e.do(t, fiber.MethodPost, "/api/v1/lessons/track", `{"user_id":"u1","course_id":"go","lesson_id":"l1","watch_time_seconds":30}`, nil)
	require.Equal(t, fiber.StatusOK, status)
	var progress lessonProgressResponse
	require.NoError(t, json.Unmarshal(body.Data, &progress))
	assert.False(t, progress.IsCompleted)
	assert.Equal(t, 30, progress.WatchTimeSeconds)

	status, body = e.do(t, fiber.MethodPost, "/api/v1/lessons/track", `{"user_id":"u1","course_id":"go","lesson_id":"l1","watch_time_seconds":10,"mark_complete":true}`, nil)
	require.Equal(t, fiber.StatusOK, status)
	require.NoError(t, json.Unmarshal(body.Data, &progress))
	assert.True(t, progress.IsCompleted)
	assert.True(t, progress.JustCompleted)
	assert.Equal(t, 40, progress.WatchTimeSeconds)
	assert.Equal(t, 50.0, progress.ProgressPercentage)

	status, _ = e.do(t, fiber.MethodPost, "/api/v1/lessons/track", `{"user_id":"u1","lesson_id":"l1","watch_time_seconds":-1}`, nil)
	assert.Equal(t, fiber.StatusBadRequest, status)

	status, body = e.do(t, fiber.MethodGet, "/api/v1/users/u1/balance", "", nil)
	require.Equal(t, fiber.StatusOK, status)
	var balance query.BalanceDTO
	require.NoError(t, json.Unmarshal(body.Data, &balance))
	assert.Positive(t, balance.Balance)

	status, body = e.do(t, fiber.MethodGet, "/api/v1/users/u1/transactions?limit=5", "", nil)
	require.Equal(t, fiber.StatusOK, status)
	var txs []query.TransactionDTO
	require.NoError(t, json.Unmarshal(body.Data, &txs))
	assert.Len(t, txs, 1)

	status, body = e.do(t, fiber.MethodGet, "/api/v1/users/u1/streak", "", nil)
	require.Equal(t, fiber.StatusOK, status)
	var st query.StreakDTO
	require.NoError(t, json.Unmarshal(body.Data, &st))
	assert.Equal(t, 1, st.CurrentStreak)

	status, body = e.do(t, fiber.MethodGet, "/api/v1/enrollments/"+string(enrollmentID)+"/progress", "", nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.Contains(t, string(body.Data), `"progress_percentage":50`)

	status, _ = e.do(t, fiber.MethodGet, "/api/v1/users/u1/badges", "", nil)
	assert.Equal(t, fiber.StatusOK, status)
	status, _ = e.do(t, fiber.MethodGet, "/api/v1/users/u1/achievements?limit=10", "", nil)
	assert.Equal(t, fiber.StatusOK, status)

	status, body = e.do(t, fiber.MethodGet, "/api/v1/leaderboard?limit=3", "", nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.Contains(t, string(body.Data), `"user_id":"u1"`)

	status, body = e.do(t, fiber.MethodGet, "/api/v1/users/u1/rank", "", nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.Contains(t, string(body.Data), `"rank":1`)
}

func TestQueryErrors(t *testing.T) {
	e := newTestEnv(t)

	status, _ := e.do(t, fiber.MethodGet, "/api/v1/users/nobody/rank", "", nil)
	assert.Equal(t, fiber.StatusNotFound, status)

	status, _ = e.do(t, fiber.MethodGet, "/api/v1/enrollments/missing/progress", "", nil)
	assert.Equal(t, fiber.StatusNotFound, status)

	status, body := e.do(t, fiber.MethodGet, "/api/v1/leaderboard?limit=ten", "", nil)
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Contains(t, body.Message, "limit")
}

func TestHealthAndReady(t *testing.T) {
	e := newTestEnv(t)

	status, body := e.do(t, fiber.MethodGet, "/health", "", nil)
	assert.Equal(t, fiber.StatusOK, status)
	assert.True(t, body.Success)

	e.health.AddCheck("storage", handlers.NewPingCheck(e.store))
	status, body = e.do(t, fiber.MethodGet, "/ready", "", nil)
	assert.Equal(t, fiber.StatusOK, status)
	assert.True(t, body.Success)

	e.health.AddCheck("redis", func(context.Context) error { return errors.New("connection refused") })
	status, body = e.do(t, fiber.MethodGet, "/ready", "", nil)
	assert.Equal(t, fiber.StatusServiceUnavailable, status)
	assert.False(t, body.Success)
	assert.Contains(t, body.Message, "redis")
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{shared.ErrQuizNotFound, fiber.StatusNotFound},
		{shared.ErrNotEnrolled, fiber.StatusForbidden},
		{shared.ErrAttemptsExhausted, fiber.StatusConflict},
		{shared.ErrLessonNotInCourse, fiber.StatusBadRequest},
		{shared.ErrTransientStorage, fiber.StatusServiceUnavailable},
		{fiber.NewError(fiber.StatusTeapot, "tea"), fiber.StatusTeapot},
		{errors.New("boom"), fiber.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
	assert.Equal(t, "internal error", publicMessage(errors.New("pq: secret detail"), fiber.StatusInternalServerError))
}
