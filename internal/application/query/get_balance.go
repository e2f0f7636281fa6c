package query

import (
	"context"
	"time"

	"github.com/alem-hub/learning-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET BALANCE QUERY
// ══════════════════════════════════════════════════════════════════════════════

// GetBalanceQuery asks for a user's points balance.
type GetBalanceQuery struct {
	UserID shared.UserID
}

// BalanceDTO is the ledger sum of a user.
type BalanceDTO struct {
	UserID  string `json:"user_id"`
	Balance int    `json:"balance"`
}

// GetBalanceHandler handles GetBalanceQuery.
type GetBalanceHandler struct {
	source Source
}

// NewGetBalanceHandler creates a new GetBalanceHandler.
func NewGetBalanceHandler(source Source) *GetBalanceHandler {
	return &GetBalanceHandler{source: source}
}

// Handle executes the query. A user without rows has a zero balance.
func (h *GetBalanceHandler) Handle(ctx context.Context, q GetBalanceQuery) (*BalanceDTO, error) {
	if err := requireUser("GetBalance", q.UserID); err != nil {
		return nil, err
	}
	balance, err := h.source.Reader().Points.Balance(ctx, q.UserID)
	if err != nil {
		return nil, err
	}
	return &BalanceDTO{UserID: q.UserID.String(), Balance: balance}, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// LIST TRANSACTIONS QUERY
// ══════════════════════════════════════════════════════════════════════════════

// ListTransactionsQuery asks for a user's points history.
type ListTransactionsQuery struct {
	UserID shared.UserID
	Limit  int
}

// TransactionDTO is one ledger row.
type TransactionDTO struct {
	ID          string    `json:"id"`
	Type        string    `json:"type"`
	Points      int       `json:"points"`
	CourseID    string    `json:"course_id,omitempty"`
	LessonID    string    `json:"lesson_id,omitempty"`
	QuizID      string    `json:"quiz_id,omitempty"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

// ListTransactionsHandler handles ListTransactionsQuery.
type ListTransactionsHandler struct {
	source Source
}

// NewListTransactionsHandler creates a new ListTransactionsHandler.
func NewListTransactionsHandler(source Source) *ListTransactionsHandler {
	return &ListTransactionsHandler{source: source}
}

// Handle returns the newest rows first.
func (h *ListTransactionsHandler) Handle(ctx context.Context, q ListTransactionsQuery) ([]TransactionDTO, error) {
	if err := requireUser("ListTransactions", q.UserID); err != nil {
		return nil, err
	}
	rows, err := h.source.Reader().Points.ListByUser(ctx, q.UserID, shared.NormalizeLimit(q.Limit))
	if err != nil {
		return nil, err
	}
	out := make([]TransactionDTO, 0, len(rows))
	for _, tx := range rows {
		out = append(out, TransactionDTO{
			ID:          tx.ID,
			Type:        string(tx.Type),
			Points:      tx.Points,
			CourseID:    tx.CourseID.String(),
			LessonID:    tx.LessonID.String(),
			QuizID:      tx.QuizID.String(),
			Description: tx.Description,
			CreatedAt:   tx.CreatedAt,
		})
	}
	return out, nil
}
