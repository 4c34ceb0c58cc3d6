package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"aerodesk/pkg/database"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrMessageNotFound = errors.New("message not found")
)

// Session is one persisted conversation thread.
type Session struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id,omitempty"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Messages  []Record  `json:"messages,omitempty"`
}

// SessionSummary is the list-view projection of a session.
type SessionSummary struct {
	ID            string       `json:"id"`
	UserID        string       `json:"user_id,omitempty"`
	Title         string       `json:"title"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
	LastMessageAt sql.NullTime `json:"-"`
	MessageCount  int          `json:"message_count"`
}

// Record is one persisted message turn, with the attribution captured at
// response time and an optional feedback rating added later.
type Record struct {
	ID           string          `json:"id"`
	SessionID    string          `json:"session_id"`
	Role         string          `json:"role"`
	Content      string          `json:"content"`
	Agents       json.RawMessage `json:"agents,omitempty"`
	Models       json.RawMessage `json:"models,omitempty"`
	InputTokens  int             `json:"input_tokens"`
	OutputTokens int             `json:"output_tokens"`
	Rating       int             `json:"rating,omitempty"`
	Feedback     string          `json:"feedback,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

// HistoryStore persists sessions and their messages in Postgres.
type HistoryStore struct {
	db *sql.DB
}

func NewHistoryStore(db *sql.DB) *HistoryStore {
	return &HistoryStore{db: db}
}

func (s *HistoryStore) CreateSession(ctx context.Context, userID string) (string, error) {
	var userIDValue any
	if userID != "" {
		userIDValue = userID
	}

	var sessionID string
	err := s.db.QueryRowContext(
		ctx,
		`INSERT INTO desk.desk_sessions (user_id)
		 VALUES ($1)
		 RETURNING id`,
		userIDValue,
	).Scan(&sessionID)
	if err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}

	return sessionID, nil
}

func (s *HistoryStore) AddMessage(
	ctx context.Context,
	sessionID,
	role,
	content string,
	agents,
	models json.RawMessage,
	stats TokenStats,
) (string, error) {
	if sessionID == "" {
		return "", errors.New("session id is required")
	}

	var messageID string
	err := s.db.QueryRowContext(
		ctx,
		`INSERT INTO desk.desk_messages (
			session_id,
			role,
			content,
			agents,
			models,
			token_count_input,
			token_count_output
		)
		SELECT c.id, $2, $3, $4, $5, $6, $7
		FROM desk.desk_sessions c
		WHERE c.id = $1
		RETURNING id`,
		sessionID,
		role,
		content,
		normalizeJSONInput(agents),
		normalizeJSONInput(models),
		stats.InputTokens,
		stats.OutputTokens,
	).Scan(&messageID)
	if err != nil {
		if errors.Is(err, database.ErrNoRows) {
			return "", ErrSessionNotFound
		}
		return "", fmt.Errorf("add message: %w", err)
	}

	if _, err := s.db.ExecContext(
		ctx,
		`UPDATE desk.desk_sessions
		 SET updated_at = NOW()
		 WHERE id = $1`,
		sessionID,
	); err != nil {
		return "", fmt.Errorf("update session timestamp: %w", err)
	}

	return messageID, nil
}

func (s *HistoryStore) GetSession(ctx context.Context, sessionID string) (Session, error) {
	userID := GetUserID(ctx)

	query := `SELECT id, user_id, COALESCE(title, ''), created_at, updated_at
		 FROM desk.desk_sessions
		 WHERE id = $1`
	args := []any{sessionID}
	if userID != "" {
		query += " AND user_id = $2"
		args = append(args, userID)
	}

	var sess Session
	var uid sql.NullString
	err := s.db.QueryRowContext(ctx, query, args...).Scan(
		&sess.ID,
		&uid,
		&sess.Title,
		&sess.CreatedAt,
		&sess.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, ErrSessionNotFound
	}
	if err != nil {
		return Session{}, fmt.Errorf("get session: %w", err)
	}
	sess.UserID = uid.String

	messages, err := s.fetchMessages(ctx, sessionID, 0)
	if err != nil {
		return Session{}, err
	}
	sess.Messages = messages

	return sess, nil
}

func (s *HistoryStore) ListSessions(ctx context.Context, userID string, limit, offset int) ([]SessionSummary, error) {
	if limit <= 0 {
		limit = 25
	}

	query := `SELECT
			c.id,
			c.user_id,
			COALESCE(c.title, ''),
			c.created_at,
			c.updated_at,
			MAX(m.created_at) AS last_message_at,
			COUNT(m.id) AS message_count
		FROM desk.desk_sessions c
		LEFT JOIN desk.desk_messages m ON m.session_id = c.id`
	args := []any{}
	argIdx := 1

	if userID != "" {
		query += fmt.Sprintf(" WHERE c.user_id = $%d", argIdx)
		args = append(args, userID)
		argIdx++
	}

	query += fmt.Sprintf(` GROUP BY c.id, c.user_id, c.title, c.created_at, c.updated_at
		ORDER BY COALESCE(MAX(m.created_at), c.created_at) DESC
		LIMIT $%d OFFSET $%d`, argIdx, argIdx+1)
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var summaries []SessionSummary
	for rows.Next() {
		var summary SessionSummary
		var uid sql.NullString
		if err := rows.Scan(
			&summary.ID,
			&uid,
			&summary.Title,
			&summary.CreatedAt,
			&summary.UpdatedAt,
			&summary.LastMessageAt,
			&summary.MessageCount,
		); err != nil {
			return nil, fmt.Errorf("scan session summary: %w", err)
		}
		summary.UserID = uid.String
		summaries = append(summaries, summary)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list sessions rows: %w", err)
	}

	return summaries, nil
}

func (s *HistoryStore) UpdateTitle(ctx context.Context, sessionID, title string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE desk.desk_sessions
		 SET title = $1, updated_at = NOW()
		 WHERE id = $2`,
		title, sessionID,
	)
	if err != nil {
		return fmt.Errorf("update title: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func (s *HistoryStore) DeleteSession(ctx context.Context, sessionID string) error {
	userID := GetUserID(ctx)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	delMsgQuery := `DELETE FROM desk.desk_messages
		 WHERE session_id = $1
		   AND session_id IN (
		     SELECT id FROM desk.desk_sessions WHERE id = $1`
	delMsgArgs := []any{sessionID}
	if userID != "" {
		delMsgQuery += " AND user_id = $2"
		delMsgArgs = append(delMsgArgs, userID)
	}
	delMsgQuery += ")"

	if _, execErr := tx.ExecContext(ctx, delMsgQuery, delMsgArgs...); execErr != nil {
		return fmt.Errorf("delete messages: %w", execErr)
	}

	delSessQuery := `DELETE FROM desk.desk_sessions WHERE id = $1`
	delSessArgs := []any{sessionID}
	if userID != "" {
		delSessQuery += " AND user_id = $2"
		delSessArgs = append(delSessArgs, userID)
	}

	result, err := tx.ExecContext(ctx, delSessQuery, delSessArgs...)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return ErrSessionNotFound
	}

	return tx.Commit()
}

func (s *HistoryStore) GetRecentMessages(ctx context.Context, sessionID string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 25
	}
	return s.fetchMessages(ctx, sessionID, limit)
}

func (s *HistoryStore) fetchMessages(ctx context.Context, sessionID string, limit int) ([]Record, error) {
	query := `SELECT
		m.id,
		m.session_id,
		m.role,
		m.content,
		COALESCE(m.agents, 'null'),
		COALESCE(m.models, 'null'),
		m.token_count_input,
		m.token_count_output,
		COALESCE(m.rating, 0),
		COALESCE(m.feedback, ''),
		m.created_at
	FROM desk.desk_messages m
	WHERE m.session_id = $1`

	var rows *sql.Rows
	var err error
	if limit > 0 {
		rows, err = s.db.QueryContext(
			ctx,
			`SELECT * FROM (`+query+` ORDER BY m.created_at DESC LIMIT $2) recent ORDER BY created_at ASC`,
			sessionID,
			limit,
		)
	} else {
		rows, err = s.db.QueryContext(
			ctx,
			query+` ORDER BY m.created_at ASC`,
			sessionID,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("get messages: %w", err)
	}
	defer rows.Close()

	var messages []Record
	for rows.Next() {
		var message Record
		if err := rows.Scan(
			&message.ID,
			&message.SessionID,
			&message.Role,
			&message.Content,
			&message.Agents,
			&message.Models,
			&message.InputTokens,
			&message.OutputTokens,
			&message.Rating,
			&message.Feedback,
			&message.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, message)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("get messages rows: %w", err)
	}

	return messages, nil
}

// SetFeedback stores a satisfaction rating (1-5) and optional comment on one
// assistant message.
func (s *HistoryStore) SetFeedback(ctx context.Context, sessionID, messageID string, rating int, comment string) error {
	if rating < 1 || rating > 5 {
		return fmt.Errorf("rating must be between 1 and 5, got %d", rating)
	}
	result, err := s.db.ExecContext(ctx,
		`UPDATE desk.desk_messages
		 SET rating = $1, feedback = $2
		 WHERE id = $3 AND session_id = $4`,
		rating, comment, messageID, sessionID,
	)
	if err != nil {
		return fmt.Errorf("set feedback: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrMessageNotFound
	}
	return nil
}

// MessageCount reports how many messages a session holds.
func (s *HistoryStore) MessageCount(ctx context.Context, sessionID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM desk.desk_messages WHERE session_id = $1`,
		sessionID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("message count: %w", err)
	}
	return count, nil
}

func normalizeJSONInput(value json.RawMessage) json.RawMessage {
	if len(value) == 0 {
		return json.RawMessage("null")
	}
	return value
}
