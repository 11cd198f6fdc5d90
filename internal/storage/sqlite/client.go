// Package sqlite persists the chat-turn history log.
package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/ehr-chatbot/backend/internal/storage/models"
	"github.com/ehr-chatbot/backend/pkg/logger"
)

type Client struct {
	db *sql.DB
}

func NewClient(dbPath string) (*Client, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{db: db}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS chat_history (
		id TEXT PRIMARY KEY,
		condition_id TEXT NOT NULL,
		query_text TEXT NOT NULL,
		response_type TEXT NOT NULL,
		confidence REAL,
		mismatch INTEGER DEFAULT 0,
		latency_ms INTEGER,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_chat_condition ON chat_history(condition_id);
	CREATE INDEX IF NOT EXISTS idx_chat_created ON chat_history(created_at);
	CREATE INDEX IF NOT EXISTS idx_chat_response_type ON chat_history(response_type);

	CREATE TABLE IF NOT EXISTS feedback (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		chat_id TEXT NOT NULL,
		helpful INTEGER NOT NULL,
		comment TEXT,
		created_at INTEGER NOT NULL,
		FOREIGN KEY (chat_id) REFERENCES chat_history(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_feedback_chat ON feedback(chat_id);
	`

	if _, err := c.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	return nil
}

func (c *Client) InsertChatRecord(record *models.ChatRecord) error {
	mismatch := 0
	if record.Mismatch {
		mismatch = 1
	}

	_, err := c.db.Exec(`
		INSERT INTO chat_history (id, condition_id, query_text, response_type, confidence, mismatch, latency_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		record.ID,
		record.ConditionID,
		record.QueryText,
		record.ResponseType,
		record.Confidence,
		mismatch,
		record.LatencyMS,
		record.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert chat record: %w", err)
	}

	return nil
}

func (c *Client) GetRecentByCondition(conditionID string, limit int) ([]models.ChatRecord, error) {
	rows, err := c.db.Query(`
		SELECT id, condition_id, query_text, response_type, confidence, mismatch, latency_ms, created_at
		FROM chat_history
		WHERE condition_id = ?
		ORDER BY created_at DESC
		LIMIT ?`,
		conditionID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query chat history: %w", err)
	}
	defer rows.Close()

	var records []models.ChatRecord
	for rows.Next() {
		var record models.ChatRecord
		var mismatch int
		var createdAt int64

		if err := rows.Scan(
			&record.ID,
			&record.ConditionID,
			&record.QueryText,
			&record.ResponseType,
			&record.Confidence,
			&mismatch,
			&record.LatencyMS,
			&createdAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan chat record: %w", err)
		}

		record.Mismatch = mismatch != 0
		record.CreatedAt = time.Unix(createdAt, 0)
		records = append(records, record)
	}

	return records, rows.Err()
}

func (c *Client) InsertFeedback(feedback *models.Feedback) error {
	helpful := 0
	if feedback.Helpful {
		helpful = 1
	}

	_, err := c.db.Exec(`
		INSERT INTO feedback (chat_id, helpful, comment, created_at)
		VALUES (?, ?, ?, ?)`,
		feedback.ChatID,
		helpful,
		feedback.Comment,
		feedback.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert feedback: %w", err)
	}

	return nil
}

// ResponseTypeCounts aggregates routed chat turns per variant, the raw
// material for threshold calibration.
func (c *Client) ResponseTypeCounts() (map[string]int, error) {
	rows, err := c.db.Query(`SELECT response_type, COUNT(*) FROM chat_history GROUP BY response_type`)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate response types: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var responseType string
		var count int
		if err := rows.Scan(&responseType, &count); err != nil {
			return nil, fmt.Errorf("failed to scan aggregation row: %w", err)
		}
		counts[responseType] = count
	}

	return counts, rows.Err()
}
