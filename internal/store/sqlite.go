package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store on top of SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (or creates) the database at path and applies the
// schema. Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// SQLite allows a single writer; one pooled connection keeps
	// transactions from failing with SQLITE_BUSY on lock upgrade.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db, logger: logger}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			email TEXT NOT NULL UNIQUE,
			profile_pic TEXT NOT NULL DEFAULT '',
			password_hash TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			pair_key TEXT NOT NULL UNIQUE,
			sender TEXT NOT NULL,
			receiver TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_conversations_sender
			ON conversations(sender, updated_at);

		CREATE INDEX IF NOT EXISTS idx_conversations_receiver
			ON conversations(receiver, updated_at);

		CREATE TABLE IF NOT EXISTS messages (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			conversation_id TEXT NOT NULL,
			text TEXT NOT NULL DEFAULT '',
			image_url TEXT NOT NULL DEFAULT '',
			video_url TEXT NOT NULL DEFAULT '',
			msg_by_user_id TEXT NOT NULL,
			seen INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			FOREIGN KEY (conversation_id) REFERENCES conversations(id)
		);

		CREATE INDEX IF NOT EXISTS idx_messages_conversation
			ON messages(conversation_id, seq);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateUser inserts a user, assigning an ID when empty.
func (s *SQLiteStore) CreateUser(ctx context.Context, user *User) error {
	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, name, email, profile_pic, password_hash, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		user.ID, user.Name, user.Email, user.ProfilePic, user.PasswordHash, user.CreatedAt.UnixNano(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateUser
		}
		return fmt.Errorf("inserting user: %w", err)
	}
	return nil
}

// GetUser loads a user by ID.
func (s *SQLiteStore) GetUser(ctx context.Context, id string) (*User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, email, profile_pic, password_hash, created_at
		FROM users WHERE id = ?`, id)
	return scanUser(row)
}

// GetUserByEmail loads a user by email address.
func (s *SQLiteStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, email, profile_pic, password_hash, created_at
		FROM users WHERE email = ?`, email)
	return scanUser(row)
}

func scanUser(row *sql.Row) (*User, error) {
	var u User
	var created int64
	err := row.Scan(&u.ID, &u.Name, &u.Email, &u.ProfilePic, &u.PasswordHash, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning user: %w", err)
	}
	u.CreatedAt = fromNanos(created)
	return &u, nil
}

// FindConversation returns the conversation between a and b.
func (s *SQLiteStore) FindConversation(ctx context.Context, a, b string) (*Conversation, error) {
	return s.conversationByPair(ctx, s.db, PairKey(a, b))
}

// FindOrCreateConversation returns the conversation between sender and
// receiver, inserting it if missing. The unique pair key makes the insert a
// no-op when another caller won the race.
func (s *SQLiteStore) FindOrCreateConversation(ctx context.Context, sender, receiver string) (*Conversation, error) {
	key := PairKey(sender, receiver)
	now := time.Now().UTC().UnixNano()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations (id, pair_key, sender, receiver, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(pair_key) DO NOTHING`,
		uuid.New().String(), key, sender, receiver, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("upserting conversation: %w", err)
	}

	return s.conversationByPair(ctx, s.db, key)
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLiteStore) conversationByPair(ctx context.Context, q queryRower, key string) (*Conversation, error) {
	row := q.QueryRowContext(ctx, `
		SELECT id, sender, receiver, created_at, updated_at
		FROM conversations WHERE pair_key = ?`, key)

	var c Conversation
	var created, updated int64
	err := row.Scan(&c.ID, &c.Sender, &c.Receiver, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning conversation: %w", err)
	}
	c.CreatedAt = fromNanos(created)
	c.UpdatedAt = fromNanos(updated)
	return &c, nil
}

// AppendMessage inserts msg at the end of the conversation.
func (s *SQLiteStore) AppendMessage(ctx context.Context, conversationID string, msg *Message) error {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = now
	}
	msg.UpdatedAt = msg.CreatedAt
	msg.ConversationID = conversationID

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx, `
		UPDATE conversations SET updated_at = ? WHERE id = ?`,
		now.UnixNano(), conversationID,
	)
	if err != nil {
		return fmt.Errorf("touching conversation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}

	res, err = tx.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, text, image_url, video_url, msg_by_user_id, seen, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, conversationID, msg.Text, msg.ImageURL, msg.VideoURL, msg.MsgByUserID,
		boolToInt(msg.Seen), msg.CreatedAt.UnixNano(), msg.UpdatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}
	if seq, err := res.LastInsertId(); err == nil {
		msg.Seq = seq
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing message: %w", err)
	}

	s.logger.Debug("saved message", "id", msg.ID, "conversation_id", conversationID)
	return nil
}

// ListMessages returns the conversation's messages oldest first.
func (s *SQLiteStore) ListMessages(ctx context.Context, conversationID string) ([]*Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, id, conversation_id, text, image_url, video_url, msg_by_user_id, seen, created_at, updated_at
		FROM messages WHERE conversation_id = ?
		ORDER BY seq ASC`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	messages := make([]*Message, 0)
	for rows.Next() {
		var m Message
		var seen int
		var created, updated int64
		if err := rows.Scan(&m.Seq, &m.ID, &m.ConversationID, &m.Text, &m.ImageURL, &m.VideoURL,
			&m.MsgByUserID, &seen, &created, &updated); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		m.Seen = seen != 0
		m.CreatedAt = fromNanos(created)
		m.UpdatedAt = fromNanos(updated)
		messages = append(messages, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating messages: %w", err)
	}
	return messages, nil
}

// MarkSeen flags unseen messages from senderID as seen.
func (s *SQLiteStore) MarkSeen(ctx context.Context, conversationID, senderID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE messages SET seen = 1, updated_at = ?
		WHERE conversation_id = ? AND msg_by_user_id = ? AND seen = 0`,
		time.Now().UTC().UnixNano(), conversationID, senderID,
	)
	if err != nil {
		return 0, fmt.Errorf("marking messages seen: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting seen messages: %w", err)
	}
	return n, nil
}

// ListConversations returns userID's conversations, most recently updated first.
func (s *SQLiteStore) ListConversations(ctx context.Context, userID string) ([]*Conversation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sender, receiver, created_at, updated_at
		FROM conversations
		WHERE sender = ? OR receiver = ?
		ORDER BY updated_at DESC, rowid DESC`, userID, userID)
	if err != nil {
		return nil, fmt.Errorf("querying conversations: %w", err)
	}
	defer rows.Close()

	conversations := make([]*Conversation, 0)
	for rows.Next() {
		var c Conversation
		var created, updated int64
		if err := rows.Scan(&c.ID, &c.Sender, &c.Receiver, &created, &updated); err != nil {
			return nil, fmt.Errorf("scanning conversation: %w", err)
		}
		c.CreatedAt = fromNanos(created)
		c.UpdatedAt = fromNanos(updated)
		conversations = append(conversations, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating conversations: %w", err)
	}
	return conversations, nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}
