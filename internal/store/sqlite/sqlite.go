// Package sqlite stores the social graph and messages in SQLite.
//
// Friendships are one row per unordered pair, keyed by (user_low,
// user_high), so accepting and unfriending write a single edge that both
// users read. Pending requests are rows keyed by the ordered (sender,
// recipient) pair and ordered by insertion sequence.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"

	"github.com/charlieegan3/social-relay/internal/apperr"
	"github.com/charlieegan3/social-relay/internal/types"
)

// Memory is the path that opens a private in-memory database.
const Memory = ":memory:"

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id TEXT PRIMARY KEY,
	username TEXT NOT NULL UNIQUE,
	display_name TEXT NOT NULL DEFAULT '',
	email TEXT NOT NULL DEFAULT '',
	password_hash TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS friend_requests (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	sender TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	recipient TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	created_at INTEGER NOT NULL,
	UNIQUE (sender, recipient),
	CHECK (sender <> recipient)
);

CREATE TABLE IF NOT EXISTS friendships (
	user_low TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	user_high TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	created_at INTEGER NOT NULL,
	PRIMARY KEY (user_low, user_high),
	CHECK (user_low < user_high)
);

CREATE TABLE IF NOT EXISTS blocks (
	blocker TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	blocked TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	created_at INTEGER NOT NULL,
	PRIMARY KEY (blocker, blocked)
);

CREATE TABLE IF NOT EXISTS messages (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	id TEXT NOT NULL UNIQUE,
	sender TEXT NOT NULL,
	receiver TEXT NOT NULL,
	content TEXT NOT NULL,
	created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_friend_requests_recipient ON friend_requests(recipient, seq);
CREATE INDEX IF NOT EXISTS idx_friendships_high ON friendships(user_high);
CREATE INDEX IF NOT EXISTS idx_blocks_blocked ON blocks(blocked);
CREATE INDEX IF NOT EXISTS idx_messages_pair ON messages(sender, receiver, created_at, seq);
`

// Store is a SQLite backed graph and message store.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (creating if needed) the database at path. Pass Memory for a
// throwaway in-memory database.
func Open(path string) (*Store, error) {
	var dsn string
	if path == Memory {
		dsn = "file::memory:?_foreign_keys=on"
	} else {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		dsn = "file:" + path + "?_foreign_keys=on&_busy_timeout=5000&_journal_mode=WAL&_txlock=immediate"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite has a single writer; one connection serialises every
	// transaction in this process and keeps an in-memory database alive.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &Store{db: db, now: time.Now}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// CreateUser inserts u, assigning its ID and CreatedAt.
func (s *Store) CreateUser(ctx context.Context, u *types.User) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	created := s.now().UnixNano()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, username, display_name, email, password_hash, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		u.ID, u.Username, u.DisplayName, u.Email, u.PasswordHash, created,
	)
	if err != nil {
		if isConstraint(err, sqlite3.ErrConstraintUnique) || isConstraint(err, sqlite3.ErrConstraintPrimaryKey) {
			return apperr.Conflict("username %s is already taken", u.Username)
		}
		return apperr.Internal(err, "failed to create user")
	}

	u.CreatedAt = time.Unix(0, created).UTC()
	u.Friends = []string{}
	u.FriendRequests = []string{}
	u.Blocked = []string{}
	return nil
}

// GetUser returns the user with its friend set, pending requests (oldest
// first) and block list.
func (s *Store) GetUser(ctx context.Context, id string) (*types.User, error) {
	return s.getUser(ctx, `SELECT id, username, display_name, email, password_hash, created_at FROM users WHERE id = ?`, id)
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (*types.User, error) {
	return s.getUser(ctx, `SELECT id, username, display_name, email, password_hash, created_at FROM users WHERE username = ?`, username)
}

func (s *Store) getUser(ctx context.Context, query string, key string) (*types.User, error) {
	var (
		u       types.User
		created int64
	)
	err := s.db.QueryRowContext(ctx, query, key).
		Scan(&u.ID, &u.Username, &u.DisplayName, &u.Email, &u.PasswordHash, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("user %s not found", key)
	}
	if err != nil {
		return nil, apperr.Internal(err, "failed to load user")
	}
	u.CreatedAt = time.Unix(0, created).UTC()

	u.Friends, err = s.column(ctx,
		`SELECT user_high FROM friendships WHERE user_low = @id
		 UNION
		 SELECT user_low FROM friendships WHERE user_high = @id
		 ORDER BY 1`,
		sql.Named("id", u.ID))
	if err != nil {
		return nil, apperr.Internal(err, "failed to load friends")
	}

	u.FriendRequests, err = s.column(ctx,
		`SELECT sender FROM friend_requests WHERE recipient = ? ORDER BY seq`, u.ID)
	if err != nil {
		return nil, apperr.Internal(err, "failed to load friend requests")
	}

	u.Blocked, err = s.column(ctx,
		`SELECT blocked FROM blocks WHERE blocker = ? ORDER BY created_at, blocked`, u.ID)
	if err != nil {
		return nil, apperr.Internal(err, "failed to load blocks")
	}

	return &u, nil
}

// GetProfiles returns the profiles for ids in the same order, skipping IDs
// that no longer exist.
func (s *Store) GetProfiles(ctx context.Context, ids []string) ([]types.Profile, error) {
	profiles := []types.Profile{}
	if len(ids) == 0 {
		return profiles, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	found, err := s.profiles(ctx,
		`SELECT id, username, display_name FROM users WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, apperr.Internal(err, "failed to load profiles")
	}

	byID := make(map[string]types.Profile, len(found))
	for _, p := range found {
		byID[p.ID] = p
	}
	for _, id := range ids {
		if p, ok := byID[id]; ok {
			profiles = append(profiles, p)
		}
	}
	return profiles, nil
}

func (s *Store) CreateRequest(ctx context.Context, sender, recipient string) error {
	if sender == recipient {
		return apperr.Conflict("cannot send a friend request to yourself")
	}
	low, high := edge(sender, recipient)

	return s.withTx(ctx, func(tx *sql.Tx) error {
		friends, err := exists(ctx, tx,
			`SELECT 1 FROM friendships WHERE user_low = ? AND user_high = ?`, low, high)
		if err != nil {
			return apperr.Internal(err, "failed to check friendship")
		}
		if friends {
			return apperr.Conflict("already friends")
		}

		blocked, err := exists(ctx, tx,
			`SELECT 1 FROM blocks WHERE blocker = ? AND blocked = ?`, recipient, sender)
		if err != nil {
			return apperr.Internal(err, "failed to check blocks")
		}
		if blocked {
			return apperr.Authorization("this user does not accept requests from you")
		}

		var existing string
		err = tx.QueryRowContext(ctx,
			`SELECT sender FROM friend_requests
			 WHERE (sender = @a AND recipient = @b) OR (sender = @b AND recipient = @a)`,
			sql.Named("a", sender), sql.Named("b", recipient)).Scan(&existing)
		switch {
		case errors.Is(err, sql.ErrNoRows):
		case err != nil:
			return apperr.Internal(err, "failed to check friend requests")
		case existing == sender:
			return apperr.Conflict("friend request already sent")
		default:
			return apperr.Conflict("a friend request from this user is already waiting for you")
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO friend_requests (sender, recipient, created_at) VALUES (?, ?, ?)`,
			sender, recipient, s.now().UnixNano())
		if err != nil {
			if isConstraint(err, sqlite3.ErrConstraintUnique) {
				return apperr.Conflict("friend request already sent")
			}
			if isConstraint(err, sqlite3.ErrConstraintForeignKey) {
				return apperr.NotFound("user not found")
			}
			return apperr.Internal(err, "failed to create friend request")
		}
		return nil
	})
}

// AcceptRequest removes the pending request and inserts the edge in one
// transaction.
func (s *Store) AcceptRequest(ctx context.Context, user, requester string) error {
	low, high := edge(user, requester)

	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`DELETE FROM friend_requests WHERE sender = ? AND recipient = ?`, requester, user)
		if err != nil {
			return apperr.Internal(err, "failed to remove friend request")
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return apperr.Conflict("friend request does not exist")
		}

		_, err = tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO friendships (user_low, user_high, created_at) VALUES (?, ?, ?)`,
			low, high, s.now().UnixNano())
		if err != nil {
			return apperr.Internal(err, "failed to create friendship")
		}
		return nil
	})
}

func (s *Store) RemoveRequest(ctx context.Context, user, requester string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM friend_requests WHERE sender = ? AND recipient = ?`, requester, user)
	if err != nil {
		return false, apperr.Internal(err, "failed to remove friend request")
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *Store) RemoveFriend(ctx context.Context, user, other string) error {
	low, high := edge(user, other)

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM friendships WHERE user_low = ? AND user_high = ?`, low, high)
	if err != nil {
		return apperr.Internal(err, "failed to remove friendship")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.Conflict("you are not friends with this user")
	}
	return nil
}

// Block inserts the block and deletes any request from other to user in one
// transaction.
func (s *Store) Block(ctx context.Context, user, other string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO blocks (blocker, blocked, created_at) VALUES (?, ?, ?)`,
			user, other, s.now().UnixNano())
		if err != nil {
			if isConstraint(err, sqlite3.ErrConstraintForeignKey) {
				return apperr.NotFound("user not found")
			}
			return apperr.Internal(err, "failed to block user")
		}

		_, err = tx.ExecContext(ctx,
			`DELETE FROM friend_requests WHERE sender = ? AND recipient = ?`, other, user)
		if err != nil {
			return apperr.Internal(err, "failed to remove friend request")
		}
		return nil
	})
}

func (s *Store) Unblock(ctx context.Context, user, other string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM blocks WHERE blocker = ? AND blocked = ?`, user, other)
	if err != nil {
		return apperr.Internal(err, "failed to unblock user")
	}
	return nil
}

func (s *Store) Suggestions(ctx context.Context, user string, limit int) ([]types.Profile, error) {
	profiles, err := s.profiles(ctx,
		`SELECT u.id, u.username, u.display_name FROM users u
		 WHERE u.id <> @user
		 AND NOT EXISTS (
			SELECT 1 FROM friendships f
			WHERE (f.user_low = @user AND f.user_high = u.id)
			   OR (f.user_high = @user AND f.user_low = u.id))
		 AND NOT EXISTS (
			SELECT 1 FROM friend_requests r
			WHERE (r.sender = @user AND r.recipient = u.id)
			   OR (r.recipient = @user AND r.sender = u.id))
		 AND NOT EXISTS (
			SELECT 1 FROM blocks b
			WHERE (b.blocker = @user AND b.blocked = u.id)
			   OR (b.blocked = @user AND b.blocker = u.id))
		 ORDER BY u.created_at, u.id
		 LIMIT @limit`,
		sql.Named("user", user), sql.Named("limit", sqlLimit(limit)))
	if err != nil {
		return nil, apperr.Internal(err, "failed to load suggestions")
	}
	return profiles, nil
}

func (s *Store) SearchUsers(ctx context.Context, query string, limit int) ([]types.Profile, error) {
	profiles, err := s.profiles(ctx,
		`SELECT id, username, display_name FROM users
		 WHERE instr(lower(display_name), lower(@q)) > 0
		    OR instr(lower(username), lower(@q)) > 0
		 ORDER BY username
		 LIMIT @limit`,
		sql.Named("q", query), sql.Named("limit", sqlLimit(limit)))
	if err != nil {
		return nil, apperr.Internal(err, "failed to search users")
	}
	return profiles, nil
}

func (s *Store) Repair(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM friend_requests WHERE EXISTS (
			SELECT 1 FROM friendships f
			WHERE f.user_low = min(friend_requests.sender, friend_requests.recipient)
			  AND f.user_high = max(friend_requests.sender, friend_requests.recipient))`)
	if err != nil {
		return 0, apperr.Internal(err, "failed to repair friend requests")
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// SaveMessage persists m, assigning its ID, CreatedAt and Seq. Once it
// returns nil the message is durable.
func (s *Store) SaveMessage(ctx context.Context, m *types.Message) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	created := s.now().UnixNano()

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, sender, receiver, content, created_at) VALUES (?, ?, ?, ?, ?)`,
		m.ID, m.Sender, m.Receiver, m.Content, created)
	if err != nil {
		return apperr.Internal(err, "failed to save message")
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return apperr.Internal(err, "failed to read message sequence")
	}

	m.Seq = seq
	m.CreatedAt = time.Unix(0, created).UTC()
	return nil
}

// History returns the messages between a and b in either direction, oldest
// first.
func (s *Store) History(ctx context.Context, a, b string, q types.HistoryQuery) ([]types.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, id, sender, receiver, content, created_at FROM messages
		 WHERE ((sender = @a AND receiver = @b) OR (sender = @b AND receiver = @a))
		   AND seq > @after
		 ORDER BY created_at, seq
		 LIMIT @limit`,
		sql.Named("a", a), sql.Named("b", b),
		sql.Named("after", q.After), sql.Named("limit", sqlLimit(q.Limit)))
	if err != nil {
		return nil, apperr.Internal(err, "failed to load history")
	}
	defer rows.Close()

	messages := []types.Message{}
	for rows.Next() {
		var (
			m       types.Message
			created int64
		)
		if err := rows.Scan(&m.Seq, &m.ID, &m.Sender, &m.Receiver, &m.Content, &created); err != nil {
			return nil, apperr.Internal(err, "failed to read message")
		}
		m.CreatedAt = time.Unix(0, created).UTC()
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Internal(err, "failed to read history")
	}
	return messages, nil
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperr.Internal(err, "failed to begin transaction")
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return apperr.Internal(err, "failed to commit transaction")
	}
	return nil
}

func (s *Store) column(ctx context.Context, query string, args ...interface{}) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	values := []string{}
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	return values, rows.Err()
}

func (s *Store) profiles(ctx context.Context, query string, args ...interface{}) ([]types.Profile, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	profiles := []types.Profile{}
	for rows.Next() {
		var p types.Profile
		if err := rows.Scan(&p.ID, &p.Username, &p.DisplayName); err != nil {
			return nil, err
		}
		profiles = append(profiles, p)
	}
	return profiles, rows.Err()
}

func exists(ctx context.Context, tx *sql.Tx, query string, args ...interface{}) (bool, error) {
	var one int
	err := tx.QueryRowContext(ctx, query, args...).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

// edge returns the canonical key of the unordered pair.
func edge(a, b string) (string, string) {
	if a < b {
		return a, b
	}
	return b, a
}

// sqlLimit turns "no cap" into SQLite's -1.
func sqlLimit(limit int) int {
	if limit <= 0 {
		return -1
	}
	return limit
}

func isConstraint(err error, code sqlite3.ErrNoExtended) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == code
}
