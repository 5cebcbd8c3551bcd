package chatsync

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// ============================================================================
// SQLiteCache
// ============================================================================

// SQLiteCache is a file-backed CacheStore. It is the durable default: the
// cache survives process restarts and serves room history before the network
// responds.
type SQLiteCache struct {
	db *sql.DB
}

// NewSQLiteCache opens (and if needed creates) the cache database at dbPath.
func NewSQLiteCache(dbPath string) (*SQLiteCache, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(time.Hour)

	// WAL mode so the mirroring goroutines don't block reads.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if err := createCacheTables(db); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteCache{db: db}, nil
}

func createCacheTables(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS chat_rooms (
		id TEXT PRIMARY KEY,
		updated_at DATETIME NOT NULL,
		data TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		room_id TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		data TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_room ON messages(room_id, created_at);
	`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create cache tables: %w", err)
	}
	return nil
}

// Close releases the underlying database handle.
func (c *SQLiteCache) Close() error {
	return c.db.Close()
}

func (c *SQLiteCache) GetMessages(ctx context.Context, roomID string) ([]Message, error) {
	// rowid breaks created_at ties in arrival order; upserts keep the
	// original rowid, so redelivery does not reshuffle.
	rows, err := c.db.QueryContext(ctx,
		`SELECT data FROM messages WHERE room_id = ? ORDER BY created_at ASC, rowid ASC`, roomID)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		var m Message
		if err := json.Unmarshal([]byte(data), &m); err != nil {
			return nil, fmt.Errorf("failed to decode cached message: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func (c *SQLiteCache) SaveMessages(ctx context.Context, roomID string, msgs []Message) error {
	if len(msgs) == 0 {
		return nil
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO messages (id, room_id, created_at, data) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET room_id = excluded.room_id,
			created_at = excluded.created_at, data = excluded.data`)
	if err != nil {
		return fmt.Errorf("failed to prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, m := range msgs {
		data, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("failed to encode message %s: %w", m.ID, err)
		}
		if _, err := stmt.ExecContext(ctx, m.ID, roomID, m.CreatedAt, string(data)); err != nil {
			return fmt.Errorf("failed to upsert message %s: %w", m.ID, err)
		}
	}
	return tx.Commit()
}

func (c *SQLiteCache) GetChatRooms(ctx context.Context) ([]ChatRoom, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT data FROM chat_rooms ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query rooms: %w", err)
	}
	defer rows.Close()

	var rooms []ChatRoom
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan room: %w", err)
		}
		var r ChatRoom
		if err := json.Unmarshal([]byte(data), &r); err != nil {
			return nil, fmt.Errorf("failed to decode cached room: %w", err)
		}
		rooms = append(rooms, r)
	}
	return rooms, rows.Err()
}

func (c *SQLiteCache) SaveChatRooms(ctx context.Context, rooms []ChatRoom) error {
	if len(rooms) == 0 {
		return nil
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chat_rooms (id, updated_at, data) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET updated_at = excluded.updated_at, data = excluded.data`)
	if err != nil {
		return fmt.Errorf("failed to prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, r := range rooms {
		data, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("failed to encode room %s: %w", r.ID, err)
		}
		if _, err := stmt.ExecContext(ctx, r.ID, r.UpdatedAt, string(data)); err != nil {
			return fmt.Errorf("failed to upsert room %s: %w", r.ID, err)
		}
	}
	return tx.Commit()
}

func (c *SQLiteCache) UpdateChatRoom(ctx context.Context, roomID string, upd RoomUpdate) error {
	var data string
	err := c.db.QueryRowContext(ctx,
		`SELECT data FROM chat_rooms WHERE id = ?`, roomID).Scan(&data)
	if err == sql.ErrNoRows {
		return nil // not cached yet, callers must not depend on this write
	}
	if err != nil {
		return fmt.Errorf("failed to read room %s: %w", roomID, err)
	}

	var room ChatRoom
	if err := json.Unmarshal([]byte(data), &room); err != nil {
		return fmt.Errorf("failed to decode cached room %s: %w", roomID, err)
	}
	upd.Apply(&room)

	encoded, err := json.Marshal(room)
	if err != nil {
		return fmt.Errorf("failed to encode room %s: %w", roomID, err)
	}
	_, err = c.db.ExecContext(ctx,
		`UPDATE chat_rooms SET updated_at = ?, data = ? WHERE id = ?`,
		room.UpdatedAt, string(encoded), roomID)
	if err != nil {
		return fmt.Errorf("failed to update room %s: %w", roomID, err)
	}
	return nil
}

func (c *SQLiteCache) DeleteChatRoom(ctx context.Context, roomID string) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE room_id = ?`, roomID); err != nil {
		return fmt.Errorf("failed to delete messages: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM chat_rooms WHERE id = ?`, roomID); err != nil {
		return fmt.Errorf("failed to delete room: %w", err)
	}
	return tx.Commit()
}

func (c *SQLiteCache) Clear(ctx context.Context) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM messages`); err != nil {
		return fmt.Errorf("failed to clear messages: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM chat_rooms`); err != nil {
		return fmt.Errorf("failed to clear rooms: %w", err)
	}
	return tx.Commit()
}
