package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/tutu-network/pana/internal/domain"
)

// ─── Conversation Trees ─────────────────────────────────────────────────────

// Tree is one calendar day of conversation entries.
type Tree struct {
	db   *sql.DB
	name string
}

// OpenDailyTree opens the tree for the current local date.
func (db *DB) OpenDailyTree() (domain.ConversationTree, error) {
	t, err := db.OpenTree(time.Now().Format(domain.DayFormat))
	if err != nil {
		return nil, err
	}
	return t, nil
}

// OpenTree opens (creating lazily) the tree with the given day name.
func (db *DB) OpenTree(day string) (*Tree, error) {
	if day == "" {
		return nil, fmt.Errorf("%w: empty tree name", domain.ErrStorageUnavailable)
	}
	_, err := db.db.Exec(`INSERT OR IGNORE INTO conversation_trees (name) VALUES (?)`, day)
	if err != nil {
		return nil, fmt.Errorf("%w: open tree %s: %w", domain.ErrStorageUnavailable, day, err)
	}
	return &Tree{db: db.db, name: day}, nil
}

// Trees lists every day that has a tree, oldest first.
func (db *DB) Trees() ([]string, error) {
	rows, err := db.db.Query(`SELECT name FROM conversation_trees ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrStorageUnavailable, err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

// Name returns the day the tree covers.
func (t *Tree) Name() string { return t.name }

// AppendPair inserts a human turn and its assistant reply in one
// transaction. Either both rows commit or neither does.
func (t *Tree) AppendPair(humanKey, humanText, assistantKey, assistantText string) error {
	if humanKey == "" || assistantKey == "" || humanKey == assistantKey {
		return fmt.Errorf("%w: invalid key pair %q/%q", domain.ErrStorageWriteFailed, humanKey, assistantKey)
	}

	tx, err := t.db.Begin()
	if err != nil {
		return fmt.Errorf("%w: begin: %w", domain.ErrStorageWriteFailed, err)
	}
	defer tx.Rollback()

	const insert = `INSERT INTO conversation_entries (tree, key, role, value) VALUES (?, ?, ?, ?)`
	if _, err := tx.Exec(insert, t.name, []byte(humanKey), int(domain.RoleHuman), []byte(humanText)); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrStorageWriteFailed, err)
	}
	if _, err := tx.Exec(insert, t.name, []byte(assistantKey), int(domain.RoleAssistant), []byte(assistantText)); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrStorageWriteFailed, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %w", domain.ErrStorageWriteFailed, err)
	}
	return nil
}

// History returns every entry in insertion (key) order.
func (t *Tree) History() ([]domain.Turn, error) {
	rows, err := t.db.Query(`
		SELECT key, role, value FROM conversation_entries
		WHERE tree = ? ORDER BY key ASC
	`, t.name)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrStorageUnavailable, err)
	}
	defer rows.Close()

	turns := []domain.Turn{}
	for rows.Next() {
		turn, err := scanTurn(rows)
		if err != nil {
			return nil, err
		}
		turns = append(turns, turn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrStorageUnavailable, err)
	}
	return turns, nil
}

// LatestWindow returns the last WindowSize entries, oldest first,
// labelled for prompting.
func (t *Tree) LatestWindow() ([]domain.WindowEntry, error) {
	rows, err := t.db.Query(`
		SELECT key, role, value FROM conversation_entries
		WHERE tree = ? ORDER BY key DESC LIMIT ?
	`, t.name, domain.WindowSize)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrStorageUnavailable, err)
	}
	defer rows.Close()

	// Rows arrive newest first; fill from the back.
	var newest []domain.WindowEntry
	for rows.Next() {
		turn, err := scanTurn(rows)
		if err != nil {
			return nil, err
		}
		newest = append(newest, domain.WindowEntry{Label: turn.Role.Label(), Text: turn.Text})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrStorageUnavailable, err)
	}

	window := make([]domain.WindowEntry, len(newest))
	for i, e := range newest {
		window[len(newest)-1-i] = e
	}
	return window, nil
}

// Clear removes every entry of the tree. The tree itself stays.
func (t *Tree) Clear() error {
	if _, err := t.db.Exec(`DELETE FROM conversation_entries WHERE tree = ?`, t.name); err != nil {
		return fmt.Errorf("%w: clear %s: %w", domain.ErrStorageWriteFailed, t.name, err)
	}
	return nil
}

var errRole = errors.New("unknown role")

func scanTurn(rows *sql.Rows) (domain.Turn, error) {
	var (
		key, value []byte
		role       int
	)
	if err := rows.Scan(&key, &role, &value); err != nil {
		return domain.Turn{}, fmt.Errorf("%w: %w", domain.ErrStorageCorrupt, err)
	}
	if !utf8.Valid(key) {
		return domain.Turn{}, fmt.Errorf("%w: key %x", domain.ErrStorageCorrupt, key)
	}
	if !utf8.Valid(value) {
		return domain.Turn{}, fmt.Errorf("%w: value at key %s", domain.ErrStorageCorrupt, key)
	}
	r := domain.Role(role)
	if r != domain.RoleHuman && r != domain.RoleAssistant {
		return domain.Turn{}, fmt.Errorf("%w: %w %d at key %s", domain.ErrStorageCorrupt, errRole, role, key)
	}
	return domain.Turn{Role: r, Text: string(value)}, nil
}
