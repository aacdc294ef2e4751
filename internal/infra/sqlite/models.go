package sqlite

import (
	"database/sql"
	"time"

	"github.com/tutu-network/pana/internal/domain"
)

// ─── Model Catalog Operations ───────────────────────────────────────────────

// UpsertModel inserts or refreshes a catalog entry. Local state
// (pulled_at, last_used) is preserved across refreshes.
func (db *DB) UpsertModel(d domain.ModelDescriptor) error {
	_, err := db.db.Exec(`
		INSERT INTO models (name, url, file_name, size_bytes, sha256, format, context_size, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, datetime('now'))
		ON CONFLICT(name) DO UPDATE SET
			url          = excluded.url,
			file_name    = excluded.file_name,
			size_bytes   = excluded.size_bytes,
			sha256       = excluded.sha256,
			format       = excluded.format,
			context_size = excluded.context_size,
			updated_at   = datetime('now')
	`, d.Name, d.URL, d.FileName, d.SizeBytes, d.SHA256, d.Format, d.ContextSize)
	return err
}

// GetModel returns the entry for name, or nil if there is none.
func (db *DB) GetModel(name string) (*domain.ModelInfo, error) {
	row := db.db.QueryRow(`
		SELECT name, url, file_name, size_bytes, sha256, format, context_size, pulled_at, last_used
		FROM models WHERE name = ?
	`, name)
	info, err := scanModel(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &info, nil
}

// ListModels returns every catalog entry ordered by name.
func (db *DB) ListModels() ([]domain.ModelInfo, error) {
	rows, err := db.db.Query(`
		SELECT name, url, file_name, size_bytes, sha256, format, context_size, pulled_at, last_used
		FROM models ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.ModelInfo
	for rows.Next() {
		info, err := scanModel(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, info)
	}
	return out, rows.Err()
}

// DeleteModel removes an entry from the catalog.
func (db *DB) DeleteModel(name string) error {
	_, err := db.db.Exec(`DELETE FROM models WHERE name = ?`, name)
	return err
}

// MarkPulled records that the artifact for name is on disk.
func (db *DB) MarkPulled(name string, sizeBytes int64) error {
	res, err := db.db.Exec(`
		UPDATE models SET pulled_at = ?, size_bytes = CASE WHEN ? > 0 THEN ? ELSE size_bytes END
		WHERE name = ?
	`, time.Now().UTC().Format(time.RFC3339), sizeBytes, sizeBytes, name)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrModelNotFound
	}
	return nil
}

// ClearPulled forgets that the artifact for name is on disk.
func (db *DB) ClearPulled(name string) error {
	_, err := db.db.Exec(`UPDATE models SET pulled_at = NULL WHERE name = ?`, name)
	return err
}

// TouchModel updates last_used.
func (db *DB) TouchModel(name string) error {
	_, err := db.db.Exec(`UPDATE models SET last_used = ? WHERE name = ?`,
		time.Now().UTC().Format(time.RFC3339), name)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanModel(r rowScanner) (domain.ModelInfo, error) {
	var (
		info               domain.ModelInfo
		pulledAt, lastUsed sql.NullString
	)
	err := r.Scan(&info.Name, &info.URL, &info.FileName, &info.SizeBytes, &info.SHA256,
		&info.Format, &info.ContextSize, &pulledAt, &lastUsed)
	if err != nil {
		return domain.ModelInfo{}, err
	}
	if pulledAt.Valid {
		info.Pulled = true
		info.PulledAt, _ = time.Parse(time.RFC3339, pulledAt.String)
	}
	if lastUsed.Valid {
		info.LastUsed, _ = time.Parse(time.RFC3339, lastUsed.String)
	}
	return info, nil
}
