package lead

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"leadmailer/internal/adapters/storage"
	domain "leadmailer/internal/domain/recipient"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db storage.SQLDB
}

// NewSQLiteStore creates a new lead store.
func NewSQLiteStore(db storage.SQLDB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// GetRecipients resolves ids in one query and returns them in request order.
// Every recipient also exposes its name and email as the "name" and "email"
// template fields unless the lead metadata already defines them.
// PRE: ids is non-empty
// POST: len(result) == len(ids), or ErrNotFound naming the first missing id
func (s *SQLiteStore) GetRecipients(ctx context.Context, ids []string) ([]domain.Recipient, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, name, email, fields FROM lead WHERE id IN ("+placeholders+")", args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byID := make(map[string]domain.Recipient, len(ids))
	for rows.Next() {
		var r domain.Recipient
		var fields string
		if err := rows.Scan(&r.ID, &r.Name, &r.Address, &fields); err != nil {
			return nil, err
		}
		if r.Fields, err = decodeFields(fields); err != nil {
			return nil, fmt.Errorf("lead %s fields: %w", r.ID, err)
		}
		if _, ok := r.Fields["name"]; !ok {
			r.Fields["name"] = r.Name
		}
		if _, ok := r.Fields["email"]; !ok {
			r.Fields["email"] = r.Address
		}
		byID[r.ID] = r
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]domain.Recipient, 0, len(ids))
	for _, id := range ids {
		r, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		out = append(out, r.Clone())
	}
	return out, nil
}

// Save inserts or replaces a lead.
// PRE: r.ID is non-empty
// POST: The lead row reflects r
func (s *SQLiteStore) Save(ctx context.Context, r domain.Recipient) error {
	if strings.TrimSpace(r.ID) == "" {
		return domain.ErrEmptyID
	}
	fields := r.Fields
	if fields == nil {
		fields = map[string]string{}
	}
	encoded, err := json.Marshal(fields)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO lead (id, name, email, fields, created_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET name = excluded.name, email = excluded.email, fields = excluded.fields`,
		r.ID, r.Name, r.Address, string(encoded), time.Now().UTC().Format(time.RFC3339))
	return err
}

func decodeFields(raw string) (map[string]string, error) {
	fields := map[string]string{}
	if strings.TrimSpace(raw) == "" {
		return fields, nil
	}
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return nil, err
	}
	// A stored JSON null unmarshals to a nil map.
	if fields == nil {
		fields = map[string]string{}
	}
	return fields, nil
}
