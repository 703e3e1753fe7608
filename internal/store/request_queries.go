package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/luvidal/jogiscraper/pkg/types"
)

// NewRequest carries the validated fields for a pending insert.
type NewRequest struct {
	Subject       string
	Contact       string
	DocumentTypes []string
	Channels      []string
	Secret        string
	SupportingID  string
}

// CreateRequest inserts a pending request and returns its identifier.
func (s *Store) CreateRequest(ctx context.Context, req NewRequest) (int64, error) {
	docs, err := json.Marshal(req.DocumentTypes)
	if err != nil {
		return 0, fmt.Errorf("encode document list: %w", err)
	}
	channels, err := json.Marshal(req.Channels)
	if err != nil {
		return 0, fmt.Errorf("encode channel list: %w", err)
	}
	now := time.Now().UTC()

	if s.driver == "postgres" {
		query := s.rebind(`INSERT INTO requests (rut, email, documents, status, created, claveunica, documento, delivery)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`)
		var id int64
		err := s.db.QueryRowContext(ctx, query,
			req.Subject, req.Contact, string(docs), string(types.StatusPending), now,
			req.Secret, req.SupportingID, string(channels),
		).Scan(&id)
		if err != nil {
			return 0, fmt.Errorf("insert request: %w", err)
		}
		return id, nil
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO requests (rut, email, documents, status, created, claveunica, documento, delivery)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		req.Subject, req.Contact, string(docs), string(types.StatusPending), now,
		req.Secret, req.SupportingID, string(channels),
	)
	if err != nil {
		return 0, fmt.Errorf("insert request: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("read inserted id: %w", err)
	}
	return id, nil
}

const requestColumns = `id, rut, email, documents, status, results, created, completed, claveunica, documento, delivery`

// ActiveRequestsBySubject returns the subject's requests still in flight
// (pending or processing), newest first. Used by the duplicate guard.
func (s *Store) ActiveRequestsBySubject(ctx context.Context, subject string) ([]types.Request, error) {
	query := s.rebind(`SELECT ` + requestColumns + ` FROM requests
		WHERE rut = ? AND status IN ('pending', 'processing')
		ORDER BY created DESC`)
	rows, err := s.db.QueryContext(ctx, query, subject)
	if err != nil {
		return nil, fmt.Errorf("query active requests: %w", err)
	}
	defer rows.Close()
	return scanRequests(rows)
}

// GetRequest loads one request by id.
func (s *Store) GetRequest(ctx context.Context, id int64) (types.Request, error) {
	query := s.rebind(`SELECT ` + requestColumns + ` FROM requests WHERE id = ?`)
	rows, err := s.db.QueryContext(ctx, query, id)
	if err != nil {
		return types.Request{}, fmt.Errorf("query request %d: %w", id, err)
	}
	defer rows.Close()
	reqs, err := scanRequests(rows)
	if err != nil {
		return types.Request{}, err
	}
	if len(reqs) == 0 {
		return types.Request{}, ErrNotFound
	}
	return reqs[0], nil
}

// ListRequests returns the most recent requests, newest first.
func (s *Store) ListRequests(ctx context.Context, limit int) ([]types.Request, error) {
	if limit <= 0 {
		limit = 100
	}
	query := s.rebind(`SELECT ` + requestColumns + ` FROM requests ORDER BY created DESC LIMIT ?`)
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list requests: %w", err)
	}
	defer rows.Close()
	return scanRequests(rows)
}

// UpdateStatus moves a request to a new lifecycle status. Terminal
// statuses also stamp the completion time.
func (s *Store) UpdateStatus(ctx context.Context, id int64, status types.Status) error {
	var err error
	if status.Terminal() {
		query := s.rebind(`UPDATE requests SET status = ?, completed = ? WHERE id = ?`)
		_, err = s.db.ExecContext(ctx, query, string(status), time.Now().UTC(), id)
	} else {
		query := s.rebind(`UPDATE requests SET status = ? WHERE id = ?`)
		_, err = s.db.ExecContext(ctx, query, string(status), id)
	}
	if err != nil {
		return fmt.Errorf("update request %d status: %w", id, err)
	}
	return nil
}

// SaveResults persists the aggregated per-document results together with
// the terminal status and completion time.
func (s *Store) SaveResults(ctx context.Context, id int64, results []types.DocumentResult, status types.Status) error {
	encoded, err := json.Marshal(results)
	if err != nil {
		return fmt.Errorf("encode results: %w", err)
	}
	query := s.rebind(`UPDATE requests SET results = ?, status = ?, completed = ? WHERE id = ?`)
	if _, err := s.db.ExecContext(ctx, query, string(encoded), string(status), time.Now().UTC(), id); err != nil {
		return fmt.Errorf("save request %d results: %w", id, err)
	}
	return nil
}

// DeleteRequest removes a request row, reporting whether one existed.
func (s *Store) DeleteRequest(ctx context.Context, id int64) (bool, error) {
	query := s.rebind(`DELETE FROM requests WHERE id = ?`)
	res, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("delete request %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ListDocumentTypes returns the whole catalog, enabled entries first.
func (s *Store) ListDocumentTypes(ctx context.Context) ([]types.DocumentType, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, origin, label, enabled FROM documents ORDER BY enabled DESC, origin, label`)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var out []types.DocumentType
	for rows.Next() {
		var doc types.DocumentType
		var enabled int
		if err := rows.Scan(&doc.ID, &doc.Origin, &doc.Label, &enabled); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		doc.Enabled = enabled != 0
		out = append(out, doc)
	}
	return out, rows.Err()
}

func scanRequests(rows *sql.Rows) ([]types.Request, error) {
	var out []types.Request
	for rows.Next() {
		var (
			req       types.Request
			docs      string
			delivery  string
			results   sql.NullString
			completed sql.NullTime
			secret    sql.NullString
			docNumber sql.NullString
			status    string
		)
		err := rows.Scan(&req.ID, &req.Subject, &req.Contact, &docs, &status, &results,
			&req.CreatedAt, &completed, &secret, &docNumber, &delivery)
		if err != nil {
			return nil, fmt.Errorf("scan request: %w", err)
		}
		req.Status = types.Status(status)
		if err := json.Unmarshal([]byte(docs), &req.DocumentTypes); err != nil {
			return nil, fmt.Errorf("decode document list: %w", err)
		}
		if err := json.Unmarshal([]byte(delivery), &req.Channels); err != nil {
			return nil, fmt.Errorf("decode channel list: %w", err)
		}
		if results.Valid && results.String != "" {
			if err := json.Unmarshal([]byte(results.String), &req.Results); err != nil {
				return nil, fmt.Errorf("decode results: %w", err)
			}
		}
		if completed.Valid {
			t := completed.Time
			req.CompletedAt = &t
		}
		req.Credentials = types.Credentials{
			Subject:      req.Subject,
			Secret:       secret.String,
			SupportingID: docNumber.String,
		}
		out = append(out, req)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
