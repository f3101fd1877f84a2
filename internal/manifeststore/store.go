// Package manifeststore persists sealed execution manifests in SQLite
// so they can be listed, inspected, and replayed later.
package manifeststore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/watzon/conduit/internal/config"
	"github.com/watzon/conduit/internal/database"
	"github.com/watzon/conduit/internal/manifest"
	"github.com/watzon/conduit/internal/metrics"
)

var (
	ErrNotFound      = errors.New("manifest not found")
	ErrAlreadyExists = errors.New("manifest already stored")
)

// Record is the summary row returned by List. The full manifest payload
// stays in the database until fetched with Get.
type Record struct {
	ID         string
	Pipeline   string
	ContractID string
	Status     manifest.RunStatus
	Node       string
	StartedAt  time.Time
	SealedAt   time.Time
}

type Store struct {
	db          *database.DB
	compression string
	ownsDB      bool
}

// Open opens the store described by cfg, creating the database and
// schema as needed.
func Open(cfg *config.StoreConfig) (*Store, error) {
	db, err := database.Open(cfg)
	if err != nil {
		return nil, err
	}
	return &Store{db: db, compression: cfg.Compression, ownsDB: true}, nil
}

// New wraps an already open database. The caller keeps ownership of db.
func New(db *database.DB, compression string) *Store {
	return &Store{db: db, compression: compression}
}

func (s *Store) Close() error {
	if !s.ownsDB {
		return nil
	}
	return s.db.Close()
}

// Put stores a sealed manifest. Manifest IDs are unique; storing the
// same ID twice returns ErrAlreadyExists.
func (s *Store) Put(ctx context.Context, m *manifest.Manifest) error {
	raw, err := json.Marshal(m)
	if err != nil {
		metrics.RecordStoreWrite("error")
		return fmt.Errorf("encoding manifest: %w", err)
	}

	payload, err := compress(raw, s.compression)
	if err != nil {
		metrics.RecordStoreWrite("error")
		return fmt.Errorf("compressing manifest: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO manifests (id, pipeline, contract_id, status, node, started_at, sealed_at, compression, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		m.Identity.ManifestID,
		m.Identity.PipelineID,
		m.Identity.ContractID,
		string(m.Status),
		m.Identity.Node,
		m.StartedAt.UTC().Format(time.RFC3339Nano),
		m.SealedAt.UTC().Format(time.RFC3339Nano),
		normalizeCompression(s.compression),
		payload,
		database.Now(),
	)
	if err != nil {
		err = database.ClassifyError(err)
		if database.IsUniqueError(err) {
			metrics.RecordStoreWrite("duplicate")
			return fmt.Errorf("%w: %s", ErrAlreadyExists, m.Identity.ManifestID)
		}
		metrics.RecordStoreWrite("error")
		return fmt.Errorf("storing manifest: %w", err)
	}

	metrics.RecordStoreWrite("success")

	log.Debug().
		Str("manifest_id", m.Identity.ManifestID).
		Str("pipeline", m.Identity.PipelineID).
		Str("status", string(m.Status)).
		Int("bytes", len(payload)).
		Msg("Manifest stored")

	return nil
}

// Get loads one manifest by ID.
func (s *Store) Get(ctx context.Context, id string) (*manifest.Manifest, error) {
	var compression string
	var payload []byte

	err := s.db.QueryRowContext(ctx, `
		SELECT compression, payload FROM manifests WHERE id = ?
	`, id).Scan(&compression, &payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("loading manifest: %w", err)
	}

	raw, err := decompress(payload, compression)
	if err != nil {
		return nil, fmt.Errorf("decompressing manifest: %w", err)
	}

	var m manifest.Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("decoding manifest: %w", err)
	}

	return &m, nil
}

// ListOptions filters List. A zero value lists everything, newest first.
type ListOptions struct {
	Pipeline string
	Status   manifest.RunStatus
	Limit    int
}

// List returns summary records, newest first.
func (s *Store) List(ctx context.Context, opts ListOptions) ([]Record, error) {
	query := `
		SELECT id, pipeline, contract_id, status, node, started_at, sealed_at
		FROM manifests
	`
	var conditions []string
	var args []any

	if opts.Pipeline != "" {
		conditions = append(conditions, "pipeline = ?")
		args = append(args, opts.Pipeline)
	}
	if opts.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, string(opts.Status))
	}

	for i, cond := range conditions {
		if i == 0 {
			query += " WHERE " + cond
		} else {
			query += " AND " + cond
		}
	}

	query += " ORDER BY sealed_at DESC"

	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing manifests: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var r Record
		var status, startedAt, sealedAt string
		if err := rows.Scan(&r.ID, &r.Pipeline, &r.ContractID, &status, &r.Node, &startedAt, &sealedAt); err != nil {
			return nil, fmt.Errorf("scanning manifest row: %w", err)
		}
		r.Status = manifest.RunStatus(status)
		r.StartedAt, _ = time.Parse(time.RFC3339Nano, startedAt)
		r.SealedAt, _ = time.Parse(time.RFC3339Nano, sealedAt)
		records = append(records, r)
	}

	return records, rows.Err()
}

// DeleteOlderThan removes manifests sealed before the cutoff and
// returns how many were deleted.
func (s *Store) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM manifests WHERE sealed_at < ?
	`, cutoff.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, fmt.Errorf("deleting manifests: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting deleted manifests: %w", err)
	}

	if deleted > 0 {
		log.Info().Int64("deleted", deleted).Time("cutoff", cutoff).Msg("Pruned old manifests")
	}

	return deleted, nil
}
