// Package docstore is a small document database on SQLite. Documents are JSON
// field maps addressed by (collection, id); collections may be nested paths
// such as "presentation_broadcast/current/messages".
package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/loqalabs/loqa-slidecast/internal/config"
	_ "modernc.org/sqlite"
)

// Fields is the decoded body of a document.
type Fields map[string]any

// Document is one query hit.
type Document struct {
	Collection string
	ID         string
	Fields     Fields
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Where is a set of equality filters keyed by field path. Nested fields use
// dotted paths such as "meta.page".
type Where map[string]any

var fieldPattern = regexp.MustCompile(`^[A-Za-z0-9_]+(\.[A-Za-z0-9_]+)*$`)

// Store wraps a SQLite-backed document table.
type Store struct {
	db    *sql.DB
	cfg   config.DocStoreConfig
	log   *slog.Logger
	clock func() time.Time
	newID func() string
}

// Open initializes the document store according to config.
func Open(ctx context.Context, cfg config.DocStoreConfig, log *slog.Logger) (*Store, error) {
	if cfg.Path == "" {
		return nil, errors.New("doc store path is required")
	}
	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, cfg: cfg, log: log, clock: time.Now, newID: uuid.NewString}

	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if cfg.VacuumOnStart {
		if err := s.vacuum(ctx); err != nil {
			log.Warn("doc store vacuum failed", slog.String("error", err.Error()))
		}
	}
	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS documents (
    collection TEXT NOT NULL,
    id TEXT NOT NULL,
    fields TEXT NOT NULL,
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL,
    PRIMARY KEY (collection, id)
);
CREATE INDEX IF NOT EXISTS idx_documents_collection_updated ON documents(collection, updated_at);
`
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}

func (s *Store) vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// Close releases underlying resources.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// NewID returns a fresh random document id.
func (s *Store) NewID() string {
	return s.newID()
}

// Get loads a document. A missing document is reported as (nil, false, nil).
func (s *Store) Get(ctx context.Context, collection, id string) (Fields, bool, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT fields FROM documents WHERE collection = ? AND id = ?`, collection, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get %s/%s: %w", collection, id, err)
	}
	fields, err := decodeFields(raw)
	if err != nil {
		return nil, false, fmt.Errorf("decode %s/%s: %w", collection, id, err)
	}
	return fields, true, nil
}

// Set writes a document. With merge, nested maps are merged key by key over the
// existing document; otherwise the document is replaced.
func (s *Store) Set(ctx context.Context, collection, id string, fields Fields, merge bool) error {
	if !merge {
		return s.write(ctx, collection, id, fields, nil)
	}
	return s.write(ctx, collection, id, fields, mergeFields)
}

// Patch writes the top-level fields of fields over the existing document. Each
// written field replaces the stored value whole, nested maps included; fields
// absent from fields keep their stored values. A missing document is created.
func (s *Store) Patch(ctx context.Context, collection, id string, fields Fields) error {
	return s.write(ctx, collection, id, fields, patchFields)
}

// write upserts a document. combine, when set, folds the incoming fields into
// the stored document inside the same transaction.
func (s *Store) write(ctx context.Context, collection, id string, fields Fields, combine func(dst, src map[string]any) map[string]any) (err error) {
	if collection == "" || id == "" {
		return errors.New("collection and id are required")
	}
	incoming, err := normalize(fields)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", collection, id, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	body := incoming
	if combine != nil {
		var raw string
		switch scanErr := tx.QueryRowContext(ctx,
			`SELECT fields FROM documents WHERE collection = ? AND id = ?`, collection, id).Scan(&raw); {
		case errors.Is(scanErr, sql.ErrNoRows):
		case scanErr != nil:
			err = fmt.Errorf("load %s/%s: %w", collection, id, scanErr)
			return err
		default:
			existing, decodeErr := decodeFields(raw)
			if decodeErr != nil {
				err = fmt.Errorf("decode %s/%s: %w", collection, id, decodeErr)
				return err
			}
			body = combine(existing, incoming)
		}
	}

	encoded, err := json.Marshal(body)
	if err != nil {
		return err
	}
	now := s.clock().UTC().Format(time.RFC3339Nano)
	_, err = tx.ExecContext(ctx,
		`INSERT INTO documents(collection, id, fields, created_at, updated_at)
		 VALUES(?, ?, ?, ?, ?)
		 ON CONFLICT(collection, id) DO UPDATE SET fields=excluded.fields, updated_at=excluded.updated_at`,
		collection, id, string(encoded), now, now)
	if err != nil {
		err = fmt.Errorf("write %s/%s: %w", collection, id, err)
		return err
	}
	err = tx.Commit()
	return err
}

// Query returns up to limit documents in collection matching every filter in
// where, most recently updated first.
func (s *Store) Query(ctx context.Context, collection string, where Where, limit int) ([]Document, error) {
	if len(where) == 0 {
		return nil, errors.New("query needs at least one filter")
	}
	if limit <= 0 {
		limit = 100
	}
	fields := make([]string, 0, len(where))
	for field := range where {
		if !fieldPattern.MatchString(field) {
			return nil, fmt.Errorf("invalid field path %q", field)
		}
		fields = append(fields, field)
	}
	sort.Strings(fields)

	var clause strings.Builder
	args := []any{collection}
	for _, field := range fields {
		clause.WriteString(" AND json_extract(fields, ?) = ?")
		args = append(args, "$."+field, where[field])
	}
	args = append(args, limit)
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, fields, created_at, updated_at FROM documents
		 WHERE collection = ?`+clause.String()+`
		 ORDER BY updated_at DESC LIMIT ?`,
		args...)
	if err != nil {
		return nil, fmt.Errorf("query %s where %s: %w", collection, strings.Join(fields, ","), err)
	}
	defer rows.Close()
	return s.scanDocuments(collection, rows)
}

// List returns up to limit documents in collection, most recently updated first.
func (s *Store) List(ctx context.Context, collection string, limit int) ([]Document, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, fields, created_at, updated_at FROM documents
		 WHERE collection = ? ORDER BY updated_at DESC LIMIT ?`, collection, limit)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", collection, err)
	}
	defer rows.Close()
	return s.scanDocuments(collection, rows)
}

func (s *Store) scanDocuments(collection string, rows *sql.Rows) ([]Document, error) {
	var docs []Document
	for rows.Next() {
		var (
			doc              = Document{Collection: collection}
			raw              string
			created, updated string
		)
		if err := rows.Scan(&doc.ID, &raw, &created, &updated); err != nil {
			return nil, err
		}
		fields, err := decodeFields(raw)
		if err != nil {
			return nil, fmt.Errorf("decode %s/%s: %w", collection, doc.ID, err)
		}
		doc.Fields = fields
		if ts, err := time.Parse(time.RFC3339Nano, created); err == nil {
			doc.CreatedAt = ts
		}
		if ts, err := time.Parse(time.RFC3339Nano, updated); err == nil {
			doc.UpdatedAt = ts
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// Path joins collection segments: Path("presentation_broadcast", "c1", "messages").
func Path(segments ...string) string {
	return strings.Join(segments, "/")
}

// Encode converts a struct into document fields using its json tags.
func Encode(v any) (Fields, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return decodeFields(string(data))
}

// Decode fills v from document fields using its json tags.
func Decode(fields Fields, v any) error {
	data, err := json.Marshal(fields)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func normalize(fields Fields) (Fields, error) {
	if fields == nil {
		return Fields{}, nil
	}
	return Encode(fields)
}

func decodeFields(raw string) (Fields, error) {
	fields := Fields{}
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return nil, err
	}
	return fields, nil
}

func patchFields(dst, src map[string]any) map[string]any {
	out := make(map[string]any, len(dst)+len(src))
	for k, v := range dst {
		out[k] = v
	}
	for k, v := range src {
		out[k] = v
	}
	return out
}

func mergeFields(dst, src map[string]any) map[string]any {
	out := make(map[string]any, len(dst)+len(src))
	for k, v := range dst {
		out[k] = v
	}
	for k, v := range src {
		srcMap, srcIsMap := v.(map[string]any)
		dstMap, dstIsMap := out[k].(map[string]any)
		if srcIsMap && dstIsMap {
			out[k] = mergeFields(dstMap, srcMap)
			continue
		}
		out[k] = v
	}
	return out
}
