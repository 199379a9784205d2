package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/maruel/checkform/internal/models"
	"github.com/maruel/ksid"
	_ "modernc.org/sqlite" // Registers the "sqlite" driver.
)

var sqliteSchema = []string{
	`PRAGMA journal_mode=WAL;`,
	`CREATE TABLE IF NOT EXISTS fields (
		id TEXT PRIMARY KEY,
		task_id TEXT NOT NULL,
		field_type TEXT NOT NULL,
		field_label TEXT NOT NULL,
		field_order INTEGER NOT NULL,
		is_required INTEGER NOT NULL,
		validation_rules TEXT NOT NULL,
		options TEXT,
		show_if TEXT,
		created TEXT NOT NULL,
		modified TEXT NOT NULL
	);`,
	`CREATE INDEX IF NOT EXISTS fields_task ON fields(task_id, field_order);`,
	`CREATE TABLE IF NOT EXISTS responses (
		id TEXT PRIMARY KEY,
		checklist_item_id TEXT NOT NULL,
		task_field_id TEXT NOT NULL,
		number_value REAL,
		boolean_value INTEGER,
		text_value TEXT,
		file_url TEXT,
		json_value TEXT,
		created TEXT NOT NULL,
		modified TEXT NOT NULL,
		UNIQUE(checklist_item_id, task_field_id)
	);`,
}

const fieldColumns = `id, task_id, field_type, field_label, field_order, is_required, validation_rules, options, show_if, created, modified`

const responseColumns = `id, checklist_item_id, task_field_id, number_value, boolean_value, text_value, file_url, json_value, created, modified`

// SQLiteStore keeps field definitions and responses in a SQLite database.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore opens (or creates) the database at path.
func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// SQLite serializes writers; one connection avoids SQLITE_BUSY churn.
	db.SetMaxOpenConns(1)
	for _, stmt := range sqliteSchema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to migrate sqlite database: %w", err)
		}
	}
	return &SQLiteStore{db: db, now: time.Now}, nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ListFields implements FieldStore.
func (s *SQLiteStore) ListFields(ctx context.Context, taskID ksid.ID) ([]models.FieldDefinition, error) {
	if taskID.IsZero() {
		return nil, models.MissingField("task_id")
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+fieldColumns+` FROM fields WHERE task_id = ? ORDER BY field_order, created, id`, taskID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to list fields: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []models.FieldDefinition
	for rows.Next() {
		f, err := scanField(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *f)
	}
	return out, rows.Err()
}

// CreateField implements FieldStore.
func (s *SQLiteStore) CreateField(ctx context.Context, def *models.FieldDefinition) (*models.FieldDefinition, error) {
	f, err := prepareField(def, def.TaskID, s.now())
	if err != nil {
		return nil, err
	}
	if err := insertField(ctx, s.db, f); err != nil {
		return nil, err
	}
	return f, nil
}

// BulkCreateFields implements FieldStore. The rows are inserted in one
// transaction.
func (s *SQLiteStore) BulkCreateFields(ctx context.Context, taskID ksid.ID, defs []models.FieldDefinition) ([]models.FieldDefinition, error) {
	now := s.now()
	out := make([]models.FieldDefinition, 0, len(defs))
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		for i := range defs {
			f, err := prepareField(&defs[i], taskID, now)
			if err != nil {
				return fmt.Errorf("field %d: %w", i, err)
			}
			if err := insertField(ctx, tx, f); err != nil {
				return err
			}
			out = append(out, *f)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	slog.DebugContext(ctx, "Created fields", "task", taskID, "count", len(out))
	return out, nil
}

// UpdateField implements FieldStore.
func (s *SQLiteStore) UpdateField(ctx context.Context, id ksid.ID, patch *models.FieldPatch) (*models.FieldDefinition, error) {
	if patch.FieldType != nil && !patch.FieldType.Valid() {
		return nil, models.BadRequest(fmt.Sprintf("unknown field type %q", *patch.FieldType))
	}
	var f *models.FieldDefinition
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		f, err = scanField(tx.QueryRowContext(ctx, `SELECT `+fieldColumns+` FROM fields WHERE id = ?`, id.String()))
		if errors.Is(err, sql.ErrNoRows) {
			return models.NotFound("field")
		}
		if err != nil {
			return err
		}
		patch.Apply(f)
		f.Modified = s.now()
		if _, err := tx.ExecContext(ctx, `DELETE FROM fields WHERE id = ?`, id.String()); err != nil {
			return fmt.Errorf("failed to update field: %w", err)
		}
		return insertField(ctx, tx, f)
	})
	if err != nil {
		return nil, err
	}
	return f, nil
}

// DeleteField implements FieldStore.
func (s *SQLiteStore) DeleteField(ctx context.Context, id ksid.ID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM fields WHERE id = ?`, id.String())
	if err != nil {
		return fmt.Errorf("failed to delete field: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return models.NotFound("field")
	}
	return nil
}

// SubmitResponses implements ResponseStore.
func (s *SQLiteStore) SubmitResponses(ctx context.Context, checklistItemID ksid.ID, records []models.ResponseRecord) ([]models.ResponseRecord, error) {
	incoming, err := prepareResponses(checklistItemID, records)
	if err != nil {
		return nil, err
	}
	now := s.now()
	out := make([]models.ResponseRecord, 0, len(incoming))
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		err := checkSlots(incoming, func(id ksid.ID) (models.FieldType, bool, error) {
			var t string
			switch err := tx.QueryRowContext(ctx, `SELECT field_type FROM fields WHERE id = ?`, id.String()).Scan(&t); {
			case errors.Is(err, sql.ErrNoRows):
				return "", false, nil
			case err != nil:
				return "", false, fmt.Errorf("failed to look up field %s: %w", id, err)
			}
			return models.FieldType(t), true, nil
		})
		if err != nil {
			return err
		}
		for _, r := range incoming {
			r.Created = now
			var created string
			err := tx.QueryRowContext(ctx, `SELECT created FROM responses WHERE checklist_item_id = ? AND task_field_id = ?`,
				r.ChecklistItemID.String(), r.TaskFieldID.String()).Scan(&created)
			switch {
			case err == nil:
				if t, err := time.Parse(time.RFC3339Nano, created); err == nil {
					r.Created = t
				}
				if _, err := tx.ExecContext(ctx, `DELETE FROM responses WHERE checklist_item_id = ? AND task_field_id = ?`,
					r.ChecklistItemID.String(), r.TaskFieldID.String()); err != nil {
					return fmt.Errorf("failed to replace response: %w", err)
				}
			case !errors.Is(err, sql.ErrNoRows):
				return fmt.Errorf("failed to look up response: %w", err)
			}
			r.ID = ksid.NewID()
			r.Modified = now
			if err := insertResponse(ctx, tx, r); err != nil {
				return err
			}
			out = append(out, *r)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ListResponses implements ResponseStore.
func (s *SQLiteStore) ListResponses(ctx context.Context, filter models.ResponseFilter) ([]models.ResponseRecord, error) {
	var where []string
	var args []any
	if !filter.ChecklistItemID.IsZero() {
		where = append(where, "checklist_item_id = ?")
		args = append(args, filter.ChecklistItemID.String())
	}
	if !filter.TaskFieldID.IsZero() {
		where = append(where, "task_field_id = ?")
		args = append(args, filter.TaskFieldID.String())
	}
	q := `SELECT ` + responseColumns + ` FROM responses`
	if len(where) != 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY modified, id`
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list responses: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []models.ResponseRecord
	for rows.Next() {
		r, err := scanResponse(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type scanner interface {
	Scan(dest ...any) error
}

func insertField(ctx context.Context, db execer, f *models.FieldDefinition) error {
	rules, err := json.Marshal(f.ValidationRules)
	if err != nil {
		return fmt.Errorf("failed to encode validation rules: %w", err)
	}
	options, err := nullJSON(f.Options, len(f.Options) == 0)
	if err != nil {
		return err
	}
	showIf, err := nullJSON(f.ShowIf, f.ShowIf == nil)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `INSERT INTO fields (`+fieldColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.ID.String(), f.TaskID.String(), string(f.FieldType), f.FieldLabel, f.FieldOrder, f.IsRequired,
		string(rules), options, showIf, f.Created.UTC().Format(time.RFC3339Nano), f.Modified.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to insert field: %w", err)
	}
	return nil
}

func scanField(row scanner) (*models.FieldDefinition, error) {
	var (
		id, taskID, fieldType, rules, created, modified string
		options, showIf                                  sql.NullString
		f                                                models.FieldDefinition
	)
	if err := row.Scan(&id, &taskID, &fieldType, &f.FieldLabel, &f.FieldOrder, &f.IsRequired, &rules, &options, &showIf, &created, &modified); err != nil {
		return nil, err
	}
	var err error
	if f.ID, err = ksid.Parse(id); err != nil {
		return nil, fmt.Errorf("corrupt field id %q: %w", id, err)
	}
	if f.TaskID, err = ksid.Parse(taskID); err != nil {
		return nil, fmt.Errorf("corrupt task id %q: %w", taskID, err)
	}
	f.FieldType = models.FieldType(fieldType)
	if err := json.Unmarshal([]byte(rules), &f.ValidationRules); err != nil {
		return nil, fmt.Errorf("corrupt validation rules for field %s: %w", id, err)
	}
	if options.Valid {
		if err := json.Unmarshal([]byte(options.String), &f.Options); err != nil {
			return nil, fmt.Errorf("corrupt options for field %s: %w", id, err)
		}
	}
	if showIf.Valid {
		f.ShowIf = &models.ShowIf{}
		if err := json.Unmarshal([]byte(showIf.String), f.ShowIf); err != nil {
			return nil, fmt.Errorf("corrupt show_if for field %s: %w", id, err)
		}
	}
	f.Created, _ = time.Parse(time.RFC3339Nano, created)
	f.Modified, _ = time.Parse(time.RFC3339Nano, modified)
	return &f, nil
}

func insertResponse(ctx context.Context, db execer, r *models.ResponseRecord) error {
	jsonValue, err := nullJSON(r.JSONValue, r.JSONValue == nil)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `INSERT INTO responses (`+responseColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID.String(), r.ChecklistItemID.String(), r.TaskFieldID.String(),
		r.NumberValue, r.BooleanValue, r.TextValue, r.FileURL, jsonValue,
		r.Created.UTC().Format(time.RFC3339Nano), r.Modified.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to insert response: %w", err)
	}
	return nil
}

func scanResponse(row scanner) (*models.ResponseRecord, error) {
	var (
		id, itemID, fieldID, created, modified string
		number                                 sql.NullFloat64
		boolean                                sql.NullBool
		text, file, jsonValue                  sql.NullString
		r                                      models.ResponseRecord
	)
	if err := row.Scan(&id, &itemID, &fieldID, &number, &boolean, &text, &file, &jsonValue, &created, &modified); err != nil {
		return nil, err
	}
	var err error
	if r.ID, err = ksid.Parse(id); err != nil {
		return nil, fmt.Errorf("corrupt response id %q: %w", id, err)
	}
	if r.ChecklistItemID, err = ksid.Parse(itemID); err != nil {
		return nil, fmt.Errorf("corrupt checklist item id %q: %w", itemID, err)
	}
	if r.TaskFieldID, err = ksid.Parse(fieldID); err != nil {
		return nil, fmt.Errorf("corrupt task field id %q: %w", fieldID, err)
	}
	if number.Valid {
		r.NumberValue = &number.Float64
	}
	if boolean.Valid {
		r.BooleanValue = &boolean.Bool
	}
	if text.Valid {
		r.TextValue = &text.String
	}
	if file.Valid {
		r.FileURL = &file.String
	}
	if jsonValue.Valid {
		if err := json.Unmarshal([]byte(jsonValue.String), &r.JSONValue); err != nil {
			return nil, fmt.Errorf("corrupt json_value for response %s: %w", id, err)
		}
		if len(r.JSONValue) == 0 {
			r.JSONValue = nil
		}
	}
	r.Created, _ = time.Parse(time.RFC3339Nano, created)
	r.Modified, _ = time.Parse(time.RFC3339Nano, modified)
	return &r, nil
}

func nullJSON(v any, isNull bool) (sql.NullString, error) {
	if isNull {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to encode column: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}
