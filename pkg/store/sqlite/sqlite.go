// Package sqlite persists the form catalog in a single SQLite file using the
// pure-Go modernc.org driver. Update transactions take the write lock up
// front (_txlock=immediate), which with SQLite's single-writer model gives
// the serializable isolation the store contract requires.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/nexgensis/go-forms/pkg/model"
	"github.com/nexgensis/go-forms/pkg/store"
)

const timeLayout = time.RFC3339Nano

var schema = []string{
	`PRAGMA foreign_keys=ON;`,
	`CREATE TABLE IF NOT EXISTS form_types (
		id TEXT PRIMARY KEY,
		root TEXT NOT NULL,
		prev TEXT,
		version INTEGER NOT NULL,
		start_at TEXT NOT NULL,
		end_at TEXT,
		code TEXT NOT NULL,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		parent_root TEXT
	);`,
	`CREATE INDEX IF NOT EXISTS idx_form_types_root ON form_types(root);`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_form_types_current
		ON form_types(root) WHERE end_at IS NULL;`,
	`CREATE TABLE IF NOT EXISTS forms (
		id TEXT PRIMARY KEY,
		root TEXT NOT NULL,
		prev TEXT,
		version INTEGER NOT NULL,
		start_at TEXT NOT NULL,
		end_at TEXT,
		code TEXT NOT NULL,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		type_root TEXT NOT NULL,
		completed INTEGER NOT NULL DEFAULT 0,
		main_process_ref TEXT NOT NULL DEFAULT '',
		criteria_ref TEXT NOT NULL DEFAULT ''
	);`,
	`CREATE INDEX IF NOT EXISTS idx_forms_root ON forms(root);`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_forms_current
		ON forms(root) WHERE end_at IS NULL;`,
	`CREATE TABLE IF NOT EXISTS sections (
		id TEXT PRIMARY KEY,
		form_id TEXT NOT NULL,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		ord INTEGER NOT NULL
	);`,
	`CREATE INDEX IF NOT EXISTS idx_sections_form ON sections(form_id);`,
	`CREATE TABLE IF NOT EXISTS fields (
		id TEXT PRIMARY KEY,
		section_id TEXT NOT NULL,
		label TEXT NOT NULL,
		name TEXT NOT NULL,
		type_id TEXT NOT NULL,
		required INTEGER NOT NULL DEFAULT 0,
		ord INTEGER NOT NULL,
		parent TEXT,
		rules TEXT NOT NULL DEFAULT '{}'
	);`,
	`CREATE INDEX IF NOT EXISTS idx_fields_section ON fields(section_id);`,
	`CREATE INDEX IF NOT EXISTS idx_fields_type ON fields(type_id);`,
	`CREATE TABLE IF NOT EXISTS data_types (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL UNIQUE COLLATE NOCASE,
		kind TEXT NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS field_types (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL UNIQUE COLLATE NOCASE,
		data_type_id TEXT NOT NULL,
		dynamic INTEGER NOT NULL DEFAULT 0,
		endpoint TEXT NOT NULL DEFAULT '',
		is_default INTEGER NOT NULL DEFAULT 0,
		rules TEXT NOT NULL DEFAULT '{}'
	);`,
	`CREATE TABLE IF NOT EXISTS drafts (
		id TEXT PRIMARY KEY,
		owner TEXT NOT NULL,
		target_root TEXT,
		base_version INTEGER NOT NULL DEFAULT 0,
		content TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_drafts_owner_target
		ON drafts(owner, COALESCE(target_root, ''));`,
}

// Store implements store.Store over one SQLite database file.
type Store struct {
	db  *sql.DB
	log *zap.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger attaches a logger; transactions log at debug level.
func WithLogger(log *zap.Logger) Option {
	return func(s *Store) { s.log = log }
}

// Open creates or opens the database at path and ensures the schema exists.
func Open(path string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite", "file:"+path+"?_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}
	// the driver serializes writers anyway; a single connection avoids
	// SQLITE_BUSY on concurrent Update calls
	db.SetMaxOpenConns(1)

	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite: init schema: %w", err)
		}
	}

	s := &Store{db: db, log: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	s.log.Debug("sqlite store opened", zap.String("path", path))
	return s, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// View runs fn in a transaction that is discarded afterwards.
func (s *Store) View(ctx context.Context, fn func(store.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			s.log.Warn("rollback failed", zap.Error(err))
		}
	}()
	return fn(&sqlTx{tx: tx})
}

// Update runs fn in a write transaction; any error rolls everything back.
func (s *Store) Update(ctx context.Context, fn func(store.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin: %w", err)
	}
	if err := fn(&sqlTx{tx: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			s.log.Warn("rollback failed", zap.Error(rbErr))
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit: %w", err)
	}
	return nil
}

type sqlTx struct {
	tx *sql.Tx
}

func (t *sqlTx) FormTypes() store.FormTypeRepo   { return &formTypeRepo{tx: t.tx} }
func (t *sqlTx) Forms() store.FormRepo           { return &formRepo{tx: t.tx} }
func (t *sqlTx) Sections() store.SectionRepo     { return &sectionRepo{tx: t.tx} }
func (t *sqlTx) Fields() store.FieldRepo         { return &fieldRepo{tx: t.tx} }
func (t *sqlTx) DataTypes() store.DataTypeRepo   { return &dataTypeRepo{tx: t.tx} }
func (t *sqlTx) FieldTypes() store.FieldTypeRepo { return &fieldTypeRepo{tx: t.tx} }
func (t *sqlTx) Drafts() store.DraftRepo         { return &draftRepo{tx: t.tx} }

// column codecs

func encodeTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func decodeTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("sqlite: bad timestamp %q: %w", s, err)
	}
	return t, nil
}

func encodeID(id *uuid.UUID) any {
	if id == nil {
		return nil
	}
	return id.String()
}

func decodeID(s sql.NullString) (*uuid.UUID, error) {
	if !s.Valid {
		return nil, nil
	}
	id, err := uuid.Parse(s.String)
	if err != nil {
		return nil, fmt.Errorf("sqlite: bad id %q: %w", s.String, err)
	}
	return &id, nil
}

func encodeJSON(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("sqlite: encode: %w", err)
	}
	return string(data), nil
}

func scanRevision(rev *model.Revision, id, root string, prev sql.NullString, version int, start string, end sql.NullString) error {
	parsedID, err := uuid.Parse(id)
	if err != nil {
		return fmt.Errorf("sqlite: bad id %q: %w", id, err)
	}
	parsedRoot, err := uuid.Parse(root)
	if err != nil {
		return fmt.Errorf("sqlite: bad root %q: %w", root, err)
	}
	rev.ID = parsedID
	rev.Root = parsedRoot
	rev.Version = version
	rev.Prev, err = decodeID(prev)
	if err != nil {
		return err
	}
	rev.Start, err = decodeTime(start)
	if err != nil {
		return err
	}
	if end.Valid {
		t, err := decodeTime(end.String)
		if err != nil {
			return err
		}
		rev.End = &t
	}
	return nil
}

// form types

type formTypeRepo struct {
	tx *sql.Tx
}

const formTypeCols = `id, root, prev, version, start_at, end_at, code, name, description, parent_root`

func (r *formTypeRepo) Insert(ctx context.Context, row *model.FormType) error {
	var end any
	if row.Rev.End != nil {
		end = encodeTime(*row.Rev.End)
	}
	_, err := r.tx.ExecContext(ctx,
		`INSERT INTO form_types (`+formTypeCols+`) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		row.Rev.ID.String(), row.Rev.Root.String(), encodeID(row.Rev.Prev),
		row.Rev.Version, encodeTime(row.Rev.Start), end,
		row.Code, row.Name, row.Description, encodeID(row.ParentRoot))
	return err
}

func (r *formTypeRepo) scan(row *sql.Row) (*model.FormType, error) {
	var (
		id, root, start, code, name, description string
		prev, end, parentRoot                    sql.NullString
		version                                  int
	)
	if err := row.Scan(&id, &root, &prev, &version, &start, &end, &code, &name, &description, &parentRoot); err != nil {
		return nil, err
	}
	out := &model.FormType{Code: code, Name: name, Description: description}
	if err := scanRevision(&out.Rev, id, root, prev, version, start, end); err != nil {
		return nil, err
	}
	var err error
	out.ParentRoot, err = decodeID(parentRoot)
	return out, err
}

func (r *formTypeRepo) Get(ctx context.Context, id uuid.UUID) (*model.FormType, error) {
	out, err := r.scan(r.tx.QueryRowContext(ctx,
		`SELECT `+formTypeCols+` FROM form_types WHERE id = ?`, id.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.NotFound("form type", id)
	}
	return out, err
}

func (r *formTypeRepo) CurrentByRoot(ctx context.Context, root uuid.UUID) (*model.FormType, error) {
	out, err := r.scan(r.tx.QueryRowContext(ctx,
		`SELECT `+formTypeCols+` FROM form_types WHERE root = ? AND end_at IS NULL`, root.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.NotFound("form type", root)
	}
	return out, err
}

func (r *formTypeRepo) CurrentByCode(ctx context.Context, code string) (*model.FormType, error) {
	out, err := r.scan(r.tx.QueryRowContext(ctx,
		`SELECT `+formTypeCols+` FROM form_types WHERE code = ? AND end_at IS NULL`, code))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &model.NotFoundError{Entity: "form type", Ref: code}
	}
	return out, err
}

func (r *formTypeRepo) query(ctx context.Context, q string, args ...any) ([]*model.FormType, error) {
	rows, err := r.tx.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*model.FormType
	for rows.Next() {
		var (
			id, root, start, code, name, description string
			prev, end, parentRoot                    sql.NullString
			version                                  int
		)
		if err := rows.Scan(&id, &root, &prev, &version, &start, &end, &code, &name, &description, &parentRoot); err != nil {
			return nil, err
		}
		row := &model.FormType{Code: code, Name: name, Description: description}
		if err := scanRevision(&row.Rev, id, root, prev, version, start, end); err != nil {
			return nil, err
		}
		if row.ParentRoot, err = decodeID(parentRoot); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (r *formTypeRepo) LineageByRoot(ctx context.Context, root uuid.UUID) ([]*model.FormType, error) {
	return r.query(ctx,
		`SELECT `+formTypeCols+` FROM form_types WHERE root = ? ORDER BY version`, root.String())
}

func (r *formTypeRepo) CurrentAll(ctx context.Context) ([]*model.FormType, error) {
	return r.query(ctx,
		`SELECT `+formTypeCols+` FROM form_types WHERE end_at IS NULL ORDER BY name`)
}

func (r *formTypeRepo) SetEnd(ctx context.Context, id uuid.UUID, end time.Time) error {
	res, err := r.tx.ExecContext(ctx,
		`UPDATE form_types SET end_at = ? WHERE id = ?`, encodeTime(end), id.String())
	return oneRow(res, err, "form type", id)
}

// forms

type formRepo struct {
	tx *sql.Tx
}

const formCols = `id, root, prev, version, start_at, end_at, code, title, description, type_root, completed, main_process_ref, criteria_ref`

func (r *formRepo) Insert(ctx context.Context, row *model.Form) error {
	var end any
	if row.Rev.End != nil {
		end = encodeTime(*row.Rev.End)
	}
	_, err := r.tx.ExecContext(ctx,
		`INSERT INTO forms (`+formCols+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		row.Rev.ID.String(), row.Rev.Root.String(), encodeID(row.Rev.Prev),
		row.Rev.Version, encodeTime(row.Rev.Start), end,
		row.Code, row.Title, row.Description, row.TypeRoot.String(),
		row.Completed, row.MainProcessRef, row.CriteriaRef)
	return err
}

func (r *formRepo) query(ctx context.Context, q string, args ...any) ([]*model.Form, error) {
	rows, err := r.tx.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*model.Form
	for rows.Next() {
		var (
			id, root, start, code, title, description, typeRoot string
			mainRef, criteriaRef                                string
			prev, end                                           sql.NullString
			version                                             int
			completed                                           bool
		)
		if err := rows.Scan(&id, &root, &prev, &version, &start, &end,
			&code, &title, &description, &typeRoot, &completed, &mainRef, &criteriaRef); err != nil {
			return nil, err
		}
		row := &model.Form{
			Code: code, Title: title, Description: description,
			Completed: completed, MainProcessRef: mainRef, CriteriaRef: criteriaRef,
		}
		if err := scanRevision(&row.Rev, id, root, prev, version, start, end); err != nil {
			return nil, err
		}
		if row.TypeRoot, err = uuid.Parse(typeRoot); err != nil {
			return nil, fmt.Errorf("sqlite: bad type_root %q: %w", typeRoot, err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (r *formRepo) one(ctx context.Context, notFound error, q string, args ...any) (*model.Form, error) {
	rows, err := r.query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, notFound
	}
	return rows[0], nil
}

func (r *formRepo) Get(ctx context.Context, id uuid.UUID) (*model.Form, error) {
	return r.one(ctx, model.NotFound("form", id),
		`SELECT `+formCols+` FROM forms WHERE id = ?`, id.String())
}

func (r *formRepo) CurrentByRoot(ctx context.Context, root uuid.UUID) (*model.Form, error) {
	return r.one(ctx, model.NotFound("form", root),
		`SELECT `+formCols+` FROM forms WHERE root = ? AND end_at IS NULL`, root.String())
}

func (r *formRepo) CurrentByTitle(ctx context.Context, title string) (*model.Form, error) {
	return r.one(ctx, &model.NotFoundError{Entity: "form", Ref: title},
		`SELECT `+formCols+` FROM forms WHERE title = ? COLLATE NOCASE AND end_at IS NULL`, title)
}

func (r *formRepo) CurrentByCode(ctx context.Context, code string) (*model.Form, error) {
	return r.one(ctx, &model.NotFoundError{Entity: "form", Ref: code},
		`SELECT `+formCols+` FROM forms WHERE code = ? AND end_at IS NULL`, code)
}

func (r *formRepo) LineageByRoot(ctx context.Context, root uuid.UUID) ([]*model.Form, error) {
	return r.query(ctx,
		`SELECT `+formCols+` FROM forms WHERE root = ? ORDER BY version`, root.String())
}

func (r *formRepo) CurrentAll(ctx context.Context) ([]*model.Form, error) {
	return r.query(ctx,
		`SELECT `+formCols+` FROM forms WHERE end_at IS NULL ORDER BY title`)
}

func (r *formRepo) SetEnd(ctx context.Context, id uuid.UUID, end time.Time) error {
	res, err := r.tx.ExecContext(ctx,
		`UPDATE forms SET end_at = ? WHERE id = ?`, encodeTime(end), id.String())
	return oneRow(res, err, "form", id)
}

// sections

type sectionRepo struct {
	tx *sql.Tx
}

func (r *sectionRepo) Insert(ctx context.Context, section *model.Section) error {
	_, err := r.tx.ExecContext(ctx,
		`INSERT INTO sections (id, form_id, name, description, ord) VALUES (?,?,?,?,?)`,
		section.ID.String(), section.FormID.String(), section.Name, section.Description, section.Order)
	return err
}

func (r *sectionRepo) query(ctx context.Context, q string, args ...any) ([]*model.Section, error) {
	rows, err := r.tx.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*model.Section
	for rows.Next() {
		var id, formID string
		row := &model.Section{}
		if err := rows.Scan(&id, &formID, &row.Name, &row.Description, &row.Order); err != nil {
			return nil, err
		}
		if row.ID, err = uuid.Parse(id); err != nil {
			return nil, err
		}
		if row.FormID, err = uuid.Parse(formID); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (r *sectionRepo) Get(ctx context.Context, id uuid.UUID) (*model.Section, error) {
	rows, err := r.query(ctx,
		`SELECT id, form_id, name, description, ord FROM sections WHERE id = ?`, id.String())
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, model.NotFound("section", id)
	}
	return rows[0], nil
}

func (r *sectionRepo) ByForm(ctx context.Context, formID uuid.UUID) ([]*model.Section, error) {
	return r.query(ctx,
		`SELECT id, form_id, name, description, ord FROM sections WHERE form_id = ? ORDER BY ord`,
		formID.String())
}

func (r *sectionRepo) UpdateOrder(ctx context.Context, id uuid.UUID, order int) error {
	res, err := r.tx.ExecContext(ctx,
		`UPDATE sections SET ord = ? WHERE id = ?`, order, id.String())
	return oneRow(res, err, "section", id)
}

func (r *sectionRepo) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := r.tx.ExecContext(ctx, `DELETE FROM sections WHERE id = ?`, id.String())
	return oneRow(res, err, "section", id)
}

// fields

type fieldRepo struct {
	tx *sql.Tx
}

func (r *fieldRepo) Insert(ctx context.Context, field *model.Field) error {
	rules, err := encodeJSON(field.Rules)
	if err != nil {
		return err
	}
	_, err = r.tx.ExecContext(ctx,
		`INSERT INTO fields (id, section_id, label, name, type_id, required, ord, parent, rules)
		 VALUES (?,?,?,?,?,?,?,?,?)`,
		field.ID.String(), field.SectionID.String(), field.Label, field.Name,
		field.TypeID.String(), field.Required, field.Order, encodeID(field.Parent), rules)
	return err
}

func (r *fieldRepo) query(ctx context.Context, q string, args ...any) ([]*model.Field, error) {
	rows, err := r.tx.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*model.Field
	for rows.Next() {
		var id, sectionID, typeID, rules string
		var parent sql.NullString
		row := &model.Field{}
		if err := rows.Scan(&id, &sectionID, &row.Label, &row.Name, &typeID,
			&row.Required, &row.Order, &parent, &rules); err != nil {
			return nil, err
		}
		if row.ID, err = uuid.Parse(id); err != nil {
			return nil, err
		}
		if row.SectionID, err = uuid.Parse(sectionID); err != nil {
			return nil, err
		}
		if row.TypeID, err = uuid.Parse(typeID); err != nil {
			return nil, err
		}
		if row.Parent, err = decodeID(parent); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(rules), &row.Rules); err != nil {
			return nil, fmt.Errorf("sqlite: decode field rules: %w", err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

const fieldCols = `id, section_id, label, name, type_id, required, ord, parent, rules`

func (r *fieldRepo) Get(ctx context.Context, id uuid.UUID) (*model.Field, error) {
	rows, err := r.query(ctx,
		`SELECT `+fieldCols+` FROM fields WHERE id = ?`, id.String())
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, model.NotFound("field", id)
	}
	return rows[0], nil
}

func (r *fieldRepo) BySection(ctx context.Context, sectionID uuid.UUID) ([]*model.Field, error) {
	return r.query(ctx,
		`SELECT `+fieldCols+` FROM fields WHERE section_id = ? ORDER BY ord`, sectionID.String())
}

func (r *fieldRepo) UpdateOrder(ctx context.Context, id uuid.UUID, order int) error {
	res, err := r.tx.ExecContext(ctx,
		`UPDATE fields SET ord = ? WHERE id = ?`, order, id.String())
	return oneRow(res, err, "field", id)
}

func (r *fieldRepo) SetParent(ctx context.Context, id uuid.UUID, parent *uuid.UUID) error {
	res, err := r.tx.ExecContext(ctx,
		`UPDATE fields SET parent = ? WHERE id = ?`, encodeID(parent), id.String())
	return oneRow(res, err, "field", id)
}

func (r *fieldRepo) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := r.tx.ExecContext(ctx, `DELETE FROM fields WHERE id = ?`, id.String())
	return oneRow(res, err, "field", id)
}

func (r *fieldRepo) CountByFieldType(ctx context.Context, fieldTypeID uuid.UUID) (int, error) {
	var n int
	err := r.tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM fields WHERE type_id = ?`, fieldTypeID.String()).Scan(&n)
	return n, err
}

// data types

type dataTypeRepo struct {
	tx *sql.Tx
}

func (r *dataTypeRepo) Insert(ctx context.Context, dt *model.DataType) error {
	_, err := r.tx.ExecContext(ctx,
		`INSERT INTO data_types (id, name, kind) VALUES (?,?,?)`,
		dt.ID.String(), dt.Name, string(dt.Kind))
	return err
}

func (r *dataTypeRepo) query(ctx context.Context, q string, args ...any) ([]*model.DataType, error) {
	rows, err := r.tx.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*model.DataType
	for rows.Next() {
		var id, kind string
		row := &model.DataType{}
		if err := rows.Scan(&id, &row.Name, &kind); err != nil {
			return nil, err
		}
		if row.ID, err = uuid.Parse(id); err != nil {
			return nil, err
		}
		row.Kind = model.Kind(kind)
		out = append(out, row)
	}
	return out, rows.Err()
}

func (r *dataTypeRepo) Get(ctx context.Context, id uuid.UUID) (*model.DataType, error) {
	rows, err := r.query(ctx, `SELECT id, name, kind FROM data_types WHERE id = ?`, id.String())
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, model.NotFound("data type", id)
	}
	return rows[0], nil
}

func (r *dataTypeRepo) ByName(ctx context.Context, name string) (*model.DataType, error) {
	rows, err := r.query(ctx, `SELECT id, name, kind FROM data_types WHERE name = ? COLLATE NOCASE`, name)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, &model.NotFoundError{Entity: "data type", Ref: name}
	}
	return rows[0], nil
}

func (r *dataTypeRepo) All(ctx context.Context) ([]*model.DataType, error) {
	return r.query(ctx, `SELECT id, name, kind FROM data_types ORDER BY name`)
}

// field types

type fieldTypeRepo struct {
	tx *sql.Tx
}

const fieldTypeCols = `id, name, data_type_id, dynamic, endpoint, is_default, rules`

func (r *fieldTypeRepo) Insert(ctx context.Context, ft *model.FieldType) error {
	rules, err := encodeJSON(ft.Rules)
	if err != nil {
		return err
	}
	_, err = r.tx.ExecContext(ctx,
		`INSERT INTO field_types (`+fieldTypeCols+`) VALUES (?,?,?,?,?,?,?)`,
		ft.ID.String(), ft.Name, ft.DataTypeID.String(), ft.Dynamic, ft.Endpoint, ft.Default, rules)
	return err
}

func (r *fieldTypeRepo) query(ctx context.Context, q string, args ...any) ([]*model.FieldType, error) {
	rows, err := r.tx.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*model.FieldType
	for rows.Next() {
		var id, dataTypeID, rules string
		row := &model.FieldType{}
		if err := rows.Scan(&id, &row.Name, &dataTypeID, &row.Dynamic,
			&row.Endpoint, &row.Default, &rules); err != nil {
			return nil, err
		}
		if row.ID, err = uuid.Parse(id); err != nil {
			return nil, err
		}
		if row.DataTypeID, err = uuid.Parse(dataTypeID); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(rules), &row.Rules); err != nil {
			return nil, fmt.Errorf("sqlite: decode field type rules: %w", err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (r *fieldTypeRepo) Get(ctx context.Context, id uuid.UUID) (*model.FieldType, error) {
	rows, err := r.query(ctx,
		`SELECT `+fieldTypeCols+` FROM field_types WHERE id = ?`, id.String())
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, model.NotFound("field type", id)
	}
	return rows[0], nil
}

func (r *fieldTypeRepo) ByName(ctx context.Context, name string) (*model.FieldType, error) {
	rows, err := r.query(ctx,
		`SELECT `+fieldTypeCols+` FROM field_types WHERE name = ? COLLATE NOCASE`, name)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, &model.NotFoundError{Entity: "field type", Ref: name}
	}
	return rows[0], nil
}

func (r *fieldTypeRepo) All(ctx context.Context) ([]*model.FieldType, error) {
	return r.query(ctx, `SELECT `+fieldTypeCols+` FROM field_types ORDER BY name`)
}

func (r *fieldTypeRepo) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := r.tx.ExecContext(ctx, `DELETE FROM field_types WHERE id = ?`, id.String())
	return oneRow(res, err, "field type", id)
}

// drafts

type draftRepo struct {
	tx *sql.Tx
}

func (r *draftRepo) Upsert(ctx context.Context, draft *model.Draft) error {
	content, err := encodeJSON(draft.Content)
	if err != nil {
		return err
	}
	_, err = r.tx.ExecContext(ctx,
		`INSERT INTO drafts (id, owner, target_root, base_version, content, updated_at)
		 VALUES (?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET
			base_version = excluded.base_version,
			content = excluded.content,
			updated_at = excluded.updated_at`,
		draft.ID.String(), draft.Owner, encodeID(draft.TargetRoot),
		draft.BaseVersion, content, encodeTime(draft.UpdatedAt))
	return err
}

func (r *draftRepo) query(ctx context.Context, q string, args ...any) ([]*model.Draft, error) {
	rows, err := r.tx.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*model.Draft
	for rows.Next() {
		var id, content, updatedAt string
		var targetRoot sql.NullString
		row := &model.Draft{}
		if err := rows.Scan(&id, &row.Owner, &targetRoot, &row.BaseVersion, &content, &updatedAt); err != nil {
			return nil, err
		}
		if row.ID, err = uuid.Parse(id); err != nil {
			return nil, err
		}
		if row.TargetRoot, err = decodeID(targetRoot); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(content), &row.Content); err != nil {
			return nil, fmt.Errorf("sqlite: decode draft content: %w", err)
		}
		if row.UpdatedAt, err = decodeTime(updatedAt); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

const draftCols = `id, owner, target_root, base_version, content, updated_at`

func (r *draftRepo) Get(ctx context.Context, id uuid.UUID) (*model.Draft, error) {
	rows, err := r.query(ctx, `SELECT `+draftCols+` FROM drafts WHERE id = ?`, id.String())
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, model.NotFound("draft", id)
	}
	return rows[0], nil
}

func (r *draftRepo) ByOwnerTarget(ctx context.Context, owner string, target *uuid.UUID) (*model.Draft, error) {
	rows, err := r.query(ctx,
		`SELECT `+draftCols+` FROM drafts WHERE owner = ? AND COALESCE(target_root,'') = ?`,
		owner, nullableKey(target))
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, &model.NotFoundError{Entity: "draft", Ref: owner}
	}
	return rows[0], nil
}

func (r *draftRepo) ByOwner(ctx context.Context, owner string) ([]*model.Draft, error) {
	return r.query(ctx,
		`SELECT `+draftCols+` FROM drafts WHERE owner = ? ORDER BY updated_at`, owner)
}

func (r *draftRepo) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := r.tx.ExecContext(ctx, `DELETE FROM drafts WHERE id = ?`, id.String())
	return oneRow(res, err, "draft", id)
}

func nullableKey(id *uuid.UUID) string {
	if id == nil {
		return ""
	}
	return id.String()
}

// oneRow maps a zero-row UPDATE or DELETE to NotFoundError.
func oneRow(res sql.Result, err error, entity string, id uuid.UUID) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return model.NotFound(entity, id)
	}
	return nil
}
