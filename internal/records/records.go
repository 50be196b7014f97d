// Package records stores patients, trials and saved match results.
//
// Writes go through a per-table field list: unknown keys are rejected and
// values are coerced to the column kind, so form-style input ("true", "42",
// "") is accepted alongside native JSON values. Empty strings become NULL.
package records

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/mattjoyce/trialmatch/internal/storage"
)

var (
	// ErrNotFound is returned when no row has the requested id.
	ErrNotFound = errors.New("record not found")
	// ErrNoFields is returned by updates that carry no known field.
	ErrNoFields = errors.New("no valid fields to update")
)

// ValidationError reports bad input for a single field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

type fieldKind int

const (
	kindText fieldKind = iota
	kindInt
	kindBool
	kindDate
)

type field struct {
	name     string
	kind     fieldKind
	required bool
}

// table describes the writable columns of one table.
type table struct {
	name   string
	key    string
	fields []field
}

func (t *table) lookup(name string) (field, bool) {
	for _, f := range t.fields {
		if f.name == name {
			return f, true
		}
	}
	return field{}, false
}

// columns validates and coerces input into sorted column/value pairs.
func (t *table) columns(input map[string]any) ([]string, []any, error) {
	names := make([]string, 0, len(input))
	for k := range input {
		if _, ok := t.lookup(k); !ok {
			return nil, nil, &ValidationError{Field: k, Reason: "unknown field"}
		}
		names = append(names, k)
	}
	sort.Strings(names)

	vals := make([]any, 0, len(names))
	for _, name := range names {
		f, _ := t.lookup(name)
		v, err := coerce(f, input[name])
		if err != nil {
			return nil, nil, err
		}
		vals = append(vals, v)
	}
	return names, vals, nil
}

func (t *table) insert(ctx context.Context, db *storage.DB, input map[string]any, now string) (int64, error) {
	for _, f := range t.fields {
		if !f.required {
			continue
		}
		v, ok := input[f.name]
		if !ok || v == nil || v == "" {
			return 0, &ValidationError{Field: f.name, Reason: "is required"}
		}
	}

	cols, vals, err := t.columns(input)
	if err != nil {
		return 0, err
	}
	cols = append(cols, "created_at", "updated_at")
	vals = append(vals, now, now)

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING %s",
		t.name, strings.Join(cols, ", "), placeholders(len(cols)), t.key)

	var id int64
	if err := db.QueryRowContext(ctx, query, vals...).Scan(&id); err != nil {
		return 0, fmt.Errorf("insert %s: %w", t.name, err)
	}
	return id, nil
}

func (t *table) update(ctx context.Context, db *storage.DB, id int64, input map[string]any, now string) error {
	if len(input) == 0 {
		return ErrNoFields
	}
	cols, vals, err := t.columns(input)
	if err != nil {
		return err
	}
	for _, f := range t.fields {
		if f.required {
			if v, ok := input[f.name]; ok && (v == nil || v == "") {
				return &ValidationError{Field: f.name, Reason: "cannot be empty"}
			}
		}
	}

	sets := make([]string, 0, len(cols)+1)
	for _, c := range cols {
		sets = append(sets, c+" = ?")
	}
	sets = append(sets, "updated_at = ?")
	vals = append(vals, now, id)

	query := fmt.Sprintf("UPDATE %s SET %s WHERE %s = ?", t.name, strings.Join(sets, ", "), t.key)
	res, err := db.ExecContext(ctx, query, vals...)
	if err != nil {
		return fmt.Errorf("update %s: %w", t.name, err)
	}
	return requireRow(res)
}

func (t *table) delete(ctx context.Context, db *storage.DB, id int64) error {
	res, err := db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE %s = ?", t.name, t.key), id)
	if err != nil {
		return fmt.Errorf("delete %s: %w", t.name, err)
	}
	return requireRow(res)
}

// where builds a WHERE clause from string filters. likeField is matched
// with a case-insensitive substring search; other fields are exact.
func (t *table) where(filter map[string]string, likeField string) (string, []any, error) {
	names := make([]string, 0, len(filter))
	for k := range filter {
		names = append(names, k)
	}
	sort.Strings(names)

	var conds []string
	var args []any
	for _, name := range names {
		raw := filter[name]
		if raw == "" {
			continue
		}
		if name == likeField {
			conds = append(conds, "LOWER("+name+`) LIKE ? ESCAPE '\'`)
			args = append(args, "%"+likeEscaper.Replace(strings.ToLower(raw))+"%")
			continue
		}
		f, ok := t.lookup(name)
		if !ok {
			return "", nil, &ValidationError{Field: name, Reason: "unknown filter"}
		}
		v, err := coerce(f, raw)
		if err != nil {
			return "", nil, err
		}
		conds = append(conds, name+" = ?")
		args = append(args, v)
	}
	if len(conds) == 0 {
		return "", nil, nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args, nil
}

// likeEscaper makes LIKE wildcards in user input match literally.
var likeEscaper = strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`)

func requireRow(res interface{ RowsAffected() (int64, error) }) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// coerce converts an input value to what the column stores.
// Booleans are stored as 0/1 integers on every dialect.
func coerce(f field, v any) (any, error) {
	if n, ok := v.(json.Number); ok {
		v = string(n)
	}
	switch f.kind {
	case kindBool:
		switch x := v.(type) {
		case nil:
			return 0, nil
		case bool:
			return boolInt(x), nil
		case float64:
			if x == 0 || x == 1 {
				return int(x), nil
			}
		case int:
			if x == 0 || x == 1 {
				return x, nil
			}
		case string:
			switch strings.ToLower(strings.TrimSpace(x)) {
			case "true", "1", "yes", "on":
				return 1, nil
			case "false", "0", "no", "off", "":
				return 0, nil
			}
		}
		return nil, &ValidationError{Field: f.name, Reason: fmt.Sprintf("expected boolean, got %v", v)}

	case kindInt:
		switch x := v.(type) {
		case nil:
			return nil, nil
		case float64:
			if n, ok := wholeInt(x); ok {
				return n, nil
			}
		case int:
			return int64(x), nil
		case int64:
			return x, nil
		case string:
			s := strings.TrimSpace(x)
			if s == "" {
				return nil, nil
			}
			if n, err := strconv.ParseInt(s, 10, 64); err == nil {
				return n, nil
			}
			if fv, err := strconv.ParseFloat(s, 64); err == nil {
				if n, ok := wholeInt(fv); ok {
					return n, nil
				}
			}
		}
		return nil, &ValidationError{Field: f.name, Reason: fmt.Sprintf("expected integer, got %v", v)}

	case kindDate:
		switch x := v.(type) {
		case nil:
			return nil, nil
		case string:
			s := strings.TrimSpace(x)
			if s == "" {
				return nil, nil
			}
			if len(s) > 10 {
				if ts, err := time.Parse(time.RFC3339, s); err == nil {
					return ts.UTC().Format(time.DateOnly), nil
				}
			}
			if _, err := time.Parse(time.DateOnly, s); err == nil {
				return s, nil
			}
		}
		return nil, &ValidationError{Field: f.name, Reason: fmt.Sprintf("expected YYYY-MM-DD date, got %v", v)}

	default:
		switch x := v.(type) {
		case nil:
			return nil, nil
		case string:
			if strings.TrimSpace(x) == "" {
				return nil, nil
			}
			return x, nil
		case bool, float64, int, int64:
			return fmt.Sprint(x), nil
		}
		return nil, &ValidationError{Field: f.name, Reason: fmt.Sprintf("expected text, got %T", v)}
	}
}

// wholeInt accepts floats with no fractional part that fit in an int64.
// 2^63 itself is representable as a float64 but not as an int64.
func wholeInt(x float64) (int64, bool) {
	if x != math.Trunc(x) || x < math.MinInt64 || x >= math.MaxInt64 {
		return 0, false
	}
	return int64(x), true
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func timestamp(now func() time.Time) string {
	return now().UTC().Format(time.RFC3339Nano)
}

type scanner interface {
	Scan(dest ...any) error
}
