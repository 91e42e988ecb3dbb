package harness

import (
	"context"
	"fmt"
	"reflect"
	"regexp"
	"slices"
	"sort"
	"strings"

	"github.com/roach88/jobweave/internal/diag"
	"github.com/roach88/jobweave/internal/ir"
	"github.com/roach88/jobweave/internal/store"
)

// validIdentifier matches valid SQL identifiers (table/column names).
// Only allows alphanumeric and underscore, must start with letter or underscore.
// This prevents SQL injection via identifier interpolation.
var validIdentifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type        string            // Assertion type for categorization
	Expected    string            // Human-readable expected outcome
	Actual      string            // Human-readable actual outcome
	Diagnostics []diag.Diagnostic // Everything the pass reported
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Diagnostics) > 0 {
		fmt.Fprintf(&buf, "\nDiagnostics:\n")
		for i, d := range e.Diagnostics {
			fmt.Fprintf(&buf, "  [%d] %s\n", i+1, d)
		}
	}
	return buf.String()
}

func assertEmitted(r *Result, a Assertion) error {
	if r.Emitted() == *a.Value {
		return nil
	}
	return &AssertionError{
		Type:        AssertEmitted,
		Expected:    fmt.Sprintf("emitted = %t", *a.Value),
		Actual:      fmt.Sprintf("emitted = %t", r.Emitted()),
		Diagnostics: r.Diagnostics,
	}
}

// assertDiagnostic checks that a diagnostic with the code, and the line
// when given, was reported.
func assertDiagnostic(r *Result, a Assertion) error {
	for _, d := range r.Diagnostics {
		if d.Code == a.Code && (a.Line == 0 || d.Line == a.Line) {
			return nil
		}
	}
	expected := a.Code
	if a.Line != 0 {
		expected = fmt.Sprintf("%s at line %d", a.Code, a.Line)
	}
	return &AssertionError{
		Type:        AssertDiagnostic,
		Expected:    expected,
		Actual:      "not reported",
		Diagnostics: r.Diagnostics,
	}
}

// assertDiagnosticCount counts diagnostics with the code, or all of them
// when no code is given.
func assertDiagnosticCount(r *Result, a Assertion) error {
	count := len(r.Diagnostics)
	what := "diagnostics"
	if a.Code != "" {
		count = diag.Count(r.Diagnostics, a.Code)
		what = a.Code + " diagnostics"
	}
	if count == a.Count {
		return nil
	}
	return &AssertionError{
		Type:        AssertDiagnosticCount,
		Expected:    fmt.Sprintf("%d %s", a.Count, what),
		Actual:      fmt.Sprintf("%d %s", count, what),
		Diagnostics: r.Diagnostics,
	}
}

func assertJobCount(r *Result, a Assertion) error {
	if len(r.Jobs) == a.Count {
		return nil
	}
	return &AssertionError{
		Type:        AssertJobCount,
		Expected:    fmt.Sprintf("%d jobs", a.Count),
		Actual:      fmt.Sprintf("%d jobs: %v", len(r.Jobs), jobNames(r)),
		Diagnostics: r.Diagnostics,
	}
}

// assertJob checks the properties of one job. Only set fields are compared.
func assertJob(r *Result, a Assertion) error {
	job := r.Job(a.Job)
	if job == nil {
		return &AssertionError{
			Type:        AssertJob,
			Expected:    fmt.Sprintf("job %s", a.Job),
			Actual:      fmt.Sprintf("jobs %v", jobNames(r)),
			Diagnostics: r.Diagnostics,
		}
	}

	mismatch := func(field string, want, got any) error {
		return &AssertionError{
			Type:     AssertJob,
			Expected: fmt.Sprintf("%s %s = %v", a.Job, field, want),
			Actual:   fmt.Sprintf("%s %s = %v", a.Job, field, got),
		}
	}
	if a.Kind != "" && a.Kind != job.Kind {
		return mismatch("kind", a.Kind, job.Kind)
	}
	if a.Terminal != "" && a.Terminal != job.Terminal {
		return mismatch("terminal", a.Terminal, job.Terminal)
	}
	if a.Burst != nil && *a.Burst != job.Burst {
		return mismatch("burst", *a.Burst, job.Burst)
	}
	if a.Fields != nil && !slices.Equal(a.Fields, job.Fields) {
		return mismatch("fields", a.Fields, job.Fields)
	}
	if a.ReadOnlyFields != nil && !slices.Equal(a.ReadOnlyFields, job.ReadOnlyFields) {
		return mismatch("read_only_fields", a.ReadOnlyFields, job.ReadOnlyFields)
	}
	return nil
}

// assertTypeKind checks that the output module declares the type with the
// given kind.
func assertTypeKind(r *Result, a Assertion) error {
	if r.Module == nil {
		return &AssertionError{
			Type:        AssertTypeKind,
			Expected:    fmt.Sprintf("type %s (%s)", a.Name, a.Kind),
			Actual:      "module was discarded",
			Diagnostics: r.Diagnostics,
		}
	}
	t := r.Module.Lookup(a.Name)
	if t == nil {
		return &AssertionError{
			Type:     AssertTypeKind,
			Expected: fmt.Sprintf("type %s", a.Name),
			Actual:   "not declared",
		}
	}
	if string(t.Kind) != a.Kind {
		return &AssertionError{
			Type:     AssertTypeKind,
			Expected: fmt.Sprintf("%s is a %s", a.Name, a.Kind),
			Actual:   fmt.Sprintf("%s is a %s", a.Name, t.Kind),
		}
	}
	return nil
}

// assertCalls checks that the method calls the named methods in order.
// Other calls may appear in between.
func assertCalls(r *Result, a Assertion) error {
	fail := func(actual string) error {
		return &AssertionError{
			Type:        AssertCalls,
			Expected:    fmt.Sprintf("%s calls %v in order", a.Method, a.Calls),
			Actual:      actual,
			Diagnostics: r.Diagnostics,
		}
	}
	if r.Module == nil {
		return fail("module was discarded")
	}
	typ, name, ok := strings.Cut(a.Method, "::")
	if !ok {
		return fmt.Errorf("calls: method %q is not Type::Name", a.Method)
	}
	t := r.Module.Lookup(typ)
	if t == nil || t.MethodByName(name) == nil {
		return fail("method not declared")
	}

	var called []string
	for _, ins := range t.MethodByName(name).Body {
		switch ins.Op {
		case ir.OpCall, ir.OpCallVirt, ir.OpNewObj:
			called = append(called, ins.Method.Name)
		}
	}
	next := 0
	for _, c := range called {
		if next < len(a.Calls) && c == a.Calls[next] {
			next++
		}
	}
	if next < len(a.Calls) {
		return fail(fmt.Sprintf("calls %v", called))
	}
	return nil
}

func jobNames(r *Result) []string {
	names := make([]string, len(r.Jobs))
	for i, j := range r.Jobs {
		names[i] = j.Name
	}
	return names
}

// assertFinalState checks that a history table row matches expected values.
// Queries the table with parameterized SQL and validates expected values
// using subset semantics.
//
// Security: Table and column names are validated against a whitelist pattern
// to prevent SQL injection via identifier interpolation.
func assertFinalState(ctx context.Context, st *store.Store, assertion Assertion) error {
	if assertion.Table == "" {
		return fmt.Errorf("final_state assertion requires table name")
	}
	if !validIdentifier.MatchString(assertion.Table) {
		return fmt.Errorf("invalid table name %q: must match pattern %s", assertion.Table, validIdentifier.String())
	}

	whereSQL, whereArgs, err := buildWhereClause(assertion.Where)
	if err != nil {
		return err
	}

	query := fmt.Sprintf("SELECT * FROM %s", assertion.Table)
	if whereSQL != "" {
		query += " WHERE " + whereSQL
	}

	rows, err := st.Query(ctx, query, whereArgs...)
	if err != nil {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("query table %s", assertion.Table),
			Actual:   fmt.Sprintf("query error: %v", err),
		}
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return fmt.Errorf("get columns: %w", err)
	}

	if !rows.Next() {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("row in %s where %s", assertion.Table, formatWhereClause(assertion.Where)),
			Actual:   "row not found",
		}
	}

	values := make([]interface{}, len(columns))
	valuePtrs := make([]interface{}, len(columns))
	for i := range values {
		valuePtrs[i] = &values[i]
	}
	if err := rows.Scan(valuePtrs...); err != nil {
		return fmt.Errorf("scan row: %w", err)
	}

	// Multiple matching rows make the assertion ambiguous
	if rows.Next() {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("exactly one row in %s where %s", assertion.Table, formatWhereClause(assertion.Where)),
			Actual:   "multiple rows matched (assertion is ambiguous)",
		}
	}

	actualRow := make(map[string]interface{})
	for i, col := range columns {
		actualRow[col] = values[i]
	}

	// Sorted for a deterministic first failure
	keys := make([]string, 0, len(assertion.Expect))
	for k := range assertion.Expect {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, key := range keys {
		expectedValue := assertion.Expect[key]
		actualValue, exists := actualRow[key]
		if !exists {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("field %q to exist", key),
				Actual:   fmt.Sprintf("field %q not present in result columns: %v", key, columns),
			}
		}
		if !stateValuesEqual(expectedValue, actualValue) {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("field %q = %v (type %T)", key, expectedValue, expectedValue),
				Actual:   fmt.Sprintf("field %q = %v (type %T)", key, actualValue, actualValue),
			}
		}
	}
	return nil
}

// buildWhereClause constructs parameterized WHERE clause from assertion.Where.
// Returns SQL fragment, arguments slice, and error. Keys are sorted for determinism.
func buildWhereClause(where map[string]interface{}) (string, []interface{}, error) {
	if len(where) == 0 {
		return "", nil, nil
	}

	keys := make([]string, 0, len(where))
	for k := range where {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	clauses := make([]string, 0, len(keys))
	args := make([]interface{}, 0, len(keys))
	for _, key := range keys {
		if !validIdentifier.MatchString(key) {
			return "", nil, fmt.Errorf("invalid column name %q in where clause: must match pattern %s", key, validIdentifier.String())
		}
		clauses = append(clauses, fmt.Sprintf("%s = ?", key))
		args = append(args, toSQLValue(where[key]))
	}
	return strings.Join(clauses, " AND "), args, nil
}

// toSQLValue converts a YAML scalar to a SQL-compatible value.
func toSQLValue(v interface{}) interface{} {
	switch val := v.(type) {
	case string, int, int64, bool:
		return val
	default:
		return fmt.Sprintf("%v", val)
	}
}

// formatWhereClause creates a human-readable description of WHERE conditions.
func formatWhereClause(where map[string]interface{}) string {
	if len(where) == 0 {
		return "(no conditions)"
	}

	keys := make([]string, 0, len(where))
	for k := range where {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, where[k]))
	}
	return strings.Join(parts, " AND ")
}

// stateValuesEqual compares expected YAML values with SQLite values, which
// may come back as different types.
func stateValuesEqual(expected, actual interface{}) bool {
	if expected == nil && actual == nil {
		return true
	}
	if expected == nil || actual == nil {
		return false
	}
	if b, ok := actual.([]byte); ok {
		actual = string(b)
	}

	switch exp := expected.(type) {
	case string:
		if actualStr, ok := actual.(string); ok {
			return exp == actualStr
		}
		return false
	case int:
		if actualInt, ok := actual.(int64); ok {
			return int64(exp) == actualInt
		}
		if actualInt, ok := actual.(int); ok {
			return exp == actualInt
		}
		return false
	case int64:
		if actualInt, ok := actual.(int64); ok {
			return exp == actualInt
		}
		return false
	case bool:
		if actualBool, ok := actual.(bool); ok {
			return exp == actualBool
		}
		// SQLite stores booleans as integers
		if actualInt, ok := actual.(int64); ok {
			return exp == (actualInt != 0)
		}
		return false
	}

	return reflect.DeepEqual(expected, actual)
}

// AssertionContext provides context for evaluating assertions.
type AssertionContext struct {
	Store *store.Store
	Ctx   context.Context
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
// The actx parameter provides database access for final_state assertions.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertEmitted:
			if assertion.Value == nil {
				err = fmt.Errorf("assertion[%d]: emitted requires a value", i)
			} else {
				err = assertEmitted(result, assertion)
			}
		case AssertDiagnostic:
			err = assertDiagnostic(result, assertion)
		case AssertDiagnosticCount:
			err = assertDiagnosticCount(result, assertion)
		case AssertJob:
			err = assertJob(result, assertion)
		case AssertJobCount:
			err = assertJobCount(result, assertion)
		case AssertTypeKind:
			err = assertTypeKind(result, assertion)
		case AssertCalls:
			err = assertCalls(result, assertion)
		case AssertFinalState:
			if actx == nil || actx.Store == nil {
				err = fmt.Errorf("assertion[%d]: final_state requires database context", i)
			} else {
				err = assertFinalState(actx.Ctx, actx.Store, assertion)
			}
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}
	return errors
}
