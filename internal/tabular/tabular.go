// Package tabular writes and reads the flat comma-and-space separated text
// tables used for calibration and measurement exports.
package tabular

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

// Separator joins header names and row fields.
const Separator = ", "

// ErrColumnNotFound is returned when a named column is absent.
var ErrColumnNotFound = errors.New("tabular: column not found")

// Writer encodes rows of mixed values.
//
// Floats are written with %.7g after optional truncation to Decimals places,
// integers in decimal, strings verbatim and nil as an empty field.
type Writer struct {
	w        *bufio.Writer
	Decimals int
	rows     int
}

// NewWriter returns a Writer on w with no truncation.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: bufio.NewWriter(w), Decimals: -1}
}

// WriteHeader writes the column names.
func (w *Writer) WriteHeader(columns ...string) error {
	_, err := w.w.WriteString(strings.Join(columns, Separator) + "\n")
	return err
}

// WriteRow writes one data row.
func (w *Writer) WriteRow(fields ...any) error {
	parts := make([]string, len(fields))
	for i, f := range fields {
		s, err := w.format(f)
		if err != nil {
			return fmt.Errorf("tabular: field %d: %w", i, err)
		}
		parts[i] = s
	}
	if _, err := w.w.WriteString(strings.Join(parts, Separator) + "\n"); err != nil {
		return err
	}
	w.rows++
	return nil
}

// Rows returns the number of data rows written.
func (w *Writer) Rows() int { return w.rows }

// Flush writes buffered data to the underlying writer.
func (w *Writer) Flush() error { return w.w.Flush() }

func (w *Writer) format(v any) (string, error) {
	switch x := v.(type) {
	case nil:
		return "", nil
	case string:
		return x, nil
	case float64:
		return formatFloat(w.truncate(x)), nil
	case float32:
		return formatFloat(w.truncate(float64(x))), nil
	case *float64:
		if x == nil {
			return "", nil
		}
		return formatFloat(w.truncate(*x)), nil
	case int:
		return strconv.Itoa(x), nil
	case int64:
		return strconv.FormatInt(x, 10), nil
	case int32:
		return strconv.FormatInt(int64(x), 10), nil
	case uint:
		return strconv.FormatUint(uint64(x), 10), nil
	case uint64:
		return strconv.FormatUint(x, 10), nil
	case bool:
		return strconv.FormatBool(x), nil
	case fmt.Stringer:
		return x.String(), nil
	default:
		return "", fmt.Errorf("unsupported type %T", v)
	}
}

// truncate drops digits beyond Decimals toward zero.
func (w *Writer) truncate(v float64) float64 {
	if w.Decimals < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return v
	}
	scale := math.Pow(10, float64(w.Decimals))
	return math.Trunc(v*scale) / scale
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', 7, 64)
}

// Table is a parsed export.
type Table struct {
	Columns []string
	Rows    [][]string
}

// Read parses a table written by Writer. Blank lines are skipped and fields
// are trimmed of surrounding whitespace. Fields are not quoted, so a string
// field written with a comma in it does not read back.
func Read(r io.Reader) (Table, error) {
	sc := bufio.NewScanner(r)
	var t Table
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimRight(sc.Text(), "\r")
		if strings.TrimSpace(text) == "" {
			continue
		}
		fields := splitFields(text)
		if t.Columns == nil {
			t.Columns = fields
			continue
		}
		if len(fields) != len(t.Columns) {
			return Table{}, fmt.Errorf("tabular: line %d: %d fields, want %d", line, len(fields), len(t.Columns))
		}
		t.Rows = append(t.Rows, fields)
	}
	if err := sc.Err(); err != nil {
		return Table{}, err
	}
	if t.Columns == nil {
		return Table{}, fmt.Errorf("tabular: missing header")
	}
	return t, nil
}

func splitFields(line string) []string {
	fields := strings.Split(line, ",")
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}
	return fields
}

// Index returns the position of the named column, matched case-insensitively.
func (t Table) Index(name string) (int, error) {
	for i, c := range t.Columns {
		if strings.EqualFold(c, name) {
			return i, nil
		}
	}
	return -1, fmt.Errorf("%w: %s", ErrColumnNotFound, name)
}

// Floats parses every value of the named column. Empty fields become NaN.
func (t Table) Floats(name string) ([]float64, error) {
	idx, err := t.Index(name)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(t.Rows))
	for i, row := range t.Rows {
		if row[idx] == "" {
			out[i] = math.NaN()
			continue
		}
		v, err := strconv.ParseFloat(row[idx], 64)
		if err != nil {
			return nil, fmt.Errorf("tabular: row %d column %s: %w", i+1, name, err)
		}
		out[i] = v
	}
	return out, nil
}
