package stats

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"faultsim/internal/model"
)

const (
	LossTableFile     = "Loss.csv"
	AccuracyTableFile = "Accuracy.csv"
	epochColumn       = "epoch"
)

// Table is an epoch-indexed metric table with one column per run label.
// Row i is epoch i; epoch 0 is the baseline. Cells a column does not reach
// are NaN in memory and empty on disk.
type Table struct {
	labels  []string
	columns map[string][]float64
}

func NewTable() *Table {
	return &Table{columns: make(map[string][]float64)}
}

// ReadTable loads a table written by Write. A missing file is an empty table.
func ReadTable(path string) (*Table, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewTable(), nil
		}
		return nil, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1
	header, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return NewTable(), nil
		}
		return nil, err
	}
	if len(header) == 0 || strings.TrimSpace(header[0]) != epochColumn {
		return nil, fmt.Errorf("%s: first column must be %q", path, epochColumn)
	}

	table := NewTable()
	labels := header[1:]
	for _, label := range labels {
		if _, dup := table.columns[label]; dup {
			return nil, fmt.Errorf("%s: duplicate column %q", path, label)
		}
		table.labels = append(table.labels, label)
		table.columns[label] = nil
	}

	// A column ends at its last non-empty cell; shorter runs are padded on disk.
	lengths := make(map[string]int, len(labels))
	row := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		epoch, err := strconv.Atoi(strings.TrimSpace(record[0]))
		if err != nil {
			return nil, fmt.Errorf("%s row %d: %w", path, row+1, err)
		}
		if epoch != row {
			return nil, fmt.Errorf("%s row %d: expected epoch %d, got %d", path, row+1, row, epoch)
		}
		for i, label := range labels {
			value := math.NaN()
			if i+1 < len(record) && strings.TrimSpace(record[i+1]) != "" {
				if value, err = parseFloat(record[i+1]); err != nil {
					return nil, fmt.Errorf("%s row %d column %q: %w", path, row+1, label, err)
				}
				lengths[label] = row + 1
			}
			table.columns[label] = append(table.columns[label], value)
		}
		row++
	}
	for _, label := range labels {
		table.columns[label] = table.columns[label][:lengths[label]]
	}
	return table, nil
}

// Set replaces the column for label, appending it when new.
func (t *Table) Set(label string, values []float64) error {
	if strings.TrimSpace(label) == "" {
		return errors.New("column label is required")
	}
	if label == epochColumn {
		return fmt.Errorf("column label %q is reserved", epochColumn)
	}
	if _, ok := t.columns[label]; !ok {
		t.labels = append(t.labels, label)
	}
	t.columns[label] = append([]float64(nil), values...)
	return nil
}

func (t *Table) Labels() []string {
	return append([]string(nil), t.labels...)
}

func (t *Table) Column(label string) ([]float64, bool) {
	values, ok := t.columns[label]
	if !ok {
		return nil, false
	}
	return append([]float64(nil), values...), true
}

// Rows is the length of the longest column.
func (t *Table) Rows() int {
	rows := 0
	for _, values := range t.columns {
		rows = max(rows, len(values))
	}
	return rows
}

func (t *Table) Write(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write(append([]string{epochColumn}, t.labels...)); err != nil {
		return err
	}
	for row := 0; row < t.Rows(); row++ {
		record := make([]string, 0, len(t.labels)+1)
		record = append(record, strconv.Itoa(row))
		for _, label := range t.labels {
			values := t.columns[label]
			if row >= len(values) {
				record = append(record, "")
				continue
			}
			record = append(record, formatFloat(values[row]))
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// HistorySink keeps Loss.csv and Accuracy.csv in Dir, rewriting the column of
// each finished run and leaving other runs' columns as they were.
type HistorySink struct {
	Dir string
}

func (s HistorySink) WriteHistory(label string, points []model.MetricPoint) error {
	loss := make([]float64, len(points))
	accuracy := make([]float64, len(points))
	for i, p := range points {
		if p.Epoch != i {
			return fmt.Errorf("history point %d has epoch %d", i, p.Epoch)
		}
		loss[i] = p.Loss
		accuracy[i] = p.Accuracy
	}
	if err := updateTable(filepath.Join(s.Dir, LossTableFile), label, loss); err != nil {
		return fmt.Errorf("loss table: %w", err)
	}
	if err := updateTable(filepath.Join(s.Dir, AccuracyTableFile), label, accuracy); err != nil {
		return fmt.Errorf("accuracy table: %w", err)
	}
	return nil
}

func updateTable(path, label string, values []float64) error {
	table, err := ReadTable(path)
	if err != nil {
		return err
	}
	if err := table.Set(label, values); err != nil {
		return err
	}
	return table.Write(path)
}

// Missing cells are written empty; "NaN" is a real NaN from a diverged run.
func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func parseFloat(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return math.NaN(), nil
	}
	return strconv.ParseFloat(s, 64)
}
