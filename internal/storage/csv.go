package storage

import (
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"epochsync/internal/model"
)

// CSVStorage writes table snapshots as <dir>/<name>.csv.
type CSVStorage struct {
	dir string
	mu  sync.Mutex
}

func NewCSVStorage(dir string) *CSVStorage {
	return &CSVStorage{dir: dir}
}

// PutTable replaces the snapshot for name. The file is written to a temp path and renamed.
func (s *CSVStorage) PutTable(name string, table model.Table) error {
	path := filepath.Join(s.dir, name+".csv")
	if err := ensureDir(path); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tmp := path + ".tmp"
	file, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create snapshot: %w", err)
	}
	if err := writeCSV(file, table); err != nil {
		file.Close()
		return err
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("close snapshot: %w", err)
	}
	return os.Rename(tmp, path)
}

func writeCSV(file *os.File, table model.Table) error {
	w := csv.NewWriter(file)
	if err := w.Write(table.Header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	record := make([]string, 0, len(table.Header))
	for _, row := range table.Rows {
		record = record[:0]
		for _, v := range row {
			record = append(record, model.CellString(v))
		}
		if err := w.Write(record); err != nil {
			return fmt.Errorf("write row: %w", err)
		}
	}
	w.Flush()
	return w.Error()
}

// ReadCSV loads a CSV file with a header row. Numeric cells are parsed as float64 like spreadsheet values.
func ReadCSV(path string) (model.Table, error) {
	file, err := os.Open(path)
	if err != nil {
		return model.Table{}, err
	}
	defer file.Close()

	r := csv.NewReader(file)
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return model.Table{}, fmt.Errorf("read %s: %w", path, err)
	}
	if len(records) == 0 {
		return model.Table{}, nil
	}

	table := model.NewTable(records[0]...)
	for _, rec := range records[1:] {
		row := make([]any, len(rec))
		for i, cell := range rec {
			if f, err := strconv.ParseFloat(cell, 64); err == nil && !math.IsInf(f, 0) && !math.IsNaN(f) {
				row[i] = f
			} else {
				row[i] = cell
			}
		}
		table.Rows = append(table.Rows, row)
	}
	return table, nil
}
