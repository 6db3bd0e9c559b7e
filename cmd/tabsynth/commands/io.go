package commands

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/tabsynth/tabsynth/pkg/models"
)

// readCSVTable loads a CSV file with a header row into a table. Columns named
// in discrete are kept as strings; all others must parse as floats.
func readCSVTable(path string, discrete []string) (*models.Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	if len(records) < 2 {
		return nil, fmt.Errorf("%s must have a header row and at least one data row", path)
	}

	header := records[0]
	rows := records[1:]

	discreteSet := make(map[string]bool, len(discrete))
	for _, name := range discrete {
		discreteSet[name] = true
	}

	columns := make([]models.Series, len(header))
	for c, name := range header {
		if discreteSet[name] {
			values := make([]string, len(rows))
			for r, rec := range rows {
				values[r] = rec[c]
			}
			columns[c] = models.NewStringSeries(name, values)
			continue
		}

		values := make([]float64, len(rows))
		for r, rec := range rows {
			v, err := strconv.ParseFloat(rec[c], 64)
			if err != nil {
				return nil, fmt.Errorf("column %q row %d: %q is not numeric (mark the column with --discrete if it is categorical)", name, r+1, rec[c])
			}
			values[r] = v
		}
		columns[c] = models.NewFloatSeries(name, values)
	}

	return models.NewTable(columns...)
}

// writeTable writes a table to path in the requested format. "-" writes to
// stdout.
func writeTable(table *models.Table, path, format string) error {
	var out io.Writer = os.Stdout
	if path != "-" {
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}

	switch format {
	case "csv":
		return writeCSV(out, table)
	case "json":
		return writeJSON(out, table)
	default:
		return fmt.Errorf("unsupported output format %q", format)
	}
}

func writeCSV(out io.Writer, table *models.Table) error {
	w := csv.NewWriter(out)
	if err := w.Write(table.ColumnNames()); err != nil {
		return err
	}

	record := make([]string, table.NumColumns())
	for r := 0; r < table.NumRows(); r++ {
		for c := 0; c < table.NumColumns(); c++ {
			col := table.ColumnAt(c)
			if col.Kind == models.ColumnDiscrete {
				record[c] = col.Strings[r]
			} else {
				record[c] = strconv.FormatFloat(col.Floats[r], 'g', -1, 64)
			}
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}

	w.Flush()
	return w.Error()
}

func writeJSON(out io.Writer, table *models.Table) error {
	rows := make([]map[string]interface{}, table.NumRows())
	for r := 0; r < table.NumRows(); r++ {
		row := make(map[string]interface{}, table.NumColumns())
		for c := 0; c < table.NumColumns(); c++ {
			col := table.ColumnAt(c)
			if col.Kind == models.ColumnDiscrete {
				row[col.Name] = col.Strings[r]
			} else {
				row[col.Name] = col.Floats[r]
			}
		}
		rows[r] = row
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(rows)
}
