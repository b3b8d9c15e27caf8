package upload

import (
	"encoding/csv"
	"io"
	"os"
	"strings"

	"github.com/rotisserie/eris"
)

// ReadCSV reads every row from r. Rows may have differing lengths.
func ReadCSV(r io.Reader) ([][]string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.TrimLeadingSpace = true

	rows, err := cr.ReadAll()
	if err != nil {
		return nil, eris.Wrap(err, "csv: read")
	}
	// Strip a UTF-8 BOM left by spreadsheet exports.
	if len(rows) > 0 && len(rows[0]) > 0 {
		rows[0][0] = trimBOM(rows[0][0])
	}
	return rows, nil
}

// ReadCSVFile opens path and reads it with ReadCSV.
func ReadCSVFile(path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrap(err, "csv: open file")
	}
	defer f.Close() //nolint:errcheck
	return ReadCSV(f)
}

func trimBOM(s string) string {
	return strings.TrimPrefix(s, "\ufeff")
}
