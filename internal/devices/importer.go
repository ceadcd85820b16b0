package devices

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	apperrors "github.com/pranto48/text-sub000/internal/errors"
	"github.com/pranto48/text-sub000/pkg/contracts/domain"
)

// ImportRow is one data row of an import file. Line is 1-based and counts
// the header.
type ImportRow struct {
	Line  int
	Input domain.DeviceInput
}

var headerAliases = map[string]string{
	"name":        "name",
	"device_name": "name",
	"ip":          "ip_address",
	"ip_address":  "ip_address",
	"ipaddress":   "ip_address",
	"type":        "device_type",
	"device_type": "device_type",
	"location":    "location",
}

// ParseImport reads device rows from a .csv or .xlsx upload. The first row
// must be a header naming at least the name and ip_address columns.
func ParseImport(filename string, r io.Reader) ([]ImportRow, error) {
	var records [][]string
	var err error

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".csv":
		records, err = readCSV(r)
	case ".xlsx":
		records, err = readXLSX(r)
	default:
		return nil, fmt.Errorf("%w: %q (expected .csv or .xlsx)", apperrors.ErrUnsupportedImport, filepath.Ext(filename))
	}
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, apperrors.InvalidRequestWithError(errors.New("import file is empty"))
	}

	columns, err := mapHeader(records[0])
	if err != nil {
		return nil, err
	}

	rows := make([]ImportRow, 0, len(records)-1)
	for i, rec := range records[1:] {
		if blank(rec) {
			continue
		}
		rows = append(rows, ImportRow{
			Line: i + 2,
			Input: domain.DeviceInput{
				Name:       cell(rec, columns["name"]),
				IPAddress:  cell(rec, columns["ip_address"]),
				DeviceType: cell(rec, columns["device_type"]),
				Location:   cell(rec, columns["location"]),
			},
		})
	}
	return rows, nil
}

func readCSV(r io.Reader) ([][]string, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	records, err := reader.ReadAll()
	if err != nil {
		return nil, apperrors.InvalidRequestWithError(fmt.Errorf("read csv: %w", err))
	}
	return records, nil
}

func readXLSX(r io.Reader) ([][]string, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, apperrors.InvalidRequestWithError(fmt.Errorf("open xlsx: %w", err))
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, nil
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, apperrors.InvalidRequestWithError(fmt.Errorf("read sheet %q: %w", sheets[0], err))
	}
	return rows, nil
}

func mapHeader(header []string) (map[string]int, error) {
	columns := map[string]int{"device_type": -1, "location": -1}
	for i, h := range header {
		key := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		key = strings.ReplaceAll(key, " ", "_")
		if canonical, ok := headerAliases[key]; ok {
			columns[canonical] = i
		}
	}
	for _, required := range []string{"name", "ip_address"} {
		if _, ok := columns[required]; !ok {
			return nil, apperrors.InvalidRequestWithError(fmt.Errorf("import header is missing the %q column", required))
		}
	}
	return columns, nil
}

func cell(rec []string, idx int) string {
	if idx < 0 || idx >= len(rec) {
		return ""
	}
	return strings.TrimSpace(rec[idx])
}

func blank(rec []string) bool {
	for _, v := range rec {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
