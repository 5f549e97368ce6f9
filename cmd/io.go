package main

import (
	"encoding/csv"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/facility-cli/internal/model"
)

// Supported input and output formats.
const (
	formatJSON = "json"
	formatCSV  = "csv"
	formatXLSX = "xlsx"
)

// headerAliases maps accepted input column headers to entity fields.
var headerAliases = map[string]string{
	"id":       "id",
	"name":     "name",
	"facility": "name",
	"상호":       "name",
	"시설명":      "name",
	"address":  "address",
	"주소":       "address",
	"phone":    "phone",
	"tel":      "phone",
	"전화번호":     "phone",
}

// recordColumns is the column order for tabular output.
var recordColumns = []string{
	"id", "name", "address", "phone", "open_time", "close_time",
	"membership_price", "pt_price", "group_class_price", "day_pass_price",
	"minimum_price", "price_range", "price_details", "discount",
	"facilities", "confidence", "source", "source_count",
}

// formatOf returns the format implied by path's extension, or fallback.
func formatOf(path, fallback string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return formatJSON
	case ".csv":
		return formatCSV
	case ".xlsx":
		return formatXLSX
	}
	return fallback
}

// readEntities loads entities from a CSV, JSON, or XLSX file.
func readEntities(path string) ([]model.Entity, error) {
	switch formatOf(path, "") {
	case formatJSON:
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, eris.Wrapf(err, "read %s", path)
		}
		var entities []model.Entity
		if err := json.Unmarshal(data, &entities); err != nil {
			return nil, eris.Wrap(err, "parse entities json")
		}
		return dropNameless(entities), nil
	case formatCSV:
		f, err := os.Open(path)
		if err != nil {
			return nil, eris.Wrapf(err, "open %s", path)
		}
		defer f.Close() //nolint:errcheck
		r := csv.NewReader(f)
		r.FieldsPerRecord = -1
		rows, err := r.ReadAll()
		if err != nil {
			return nil, eris.Wrap(err, "parse entities csv")
		}
		return entitiesFromRows(rows)
	case formatXLSX:
		f, err := xlsx.OpenFile(path)
		if err != nil {
			return nil, eris.Wrap(err, "xlsx: open file")
		}
		if len(f.Sheets) == 0 {
			return nil, eris.New("xlsx: file has no sheets")
		}
		var rows [][]string
		for _, row := range f.Sheets[0].Rows {
			cells := make([]string, len(row.Cells))
			for j, cell := range row.Cells {
				cells[j] = cell.String()
			}
			rows = append(rows, cells)
		}
		return entitiesFromRows(rows)
	default:
		return nil, eris.Errorf("unsupported input format %q (want .csv, .json, or .xlsx)", filepath.Ext(path))
	}
}

// entitiesFromRows maps a header row plus data rows onto entities.
func entitiesFromRows(rows [][]string) ([]model.Entity, error) {
	if len(rows) == 0 {
		return nil, eris.New("input has no header row")
	}
	cols := make(map[string]int)
	for i, h := range rows[0] {
		h = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		if field, ok := headerAliases[h]; ok {
			if _, dup := cols[field]; !dup {
				cols[field] = i
			}
		}
	}
	if _, ok := cols["name"]; !ok {
		return nil, eris.New("input header has no name column")
	}

	cell := func(row []string, field string) string {
		i, ok := cols[field]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	entities := make([]model.Entity, 0, len(rows)-1)
	for _, row := range rows[1:] {
		entities = append(entities, model.Entity{
			ID:      cell(row, "id"),
			Name:    cell(row, "name"),
			Address: cell(row, "address"),
			Phone:   cell(row, "phone"),
		})
	}
	return dropNameless(entities), nil
}

func dropNameless(in []model.Entity) []model.Entity {
	out := in[:0]
	for _, e := range in {
		if strings.TrimSpace(e.Name) != "" {
			out = append(out, e)
		}
	}
	return out
}

// recordRow renders a record in recordColumns order.
func recordRow(r model.CanonicalRecord) []string {
	return []string{
		r.EntityID, r.Name, r.Address, r.Phone, r.OpenTime, r.CloseTime,
		r.MembershipPrice, r.PTPrice, r.GroupClassPrice, r.DayPassPrice,
		r.MinimumPrice, r.PriceRange, r.PriceDetails, r.Discount,
		strings.Join(r.Facilities, "; "),
		strconv.FormatFloat(r.Confidence, 'f', 3, 64),
		r.Source,
		strconv.Itoa(r.SourceCount),
	}
}

// writeRecords writes records to w as JSON or CSV.
func writeRecords(w io.Writer, format string, records []model.CanonicalRecord) error {
	switch format {
	case formatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(records)
	case formatCSV:
		cw := csv.NewWriter(w)
		if err := cw.Write(recordColumns); err != nil {
			return eris.Wrap(err, "write csv header")
		}
		for _, r := range records {
			if err := cw.Write(recordRow(r)); err != nil {
				return eris.Wrap(err, "write csv row")
			}
		}
		cw.Flush()
		return cw.Error()
	default:
		return eris.Errorf("unsupported output format %q", format)
	}
}

// saveRecords writes records to path in the format implied by its extension.
func saveRecords(path string, records []model.CanonicalRecord) error {
	format := formatOf(path, formatJSON)
	if format == formatXLSX {
		return saveXLSX(path, records)
	}

	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "create %s", path)
	}
	if err := writeRecords(f, format, records); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func saveXLSX(path string, records []model.CanonicalRecord) error {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("records")
	if err != nil {
		return eris.Wrap(err, "xlsx: add sheet")
	}
	addRow := func(cells []string) {
		row := sheet.AddRow()
		for _, c := range cells {
			row.AddCell().SetString(c)
		}
	}
	addRow(recordColumns)
	for _, r := range records {
		addRow(recordRow(r))
	}
	if err := f.Save(path); err != nil {
		return eris.Wrap(err, "xlsx: save")
	}
	return nil
}
