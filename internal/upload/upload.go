// Package upload parses spreadsheet uploads (CSV or XLSX) into records.
package upload

import (
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/leadflow/internal/model"
)

// headerAliases maps accepted column headers to record fields.
var headerAliases = map[string]string{
	"name":            "name",
	"contact":         "name",
	"full_name":       "name",
	"company":         "company",
	"company_name":    "company",
	"website":         "website",
	"url":             "website",
	"domain":          "website",
	"email":           "email_1",
	"email_1":         "email_1",
	"primary_email":   "email_1",
	"email_2":         "email_2",
	"secondary_email": "email_2",
	"email_3":         "email_3",
}

// ReadFile parses path by extension. The first row must be a header row.
func ReadFile(path string) ([]model.Record, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		rows, err := ReadCSVFile(path)
		if err != nil {
			return nil, err
		}
		return Records(rows)
	case ".xlsx":
		rows, err := ReadXLSX(path, XLSXOptions{})
		if err != nil {
			return nil, err
		}
		return Records(rows)
	default:
		return nil, eris.Errorf("upload: unsupported file type %q", filepath.Ext(path))
	}
}

// Records maps raw rows to records using the header in rows[0]. Blank rows
// are skipped. Rows whose websites normalize to the same host are merged
// into the first such row, and repeated addresses within a record are
// collapsed so each address holds one slot.
func Records(rows [][]string) ([]model.Record, error) {
	if len(rows) == 0 {
		return nil, eris.New("upload: file is empty")
	}

	cols := make(map[string]int)
	for i, h := range rows[0] {
		key := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(h)), " ", "_")
		if field, ok := headerAliases[key]; ok {
			if _, dup := cols[field]; !dup {
				cols[field] = i
			}
		}
	}
	_, hasSite := cols["website"]
	_, hasEmail := cols["email_1"]
	if !hasSite && !hasEmail {
		return nil, eris.New("upload: header needs a website or email column")
	}

	get := func(row []string, field string) string {
		i, ok := cols[field]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	var out []model.Record
	bySite := make(map[string]int)
	for _, row := range rows[1:] {
		rec := model.Record{
			Name:    get(row, "name"),
			Company: get(row, "company"),
			Website: get(row, "website"),
		}
		for slot, field := range []string{"email_1", "email_2", "email_3"} {
			rec.Emails[slot].Address = model.NormalizeEmail(get(row, field))
		}
		if rec.Name == "" && rec.Company == "" && rec.Website == "" && len(rec.Addresses()) == 0 {
			continue
		}
		compactEmails(&rec)

		site := model.NormalizeWebsite(rec.Website)
		if site == "" {
			out = append(out, rec)
			continue
		}
		if i, ok := bySite[site]; ok {
			merge(&out[i], rec)
			continue
		}
		bySite[site] = len(out)
		out = append(out, rec)
	}
	return out, nil
}

// merge folds dup into keep: blank contact fields are filled and new
// addresses take free email slots. Addresses beyond the last slot are
// dropped.
func merge(keep *model.Record, dup model.Record) {
	if keep.Name == "" {
		keep.Name = dup.Name
	}
	if keep.Company == "" {
		keep.Company = dup.Company
	}
	for _, addr := range dup.Addresses() {
		if hasAddress(keep, addr) {
			continue
		}
		for i := range keep.Emails {
			if keep.Emails[i].Address == "" {
				keep.Emails[i].Address = addr
				break
			}
		}
	}
}

// compactEmails drops repeated addresses and shifts the rest into the
// lowest slots, preserving order.
func compactEmails(rec *model.Record) {
	var slots [model.MaxEmails]model.EmailSlot
	n := 0
	for _, slot := range rec.Emails {
		if slot.Address == "" {
			continue
		}
		dup := false
		for _, kept := range slots[:n] {
			if kept.Address == slot.Address {
				dup = true
				break
			}
		}
		if !dup {
			slots[n] = slot
			n++
		}
	}
	rec.Emails = slots
}

func hasAddress(rec *model.Record, addr string) bool {
	for _, slot := range rec.Emails {
		if slot.Address == addr {
			return true
		}
	}
	return false
}
