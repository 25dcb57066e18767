// Package sheet reads the entity list from an .xlsx workbook.
package sheet

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/xuri/excelize/v2"

	"review_pipeline/internal/domain"
)

const (
	colName    = "displayName"
	colPrimary = "googleUrl"
	colWebsite = "website"
)

type Loader struct{}

func New() Loader { return Loader{} }

// LoadEntities reads the first sheet. The header row must carry displayName
// and googleUrl; website is optional. Rows without a name or maps URL are
// skipped.
func (Loader) LoadEntities(path string) ([]domain.EntityRow, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("%s: workbook has no sheets", path)
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", sheets[0], err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	idx := map[string]int{}
	for i, h := range rows[0] {
		idx[strings.TrimSpace(h)] = i
	}
	for _, c := range []string{colName, colPrimary} {
		if _, ok := idx[c]; !ok {
			return nil, fmt.Errorf("%s: missing column %q", path, c)
		}
	}

	cell := func(row []string, col string) string {
		i, ok := idx[col]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	out := make([]domain.EntityRow, 0, len(rows)-1)
	for n, row := range rows[1:] {
		r := domain.EntityRow{
			DisplayName:  cell(row, colName),
			PrimaryURL:   cell(row, colPrimary),
			SecondaryURL: NormalizeWebsite(cell(row, colWebsite)),
		}
		if r.DisplayName == "" || r.PrimaryURL == "" {
			log.Warn().Int("row", n+2).Msg("skipping entity row without name or maps url")
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

// NormalizeWebsite adds https:// when the scheme is missing.
func NormalizeWebsite(u string) string {
	u = strings.TrimSpace(u)
	if u == "" {
		return ""
	}
	if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
		u = "https://" + u
	}
	return u
}
