package catalog

import (
	"fmt"
	"io"
	"math"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/cast"
	"github.com/xuri/excelize/v2"
)

// Header aliases for the supplier price lists. The first non-empty match
// wins.
var (
	colID          = []string{"Artikel-Nr.", "ID", "id"}
	colName        = []string{"Name", "name"}
	colPrice       = []string{"Preis inkl. MwSt.", "Preis zzgl. MwSt."}
	colStock       = []string{"Lager", "Lagerbestand"}
	colDescription = []string{"Beschreibung"}
	colSupplier    = []string{"Lieferant"}
	colOrigin      = []string{"Hersteller"}
)

var (
	umlauts  = strings.NewReplacer("ä", "ae", "ö", "oe", "ü", "ue", "ß", "ss")
	nonSlug  = regexp.MustCompile(`[^a-z0-9]+`)
	trimDash = regexp.MustCompile(`^-+|-+$`)
)

// Slugify turns a sheet name into a category slug:
// "Messer 2026" -> "messer-2026", " Rauch+Grill 2026" -> "rauch-grill-2026".
func Slugify(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	s = umlauts.Replace(s)
	s = nonSlug.ReplaceAllString(s, "-")
	return trimDash.ReplaceAllString(s, "")
}

// ParseWorkbook reads an .xlsx price list. Every sheet is a category named
// after the sheet; the first row of a sheet holds the column headers. Rows
// without a positive id or a name are skipped.
func ParseWorkbook(r io.Reader) ([]ProductImport, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	var out []ProductImport
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return nil, fmt.Errorf("read sheet %q: %w", sheet, err)
		}
		if len(rows) < 2 {
			continue
		}

		header := make(map[string]int, len(rows[0]))
		for i, h := range rows[0] {
			h = strings.TrimSpace(h)
			if _, dup := header[h]; !dup {
				header[h] = i
			}
		}
		col := func(row []string, keys []string) string {
			for _, k := range keys {
				i, ok := header[k]
				if !ok || i >= len(row) {
					continue
				}
				if v := strings.TrimSpace(row[i]); v != "" {
					return v
				}
			}
			return ""
		}

		slug := Slugify(sheet)
		catName := strings.TrimSpace(sheet)
		for _, row := range rows[1:] {
			id := cellInt(col(row, colID))
			name := col(row, colName)
			if id <= 0 || name == "" {
				continue
			}
			out = append(out, ProductImport{
				ID:           uint(id),
				Name:         name,
				Description:  col(row, colDescription),
				Price:        cellDecimal(col(row, colPrice)),
				Stock:        cellInt(col(row, colStock)),
				Supplier:     col(row, colSupplier),
				Origin:       col(row, colOrigin),
				Category:     slug,
				CategoryName: catName,
			})
		}
	}
	return out, nil
}

// cellNumber reads a spreadsheet number, accepting a decimal comma.
// Anything unreadable, NaN or infinite is zero.
func cellNumber(v string) float64 {
	v = strings.TrimSpace(v)
	if strings.Contains(v, ",") && !strings.Contains(v, ".") {
		v = strings.ReplaceAll(v, ",", ".")
	}
	f, err := cast.ToFloat64E(v)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}

// cellInt truncates a cell to an int. Values outside the int32 range are
// zero.
func cellInt(v string) int {
	f := cellNumber(v)
	if f < math.MinInt32 || f > math.MaxInt32 {
		return 0
	}
	return int(f)
}

func cellDecimal(v string) decimal.Decimal {
	return decimal.NewFromFloat(cellNumber(v)).Round(2)
}
