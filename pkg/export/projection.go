package export

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rowbridge-io/platform/pkg/catalog"
)

// Localized boolean words used on output rows.
const (
	boolTrueWord  = "Tak"
	boolFalseWord = "Nie"
)

const dateLayout = "2006-01-02 15:04:05"

// Formatter renders record values into spreadsheet cells according to
// the catalog's field kinds and the job's formatting settings.
type Formatter struct {
	catalog    catalog.Catalog
	decimalSep string
}

func NewFormatter(cat catalog.Catalog, decimalSep string) *Formatter {
	if decimalSep == "" {
		decimalSep = ","
	}
	return &Formatter{catalog: cat, decimalSep: decimalSep}
}

// Project maps records onto a strict rectangular matrix: one header row
// of catalog labels in selected-field order, and one formatted data row
// per record of exactly the same width. Field keys are expected to be
// already alias-resolved; unknown keys yield empty cells.
func (f *Formatter) Project(dataset string, records []Record, fields []string) ([]string, [][]string) {
	header := make([]string, len(fields))
	for i, key := range fields {
		header[i] = f.catalog.Label(dataset, key)
	}

	rows := make([][]string, 0, len(records))
	for _, record := range records {
		row := make([]string, len(fields))
		for i, key := range fields {
			row[i] = f.formatValue(dataset, key, record[key])
		}
		rows = append(rows, row)
	}
	return header, rows
}

func (f *Formatter) formatValue(dataset, key string, value interface{}) string {
	if value == nil {
		return ""
	}

	field, known := f.catalog.Lookup(dataset, key)
	if known && field.Kind == catalog.KindDate {
		if epoch, ok := asInt64(value); ok && epoch > 0 {
			return time.Unix(epoch, 0).Format(dateLayout)
		}
	}

	switch v := value.(type) {
	case bool:
		if v {
			return boolTrueWord
		}
		return boolFalseWord
	case float64:
		return f.formatNumber(strconv.FormatFloat(v, 'f', -1, 64))
	case float32:
		return f.formatNumber(strconv.FormatFloat(float64(v), 'f', -1, 32))
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case string:
		return v
	default:
		return fmt.Sprintf("%v", v)
	}
}

func (f *Formatter) formatNumber(text string) string {
	if f.decimalSep == "." {
		return text
	}
	return strings.Replace(text, ".", f.decimalSep, 1)
}
