// Package export serializes table artifacts for download and archival.
// CSV carries every value as text; Parquet keeps column types where the
// table's values allow it.
package export

import (
	"fmt"
	"strings"
)

type Format string

const (
	FormatCSV     Format = "csv"
	FormatParquet Format = "parquet"
)

func ParseFormat(raw string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(raw))) {
	case FormatCSV, "":
		return FormatCSV, nil
	case FormatParquet:
		return FormatParquet, nil
	default:
		return "", fmt.Errorf("unknown export format %q", raw)
	}
}

func (f Format) ContentType() string {
	switch f {
	case FormatParquet:
		return "application/vnd.apache.parquet"
	default:
		return "text/csv; charset=utf-8"
	}
}

func (f Format) Extension() string {
	switch f {
	case FormatParquet:
		return "parquet"
	default:
		return "csv"
	}
}
