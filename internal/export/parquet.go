package export

import (
	"fmt"
	"io"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/tabletalk/tabletalk/internal/table"
)

// WriteParquet writes the table as a single-row-group Parquet file. The schema
// is derived from the table itself: a column whose non-nil values all share one
// Go type keeps that type, anything mixed or unrecognized becomes text. All
// columns are optional because any cell may be NULL.
func WriteParquet(w io.Writer, t table.Table) error {
	if !t.Tabular() {
		return fmt.Errorf("table is malformed")
	}

	kinds := columnKinds(t)
	schema := parquet.NewSchema("result", schemaGroup(t.Columns, kinds))
	writer := parquet.NewGenericWriter[map[string]any](w, schema)

	for i, row := range t.Rows {
		record := make(map[string]any, len(t.Columns))
		for j, value := range row {
			if value == nil {
				continue
			}
			record[t.Columns[j]] = parquetValue(value, kinds[j])
		}
		if _, err := writer.Write([]map[string]any{record}); err != nil {
			return fmt.Errorf("write parquet row %d: %w", i, err)
		}
	}

	if err := writer.Close(); err != nil {
		return fmt.Errorf("close parquet writer: %w", err)
	}
	return nil
}

type kind int

const (
	kindString kind = iota
	kindInt
	kindFloat
	kindBool
	kindTimestamp
)

func schemaGroup(columns []string, kinds []kind) parquet.Group {
	group := parquet.Group{}
	for j, name := range columns {
		group[name] = parquet.Optional(columnNode(kinds[j]))
	}
	return group
}

func columnNode(k kind) parquet.Node {
	switch k {
	case kindInt:
		return parquet.Int(64)
	case kindFloat:
		return parquet.Leaf(parquet.DoubleType)
	case kindBool:
		return parquet.Leaf(parquet.BooleanType)
	case kindTimestamp:
		return parquet.Timestamp(parquet.Millisecond)
	default:
		return parquet.String()
	}
}

func columnKinds(t table.Table) []kind {
	kinds := make([]kind, len(t.Columns))
	decided := make([]bool, len(t.Columns))
	for _, row := range t.Rows {
		for j, value := range row {
			if value == nil {
				continue
			}
			k := valueKind(value)
			if !decided[j] {
				kinds[j] = k
				decided[j] = true
			} else if kinds[j] != k {
				kinds[j] = kindString
			}
		}
	}
	return kinds
}

func valueKind(value any) kind {
	switch value.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32:
		return kindInt
	case float32, float64:
		return kindFloat
	case bool:
		return kindBool
	case time.Time:
		return kindTimestamp
	default:
		return kindString
	}
}

func parquetValue(value any, k kind) any {
	switch k {
	case kindInt:
		switch v := value.(type) {
		case int:
			return int64(v)
		case int8:
			return int64(v)
		case int16:
			return int64(v)
		case int32:
			return int64(v)
		case int64:
			return v
		case uint:
			return int64(v)
		case uint8:
			return int64(v)
		case uint16:
			return int64(v)
		case uint32:
			return int64(v)
		}
	case kindFloat:
		switch v := value.(type) {
		case float32:
			return float64(v)
		case float64:
			return v
		}
	case kindBool:
		if v, ok := value.(bool); ok {
			return v
		}
	case kindTimestamp:
		if v, ok := value.(time.Time); ok {
			return v.UTC().UnixMilli()
		}
	}
	return formatCell(value)
}
