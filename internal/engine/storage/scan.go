package storage

import (
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"github.com/strata-api/strata/internal/engine/schema"
)

// scanRows scans a result set into map records. Byte slices become strings.
func scanRows(rows *sql.Rows) ([]map[string]interface{}, error) {
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var records []map[string]interface{}
	for rows.Next() {
		values := make([]interface{}, len(columns))
		ptrs := make([]interface{}, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		record := make(map[string]interface{}, len(columns))
		for i, col := range columns {
			if b, ok := values[i].([]byte); ok {
				record[col] = string(b)
			} else {
				record[col] = values[i]
			}
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

// normalizeRecords converts database-typed values to their engine forms:
// 0/1 booleans become true/false, date-times are parsed as UTC, date-only
// values become UTC midnight, and time-only fields become HH:MM:SS strings.
func normalizeRecords(res *schema.Resource, records []map[string]interface{}) {
	for _, record := range records {
		for name, value := range record {
			f, ok := res.Fields[name]
			if !ok || value == nil {
				continue
			}
			record[name] = normalizeValue(f.Kind, value)
		}
	}
}

func normalizeValue(kind schema.Kind, value interface{}) interface{} {
	switch kind {
	case schema.KindBool:
		return normalizeBool(value)
	case schema.KindTimestamp:
		return normalizeTimestamp(value)
	case schema.KindDate:
		return normalizeDate(value)
	case schema.KindTime:
		return normalizeTime(value)
	default:
		return value
	}
}

func normalizeBool(value interface{}) interface{} {
	switch v := value.(type) {
	case bool:
		return v
	case int64:
		return v != 0
	case int:
		return v != 0
	case string:
		switch v {
		case "1", "t", "true":
			return true
		case "0", "f", "false":
			return false
		}
	}
	return value
}

// Database-local date-time layouts accepted on the way out.
var timestampLayouts = []string{
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	time.RFC3339Nano,
	time.RFC3339,
}

func normalizeTimestamp(value interface{}) interface{} {
	switch v := value.(type) {
	case time.Time:
		return v.UTC()
	case string:
		for _, layout := range timestampLayouts {
			if t, err := time.ParseInLocation(layout, v, time.UTC); err == nil {
				return t.UTC()
			}
		}
	}
	return value
}

func normalizeDate(value interface{}) interface{} {
	switch v := value.(type) {
	case time.Time:
		return time.Date(v.Year(), v.Month(), v.Day(), 0, 0, 0, 0, time.UTC)
	case string:
		if t, err := time.ParseInLocation("2006-01-02", v, time.UTC); err == nil {
			return t
		}
	}
	return value
}

func normalizeTime(value interface{}) interface{} {
	switch v := value.(type) {
	case time.Time:
		return v.Format("15:04:05")
	case string:
		if t, err := time.Parse("15:04:05", v); err == nil {
			return t.Format("15:04:05")
		}
		if t, err := time.Parse("15:04", v); err == nil {
			return t.Format("15:04:05")
		}
	}
	return value
}

// idToString renders a scanned id value as its wire form.
func idToString(v interface{}) string {
	switch id := v.(type) {
	case nil:
		return ""
	case string:
		return id
	case []byte:
		return string(id)
	case int64:
		return strconv.FormatInt(id, 10)
	case int:
		return strconv.Itoa(id)
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", id)
	}
}
