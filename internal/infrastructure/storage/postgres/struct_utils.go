package postgres

import (
	"reflect"
	"slices"
	"sync"
)

// columnCache maps reflect.Type to []columnField.
var columnCache sync.Map

type columnField struct {
	index []int
	name  string
}

func columnsOf(t reflect.Type) []columnField {
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if cached, ok := columnCache.Load(t); ok {
		return cached.([]columnField)
	}

	var fields []columnField
	if t.Kind() == reflect.Struct {
		for _, f := range reflect.VisibleFields(t) {
			if f.Anonymous {
				continue
			}
			tag := f.Tag.Get("db")
			if tag == "" || tag == "-" {
				continue
			}
			fields = append(fields, columnField{index: f.Index, name: tag})
		}
	}

	columnCache.Store(t, fields)
	return fields
}

// ExtractDBColumns returns the column names of T's "db" tags in field order,
// including promoted fields of embedded structs.
//
//	cols := ExtractDBColumns[certificate.Student]()
//	// ["student_id", "school_id", "class_id", ...]
func ExtractDBColumns[T any]() []string {
	fields := columnsOf(reflect.TypeFor[T]())
	cols := make([]string, len(fields))
	for i, f := range fields {
		cols[i] = f.name
	}
	return cols
}

// StructToMap converts a struct to column/value pairs using "db" tags.
// Columns listed in omit are skipped (generated keys, timestamps).
func StructToMap(v any, omit ...string) map[string]any {
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Pointer {
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return nil
	}

	fields := columnsOf(rv.Type())
	res := make(map[string]any, len(fields))
	for _, f := range fields {
		if slices.Contains(omit, f.name) {
			continue
		}
		res[f.name] = rv.FieldByIndex(f.index).Interface()
	}
	return res
}
