package output

import (
	"encoding/json"
	"io"
	"reflect"
)

// JSONFormatter writes indented JSON. With Lines set it writes JSON
// Lines instead: one compact value per line, one line per element when
// data is a slice or array.
type JSONFormatter struct {
	Lines bool
}

// Format implements Formatter.
func (f *JSONFormatter) Format(w io.Writer, data any) error {
	enc := json.NewEncoder(w)
	if !f.Lines {
		enc.SetIndent("", "  ")
		return enc.Encode(data)
	}

	v := indirect(reflect.ValueOf(data))
	if !v.IsValid() || (v.Kind() != reflect.Slice && v.Kind() != reflect.Array) {
		return enc.Encode(data)
	}
	for i := range v.Len() {
		if err := enc.Encode(v.Index(i).Interface()); err != nil {
			return err
		}
	}
	return nil
}
