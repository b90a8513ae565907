package output

import (
	"encoding/json"
)

// JSONFormatter renders the value behind a view as JSON.
type JSONFormatter struct {
	Indent bool
}

// Format renders view.Value as JSON.
func (f *JSONFormatter) Format(view View) (string, error) {
	var (
		data []byte
		err  error
	)

	if f.Indent {
		data, err = json.MarshalIndent(view.Value, "", "  ")
	} else {
		data, err = json.Marshal(view.Value)
	}
	if err != nil {
		return "", err
	}

	return string(data), nil
}
