package tmplutil

import (
	"encoding/json"
	"text/template"

	"github.com/Masterminds/sprig/v3"
)

// FuncMap returns the shared template function map used by all gateway
// template compilation sites. It includes all Sprig functions plus a
// json helper.
func FuncMap() template.FuncMap {
	fm := sprig.TxtFuncMap()

	fm["json"] = func(v interface{}) (string, error) {
		b, err := json.Marshal(v)
		return string(b), err
	}

	return fm
}
