package node

import (
	"fmt"
	"regexp"
	"strings"
)

var templateVarRe = regexp.MustCompile(`\{\{\s*([\w.]+)\s*\}\}`)

// substituteVariables replaces every {{path.to.value}} placeholder in tmpl
// with the corresponding value from vars (dot-separated nested lookup into
// maps), leaving unresolved placeholders untouched. Grounded on the
// teacher's substituteVariables/getNestedValue helpers in
// node_executors.go.
func substituteVariables(tmpl string, vars map[string]any) string {
	return templateVarRe.ReplaceAllStringFunc(tmpl, func(match string) string {
		path := templateVarRe.FindStringSubmatch(match)[1]
		val, ok := getNestedValue(vars, path)
		if !ok {
			return match
		}
		return fmt.Sprintf("%v", val)
	})
}

func getNestedValue(vars map[string]any, path string) (any, bool) {
	parts := strings.Split(path, ".")
	var cur any = vars
	for _, part := range parts {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		v, ok := m[part]
		if !ok {
			return nil, false
		}
		cur = v
	}
	return cur, true
}
