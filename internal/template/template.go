// internal/template/template.go
package template

import (
	"regexp"

	"github.com/colebrumley/amitrigger/internal/security"
)

var templateVar = regexp.MustCompile(`\{\{\s*(\w+)\s*\}\}`)

// Expand replaces {{variable}} placeholders with sanitized values from vars.
// Unknown placeholders are left as they are.
func Expand(tmpl string, vars map[string]string) string {
	return templateVar.ReplaceAllStringFunc(tmpl, func(match string) string {
		name := templateVar.FindStringSubmatch(match)[1]
		if val, ok := vars[name]; ok {
			return security.SanitizeValue(val)
		}
		return match
	})
}

// ExpandAll applies Expand to every element of args.
func ExpandAll(args []string, vars map[string]string) []string {
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = Expand(a, vars)
	}
	return out
}
