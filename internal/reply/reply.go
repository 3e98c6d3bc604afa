// Package reply fills reply templates with assigned codes.
package reply

import "strings"

// CodePlaceholder is replaced with the assigned code.
const CodePlaceholder = "{{CODE}}"

// Render replaces every placeholder in template with code.
func Render(template, code string) string {
	return strings.ReplaceAll(template, CodePlaceholder, code)
}

// Choose returns the rendered template when a code was issued and the
// fallback message otherwise.
func Choose(code *string, fallback bool, template, fallbackMessage string) string {
	if fallback || code == nil {
		return fallbackMessage
	}
	return Render(template, *code)
}
