package utils

import (
	"regexp"
	"strings"
)

// Placeholder names the sequence templates currently use. The renderer
// itself accepts any name; this list exists for building value maps.
const (
	PlaceholderContactName = "contact_name"
	PlaceholderCompanyName = "company_name"
	PlaceholderIndustry    = "industry"
)

var placeholderPattern = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9_]+)\s*\}\}`)

// RenderTemplate replaces every {{name}} occurrence in tmpl with the
// matching value. A missing or empty value renders as the literal
// bracketed placeholder ([name]) so missing data stays visible in the
// output instead of silently disappearing. Templates are plain text;
// there is no escaping and no templating language.
func RenderTemplate(tmpl string, values map[string]string) string {
	return placeholderPattern.ReplaceAllStringFunc(tmpl, func(token string) string {
		name := strings.Trim(token, "{} \t")
		if value, ok := values[name]; ok && value != "" {
			return value
		}
		return "[" + name + "]"
	})
}

// TemplateValues builds the standard placeholder map for a send
func TemplateValues(contactName, companyName, industry string) map[string]string {
	return map[string]string{
		PlaceholderContactName: contactName,
		PlaceholderCompanyName: companyName,
		PlaceholderIndustry:    industry,
	}
}
