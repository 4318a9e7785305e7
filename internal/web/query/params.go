// Package query parses the JSON:API query parameters into the engine's
// parameter form.
package query

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/strata-api/strata/internal/engine/plan"
)

// fieldsPattern matches query parameters like fields[typename]
var fieldsPattern = regexp.MustCompile(`^fields\[([^\]]+)\]$`)

// filterPattern matches query parameters like filter[key]
var filterPattern = regexp.MustCompile(`^filter\[([^\]]+)\]$`)

// pagePattern matches query parameters like page[size]
var pagePattern = regexp.MustCompile(`^page\[([^\]]+)\]$`)

// Parse collects every JSON:API query parameter of a request.
func Parse(r *http.Request) plan.Params {
	return plan.Params{
		Include: ParseInclude(r),
		Fields:  ParseFields(r),
		Filter:  ParseFilter(r),
		Sort:    ParseSort(r),
		Page:    ParsePage(r),
	}
}

// ParseInclude parses the include query parameter into a slice of relationship paths.
// Example: ?include=author,comments.author returns ["author", "comments.author"]
func ParseInclude(r *http.Request) []string {
	include := r.URL.Query().Get("include")
	if include == "" {
		return nil
	}

	parts := strings.Split(include, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

// ParseFields parses the fields query parameters into a map of resource types to field names.
// Example: ?fields[users]=name,email&fields[posts]=title
// Returns: {"users": ["name", "email"], "posts": ["title"]}
func ParseFields(r *http.Request) map[string][]string {
	var result map[string][]string

	for key, values := range r.URL.Query() {
		matches := fieldsPattern.FindStringSubmatch(key)
		if len(matches) != 2 {
			continue
		}
		if result == nil {
			result = make(map[string][]string)
		}

		typeName := matches[1]
		if len(values) == 0 || values[0] == "" {
			// fields[type]= selects nothing but the id.
			result[typeName] = []string{}
			continue
		}

		fields := strings.Split(values[0], ",")
		fieldList := make([]string, 0, len(fields))
		for _, field := range fields {
			trimmed := strings.TrimSpace(field)
			if trimmed != "" {
				fieldList = append(fieldList, trimmed)
			}
		}
		result[typeName] = fieldList
	}
	return result
}

// ParseFilter parses the filter query parameters into a map of filter keys to values.
// Example: ?filter[status]=published&filter[author_id]=123
func ParseFilter(r *http.Request) map[string]string {
	var result map[string]string

	for key, values := range r.URL.Query() {
		matches := filterPattern.FindStringSubmatch(key)
		if len(matches) != 2 {
			continue
		}
		if result == nil {
			result = make(map[string]string)
		}
		if len(values) > 0 {
			result[matches[1]] = values[0]
		}
	}
	return result
}

// ParseSort parses the sort query parameter into a slice of sort fields.
// Example: ?sort=-created_at,title returns ["-created_at", "title"]
// The "-" prefix indicates descending sort order.
func ParseSort(r *http.Request) []string {
	sort := r.URL.Query().Get("sort")
	if sort == "" {
		return nil
	}

	parts := strings.Split(sort, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

// ParsePage parses the page query parameters.
// Example: ?page[number]=2&page[size]=10 returns {"number": "2", "size": "10"};
// the offset/limit style is passed through the same way.
func ParsePage(r *http.Request) map[string]string {
	var result map[string]string

	for key, values := range r.URL.Query() {
		matches := pagePattern.FindStringSubmatch(key)
		if len(matches) != 2 {
			continue
		}
		if result == nil {
			result = make(map[string]string)
		}
		if len(values) > 0 {
			result[matches[1]] = values[0]
		}
	}
	return result
}
