// Package validate performs structural validation of requests and attribute
// validation against the compiled schema.
package validate

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/strata-api/strata/internal/engine/access"
	"github.com/strata-api/strata/internal/engine/apierr"
	"github.com/strata-api/strata/internal/engine/schema"
	"github.com/strata-api/strata/internal/jsonapi"
)

// Mode selects how much of the record must be present.
type Mode int

const (
	// Full requires every required field; used for POST and PUT.
	Full Mode = iota
	// Partial validates only supplied fields; used for PATCH and filters.
	Partial
)

// Document enforces the structural JSON:API rules for a write payload.
// urlID is the id from the request path, empty for POST.
func Document(res *schema.Resource, doc *jsonapi.Document, method access.Method, urlID string) error {
	if doc.HasMany || doc.One == nil {
		return apierr.PayloadShape("request body must carry a single resource object in data")
	}
	if len(doc.Included) > 0 {
		return apierr.PayloadShape("included is not allowed in write payloads")
	}

	data := doc.One
	if data.Type == "" {
		return apierr.PayloadShape("data.type is required")
	}
	if data.Type != res.Name {
		return apierr.Conflict("data.type %q does not match endpoint type %q", data.Type, res.Name)
	}

	switch method {
	case access.MethodPost:
		if data.ID != "" && !res.Options.AllowClientIDs {
			return apierr.Forbidden("resource %s does not accept client-generated ids", res.Name)
		}
	case access.MethodPut, access.MethodPatch:
		if urlID == "" && data.ID == "" {
			return apierr.PayloadShape("%s requires a resource id", method)
		}
		if urlID != "" && data.ID != "" && urlID != data.ID {
			return apierr.Conflict("body id %q does not match URL id %q", data.ID, urlID)
		}
		if method == access.MethodPatch && len(data.Attributes) == 0 && len(data.Relationships) == 0 {
			return apierr.PayloadShape("PATCH requires at least one of attributes or relationships")
		}
	}
	return nil
}

// Attributes validates a merged attribute record against the compiled
// schema. Errors are accumulated per field; for belongs-to fields the
// violation path is rewritten to the relationship shape the client sent.
func Attributes(res *schema.Resource, record map[string]interface{}, mode Mode) error {
	verr := apierr.Validation("attribute validation failed for %s", res.Name)

	for name := range record {
		if name == res.IDField {
			continue
		}
		if !res.HasField(name) {
			verr.WithViolation(fieldPath(res, name), "unknown", fmt.Sprintf("%s is not a declared field", name))
		}
	}

	for name, f := range res.Fields {
		if f.Computed || name == res.IDField {
			continue
		}
		value, supplied := record[name]

		if !supplied {
			if mode == Full && f.Rules.Required && f.Default == nil {
				verr.WithViolation(fieldPath(res, name), "required", fmt.Sprintf("%s is required", name))
			}
			continue
		}
		if value == nil {
			if !f.Nullable && (f.Rules.Required || mode == Full) {
				verr.WithViolation(fieldPath(res, name), "not_null", fmt.Sprintf("%s may not be null", name))
			}
			continue
		}
		checkValue(res, f, value, verr)
	}

	if len(verr.Violations) > 0 {
		return verr
	}
	return nil
}

// Filters checks every filter key against the compiled search schema, and
// each value against the underlying field's declared rules.
func Filters(res *schema.Resource, filters map[string]string) error {
	verr := apierr.Validation("invalid filters for %s", res.Name)
	table := res.SearchFields()
	for name, raw := range filters {
		sf, ok := table[name]
		if !ok {
			verr.WithViolation("filter."+name, "unknown_filter", fmt.Sprintf("%s is not filterable", name))
			continue
		}
		if sf.Join != nil {
			// The field lives on the joined resource; its rules apply there.
			continue
		}
		f, ok := res.Fields[sf.Field]
		if !ok {
			continue
		}
		values := []string{raw}
		if sf.Operator == schema.OpIn {
			values = strings.Split(raw, ",")
		}
		for _, v := range values {
			checkFilterValue(name, f, sf.Operator, strings.TrimSpace(v), verr)
		}
	}
	if len(verr.Violations) > 0 {
		return verr
	}
	return nil
}

// checkFilterValue applies the field's rules to one filter value. Equality
// operators get the full value rules; range operators only need the value to
// parse as the field's kind, and like values are partial so no rule applies.
func checkFilterValue(name string, f *schema.Field, op string, v string, verr *apierr.Error) {
	path := "filter." + name

	var n float64
	isNumeric := false
	switch f.Kind {
	case schema.KindInt, schema.KindBigInt:
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			verr.WithViolation(path, "type", fmt.Sprintf("%s expects %s", f.Name, f.Kind))
			return
		}
		n, isNumeric = float64(parsed), true
	case schema.KindFloat, schema.KindDecimal:
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil {
			verr.WithViolation(path, "type", fmt.Sprintf("%s expects %s", f.Name, f.Kind))
			return
		}
		n, isNumeric = parsed, true
	case schema.KindBool:
		if _, err := strconv.ParseBool(v); err != nil {
			verr.WithViolation(path, "type", fmt.Sprintf("%s expects %s", f.Name, f.Kind))
		}
		return
	}

	if op != schema.OpEq && op != schema.OpNe && op != schema.OpIn {
		return
	}
	if len(f.Rules.Enum) > 0 && !contains(f.Rules.Enum, v) {
		verr.WithViolation(path, "enum", fmt.Sprintf("%s is not an allowed value for %s", v, f.Name))
	}
	if re := f.Rules.PatternRegexp(); re != nil && !re.MatchString(v) {
		verr.WithViolation(path, "pattern", fmt.Sprintf("%s does not match the required pattern", f.Name))
	}
	if f.Rules.MaxLength != nil && len(v) > *f.Rules.MaxLength {
		verr.WithViolation(path, "max_length", fmt.Sprintf("%s exceeds %d characters", f.Name, *f.Rules.MaxLength))
	}
	if isNumeric {
		if f.Rules.Min != nil && n < *f.Rules.Min {
			verr.WithViolation(path, "min", fmt.Sprintf("%s is below the minimum %v", f.Name, *f.Rules.Min))
		}
		if f.Rules.Max != nil && n > *f.Rules.Max {
			verr.WithViolation(path, "max", fmt.Sprintf("%s is above the maximum %v", f.Name, *f.Rules.Max))
		}
	}
}

func checkValue(res *schema.Resource, f *schema.Field, value interface{}, verr *apierr.Error) {
	path := fieldPath(res, f.Name)

	if !kindAccepts(f.Kind, value) {
		verr.WithViolation(path, "type", fmt.Sprintf("%s expects %s", f.Name, f.Kind))
		return
	}

	if s, ok := value.(string); ok {
		if f.Rules.MaxLength != nil && len(s) > *f.Rules.MaxLength {
			verr.WithViolation(path, "max_length", fmt.Sprintf("%s exceeds %d characters", f.Name, *f.Rules.MaxLength))
		}
		if re := f.Rules.PatternRegexp(); re != nil && !re.MatchString(s) {
			verr.WithViolation(path, "pattern", fmt.Sprintf("%s does not match the required pattern", f.Name))
		}
		if len(f.Rules.Enum) > 0 && !contains(f.Rules.Enum, s) {
			verr.WithViolation(path, "enum", fmt.Sprintf("%s is not an allowed value for %s", s, f.Name))
		}
	}

	if n, ok := numeric(value); ok {
		if f.Rules.Min != nil && n < *f.Rules.Min {
			verr.WithViolation(path, "min", fmt.Sprintf("%s is below the minimum %v", f.Name, *f.Rules.Min))
		}
		if f.Rules.Max != nil && n > *f.Rules.Max {
			verr.WithViolation(path, "max", fmt.Sprintf("%s is above the maximum %v", f.Name, *f.Rules.Max))
		}
	}
}

// fieldPath returns the dotted path into the request document for a field.
// Belongs-to foreign keys are reported at the relationship linkage the
// client actually sent.
func fieldPath(res *schema.Resource, name string) string {
	if f, ok := res.Fields[name]; ok && f.BelongsTo != nil {
		return "data.relationships." + f.BelongsTo.Alias + ".data.id"
	}
	return "data.attributes." + name
}

func kindAccepts(kind schema.Kind, value interface{}) bool {
	switch kind {
	case schema.KindString, schema.KindText, schema.KindUUID, schema.KindDate, schema.KindTime, schema.KindTimestamp:
		_, ok := value.(string)
		return ok
	case schema.KindInt, schema.KindBigInt:
		switch v := value.(type) {
		case int, int32, int64:
			return true
		case float64:
			return v == float64(int64(v))
		case string:
			return true // store coerces numeric strings
		}
		return false
	case schema.KindFloat, schema.KindDecimal:
		switch value.(type) {
		case int, int32, int64, float32, float64, string:
			return true
		}
		return false
	case schema.KindBool:
		_, ok := value.(bool)
		return ok
	case schema.KindJSON:
		return true
	default:
		return true
	}
}

func numeric(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case float32:
		return float64(v), true
	case float64:
		return v, true
	}
	return 0, false
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
