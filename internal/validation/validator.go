// Package validation implements the per-bucket schema validator: record
// preparation for insert/update, and the field-by-field constraint checker
// described in spec section 4.1.
package validation

import (
	"time"

	"github.com/emberdb/ember/internal/idgen"
	"github.com/emberdb/ember/internal/types"
)

// Validator prepares and validates records against one bucket's schema.
type Validator struct {
	Bucket   string
	KeyField string
	Schema   types.Schema
}

func New(bucket, keyField string, schema types.Schema) *Validator {
	return &Validator{Bucket: bucket, KeyField: keyField, Schema: schema}
}

// PrepareInsert builds a complete record from caller input, following the
// five-step order from spec section 4.1: generated fields, defaults,
// metadata, validation, merge.
//
// nextAutoincrement is called at most once, and only if some field actually
// needs an autoincrement value; it must return the next counter value and
// leave the bucket's counter in a state consistent with having consumed it.
func (v *Validator) PrepareInsert(input types.Record, nextAutoincrement func() int64) (types.Record, error) {
	record := make(types.Record, len(input)+4)
	for k, val := range input {
		record[k] = val
	}

	for field, fd := range v.Schema {
		if fd.Generated == "" {
			continue
		}
		if existing, ok := record[field]; ok && !existing.IsNull() {
			continue // explicit input always wins over generated values
		}
		var counter int64
		if fd.Generated == types.GeneratedAutoincrement {
			counter = nextAutoincrement()
		}
		gv, err := idgen.Generate(fd.Generated, counter)
		if err != nil {
			return nil, err
		}
		record[field] = gv
	}

	for field, fd := range v.Schema {
		if _, ok := record[field]; ok {
			continue
		}
		if !fd.HasDefault() {
			continue
		}
		record[field] = types.FromAny(fd.ResolveDefault())
	}

	now := time.Now().UnixMilli()
	record["_version"] = types.Int(1)
	record["_createdAt"] = types.Int(now)
	record["_updatedAt"] = types.Int(now)

	if err := v.Validate(record); err != nil {
		return nil, err
	}
	return record, nil
}

// PrepareUpdate merges changes onto the existing record, following spec
// section 4.1's prepareUpdate steps. The caller is responsible for first
// checking that existing is non-nil (RecordNotFound is raised by the
// bucket worker, not here).
func (v *Validator) PrepareUpdate(existing types.Record, changes types.Record) (types.Record, error) {
	sanitized := types.StripReservedAndKey(changes, v.KeyField, v.Schema)

	merged := existing.Clone()
	for k, val := range sanitized {
		merged[k] = val
	}

	merged["_version"] = types.Int(existing.Version() + 1)
	merged["_updatedAt"] = types.Int(time.Now().UnixMilli())
	merged["_createdAt"] = existing["_createdAt"]

	if err := v.Validate(merged); err != nil {
		return nil, err
	}
	return merged, nil
}

// Validate walks every schema-declared field and collects every issue
// found; it never short-circuits on the first failing field, only within a
// single field's own checks (a type failure skips that field's constraint
// checks).
func (v *Validator) Validate(record types.Record) error {
	var issues []types.Issue

	for _, field := range types.SortedKeys(v.Schema) {
		fd := v.Schema[field]
		val, present := record[field]
		isEmpty := !present || val.IsNull()

		if isEmpty {
			if fd.Required {
				issues = append(issues, types.Issue{Field: field, Code: "required", Message: field + " is required"})
			}
			continue
		}

		if !checkType(fd.Type, val) {
			issues = append(issues, types.Issue{Field: field, Code: "type", Message: field + " must be of type " + string(fd.Type)})
			continue
		}

		issues = append(issues, checkConstraints(field, fd, val)...)
	}

	if len(issues) > 0 {
		return types.NewValidationError(v.Bucket, issues)
	}
	return nil
}

func checkType(t types.FieldType, val types.Value) bool {
	switch t {
	case types.TypeString:
		return val.Kind() == types.KindString
	case types.TypeNumber:
		return val.IsNumber()
	case types.TypeBoolean:
		return val.Kind() == types.KindBool
	case types.TypeObject:
		return val.Kind() == types.KindMap
	case types.TypeArray:
		return val.Kind() == types.KindList
	case types.TypeDate:
		switch val.Kind() {
		case types.KindTime:
			return true
		case types.KindInt, types.KindFloat:
			return true
		case types.KindString:
			return val.AsString() != ""
		default:
			return false
		}
	default:
		return true
	}
}

func checkConstraints(field string, fd types.FieldDefinition, val types.Value) []types.Issue {
	var issues []types.Issue

	if len(fd.Enum) > 0 {
		matched := false
		for _, candidate := range fd.Enum {
			if types.Equal(val, types.FromAny(candidate)) {
				matched = true
				break
			}
		}
		if !matched {
			issues = append(issues, types.Issue{Field: field, Code: "enum", Message: field + " must be one of the allowed values"})
		}
	}

	if fd.Min != nil && val.IsNumber() && val.AsFloat() < *fd.Min {
		issues = append(issues, types.Issue{Field: field, Code: "min", Message: field + " is below the minimum"})
	}
	if fd.Max != nil && val.IsNumber() && val.AsFloat() > *fd.Max {
		issues = append(issues, types.Issue{Field: field, Code: "max", Message: field + " is above the maximum"})
	}

	if val.Kind() == types.KindString {
		s := val.AsString()
		if fd.MinLength != nil && len(s) < *fd.MinLength {
			issues = append(issues, types.Issue{Field: field, Code: "minLength", Message: field + " is shorter than the minimum length"})
		}
		if fd.MaxLength != nil && len(s) > *fd.MaxLength {
			issues = append(issues, types.Issue{Field: field, Code: "maxLength", Message: field + " is longer than the maximum length"})
		}
		if fd.Pattern != "" {
			re, err := types.CompilePattern(fd.Pattern)
			if err != nil || !re.MatchString(s) {
				issues = append(issues, types.Issue{Field: field, Code: "pattern", Message: field + " does not match the required pattern"})
			}
		}
		if fd.Format != "" && !checkFormat(fd.Format, s) {
			issues = append(issues, types.Issue{Field: field, Code: "format", Message: field + " is not a valid " + string(fd.Format)})
		}
	}

	return issues
}

func checkFormat(f types.Format, s string) bool {
	switch f {
	case types.FormatEmail:
		return isValidEmail(s)
	case types.FormatURL:
		return isValidURL(s)
	case types.FormatISODate:
		return isValidISODate(s)
	default:
		return true
	}
}
