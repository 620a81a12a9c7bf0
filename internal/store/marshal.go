package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/roach88/kern/internal/ir"
)

// marshalObject converts an Object to canonical JSON TEXT for storage.
// A nil object is stored as "{}".
func marshalObject(obj ir.Object) (string, error) {
	if obj == nil {
		return "{}", nil
	}
	data, err := ir.MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("marshal object: %w", err)
	}
	return string(data), nil
}

// unmarshalObject parses canonical JSON TEXT to an Object.
// Uses ir.UnmarshalValue, which decodes integers via json.Number
// to avoid float64 precision loss.
func unmarshalObject(data string) (ir.Object, error) {
	if data == "" || data == "{}" {
		return ir.Object{}, nil
	}
	v, err := ir.UnmarshalValue([]byte(data))
	if err != nil {
		return nil, fmt.Errorf("unmarshal object: %w", err)
	}
	obj, ok := v.(ir.Object)
	if !ok {
		return nil, fmt.Errorf("unmarshal object: got %s", v.Kind())
	}
	return obj, nil
}

// marshalValue converts an optional value to a nullable TEXT column.
// A nil value is stored as SQL NULL; ir.Null is stored as "null".
func marshalValue(v ir.Value) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	data, err := ir.MarshalCanonical(v)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("marshal value: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

// unmarshalValue is the inverse of marshalValue.
func unmarshalValue(col sql.NullString) (ir.Value, error) {
	if !col.Valid {
		return nil, nil
	}
	v, err := ir.UnmarshalValue([]byte(col.String))
	if err != nil {
		return nil, fmt.Errorf("unmarshal value: %w", err)
	}
	return v, nil
}

// marshalStrategies stores strategy names by attribute. encoding/json sorts
// map keys, so the output is deterministic.
func marshalStrategies(m map[string]string) (string, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("marshal strategies: %w", err)
	}
	return string(data), nil
}

func unmarshalStrategies(data string) (map[string]string, error) {
	m := map[string]string{}
	if data == "" || data == "{}" {
		return m, nil
	}
	if err := json.Unmarshal([]byte(data), &m); err != nil {
		return nil, fmt.Errorf("unmarshal strategies: %w", err)
	}
	return m, nil
}

// marshalRuleSpec stores a rule's source form. RuleSpec is a plain struct,
// so encoding/json emits fields in declaration order.
func marshalRuleSpec(spec ir.RuleSpec) (string, error) {
	data, err := json.Marshal(spec)
	if err != nil {
		return "", fmt.Errorf("marshal rule %d: %w", spec.ID, err)
	}
	return string(data), nil
}

func unmarshalRuleSpec(data string) (ir.RuleSpec, error) {
	var spec ir.RuleSpec
	if err := json.Unmarshal([]byte(data), &spec); err != nil {
		return ir.RuleSpec{}, fmt.Errorf("unmarshal rule: %w", err)
	}
	return spec, nil
}

func marshalRuleIDs(ids []ir.RuleID) (string, error) {
	if len(ids) == 0 {
		return "[]", nil
	}
	data, err := json.Marshal(ids)
	if err != nil {
		return "", fmt.Errorf("marshal rule ids: %w", err)
	}
	return string(data), nil
}

func unmarshalRuleIDs(data string) ([]ir.RuleID, error) {
	if data == "" || data == "[]" {
		return nil, nil
	}
	var ids []ir.RuleID
	if err := json.Unmarshal([]byte(data), &ids); err != nil {
		return nil, fmt.Errorf("unmarshal rule ids: %w", err)
	}
	return ids, nil
}
