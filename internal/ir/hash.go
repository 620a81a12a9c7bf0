package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed digests.
// Version suffix enables future algorithm migration.
const (
	DomainState   = "kern/state/v1"
	DomainTrace   = "kern/trace/v1"
	DomainBinding = "kern/binding/v1"
	DomainRuleSet = "kern/ruleset/v1"
)

// hashWithDomain computes SHA-256 hash with domain separation.
// Format: SHA256(domain + 0x00 + data)
// The null byte separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// StateHash digests the observable state of a run: the active context's
// variables and a graph snapshot. Two deterministic runs over the same
// inputs produce the same StateHash.
func StateHash(vars Object, graph Object) (string, error) {
	obj := Object{
		"graph": graph,
		"vars":  vars,
	}
	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("StateHash: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainState, canonical), nil
}

// TraceHash digests a serialized trace. Callers pass the trace already
// converted to a canonical-compatible value (see engine.TraceEvent.Object).
func TraceHash(events Vec) (string, error) {
	canonical, err := MarshalCanonical(events)
	if err != nil {
		return "", fmt.Errorf("TraceHash: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainTrace, canonical), nil
}

// BindingHash digests a rule id plus the values it matched on.
// Used for refraction: an unchanged hash means nothing new to react to.
func BindingHash(ruleID RuleID, bindings Vec, reads Object) (string, error) {
	obj := Object{
		"bindings": bindings,
		"reads":    reads,
		"rule_id":  Int(ruleID),
	}
	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("BindingHash: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainBinding, canonical), nil
}

// RuleSetHash digests a list of rule definitions, used to tie a stored
// run to the exact rule set it executed.
func RuleSetHash(rules []RuleSpec) (string, error) {
	vec := make(Vec, len(rules))
	for i, r := range rules {
		vec[i] = r.Object()
	}
	canonical, err := MarshalCanonical(vec)
	if err != nil {
		return "", fmt.Errorf("RuleSetHash: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainRuleSet, canonical), nil
}

// MustStateHash is like StateHash but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustStateHash(vars Object, graph Object) string {
	h, err := StateHash(vars, graph)
	if err != nil {
		panic(err)
	}
	return h
}
