package vm

import "slices"

// Sandbox enforces a SandboxPolicy and counts admitted calls.
type Sandbox struct {
	policy    SandboxPolicy
	functions map[string]bool
	channels  map[string]bool
	calls     map[string]int
}

// NewSandbox builds a sandbox from a policy.
func NewSandbox(policy SandboxPolicy) *Sandbox {
	s := &Sandbox{
		policy:    policy,
		functions: make(map[string]bool, len(policy.AllowedFunctions)),
		channels:  make(map[string]bool, len(policy.AllowedChannels)),
		calls:     make(map[string]int),
	}
	for _, f := range policy.AllowedFunctions {
		s.functions[f] = true
	}
	for _, c := range policy.AllowedChannels {
		s.channels[c] = true
	}
	return s
}

// Policy returns a copy of the configured policy.
func (s *Sandbox) Policy() SandboxPolicy {
	p := s.policy
	p.AllowedFunctions = slices.Clone(p.AllowedFunctions)
	p.AllowedChannels = slices.Clone(p.AllowedChannels)
	return p
}

// AdmitCall checks that fn may be called once more. It does not count
// the call; RecordCall does, once the call actually runs.
// A MaxCalls entry of N admits exactly N calls.
func (s *Sandbox) AdmitCall(fn string) error {
	if !s.functions[fn] {
		return newError(ErrFunctionDenied, "function %q is not allowed", fn)
	}
	if limit, ok := s.policy.MaxCalls[fn]; ok && s.calls[fn] >= limit {
		return newError(ErrCallLimit, "function %q exceeded %d calls", fn, limit)
	}
	return nil
}

// RecordCall counts one call of fn.
func (s *Sandbox) RecordCall(fn string) {
	s.calls[fn]++
}

// AdmitChannel checks channel access.
func (s *Sandbox) AdmitChannel(ch string) error {
	if !s.channels[ch] {
		return newError(ErrChannelDenied, "channel %q is not allowed", ch)
	}
	return nil
}

// Calls returns how many times fn was called since the last reset.
func (s *Sandbox) Calls(fn string) int {
	return s.calls[fn]
}

// Reset clears call counters.
func (s *Sandbox) Reset() {
	clear(s.calls)
}
