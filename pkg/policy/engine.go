package policy

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/ast"
	"github.com/open-policy-agent/opa/rego"
	"github.com/rs/zerolog"

	"github.com/pvconverge/pvconverge/pkg/config"
)

// Engine compiles and evaluates policies against merged documents.
type Engine struct {
	mu       sync.RWMutex
	policies map[string]*compiledPolicy
	logger   zerolog.Logger
}

// compiledPolicy represents a parsed Rego policy ready for evaluation.
type compiledPolicy struct {
	policy   *Policy
	module   *ast.Module
	compiled time.Time
}

// NewEngine creates a policy engine preloaded with the built-in policies.
func NewEngine(logger zerolog.Logger) (*Engine, error) {
	e := &Engine{
		policies: make(map[string]*compiledPolicy),
		logger:   logger.With().Str("component", "policy-engine").Logger(),
	}

	builtins := GetBuiltinPolicies()
	for i := range builtins {
		if err := e.compileAndStore(&builtins[i]); err != nil {
			return nil, fmt.Errorf("failed to compile built-in policy %s: %w", builtins[i].Name, err)
		}
	}

	e.logger.Debug().Int("count", len(builtins)).Msg("Built-in policies loaded")
	return e, nil
}

// Evaluate runs every enabled policy against each record of the merged
// document. Error-severity hits block; warnings pass through.
func (e *Engine) Evaluate(ctx context.Context, doc *config.Document) (*Result, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	result := &Result{Allowed: true, EvaluatedAt: time.Now()}

	names := make([]string, 0, len(e.policies))
	for name := range e.policies {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		cp := e.policies[name]
		if !cp.policy.Enabled {
			continue
		}

		for _, cat := range config.AllCategories() {
			for _, rec := range doc.Records(cat) {
				input := &Input{
					Record: newRecordInput(rec),
					Context: &Context{
						Timestamp: time.Now(),
						Operation: "validate",
					},
				}

				violations, err := e.evaluatePolicy(ctx, cp, input)
				if err != nil {
					return nil, fmt.Errorf("policy %s failed on %s/%s: %w", cp.policy.Name, cat, rec.Key, err)
				}

				for _, v := range violations {
					if v.Severity == SeverityError {
						result.Allowed = false
						result.Violations = append(result.Violations, v)
					} else {
						result.Warnings = append(result.Warnings, v)
					}
				}
			}
		}
	}

	e.logger.Debug().
		Int("violations", len(result.Violations)).
		Int("warnings", len(result.Warnings)).
		Bool("allowed", result.Allowed).
		Msg("Policy evaluation completed")

	return result, nil
}

// AddPolicy compiles and registers a policy, replacing any previous
// policy of the same name.
func (e *Engine) AddPolicy(policy Policy) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.compileAndStore(&policy)
}

// GetPolicy returns a policy by name.
func (e *Engine) GetPolicy(name string) (*Policy, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	cp, exists := e.policies[name]
	if !exists {
		return nil, fmt.Errorf("policy not found: %s", name)
	}
	return cp.policy, nil
}

// ListPolicies returns all registered policies sorted by name.
func (e *Engine) ListPolicies() []Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()

	policies := make([]Policy, 0, len(e.policies))
	for _, cp := range e.policies {
		policies = append(policies, *cp.policy)
	}
	sort.Slice(policies, func(i, j int) bool { return policies[i].Name < policies[j].Name })
	return policies
}

// evaluatePolicy runs a single compiled policy against one input.
func (e *Engine) evaluatePolicy(ctx context.Context, cp *compiledPolicy, input *Input) ([]Violation, error) {
	packageName := extractPackageName(cp.policy.Rego)
	query := fmt.Sprintf("data.%s.deny", packageName)

	r := rego.New(
		rego.Module(cp.policy.Name, cp.policy.Rego),
		rego.Query(query),
		rego.Input(input),
	)

	results, err := r.Eval(ctx)
	if err != nil {
		return nil, fmt.Errorf("policy evaluation error: %w", err)
	}

	var violations []Violation
	for _, result := range results {
		if len(result.Expressions) == 0 {
			continue
		}
		denySet, ok := result.Expressions[0].Value.([]interface{})
		if !ok {
			continue
		}
		for _, d := range denySet {
			violations = append(violations, e.createViolation(cp.policy, d, input))
		}
	}
	return violations, nil
}

// extractPackageName extracts the package name from Rego code.
func extractPackageName(src string) string {
	for _, line := range strings.Split(src, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "package ") {
			parts := strings.Fields(trimmed)
			if len(parts) >= 2 {
				return parts[1]
			}
		}
	}
	return "pvconverge.policies"
}

// createViolation converts a raw deny result into a Violation.
func (e *Engine) createViolation(policy *Policy, result interface{}, input *Input) Violation {
	violation := Violation{
		Policy:   policy.Name,
		Severity: policy.Severity,
	}
	if input.Record != nil {
		violation.Category = input.Record.Category
		violation.Key = input.Record.Key
	}

	switch v := result.(type) {
	case string:
		violation.Message = v
	case map[string]interface{}:
		if msg, ok := v["message"].(string); ok {
			violation.Message = msg
		}
		if sev, ok := v["severity"].(string); ok {
			violation.Severity = Severity(sev)
		}
		if cat, ok := v["category"].(string); ok {
			violation.Category = cat
		}
		if key, ok := v["key"].(string); ok {
			violation.Key = key
		}
	default:
		violation.Message = fmt.Sprintf("%v", result)
	}
	return violation
}

// compileAndStore parses a policy and registers it. Callers hold the lock.
func (e *Engine) compileAndStore(policy *Policy) error {
	module, err := ast.ParseModule(policy.Name, policy.Rego)
	if err != nil {
		return fmt.Errorf("failed to parse policy: %w", err)
	}

	e.policies[policy.Name] = &compiledPolicy{
		policy:   policy,
		module:   module,
		compiled: time.Now(),
	}
	return nil
}
