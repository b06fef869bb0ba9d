// Package watch evaluates operator-defined CEL watch rules against
// transaction features. A matching rule contributes its label to the
// risk factors of a result and nothing else.
package watch

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// Engine holds the compiled watch rules.
type Engine struct {
	mu       sync.RWMutex
	env      *cel.Env
	compiled map[string]*CompiledRule
}

// CompiledRule holds a pre-compiled CEL program.
type CompiledRule struct {
	Rule    *domain.WatchRule
	Program cel.Program
}

// NewEngine creates a watch rule engine with the feature variables declared.
func NewEngine() (*Engine, error) {
	env, err := cel.NewEnv(
		cel.Variable("amount", cel.DoubleType),
		cel.Variable("account_balance", cel.DoubleType),
		cel.Variable("user_age", cel.IntType),
		cel.Variable("velocity_1h", cel.IntType),
		cel.Variable("velocity_24h", cel.IntType),
		cel.Variable("time_since_last_transaction", cel.DoubleType),
		cel.Variable("prior_transactions", cel.IntType),
		cel.Variable("merchant_name", cel.StringType),
		cel.Variable("merchant_category", cel.StringType),
		cel.Variable("location", cel.StringType),
		cel.Variable("device_id", cel.StringType),
		cel.Variable("customer_ip", cel.StringType),
		cel.Variable("card_present", cel.BoolType),
		cel.Variable("hour", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Engine{
		env:      env,
		compiled: make(map[string]*CompiledRule),
	}, nil
}

// ValidateRule compiles a rule without loading it.
func (e *Engine) ValidateRule(rule *domain.WatchRule) error {
	if rule == nil {
		return fmt.Errorf("watch rule is required")
	}
	_, err := e.compile(rule)
	return err
}

// LoadRule compiles and loads a single rule. Disabled rules are ignored.
func (e *Engine) LoadRule(rule *domain.WatchRule) error {
	if !rule.Enabled {
		return nil
	}

	compiled, err := e.compile(rule)
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.compiled[rule.ID] = compiled
	e.mu.Unlock()
	return nil
}

// ReloadRules replaces the loaded rule set. On error the previous set
// stays in place.
func (e *Engine) ReloadRules(rules []*domain.WatchRule) error {
	next := make(map[string]*CompiledRule, len(rules))
	for _, rule := range rules {
		if !rule.Enabled {
			continue
		}
		compiled, err := e.compile(rule)
		if err != nil {
			return err
		}
		next[rule.ID] = compiled
	}

	e.mu.Lock()
	e.compiled = next
	e.mu.Unlock()
	return nil
}

// RulesCount returns the number of loaded rules.
func (e *Engine) RulesCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.compiled)
}

// Labels evaluates every loaded rule and returns the labels of those that
// match, ordered by rule ID. Rules that fail to evaluate are skipped.
func (e *Engine) Labels(f *domain.TransactionFeatures, at time.Time) []string {
	rules := e.snapshot()
	if len(rules) == 0 {
		return nil
	}

	activation := Activation(f, at)
	var labels []string
	for _, r := range rules {
		out, _, err := r.Program.Eval(activation)
		if err != nil {
			continue
		}
		if matched, ok := out.Value().(bool); ok && matched {
			labels = append(labels, r.Rule.Label)
		}
	}
	return labels
}

// Activation builds the CEL variables for a feature record. Absent
// optional fields evaluate as zero.
func Activation(f *domain.TransactionFeatures, at time.Time) map[string]any {
	return map[string]any{
		"amount":                      f.Amount,
		"account_balance":             domain.FloatValue(f.AccountBalance),
		"user_age":                    int64(domain.IntValue(f.UserAge)),
		"velocity_1h":                 int64(domain.IntValue(f.Velocity1h)),
		"velocity_24h":                int64(domain.IntValue(f.Velocity24h)),
		"time_since_last_transaction": domain.FloatValue(f.TimeSinceLastTransaction),
		"prior_transactions":          int64(f.PriorTransactions),
		"merchant_name":               f.MerchantName,
		"merchant_category":           f.MerchantCategory,
		"location":                    f.Location,
		"device_id":                   f.DeviceID,
		"customer_ip":                 f.CustomerIP,
		"card_present":                f.CardPresent,
		"hour":                        int64(at.Hour()),
	}
}

func (e *Engine) snapshot() []*CompiledRule {
	e.mu.RLock()
	rules := make([]*CompiledRule, 0, len(e.compiled))
	for _, r := range e.compiled {
		rules = append(rules, r)
	}
	e.mu.RUnlock()

	sort.Slice(rules, func(i, j int) bool { return rules[i].Rule.ID < rules[j].Rule.ID })
	return rules
}

func (e *Engine) compile(rule *domain.WatchRule) (*CompiledRule, error) {
	if rule.Label == "" {
		return nil, fmt.Errorf("watch rule %s: label is required", rule.ID)
	}

	ast, issues := e.env.Compile(rule.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile watch rule %s: %w", rule.ID, issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("watch rule %s: expression must return bool, got %s", rule.ID, ast.OutputType())
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for watch rule %s: %w", rule.ID, err)
	}

	return &CompiledRule{Rule: rule, Program: program}, nil
}
