package rules

import (
	"fmt"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/opensource-finance/medoracle/internal/domain"
)

// guardEnv is the CEL environment for rule applicability guards.
// Guards see the claim as a map under the "claim" variable, e.g.
// claim.examType == "MRI" && claim.claimedAmount > 100.
// claim.claimedAmount is a double, so a guard is only as exact as float64.
// Limits on money go in the rule's own field, operator and range, which
// compare decimals exactly; guards should select, not bound.
var guardEnv = mustGuardEnv()

func mustGuardEnv() *cel.Env {
	env, err := cel.NewEnv(
		cel.Variable("claim", cel.MapType(cel.StringType, cel.DynType)),
		cel.CrossTypeNumericComparisons(true),
	)
	if err != nil {
		panic(fmt.Sprintf("failed to create CEL environment: %v", err))
	}
	return env
}

// guard is a compiled boolean CEL expression.
type guard struct {
	expr    string
	program cel.Program
}

// compileGuard compiles a "when" expression. It must return bool.
func compileGuard(def *domain.RuleDefinition) (*guard, *domain.RuleLoadError) {
	ast, issues := guardEnv.Compile(def.When)
	if issues != nil && issues.Err() != nil {
		return nil, &domain.RuleLoadError{
			Kind:    domain.RuleLoadMalformed,
			RuleID:  def.ID,
			Message: fmt.Sprintf("invalid when expression: %v", issues.Err()),
		}
	}

	if ast.OutputType() != cel.BoolType {
		return nil, &domain.RuleLoadError{
			Kind:    domain.RuleLoadMalformed,
			RuleID:  def.ID,
			Message: fmt.Sprintf("when expression must return bool, got %s", ast.OutputType()),
		}
	}

	program, err := guardEnv.Program(ast)
	if err != nil {
		return nil, &domain.RuleLoadError{
			Kind:    domain.RuleLoadMalformed,
			RuleID:  def.ID,
			Message: fmt.Sprintf("failed to create program: %v", err),
		}
	}

	return &guard{expr: def.When, program: program}, nil
}

// applies reports whether the rule applies to the claim. An evaluation
// error applies the rule, so a broken guard cannot silently skip it.
func (g *guard) applies(c *domain.Claim) bool {
	out, _, err := g.program.Eval(map[string]any{"claim": c.Facts()})
	if err != nil {
		return true
	}
	b, ok := out.(types.Bool)
	if !ok {
		return true
	}
	return bool(b)
}
