package rules

import (
	"fmt"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/openleads/kestrel/internal/domain"
)

// Guard expressions let operators express conditions beyond the fixed
// operator set. A guard is compiled once when the rule is added and must
// evaluate to true for the rule to be considered at all. Runtime
// evaluation errors resolve to "rule not matched", in line with the
// malformed-condition leniency policy.

// newGuardEnv creates the CEL environment guard expressions compile against.
func newGuardEnv() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("lead_id", cel.StringType),
		cel.Variable("features", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("aiScore", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("anomalyDetection", cel.MapType(cel.StringType, cel.DynType)),
	)
}

// compileGuard compiles a guard expression and checks it returns bool.
func compileGuard(env *cel.Env, ruleID, expression string) (cel.Program, error) {
	ast, issues := env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("rule %s: invalid guard expression: %w", ruleID, issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("rule %s: guard expression must return bool, got %s", ruleID, ast.OutputType())
	}
	program, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("rule %s: failed to create guard program: %w", ruleID, err)
	}
	return program, nil
}

// evalGuard runs a compiled guard against the evaluation record.
func evalGuard(program cel.Program, leadID string, record domain.FeatureRecord) bool {
	activation := map[string]any{
		"lead_id":          leadID,
		"features":         submap(record, "features"),
		"aiScore":          submap(record, "aiScore"),
		"anomalyDetection": submap(record, "anomalyDetection"),
	}

	out, _, err := program.Eval(activation)
	if err != nil {
		return false
	}
	b, ok := out.(types.Bool)
	return ok && bool(b)
}

func submap(record domain.FeatureRecord, key string) map[string]any {
	if m, ok := record[key].(map[string]any); ok {
		return m
	}
	return map[string]any{}
}
