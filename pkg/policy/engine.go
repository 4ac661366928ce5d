package policy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strings"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"
)

const (
	// DefaultEntrypoint is the decision path evaluated when none is configured.
	DefaultEntrypoint = "nolto/discovery/decision"
	defaultModuleName = "discovery.rego"
)

// DefaultModule admits GET and HEAD and answers everything else with 405.
const DefaultModule = `package nolto.discovery

default decision := {"action": "block", "reason": "method not allowed", "status": 405}

decision := {"action": "allow"} if {
	input.method in {"GET", "HEAD"}
}
`

// Options control OPA engine construction.
type Options struct {
	// Entrypoint is the decision path (e.g. "nolto/discovery/decision").
	Entrypoint string
	// Modules contains the Rego modules that should be loaded into the engine.
	// Empty selects DefaultModule.
	Modules map[string]string
}

// Engine evaluates discovery decisions using an embedded OPA instance.
// It is safe for concurrent use once constructed.
type Engine struct {
	entrypoint string
	query      rego.PreparedEvalQuery
}

// NewEngine compiles the modules and prepares the entrypoint query. Syntax and
// compile errors surface here rather than per request.
func NewEngine(ctx context.Context, opts Options) (*Engine, error) {
	entry := strings.Trim(strings.TrimSpace(opts.Entrypoint), "/")
	if entry == "" {
		entry = DefaultEntrypoint
	}

	modules := opts.Modules
	if len(modules) == 0 {
		modules = map[string]string{defaultModuleName: DefaultModule}
	}

	names := make([]string, 0, len(modules))
	for name := range modules {
		names = append(names, name)
	}
	sort.Strings(names)

	regoOpts := make([]func(*rego.Rego), 0, len(names)+1)
	regoOpts = append(regoOpts, rego.Query("data."+strings.ReplaceAll(entry, "/", ".")))
	for _, name := range names {
		module, err := ast.ParseModuleWithOpts(name, modules[name], ast.ParserOptions{RegoVersion: ast.RegoV1})
		if err != nil {
			return nil, fmt.Errorf("parse rego module %q: %w", name, err)
		}
		regoOpts = append(regoOpts, rego.ParsedModule(module))
	}

	prepared, err := rego.New(regoOpts...).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("compile rego modules: %w", err)
	}

	return &Engine{entrypoint: entry, query: prepared}, nil
}

// NewEngineFromFile loads a single Rego module from path.
func NewEngineFromFile(ctx context.Context, path, entrypoint string) (*Engine, error) {
	//nolint:gosec // Policy file path is controlled by the operator
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy file %s: %w", path, err)
	}
	return NewEngine(ctx, Options{
		Entrypoint: entrypoint,
		Modules:    map[string]string{path: string(src)},
	})
}

// Entrypoint returns the decision path this engine evaluates.
func (e *Engine) Entrypoint() string {
	return e.entrypoint
}

// Evaluate executes the policy using the supplied input and converts the result.
// An undefined decision allows the request.
func (e *Engine) Evaluate(ctx context.Context, input Input) (Decision, error) {
	query := make(map[string]any, len(input.Query))
	for key, values := range input.Query {
		query[key] = append([]string(nil), values...)
	}

	payload := map[string]any{
		"method": input.Method,
		"path":   input.Path,
		"host":   input.Host,
		"query":  query,
	}

	results, err := e.query.Eval(ctx, rego.EvalInput(payload))
	if err != nil {
		return Decision{}, fmt.Errorf("opa decision: %w", err)
	}

	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return Decision{Action: ActionAllow, Status: http.StatusOK}, nil
	}

	decisionPayload, ok := results[0].Expressions[0].Value.(map[string]any)
	if !ok {
		return Decision{}, fmt.Errorf("opa decision: unexpected result type %T", results[0].Expressions[0].Value)
	}

	action, err := parseAction(decisionPayload["action"])
	if err != nil {
		return Decision{}, err
	}

	reason, _ := decisionPayload["reason"].(string)

	status, err := parseStatus(decisionPayload["status"], action)
	if err != nil {
		return Decision{}, err
	}

	return Decision{Action: action, Reason: reason, Status: status}, nil
}

func parseAction(value any) (Action, error) {
	if value == nil {
		return ActionAllow, nil
	}
	text, ok := value.(string)
	if !ok {
		return Action(""), fmt.Errorf("opa decision: action must be string, got %T", value)
	}
	switch Action(strings.ToLower(text)) {
	case ActionAllow:
		return ActionAllow, nil
	case ActionBlock:
		return ActionBlock, nil
	default:
		return Action(""), fmt.Errorf("opa decision: unknown action %q", text)
	}
}

func parseStatus(value any, action Action) (int, error) {
	fallback := http.StatusOK
	if action == ActionBlock {
		fallback = http.StatusForbidden
	}

	var status int
	switch v := value.(type) {
	case nil:
		return fallback, nil
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, fmt.Errorf("opa decision: status must be an integer: %w", err)
		}
		status = int(n)
	case float64:
		status = int(v)
	case int:
		status = v
	default:
		return 0, fmt.Errorf("opa decision: status must be a number, got %T", value)
	}

	if status < 100 || status > 599 {
		return 0, errors.New("opa decision: status out of range")
	}
	return status, nil
}
