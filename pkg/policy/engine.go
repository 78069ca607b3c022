package policy

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"

	"github.com/polisai/proxydrop/pkg/domain"
)

//go:embed scope.rego
var defaultModule string

// DefaultEntrypoint is the decision path evaluated for every proxy command.
const DefaultEntrypoint = "proxydrop/scope/allow"

// DefaultModules returns the built-in scope module.
func DefaultModules() map[string]string {
	return map[string]string{"scope.rego": defaultModule}
}

// EngineOptions control OPA engine construction.
type EngineOptions struct {
	// Entrypoint is the decision path (e.g. "proxydrop/scope/allow").
	Entrypoint string
	// Modules contains the Rego modules loaded into the engine. Empty selects
	// DefaultModules.
	Modules map[string]string
}

// Engine evaluates the scope decision using an embedded OPA instance. The
// query is prepared once, so Allow is safe for concurrent use.
type Engine struct {
	entrypoint string
	query      rego.PreparedEvalQuery
}

// NewEngine parses and compiles the modules and prepares the entrypoint query.
func NewEngine(ctx context.Context, opts EngineOptions) (*Engine, error) {
	entry := strings.TrimSpace(opts.Entrypoint)
	if entry == "" {
		entry = DefaultEntrypoint
	}

	modules := opts.Modules
	if len(modules) == 0 {
		modules = DefaultModules()
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
			return nil, fmt.Errorf("%w: parse rego module %q: %w", domain.ErrConfigInvalid, name, err)
		}
		regoOpts = append(regoOpts, rego.ParsedModule(module))
	}

	prepared, err := rego.New(regoOpts...).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: compile rego modules: %w", domain.ErrConfigInvalid, err)
	}

	return &Engine{entrypoint: entry, query: prepared}, nil
}

// Entrypoint returns the decision path the engine evaluates.
func (e *Engine) Entrypoint() string {
	return e.entrypoint
}

// Allow reports whether a proxy command may run in the given channel. An
// undefined decision or a non-boolean result is an error; callers treat
// errors as a denial.
func (e *Engine) Allow(ctx context.Context, channel domain.ChannelRef) (bool, error) {
	input := map[string]any{
		"channel": map[string]any{
			"kind": channel.Kind.String(),
			"name": channel.Name,
		},
	}

	results, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return false, fmt.Errorf("opa decision: %w", err)
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return false, errUndefinedDecision
	}

	allowed, ok := results[0].Expressions[0].Value.(bool)
	if !ok {
		return false, fmt.Errorf("opa decision: unexpected result type %T", results[0].Expressions[0].Value)
	}
	return allowed, nil
}

var errUndefinedDecision = errors.New("opa decision: undefined result")
