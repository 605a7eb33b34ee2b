package filter

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/cel-go/cel"
	"github.com/maxpert/topocorr/cfg"
	"github.com/maxpert/topocorr/item"
	"github.com/rs/zerolog"
)

// ScriptProgram is a compiled boolean expression
type ScriptProgram interface {
	Eval(vars map[string]any) (bool, error)
}

// ScriptEngine compiles expressions that may reference the named variables
type ScriptEngine func(expr string, vars ...string) (ScriptProgram, error)

var (
	scriptEngines  = map[string]ScriptEngine{"cel": compileCEL}
	scriptEngineMu sync.RWMutex
)

// RegisterScriptEngine makes an expression language available by name
func RegisterScriptEngine(language string, engine ScriptEngine) {
	scriptEngineMu.Lock()
	defer scriptEngineMu.Unlock()
	scriptEngines[strings.ToLower(language)] = engine
}

// CompileScript compiles expr with the engine registered for language
func CompileScript(language, expr string, vars ...string) (ScriptProgram, error) {
	if language == "" {
		language = "cel"
	}
	scriptEngineMu.RLock()
	engine, ok := scriptEngines[strings.ToLower(language)]
	scriptEngineMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown script language: %s", language)
	}
	return engine(expr, vars...)
}

type celProgram struct {
	prg cel.Program
}

func compileCEL(expr string, vars ...string) (ScriptProgram, error) {
	opts := make([]cel.EnvOption, 0, len(vars))
	for _, v := range vars {
		opts = append(opts, cel.Variable(v, cel.DynType))
	}
	env, err := cel.NewEnv(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	ast, iss := env.Compile(expr)
	if iss != nil && iss.Err() != nil {
		return nil, fmt.Errorf("failed to compile expression: %w", iss.Err())
	}
	switch out := ast.OutputType().String(); out {
	case "bool", "dyn":
	default:
		return nil, fmt.Errorf("expression must be boolean, got %s", out)
	}

	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to build program: %w", err)
	}
	return &celProgram{prg: prg}, nil
}

// Eval implements ScriptProgram
func (p *celProgram) Eval(vars map[string]any) (bool, error) {
	out, _, err := p.prg.Eval(vars)
	if err != nil {
		return false, err
	}
	b, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("expression returned %T, expected bool", out.Value())
	}
	return b, nil
}

// ScriptFiltrator keeps items for which the expression evaluates to true.
// The expression sees `value` (the leaf, null when absent) and `item` (the
// payload). An evaluation error means the script does not fit the data: it
// is reported once as a configuration error and the item is excluded.
type ScriptFiltrator struct {
	field   item.Field
	program ScriptProgram
	logger  zerolog.Logger

	failed   atomic.Bool
	firstErr atomic.Pointer[error]
}

func newScriptFiltrator(conf cfg.FilterConfiguration, field item.Field, logger zerolog.Logger) (Filtrator, error) {
	if conf.Script == nil || strings.TrimSpace(*conf.Script) == "" {
		return nil, configError(conf.Kind, "script is required", nil)
	}
	prg, err := CompileScript(conf.Language, *conf.Script, "value", "item")
	if err != nil {
		return nil, configError(conf.Kind, "bad script", err)
	}
	return &ScriptFiltrator{field: field, program: prg, logger: logger}, nil
}

// IsFiltered implements Filtrator
func (f *ScriptFiltrator) IsFiltered(u *item.UnderlayItem) bool {
	v, _ := f.field.Value(u)
	var payload map[string]any
	if u != nil {
		payload = u.Item
	}
	if payload == nil {
		payload = map[string]any{}
	}

	ok, err := f.program.Eval(map[string]any{"value": v, "item": payload})
	if err != nil {
		if f.failed.CompareAndSwap(false, true) {
			f.firstErr.Store(&err)
			f.logger.Error().Err(err).Msg("Script filter cannot evaluate items; fix the filter configuration")
		}
		return true
	}
	return !ok
}

// Err returns the first evaluation error, if any
func (f *ScriptFiltrator) Err() error {
	if p := f.firstErr.Load(); p != nil {
		return *p
	}
	return nil
}
