// Package script runs tengo hooks attached to trigger volumes.
//
// A hook script defines a function
//
//	on_trigger := func(engine, state) { ... }
//
// engine exposes emit(name), stop(), trigger_name, hit_by and tag. state is
// a map that persists across runs of the same script.
package script

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/d5/tengo/v2"
	"github.com/d5/tengo/v2/stdlib"
)

var ErrNoLoader = errors.New("script: no loader")

const dispatchScript = `
if is_callable(on_trigger) {
	on_trigger(__engine, __state)
}
`

// Hook describes the trigger firing that a script reacts to.
type Hook struct {
	TriggerName string
	HitBy       uint64
	Tag         string
}

// Outcome is what a script asked for while it ran.
type Outcome struct {
	Emitted []string
	Stop    bool
}

// Loader returns the source of a named script.
type Loader func(name string) ([]byte, error)

type compiledScript struct {
	compiled *tengo.Compiled
	state    *tengo.Map
}

// Runtime compiles scripts on first use and caches them by name. It is safe
// for concurrent use; runs of the same script are serialised.
type Runtime struct {
	load Loader

	mu    sync.Mutex
	cache map[string]*compiledScript
}

func NewRuntime(load Loader) *Runtime {
	return &Runtime{load: load, cache: make(map[string]*compiledScript)}
}

// Run executes the named script for hook.
func (r *Runtime) Run(name string, hook Hook) (Outcome, error) {
	var out Outcome
	if r == nil || r.load == nil {
		return out, ErrNoLoader
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	sc, err := r.get(name)
	if err != nil {
		return out, err
	}
	if err := sc.compiled.Set("__engine", buildEngine(hook, &out)); err != nil {
		return out, fmt.Errorf("script: bind %s: %w", name, err)
	}
	if err := sc.compiled.Set("__state", sc.state); err != nil {
		return out, fmt.Errorf("script: bind %s: %w", name, err)
	}
	if err := sc.compiled.Run(); err != nil {
		return out, fmt.Errorf("script: run %s: %w", name, err)
	}
	return out, nil
}

// Invalidate drops a cached script so the next run recompiles it. Script
// state is discarded with it.
func (r *Runtime) Invalidate(name string) {
	if r == nil {
		return
	}
	r.mu.Lock()
	delete(r.cache, cleanName(name))
	r.mu.Unlock()
}

func (r *Runtime) InvalidateAll() {
	if r == nil {
		return
	}
	r.mu.Lock()
	r.cache = make(map[string]*compiledScript)
	r.mu.Unlock()
}

func (r *Runtime) get(name string) (*compiledScript, error) {
	key := cleanName(name)
	if sc, ok := r.cache[key]; ok {
		return sc, nil
	}

	src, err := r.load(key)
	if err != nil {
		return nil, fmt.Errorf("script: load %s: %w", key, err)
	}

	script := tengo.NewScript([]byte(string(src) + "\n" + dispatchScript))
	_ = script.Add("__engine", map[string]any{})
	_ = script.Add("__state", map[string]any{})
	script.SetImports(stdlib.GetModuleMap(stdlib.AllModuleNames()...))

	compiled, err := script.Compile()
	if err != nil {
		return nil, fmt.Errorf("script: compile %s: %w", key, err)
	}

	sc := &compiledScript{
		compiled: compiled,
		state:    &tengo.Map{Value: map[string]tengo.Object{}},
	}
	r.cache[key] = sc
	return sc, nil
}

func buildEngine(hook Hook, out *Outcome) *tengo.ImmutableMap {
	values := map[string]tengo.Object{
		"trigger_name": &tengo.String{Value: hook.TriggerName},
		"hit_by":       &tengo.Int{Value: int64(hook.HitBy)},
		"tag":          &tengo.String{Value: hook.Tag},
	}

	values["emit"] = &tengo.UserFunction{Name: "emit", Value: func(args ...tengo.Object) (tengo.Object, error) {
		if len(args) < 1 {
			return tengo.FalseValue, nil
		}
		name := strings.TrimSpace(objectAsString(args[0]))
		if name == "" {
			return tengo.FalseValue, nil
		}
		out.Emitted = append(out.Emitted, name)
		return tengo.TrueValue, nil
	}}

	values["stop"] = &tengo.UserFunction{Name: "stop", Value: func(args ...tengo.Object) (tengo.Object, error) {
		out.Stop = true
		return tengo.TrueValue, nil
	}}

	return &tengo.ImmutableMap{Value: values}
}

func objectAsString(obj tengo.Object) string {
	if obj == nil {
		return ""
	}
	switch v := obj.(type) {
	case *tengo.String:
		return v.Value
	default:
		return strings.Trim(v.String(), "\"")
	}
}

func cleanName(name string) string {
	s := strings.TrimSpace(name)
	s = strings.TrimPrefix(s, "scripts/")
	if !strings.HasSuffix(s, ".tengo") {
		s += ".tengo"
	}
	return s
}
