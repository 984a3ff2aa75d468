package datasource

import (
	"context"
	"fmt"

	"github.com/strata3d/engine/internal/load"
	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
)

// ScriptSource generates records procedurally through a Lua script that
// defines a global generate_tile(tile) function returning an array of
// feature tables. Single-goroutine access only (update loop): the script
// runs synchronously and the completion is posted to the next tick.
type ScriptSource struct {
	vm    *lua.LState
	clock load.Clock
	log   *zap.Logger
}

// NewScriptSource creates a Lua VM and loads the generator script.
func NewScriptSource(scriptPath string, clock load.Clock, log *zap.Logger) (*ScriptSource, error) {
	vm := lua.NewState(lua.Options{
		SkipOpenLibs: false,
	})

	// Set API version global
	vm.SetGlobal("API_VERSION", lua.LNumber(1))

	if err := vm.DoFile(scriptPath); err != nil {
		vm.Close()
		return nil, fmt.Errorf("load %s: %w", scriptPath, err)
	}
	if vm.GetGlobal("generate_tile") == lua.LNil {
		vm.Close()
		return nil, fmt.Errorf("script %s defines no generate_tile function", scriptPath)
	}

	return &ScriptSource{vm: vm, clock: clock, log: log}, nil
}

func (s *ScriptSource) Fetch(_ context.Context, key load.ScopeKey, complete func(load.Result)) load.Operation {
	op := &operation{}
	records, err := s.generate(key)
	s.clock.Post(func() {
		op.done = true
		complete(load.Result{Records: records, Err: err})
	})
	return op
}

func (s *ScriptSource) generate(key load.ScopeKey) ([]load.Record, error) {
	fn := s.vm.GetGlobal("generate_tile")
	if fn == lua.LNil {
		return nil, fmt.Errorf("lua function generate_tile not found")
	}

	t := s.vm.NewTable()
	t.RawSetString("layer", lua.LString(key.Layer))
	t.RawSetString("level", lua.LNumber(key.Level))
	t.RawSetString("x", lua.LNumber(key.X))
	t.RawSetString("y", lua.LNumber(key.Y))

	if err := s.vm.CallByParam(lua.P{
		Fn:      fn,
		NRet:    1,
		Protect: true,
	}, t); err != nil {
		return nil, fmt.Errorf("lua generate_tile: %w", err)
	}

	result := s.vm.Get(-1)
	s.vm.Pop(1)

	rt, ok := result.(*lua.LTable)
	if !ok {
		return nil, fmt.Errorf("lua generate_tile returned non-table")
	}

	var records []load.Record
	rt.ForEach(func(_, v lua.LValue) {
		ft, ok := v.(*lua.LTable)
		if !ok {
			return
		}
		rec := load.Record{
			Key:  lStr(ft, "key"),
			Name: lStr(ft, "name"),
			Kind: lStr(ft, "kind"),
		}
		if props, ok := ft.RawGetString("properties").(*lua.LTable); ok {
			rec.Properties = luaToMap(props)
		}
		rec.Revision = Revision(rec.Properties)
		records = append(records, rec)
	})
	return records, nil
}

func (s *ScriptSource) Close() error {
	s.vm.Close()
	return nil
}

// lStr reads a string field from a Lua table.
func lStr(t *lua.LTable, key string) string {
	return lua.LVAsString(t.RawGetString(key))
}

// luaToMap converts a Lua table into a property map. Array parts become
// []any, hash parts map[string]any; numbers stay float64.
func luaToMap(t *lua.LTable) map[string]any {
	out := make(map[string]any)
	t.ForEach(func(k, v lua.LValue) {
		key := lua.LVAsString(k)
		out[key] = luaToValue(v)
	})
	return out
}

func luaToValue(v lua.LValue) any {
	switch lv := v.(type) {
	case lua.LBool:
		return bool(lv)
	case lua.LNumber:
		return float64(lv)
	case lua.LString:
		return string(lv)
	case *lua.LTable:
		if lv.Len() > 0 {
			arr := make([]any, 0, lv.Len())
			for i := 1; i <= lv.Len(); i++ {
				arr = append(arr, luaToValue(lv.RawGetInt(i)))
			}
			return arr
		}
		return luaToMap(lv)
	default:
		return nil
	}
}
