package hooks

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	lua "github.com/yuin/gopher-lua"

	"github.com/jg-phare/taskcore/pkg/types"
)

// LuaHandler runs hook callbacks defined in a Lua script. The script declares
// global functions named after events:
//
//	function onToolCalled(event, ctx)
//	  if event.tool == "power/bash" and string.find(event.args.command, "rm -rf") then
//	    return false
//	  end
//	end
//
// The LState is not goroutine-safe; calls are serialized.
type LuaHandler struct {
	name   string
	path   string
	events map[EventName]bool

	mu     sync.Mutex
	L      *lua.LState
	closed bool
}

// LoadLuaHandler compiles and runs the script once in a fresh sandboxed
// state, then records which event functions it defines.
func LoadLuaHandler(path string) (*LuaHandler, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	openSafeLibraries(L)
	sandbox(L)

	if err := doWithRecovery(func() error { return L.DoString(string(src)) }); err != nil {
		L.Close()
		return nil, err
	}

	h := &LuaHandler{
		name:   strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
		path:   path,
		events: make(map[EventName]bool),
		L:      L,
	}
	for _, ev := range AllEvents {
		if fn := L.GetGlobal(string(ev)); fn.Type() == lua.LTFunction {
			h.events[ev] = true
		}
	}
	if len(h.events) == 0 {
		L.Close()
		return nil, fmt.Errorf("no event functions defined")
	}
	return h, nil
}

func (h *LuaHandler) Name() string { return h.name }

// Path returns the script the handler was loaded from.
func (h *LuaHandler) Path() string { return h.path }

func (h *LuaHandler) Handles(event EventName) bool { return h.events[event] }

// Handle calls the event function with the payload and a context table.
func (h *LuaHandler) Handle(ctx context.Context, event Event, hc Context) (Result, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return Result{}, ErrHandlerClosed
	}

	L := h.L
	fn := L.GetGlobal(string(event.Name))
	if fn.Type() != lua.LTFunction {
		return Continue(nil), nil
	}

	L.SetContext(ctx)
	defer L.RemoveContext()

	top := L.GetTop()
	L.Push(fn)
	L.Push(toLua(L, event.Data))
	L.Push(contextTable(ctx, L, hc))

	err := doWithRecovery(func() error { return L.PCall(2, 1, nil) })
	if err != nil {
		L.SetTop(top)
		return Result{}, err
	}

	ret := L.Get(-1)
	L.SetTop(top)
	return FromValue(event.Name, toGo(ret)), nil
}

// Close releases the Lua state.
func (h *LuaHandler) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.closed {
		h.L.Close()
		h.closed = true
	}
}

var _ Handler = (*LuaHandler)(nil)

// openSafeLibraries opens base, table, string and math. io, os, debug and
// package stay closed.
func openSafeLibraries(L *lua.LState) {
	lua.OpenBase(L)
	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)
}

// sandbox removes the base functions that load code from disk or strings.
func sandbox(L *lua.LState) {
	for _, name := range []string{"dofile", "loadfile", "load", "loadstring", "require", "module"} {
		L.SetGlobal(name, lua.LNil)
	}
}

func doWithRecovery(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("lua panic: %v", r)
		}
	}()
	return fn()
}

// contextTable exposes the task accessors to the script.
func contextTable(ctx context.Context, L *lua.LState, hc Context) *lua.LTable {
	t := L.NewTable()
	if hc == nil {
		return t
	}
	L.SetField(t, "taskId", L.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LString(hc.TaskID()))
		return 1
	}))
	L.SetField(t, "projectDir", L.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LString(hc.ProjectDir()))
		return 1
	}))
	L.SetField(t, "history", L.NewFunction(func(L *lua.LState) int {
		msgs := hc.History()
		arr := L.NewTable()
		for i, m := range msgs {
			arr.RawSetInt(i+1, toLua(L, messageData(m)))
		}
		L.Push(arr)
		return 1
	}))
	L.SetField(t, "readFile", L.NewFunction(func(L *lua.LState) int {
		content, err := hc.ReadFile(L.CheckString(1))
		if err != nil {
			L.Push(lua.LNil)
			L.Push(lua.LString(err.Error()))
			return 2
		}
		L.Push(lua.LString(content))
		return 1
	}))
	L.SetField(t, "runCommand", L.NewFunction(func(L *lua.LState) int {
		out, err := hc.RunCommand(ctx, L.CheckString(1))
		L.Push(lua.LString(out))
		if err != nil {
			L.Push(lua.LString(err.Error()))
			return 2
		}
		return 1
	}))
	L.SetField(t, "log", L.NewFunction(func(L *lua.LState) int {
		level := slog.LevelInfo
		switch strings.ToLower(L.CheckString(1)) {
		case "debug":
			level = slog.LevelDebug
		case "warn", "warning":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		}
		hc.Log(level, L.CheckString(2))
		return 0
	}))
	return t
}

// messageData flattens a history message for scripts.
func messageData(m types.ContextMessage) map[string]any {
	d := map[string]any{
		"id":      m.ID,
		"kind":    string(m.Kind),
		"content": m.Content,
	}
	if m.Tool != nil {
		d["tool"] = map[string]any{
			"id":       m.Tool.CallID,
			"key":      m.Tool.Key(),
			"args":     m.Tool.Args,
			"response": m.Tool.Response,
			"status":   string(m.Tool.Status),
		}
	}
	return d
}

// toLua converts JSON-like Go values to Lua values.
func toLua(L *lua.LState, v any) lua.LValue {
	switch val := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(val)
	case int:
		return lua.LNumber(val)
	case int64:
		return lua.LNumber(val)
	case float64:
		return lua.LNumber(val)
	case string:
		return lua.LString(val)
	case []string:
		t := L.NewTable()
		for i, s := range val {
			t.RawSetInt(i+1, lua.LString(s))
		}
		return t
	case []any:
		t := L.NewTable()
		for i, e := range val {
			t.RawSetInt(i+1, toLua(L, e))
		}
		return t
	case map[string]any:
		t := L.NewTable()
		for k, e := range val {
			t.RawSetString(k, toLua(L, e))
		}
		return t
	case map[string]string:
		t := L.NewTable()
		for k, s := range val {
			t.RawSetString(k, lua.LString(s))
		}
		return t
	default:
		return lua.LString(fmt.Sprint(val))
	}
}

// toGo converts a Lua value back to a JSON-like Go value. Tables with
// contiguous integer keys become slices, other tables become maps.
func toGo(lv lua.LValue) any {
	return toGoVisited(lv, make(map[*lua.LTable]bool))
}

func toGoVisited(lv lua.LValue, visited map[*lua.LTable]bool) any {
	switch v := lv.(type) {
	case lua.LBool:
		return bool(v)
	case lua.LNumber:
		f := float64(v)
		if f == float64(int64(f)) {
			return int64(f)
		}
		return f
	case lua.LString:
		return string(v)
	case *lua.LTable:
		if visited[v] {
			return nil
		}
		visited[v] = true
		return tableToGo(v, visited)
	default:
		return nil
	}
}

func tableToGo(t *lua.LTable, visited map[*lua.LTable]bool) any {
	n := t.Len()
	count := 0
	t.ForEach(func(_, _ lua.LValue) { count++ })

	if n > 0 && n == count {
		arr := make([]any, n)
		for i := 1; i <= n; i++ {
			arr[i-1] = toGoVisited(t.RawGetInt(i), visited)
		}
		return arr
	}

	m := make(map[string]any, count)
	t.ForEach(func(k, v lua.LValue) {
		m[k.String()] = toGoVisited(v, visited)
	})
	return m
}
