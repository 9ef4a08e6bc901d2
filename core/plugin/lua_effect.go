package plugin

import (
	"context"
	"fmt"
	"sync"
	"time"

	"Pixmux/core/compositor"
	"Pixmux/model"

	lua "github.com/yuin/gopher-lua"
)

const (
	// luaCompileTimeout 脚本顶层代码的执行时限
	luaCompileTimeout = time.Second
	// luaDefaultBudget 没有帧预算时单帧的执行时限
	luaDefaultBudget = 100 * time.Millisecond
)

// LuaEffect 脚本效果
// 脚本定义全局函数 process(r, g, b, x, y, t)，返回新的 r, g, b（0..255）
type LuaEffect struct {
	baseEffect

	mu sync.Mutex
	L  *lua.LState
	fn *lua.LFunction
}

func NewLuaEffect() *LuaEffect {
	return &LuaEffect{baseEffect: newBaseEffect(EffectLua,
		compositor.Param{Name: "script", Value: ""},
		compositor.Param{Name: "mix", Value: 1.0},
	)}
}

// newLuaVM 只开放 base/table/string/math，并移除文件访问
func newLuaVM() *lua.LState {
	L := lua.NewState(lua.Options{
		SkipOpenLibs:        true,
		CallStackSize:       64,
		RegistrySize:        1024,
		MinimizeStackMemory: true,
	})
	for _, lib := range []struct {
		name string
		fn   lua.LGFunction
	}{
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	} {
		L.Push(L.NewFunction(lib.fn))
		L.Push(lua.LString(lib.name))
		L.Call(1, 0)
	}
	for _, name := range []string{"dofile", "loadfile", "require"} {
		L.SetGlobal(name, lua.LNil)
	}
	return L
}

// compile 编译脚本并取出 process 函数，失败时不影响当前脚本
func (e *LuaEffect) compile(src string) error {
	L := newLuaVM()
	ctx, cancel := context.WithTimeout(context.Background(), luaCompileTimeout)
	L.SetContext(ctx)
	err := L.DoString(src)
	L.RemoveContext()
	cancel()
	if err != nil {
		L.Close()
		return fmt.Errorf("lua: %w", err)
	}
	fn, ok := L.GetGlobal("process").(*lua.LFunction)
	if !ok {
		L.Close()
		return fmt.Errorf("lua: script must define function process(r, g, b, x, y, t)")
	}

	e.mu.Lock()
	old := e.L
	e.L, e.fn = L, fn
	e.mu.Unlock()
	if old != nil {
		old.Close()
	}
	return nil
}

func (e *LuaEffect) Initialize(params map[string]interface{}) error {
	if err := e.baseEffect.Initialize(params); err != nil {
		return err
	}
	return e.compile(e.params.String("script"))
}

// UpdateParameter 修改 script 时重新编译，编译失败返回 false 并保留原脚本
func (e *LuaEffect) UpdateParameter(name string, value interface{}) bool {
	if name == "script" {
		src, ok := value.(string)
		if !ok || e.compile(src) != nil {
			return false
		}
	}
	return e.params.Set(name, value)
}

func (e *LuaEffect) Process(frame *model.Frame, ctx *compositor.EffectContext) (*model.Frame, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.fn == nil {
		return nil, fmt.Errorf("lua: no script loaded")
	}

	mix := e.params.Float("mix")
	t := 0.0
	budget := luaDefaultBudget
	if ctx != nil {
		t = ctx.Time
		if ctx.Budget > 0 {
			budget = ctx.Budget
		}
	}

	// 整帧共用一个时限，超时的脚本在 VM 内被中断
	deadline, cancel := context.WithTimeout(context.Background(), budget)
	defer cancel()
	e.L.SetContext(deadline)
	defer e.L.RemoveContext()

	out := model.NewFrame(frame.Width, frame.Height)
	for y := 0; y < frame.Height; y++ {
		for x := 0; x < frame.Width; x++ {
			r, g, b := frame.At(x, y)
			err := e.L.CallByParam(lua.P{Fn: e.fn, NRet: 3, Protect: true},
				lua.LNumber(r), lua.LNumber(g), lua.LNumber(b),
				lua.LNumber(x), lua.LNumber(y), lua.LNumber(t))
			if err != nil {
				return nil, fmt.Errorf("lua: %w", err)
			}
			nb := luaChannel(e.L.Get(-1))
			ng := luaChannel(e.L.Get(-2))
			nr := luaChannel(e.L.Get(-3))
			e.L.Pop(3)
			out.Set(x, y,
				clampByte(float64(r)+(nr-float64(r))*mix),
				clampByte(float64(g)+(ng-float64(g))*mix),
				clampByte(float64(b)+(nb-float64(b))*mix))
		}
	}
	return out, nil
}

func luaChannel(v lua.LValue) float64 {
	if n, ok := v.(lua.LNumber); ok {
		return float64(n)
	}
	return 0
}

// Close 释放虚拟机
func (e *LuaEffect) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.L != nil {
		e.L.Close()
		e.L, e.fn = nil, nil
	}
	return nil
}
