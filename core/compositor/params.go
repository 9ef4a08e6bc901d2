package compositor

import (
	"fmt"
	"strconv"
	"sync"
)

// Param 有序参数中的一项
type Param struct {
	Name  string
	Value interface{}
}

// ParamSet 有序参数表，内置效果用它实现 UpdateParameter / CurrentParameters
type ParamSet struct {
	mu     sync.RWMutex
	order  []string
	values map[string]interface{}
}

// NewParamSet 按声明顺序创建参数表
func NewParamSet(defaults ...Param) *ParamSet {
	p := &ParamSet{values: make(map[string]interface{}, len(defaults))}
	for _, d := range defaults {
		p.order = append(p.order, d.Name)
		p.values[d.Name] = d.Value
	}
	return p
}

// Apply 批量设置，未知参数返回错误
func (p *ParamSet) Apply(params map[string]interface{}) error {
	for name, v := range params {
		if !p.Set(name, v) {
			return fmt.Errorf("unknown or invalid parameter %q", name)
		}
	}
	return nil
}

// Set 设置参数，类型与默认值不兼容时拒绝
func (p *ParamSet) Set(name string, value interface{}) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	old, ok := p.values[name]
	if !ok {
		return false
	}
	converted, ok := convertLike(old, value)
	if !ok {
		return false
	}
	p.values[name] = converted
	return true
}

// Float 读取数值参数
func (p *ParamSet) Float(name string) float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	f, _ := ToFloat(p.values[name])
	return f
}

// Bool 读取布尔参数
func (p *ParamSet) Bool(name string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	b, _ := p.values[name].(bool)
	return b
}

// String 读取字符串参数
func (p *ParamSet) String(name string) string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	s, _ := p.values[name].(string)
	return s
}

// Ordered 按声明顺序返回参数
func (p *ParamSet) Ordered() []Param {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Param, 0, len(p.order))
	for _, name := range p.order {
		out = append(out, Param{Name: name, Value: p.values[name]})
	}
	return out
}

// Map 参数快照
func (p *ParamSet) Map() map[string]interface{} {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]interface{}, len(p.values))
	for k, v := range p.values {
		out[k] = v
	}
	return out
}

func convertLike(old, value interface{}) (interface{}, bool) {
	switch old.(type) {
	case float64:
		f, ok := ToFloat(value)
		return f, ok
	case bool:
		b, ok := ToBool(value)
		return b, ok
	case string:
		s, ok := value.(string)
		return s, ok
	default:
		return value, true
	}
}

// ToFloat 把 YAML/JSON 中常见的数值表示转为 float64
func ToFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// ToBool 布尔转换，兼容 "true"/"1" 等字符串
func ToBool(v interface{}) (bool, bool) {
	switch b := v.(type) {
	case bool:
		return b, true
	case string:
		parsed, err := strconv.ParseBool(b)
		return parsed, err == nil
	case int:
		return b != 0, true
	case float64:
		return b != 0, true
	default:
		return false, false
	}
}
