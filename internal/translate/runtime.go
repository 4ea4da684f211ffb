package translate

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"github.com/wegman-software/shp2pbf-go/internal/feature"
)

// ErrNoTranslate is returned when a script does not define translate()
var ErrNoTranslate = errors.New("script does not define a translate function")

// Runtime runs a Lua translation script over feature attributes.
//
// The script defines a global function
//
//	function translate(attrs, id)
//		attrs.highway = lower(attrs.TYPE)
//		attrs.TYPE = nil
//		return attrs
//	end
//
// and returns the attributes to keep, or nil to drop the feature.
// A Runtime is not safe for concurrent use.
type Runtime struct {
	L         *lua.LState
	log       *zap.Logger
	translate lua.LValue
}

// NewRuntime creates a Lua state with the helper functions registered.
// print() output goes to log at debug level.
func NewRuntime(log *zap.Logger) *Runtime {
	L := lua.NewState(lua.Options{
		SkipOpenLibs: false,
	})

	r := &Runtime{L: L, log: log}
	RegisterHelpers(L)
	L.SetGlobal("print", L.NewFunction(r.luaPrint))
	return r
}

// Close releases Lua resources
func (r *Runtime) Close() {
	r.L.Close()
}

// LoadFile loads and executes a Lua translation file
func (r *Runtime) LoadFile(path string) error {
	if err := r.L.DoFile(path); err != nil {
		return fmt.Errorf("failed to load Lua file: %w", err)
	}
	return r.extractCallback()
}

// LoadString loads and executes Lua code from a string (for testing)
func (r *Runtime) LoadString(code string) error {
	if err := r.L.DoString(code); err != nil {
		return fmt.Errorf("failed to load Lua code: %w", err)
	}
	return r.extractCallback()
}

func (r *Runtime) extractCallback() error {
	fn := r.L.GetGlobal("translate")
	if fn.Type() != lua.LTFunction {
		return ErrNoTranslate
	}
	r.translate = fn
	return nil
}

// Translate passes attrs to the script. ok is false when the script dropped
// the feature. Attributes keep their input order; keys added by the script
// follow in key order.
func (r *Runtime) Translate(featureID string, attrs []feature.Attribute) (result []feature.Attribute, ok bool, err error) {
	if r.translate == nil {
		return attrs, true, nil
	}

	in := r.L.NewTable()
	for _, attr := range attrs {
		if v := toLua(attr.Value); v != lua.LNil {
			in.RawSetString(attr.Name, v)
		}
	}

	if err := r.L.CallByParam(lua.P{
		Fn:      r.translate,
		NRet:    1,
		Protect: true,
	}, in, lua.LString(featureID)); err != nil {
		return nil, false, fmt.Errorf("translate feature %s: %w", featureID, err)
	}

	ret := r.L.Get(-1)
	r.L.Pop(1)

	switch out := ret.(type) {
	case *lua.LNilType:
		return nil, false, nil
	case lua.LBool:
		if !bool(out) {
			return nil, false, nil
		}
		return attrs, true, nil
	case *lua.LTable:
		return fromLua(out, attrs), true, nil
	default:
		return nil, false, fmt.Errorf("translate feature %s: expected table or nil, got %s", featureID, ret.Type())
	}
}

// toLua converts an attribute value. Nil values have no Lua representation
// and are left out of the table.
func toLua(v interface{}) lua.LValue {
	switch val := v.(type) {
	case nil:
		return lua.LNil
	case string:
		return lua.LString(val)
	case bool:
		return lua.LBool(val)
	case int:
		return lua.LNumber(val)
	case int32:
		return lua.LNumber(val)
	case int64:
		return lua.LNumber(val)
	case float32:
		return lua.LNumber(val)
	case float64:
		return lua.LNumber(val)
	case time.Time:
		return lua.LString(val.Format("2006-01-02"))
	default:
		return lua.LString(fmt.Sprint(val))
	}
}

// fromLua reads the returned table back into attributes
func fromLua(tbl *lua.LTable, in []feature.Attribute) []feature.Attribute {
	values := make(map[string]interface{})
	tbl.ForEach(func(key, value lua.LValue) {
		if key.Type() != lua.LTString {
			return
		}
		switch v := value.(type) {
		case lua.LString:
			values[string(key.(lua.LString))] = string(v)
		case lua.LNumber:
			values[string(key.(lua.LString))] = float64(v)
		case lua.LBool:
			values[string(key.(lua.LString))] = bool(v)
		}
	})

	result := make([]feature.Attribute, 0, len(values))
	for _, attr := range in {
		if v, ok := values[attr.Name]; ok {
			result = append(result, feature.Attribute{Name: attr.Name, Value: v})
			delete(values, attr.Name)
		}
	}

	added := make([]string, 0, len(values))
	for k := range values {
		added = append(added, k)
	}
	sort.Strings(added)
	for _, k := range added {
		result = append(result, feature.Attribute{Name: k, Value: values[k]})
	}
	return result
}

func (r *Runtime) luaPrint(L *lua.LState) int {
	n := L.GetTop()
	parts := make([]string, 0, n)
	for i := 1; i <= n; i++ {
		parts = append(parts, L.ToStringMeta(L.Get(i)).String())
	}
	r.log.Debug("Lua print", zap.String("message", strings.Join(parts, " ")))
	return 0
}
