package translate

import (
	"regexp"
	"strconv"
	"strings"

	lua "github.com/yuin/gopher-lua"
)

// Attribute helper functions for translation scripts

var whitespaceRegex = regexp.MustCompile(`\s+`)

// RegisterHelpers registers the helper functions as globals and under the
// shp2pbf table
func RegisterHelpers(L *lua.LState) {
	helpers := map[string]lua.LGFunction{
		// String helpers
		"trim":         luaTrim,
		"lower":        luaLower,
		"upper":        luaUpper,
		"clean_spaces": luaCleanSpaces,
		"truncate":     luaTruncate,

		// Type parsing
		"parse_int":    luaParseInt,
		"parse_real":   luaParseReal,
		"parse_bool":   luaParseBool,
		"parse_oneway": luaParseOneway,

		// Attribute tables
		"keep":   luaKeep,
		"rename": luaRename,
	}

	module := L.NewTable()
	module.RawSetString("version", lua.LString("1.0.0"))
	for name, fn := range helpers {
		f := L.NewFunction(fn)
		L.SetField(module, name, f)
		L.SetGlobal(name, f)
	}
	L.SetGlobal("shp2pbf", module)
}

// optString reads argument n as a string, nil reads as ""
func optString(L *lua.LState, n int) string {
	v := L.Get(n)
	if v == lua.LNil {
		return ""
	}
	return lua.LVAsString(v)
}

// luaTrim trims whitespace from a string
func luaTrim(L *lua.LState) int {
	L.Push(lua.LString(strings.TrimSpace(optString(L, 1))))
	return 1
}

// luaLower converts string to lowercase
func luaLower(L *lua.LState) int {
	L.Push(lua.LString(strings.ToLower(optString(L, 1))))
	return 1
}

// luaUpper converts string to uppercase
func luaUpper(L *lua.LState) int {
	L.Push(lua.LString(strings.ToUpper(optString(L, 1))))
	return 1
}

// luaCleanSpaces normalizes whitespace (collapse multiple spaces, trim)
func luaCleanSpaces(L *lua.LState) int {
	cleaned := whitespaceRegex.ReplaceAllString(optString(L, 1), " ")
	L.Push(lua.LString(strings.TrimSpace(cleaned)))
	return 1
}

// luaTruncate truncates string to max length in characters
func luaTruncate(L *lua.LState) int {
	s := optString(L, 1)
	maxLen := L.CheckInt(2)

	runes := []rune(s)
	if len(runes) <= maxLen {
		L.Push(lua.LString(s))
	} else {
		L.Push(lua.LString(string(runes[:maxLen])))
	}
	return 1
}

// luaParseInt parses a value to integer, returning the default (or nil) if it is not a number
func luaParseInt(L *lua.LState) int {
	s := strings.TrimSpace(optString(L, 1))
	if val, err := strconv.ParseInt(s, 10, 64); err == nil {
		L.Push(lua.LNumber(val))
	} else if fval, err := strconv.ParseFloat(s, 64); err == nil {
		L.Push(lua.LNumber(int64(fval)))
	} else {
		L.Push(L.Get(2))
	}
	return 1
}

// luaParseReal parses a value to float, returning the default (or nil) if it is not a number
func luaParseReal(L *lua.LState) int {
	s := strings.TrimSpace(optString(L, 1))
	if val, err := strconv.ParseFloat(s, 64); err == nil {
		L.Push(lua.LNumber(val))
	} else {
		L.Push(L.Get(2))
	}
	return 1
}

// luaParseBool parses the usual boolean spellings of shapefile attributes
func luaParseBool(L *lua.LState) int {
	switch strings.ToLower(strings.TrimSpace(optString(L, 1))) {
	case "yes", "true", "1", "on", "y", "t":
		L.Push(lua.LTrue)
	default:
		L.Push(lua.LFalse)
	}
	return 1
}

// luaParseOneway maps direction codes to OSM oneway values: "yes", "-1" or nil.
// Accepts yes/no spellings and the FT/TF codes of street network datasets.
func luaParseOneway(L *lua.LState) int {
	switch strings.ToLower(strings.TrimSpace(optString(L, 1))) {
	case "yes", "true", "1", "y", "ft":
		L.Push(lua.LString("yes"))
	case "-1", "reverse", "backward", "tf":
		L.Push(lua.LString("-1"))
	default:
		L.Push(lua.LNil)
	}
	return 1
}

// luaKeep returns a table with only the listed keys
// Usage: keep(attrs, {"name", "highway", "ref"})
func luaKeep(L *lua.LState) int {
	attrs := L.CheckTable(1)
	keepKeys := L.CheckTable(2)

	result := L.NewTable()
	keepKeys.ForEach(func(_, k lua.LValue) {
		if v := attrs.RawGet(k); v != lua.LNil {
			result.RawSet(k, v)
		}
	})

	L.Push(result)
	return 1
}

// luaRename returns a copy of attrs with keys renamed by the mapping table
// Usage: rename(attrs, {NAME = "name", RD_TYPE = "highway"})
func luaRename(L *lua.LState) int {
	attrs := L.CheckTable(1)
	mapping := L.CheckTable(2)

	result := L.NewTable()
	attrs.ForEach(func(k, v lua.LValue) {
		if to := mapping.RawGet(k); to.Type() == lua.LTString {
			k = to
		}
		result.RawSet(k, v)
	})

	L.Push(result)
	return 1
}
