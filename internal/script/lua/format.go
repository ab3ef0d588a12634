package lua

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	lua "github.com/yuin/gopher-lua"
)

// maxFormatDepth limits how deep nested tables are rendered.
const maxFormatDepth = 3

// Format renders a Lua value for display. Strings are quoted, tables are
// rendered with sorted keys up to a fixed depth, and cycles are marked.
func Format(lv lua.LValue) string {
	var b strings.Builder
	formatValue(&b, lv, 0, make(map[*lua.LTable]bool))
	return b.String()
}

func formatValue(b *strings.Builder, lv lua.LValue, depth int, visited map[*lua.LTable]bool) {
	switch v := lv.(type) {
	case nil:
		b.WriteString("nil")
	case lua.LString:
		b.WriteString(strconv.Quote(string(v)))
	case lua.LNumber:
		f := float64(v)
		if f == float64(int64(f)) {
			b.WriteString(strconv.FormatInt(int64(f), 10))
		} else {
			b.WriteString(v.String())
		}
	case *lua.LTable:
		formatTable(b, v, depth, visited)
	default:
		b.WriteString(lv.String())
	}
}

func formatTable(b *strings.Builder, t *lua.LTable, depth int, visited map[*lua.LTable]bool) {
	if visited[t] {
		b.WriteString("<cycle>")
		return
	}
	if depth >= maxFormatDepth {
		b.WriteString("{...}")
		return
	}
	visited[t] = true
	defer delete(visited, t)

	b.WriteString("{")
	n := t.Len()
	for i := 1; i <= n; i++ {
		if i > 1 {
			b.WriteString(", ")
		}
		formatValue(b, t.RawGetInt(i), depth+1, visited)
	}

	type field struct {
		key   string
		value lua.LValue
	}
	var fields []field
	t.ForEach(func(k, v lua.LValue) {
		if kn, ok := k.(lua.LNumber); ok {
			i := int(kn)
			if float64(i) == float64(kn) && i >= 1 && i <= n {
				return
			}
		}
		var key string
		switch kv := k.(type) {
		case lua.LString:
			key = string(kv)
		default:
			key = fmt.Sprintf("[%s]", Format(k))
		}
		fields = append(fields, field{key, v})
	})
	sort.Slice(fields, func(i, j int) bool { return fields[i].key < fields[j].key })

	for i, f := range fields {
		if i > 0 || n > 0 {
			b.WriteString(", ")
		}
		b.WriteString(f.key)
		b.WriteString(" = ")
		formatValue(b, f.value, depth+1, visited)
	}
	b.WriteString("}")
}
