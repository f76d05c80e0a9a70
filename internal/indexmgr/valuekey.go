package indexmgr

import (
	"fmt"
	"sort"
	"strings"

	"github.com/emberdb/ember/internal/types"
)

// valueKeyString renders a types.Value into a string suitable for use as a
// map key, canonical enough that two structurally-equal values (per
// types.Equal) always render identically.
func valueKeyString(v types.Value) string {
	switch v.Kind() {
	case types.KindNull:
		return "n:"
	case types.KindBool:
		return fmt.Sprintf("b:%t", v.AsBool())
	case types.KindInt, types.KindFloat:
		return fmt.Sprintf("f:%v", v.AsFloat())
	case types.KindString:
		return "s:" + v.AsString()
	case types.KindTime:
		return fmt.Sprintf("t:%d", v.AsTime().UnixNano())
	case types.KindList:
		parts := make([]string, len(v.AsList()))
		for i, e := range v.AsList() {
			parts[i] = valueKeyString(e)
		}
		return "l:[" + strings.Join(parts, ",") + "]"
	case types.KindMap:
		m := v.AsMap()
		keys := make([]string, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = k + "=" + valueKeyString(m[k])
		}
		return "m:{" + strings.Join(parts, ",") + "}"
	default:
		return ""
	}
}
