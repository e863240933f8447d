package schema

import "strings"

// deletePath removes the nested field named by a dot-path from the
// generic map form of a blob. A missing intermediate is a silent
// no-op: the field the TTL governed is already gone, which is exactly
// the state the policy asks for.
func deletePath(m map[string]interface{}, path string) {
	segments := strings.Split(path, ".")
	cur := m
	for i, seg := range segments {
		if i == len(segments)-1 {
			delete(cur, seg)
			return
		}
		next, ok := cur[seg].(map[string]interface{})
		if !ok {
			return
		}
		cur = next
	}
}
