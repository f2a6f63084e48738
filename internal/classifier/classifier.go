package classifier

import (
	"fmt"

	"github.com/taskbridge/taskbridge/constants"
)

// Classify inspects a remote job snapshot and derives a canonical state.
//
// Every configured status field that is present in the snapshot is
// classified, in the configured field order; when two fields disagree the
// later field's result stands. A field whose value matches no pattern leaves
// the previous result untouched. Returns ok=false when no field produced a
// classification, which callers must treat as "keep the stored state".
func Classify(snapshot map[string]any, rs *RuleSet) (constants.TaskState, bool) {
	var state constants.TaskState
	var ok bool
	for _, field := range rs.statusFields {
		v, present := snapshot[field]
		if !present {
			continue
		}
		if s, matched := rs.Match(stringify(v)); matched {
			state, ok = s, true
		}
	}
	return state, ok
}

func stringify(v any) string {
	if s, isStr := v.(string); isStr {
		return s
	}
	return fmt.Sprintf("%v", v)
}
