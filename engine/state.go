package engine

import (
	"reflect"
	"sort"

	"github.com/smallnest/runflow/store"
)

func cloneMap(m map[string]any) map[string]any {
	return store.CloneState(m)
}

// statesEqual is the convergence-detection equality: full structural
// comparison of two state snapshots. Comparing the whole state (rather
// than only declared output keys) means "no progress" is declared only
// when literally nothing in the run state moved between two visits to
// the same node.
func statesEqual(a, b map[string]any) bool {
	return reflect.DeepEqual(a, b)
}

// mergeDelta applies a tool delta to the state in place. Declared output
// keys overwrite existing keys; undeclared keys are merged anyway
// (lenient merge) and returned so the caller can log them.
func mergeDelta(state, delta map[string]any, declared []string) []string {
	declaredSet := make(map[string]bool, len(declared))
	for _, k := range declared {
		declaredSet[k] = true
	}

	var undeclared []string
	for k, v := range delta {
		if !declaredSet[k] {
			undeclared = append(undeclared, k)
		}
		state[k] = v
	}
	sort.Strings(undeclared)
	return undeclared
}
