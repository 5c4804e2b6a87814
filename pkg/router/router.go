// Package router assembles a node's input bundle from the recorded outputs of its upstream nodes.
package router

import (
	"github.com/dukex/canvasflow/pkg/models"
)

// BuildInputs places the output of every edge source under the edge's target
// handle, or "default" when the edge declares none. Edges are applied in the
// order given, so when several edges feed the same handle the last one wins.
// Sources without a recorded output are skipped. The returned bundle shares
// nothing with outputs.
func BuildInputs(incoming []models.Edge, outputs map[string]map[string]any) map[string]any {
	inputs := make(map[string]any, len(incoming))

	for _, edge := range incoming {
		out, ok := outputs[edge.Source]
		if !ok {
			continue
		}

		inputs[edge.InputKey()] = models.CloneMap(out)
	}

	return inputs
}

// Shadowed returns, per handle, the sources whose output was overwritten by a
// later edge into the same handle.
func Shadowed(incoming []models.Edge) map[string][]string {
	last := make(map[string]int, len(incoming))
	for i, edge := range incoming {
		last[edge.InputKey()] = i
	}

	var shadowed map[string][]string

	for i, edge := range incoming {
		key := edge.InputKey()
		if last[key] == i {
			continue
		}

		if shadowed == nil {
			shadowed = make(map[string][]string)
		}

		shadowed[key] = append(shadowed[key], edge.Source)
	}

	return shadowed
}
