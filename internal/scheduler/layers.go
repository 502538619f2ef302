package scheduler

// Layers partitions an already sorted task list into dispatch layers.
// Layer 0 holds every task with no dependency inside the list; layer k holds
// the tasks whose in-list dependencies all sit in layers 0..k-1. Dependencies
// outside the list are left to the per-task eligibility check.
//
// order must be a valid topological order (as returned by Sort). Tasks keep
// their relative order within a layer.
func Layers(order []Task) [][]Task {
	if len(order) == 0 {
		return nil
	}

	level := make(map[string]int, len(order))
	for _, t := range order {
		level[Key(t.ID)] = -1
	}

	var layers [][]Task
	for _, t := range order {
		l := 0
		for _, dep := range t.Dependencies {
			dl, inList := level[Key(dep)]
			if !inList {
				continue
			}
			if dl+1 > l {
				l = dl + 1
			}
		}
		level[Key(t.ID)] = l

		for len(layers) <= l {
			layers = append(layers, nil)
		}
		layers[l] = append(layers[l], t)
	}
	return layers
}
