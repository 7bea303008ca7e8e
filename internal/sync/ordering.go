package sync

// OrderByManager returns targets reordered so that every manager in the batch comes before its reports.
// Targets whose manager is outside the batch keep their relative order, and a management cycle is
// broken at the first target of the cycle in input order.
func OrderByManager(targets []Target) []Target {
	index := make(map[string]int, len(targets))
	for i, t := range targets {
		if _, ok := index[t.ID]; !ok {
			index[t.ID] = i
		}
	}

	const (
		unvisited = iota
		visiting
		done
	)
	marks := make([]int, len(targets))
	ordered := make([]Target, 0, len(targets))

	var visit func(i int)
	visit = func(i int) {
		if marks[i] != unvisited {
			return
		}
		marks[i] = visiting
		if j, ok := index[targets[i].ManagerID]; ok && j != i {
			visit(j)
		}
		marks[i] = done
		ordered = append(ordered, targets[i])
	}

	for i := range targets {
		visit(i)
	}
	return ordered
}
