package importer

import "sort"

// depthInfo holds the dependency-ordering result for one item batch.
type depthInfo struct {
	depths []int
	cyclic []bool
}

// computeDepths builds a depth map over item-to-item parent edges. The
// depth of an item is 1 + depth(parent) when the parent is itself an item
// in the batch, else 0 (container and external parents are depth-0 by
// definition).
//
// Cycles must not crash or loop: in-progress DFS paths are tracked in
// dense arrays indexed by item position, and when an item is revisited
// while still on the current path, every node in the cyclic suffix is
// marked a cycle member and treated as a root (depth 0).
func computeDepths(items []PlanItem) depthInfo {
	n := len(items)
	index := make(map[string]int, n)
	for i := range items {
		index[items[i].TempID] = i
	}

	const (
		white = iota // unvisited
		gray         // on the current DFS path
		black        // finished
	)

	info := depthInfo{
		depths: make([]int, n),
		cyclic: make([]bool, n),
	}
	state := make([]uint8, n)
	path := make([]int, 0, n)

	var visit func(i int) int
	visit = func(i int) int {
		switch state[i] {
		case black:
			return info.depths[i]
		case gray:
			// Revisited while on the current path: mark the cyclic suffix
			for k := len(path) - 1; k >= 0; k-- {
				info.cyclic[path[k]] = true
				info.depths[path[k]] = 0
				if path[k] == i {
					break
				}
			}
			return 0
		}

		state[i] = gray
		path = append(path, i)

		depth := 0
		if parent := items[i].ParentTempID; parent != "" {
			if j, ok := index[parent]; ok {
				depth = 1 + visit(j)
			}
		}

		path = path[:len(path)-1]
		state[i] = black
		if info.cyclic[i] {
			depth = 0
		}
		info.depths[i] = depth
		return depth
	}

	for i := 0; i < n; i++ {
		if state[i] == white {
			visit(i)
		}
	}
	return info
}

// dependencyOrder returns item indices sorted ascending by depth, stable
// within a depth level, guaranteeing a parent action exists before any
// child action that references it.
func dependencyOrder(items []PlanItem) []int {
	info := computeDepths(items)
	order := make([]int, len(items))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return info.depths[order[a]] < info.depths[order[b]]
	})
	return order
}
