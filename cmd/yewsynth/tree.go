package main

import "math/rand"

// join records one internal node and its two children.
type join struct {
	parent, left, right int
}

// buildTree lays out a rooted bifurcating tree over ntaxa tips. Tips are
// nodes 0..ntaxa-1, internal nodes follow, the root is the last node. The
// returned joins are already in post order.
func buildTree(ntaxa int, shape string, rng *rand.Rand) []join {
	frontier := make([]int, ntaxa)
	for i := range frontier {
		frontier[i] = i
	}
	next := ntaxa
	var joins []join
	for len(frontier) > 1 {
		var a, b int
		switch shape {
		case "random":
			i := rng.Intn(len(frontier))
			a = frontier[i]
			frontier = append(frontier[:i], frontier[i+1:]...)
			j := rng.Intn(len(frontier))
			b = frontier[j]
			frontier = append(frontier[:j], frontier[j+1:]...)
		case "pectinate":
			a = frontier[0]
			b = frontier[1]
			frontier = frontier[2:]
		default: // balanced
			a = frontier[0]
			b = frontier[1]
			frontier = frontier[2:]
		}
		joins = append(joins, join{parent: next, left: a, right: b})
		if shape == "pectinate" {
			frontier = append([]int{next}, frontier...)
		} else {
			frontier = append(frontier, next)
		}
		next++
	}
	return joins
}

// randomEdges draws an edge length for every non-root node.
func randomEdges(nodes int, rng *rand.Rand) []float64 {
	edges := make([]float64, nodes)
	for i := range edges {
		edges[i] = 0.01 + 0.49*rng.Float64()
	}
	return edges
}

// randomStates draws one state per pattern per tip.
func randomStates(patterns, states int, rng *rand.Rand) []int {
	out := make([]int, patterns)
	for i := range out {
		out[i] = rng.Intn(states)
	}
	return out
}

// statesToPartials expands compact states into indicator partials.
func statesToPartials(states []int, stateCount, categories int) []float64 {
	patterns := len(states)
	out := make([]float64, categories*patterns*stateCount)
	for c := 0; c < categories; c++ {
		for k, s := range states {
			off := (c*patterns + k) * stateCount
			if s >= stateCount {
				for i := 0; i < stateCount; i++ {
					out[off+i] = 1
				}
			} else {
				out[off+s] = 1
			}
		}
	}
	return out
}
