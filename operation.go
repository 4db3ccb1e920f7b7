package yew

import "github.com/23skdu/longbow-yew/internal/cpu"

// None marks an unused index argument (scale buffers, derivative matrices,
// resource pinning).
const None = -1

// Operation is one partials update: destination = (M₁·child1) ⊙ (M₂·child2)
// across categories, patterns and states. WriteScale and ReadScale are
// honored under the manual and dynamic scaling disciplines; Partition and
// CumulativeScale only by the partitioned entry points.
type Operation struct {
	Destination     int
	WriteScale      int
	ReadScale       int
	Child1          int
	Child1Matrix    int
	Child2          int
	Child2Matrix    int
	Partition       int
	CumulativeScale int
}

func toEngineOps(ops []Operation) []cpu.Op {
	out := make([]cpu.Op, len(ops))
	for i, op := range ops {
		out[i] = cpu.Op(op)
	}
	return out
}
