// Package yew is a high-performance engine for evaluating the Felsenstein
// likelihood of character data along an evolutionary tree under
// continuous-time Markov substitution models.
//
// An Instance owns every buffer it computes with: tip states, partial
// likelihoods, transition probability matrices, eigen decompositions and
// scale factors. Clients hold only integer handles; data moves through
// copy-in/copy-out calls. A typical evaluation loads tip data once, then
// per iteration updates the model, builds transition matrices for the
// current edge lengths, submits a post-order operation list, and reduces at
// the root:
//
//	inst, err := yew.NewInstance(yew.InstanceConfig{
//		TipCount: 3, PartialsCount: 2, CompactCount: 3,
//		StateCount: 4, PatternCount: 100, EigenCount: 1,
//		MatrixCount: 4, CategoryCount: 4, ScaleBufferCount: 0,
//		Resource: -1,
//	})
//	...
//	inst.UpdateTransitionMatrices(0, nodes, nil, nil, edgeLengths)
//	inst.UpdatePartials(ops, yew.None)
//	logL, err := inst.CalculateRootLogLikelihoods([]int{root}, []int{0}, []int{0}, []int{yew.None})
//
// Instances are single-threaded from the caller's perspective; within a
// call the chosen backend may parallelize its pattern loops. Instances
// share no mutable state, so independent instances can run on independent
// goroutines.
package yew
