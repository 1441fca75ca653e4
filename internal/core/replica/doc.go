// Package replica implements the replicated, delta-tracked object model.
//
// A Property describes one replicable value: its identity, default and
// behavior flags. Properties are registered once, at type initialization,
// in a Registry. An Object is a sparse store of property values where an
// absent entry means "equals the default".
//
// Every effective change to an Object is fanned out to three independent
// consumers:
//
//   - the pending delta queue, drained and compacted by a transport
//   - the external sink, if one is bound
//   - the dirty marker read by the sync scheduler
//
// Usage:
//
//	reg := replica.NewRegistry()
//	score := replica.MustRegister(reg, "Player", "Score", replica.PropertyOptions[int]{
//		Batching: true,
//	})
//
//	obj := replica.New(replica.WithRegistry(reg), replica.WithBatchInterval(8))
//	score.Set(obj, 5)
//	deltas := obj.DrainDeltas() // [Set(Score, 5)]
//
// Thread Safety:
//
// Operations are atomic per property. Values live in a sharded map, so
// writers to different properties rarely contend and there is no lock
// spanning the whole object.
package replica
