package engine

import "github.com/hostprobe/hostprobe/pkg/module"

// CreateBatches partitions the modules into batches whose members may run
// concurrently. Each batch is built greedily in one pass over the
// not-yet-batched modules in their original relative order: a candidate is
// admitted when the batch's class set is still unset or intersects the
// candidate's classes, and none of the candidate's parallelexclusive tags is
// already held by the batch. Both accumulators grow by union on admission.
// The first remaining module is always admissible to a fresh batch, so every
// batch is non-empty and the partition terminates. The result is
// deterministic given stable input order and concatenates back to the input
// set exactly.
func CreateBatches(mods []*module.Module) [][]*module.Module {
	remaining := make([]*module.Module, len(mods))
	copy(remaining, mods)

	var batches [][]*module.Module
	for len(remaining) > 0 {
		var batch []*module.Module
		var skipped []*module.Module
		batchExclusives := make(map[string]struct{})
		var batchClass map[string]struct{}

		for _, mod := range remaining {
			classes := mod.Constraint.Get("class")
			if batchClass != nil && !intersectsAny(classes, batchClass) {
				skipped = append(skipped, mod)
				continue
			}
			if intersectsAny(mod.Constraint.Get("parallelexclusive"), batchExclusives) {
				skipped = append(skipped, mod)
				continue
			}

			batch = append(batch, mod)
			for _, tag := range mod.Constraint.Get("parallelexclusive") {
				batchExclusives[tag] = struct{}{}
			}
			if batchClass == nil {
				batchClass = make(map[string]struct{})
			}
			for _, class := range classes {
				batchClass[class] = struct{}{}
			}
		}

		batches = append(batches, batch)
		remaining = skipped
	}

	return batches
}

func intersectsAny(values []string, set map[string]struct{}) bool {
	for _, value := range values {
		if _, ok := set[value]; ok {
			return true
		}
	}
	return false
}
