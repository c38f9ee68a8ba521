package engine

import (
	"reflect"
	"testing"

	"github.com/hostprobe/hostprobe/pkg/constraint"
	"github.com/hostprobe/hostprobe/pkg/module"
)

func batchModule(t *testing.T, name string, classes, exclusives []string) *module.Module {
	t.Helper()
	cons, err := constraint.New(map[string]any{
		"class":             classes,
		"parallelexclusive": exclusives,
	})
	if err != nil {
		t.Fatalf("constraint.New() error = %v", err)
	}
	return &module.Module{Name: name, Constraint: cons, Applicable: true}
}

// The six-module layout spans three classes with one exclusive pair and
// partitions into [[0],[1,3,4],[2],[5]].
func batchFixture(t *testing.T) []*module.Module {
	t.Helper()
	return []*module.Module{
		batchModule(t, "m0", []string{"collect"}, []string{"x"}),
		batchModule(t, "m1", []string{"diagnose"}, nil),
		batchModule(t, "m2", []string{"collect"}, []string{"x"}),
		batchModule(t, "m3", []string{"diagnose"}, nil),
		batchModule(t, "m4", []string{"diagnose"}, nil),
		batchModule(t, "m5", []string{"gather"}, nil),
	}
}

func batchNames(batches [][]*module.Module) [][]string {
	out := make([][]string, len(batches))
	for i, batch := range batches {
		names := make([]string, len(batch))
		for j, mod := range batch {
			names[j] = mod.Name
		}
		out[i] = names
	}
	return out
}

func TestCreateBatchesFixturePartition(t *testing.T) {
	batches := CreateBatches(batchFixture(t))

	want := [][]string{{"m0"}, {"m1", "m3", "m4"}, {"m2"}, {"m5"}}
	if got := batchNames(batches); !reflect.DeepEqual(got, want) {
		t.Errorf("partition = %v, want %v", got, want)
	}
}

func TestCreateBatchesExclusivesNeverShareABatch(t *testing.T) {
	mods := batchFixture(t)
	batches := CreateBatches(mods)

	for i, batch := range batches {
		for a := 0; a < len(batch); a++ {
			for b := a + 1; b < len(batch); b++ {
				for _, tagA := range batch[a].Constraint.Get("parallelexclusive") {
					for _, tagB := range batch[b].Constraint.Get("parallelexclusive") {
						if tagA == tagB {
							t.Errorf("batch %d: %s and %s share exclusive tag %q",
								i, batch[a].Name, batch[b].Name, tagA)
						}
					}
				}
			}
		}
	}
}

func TestCreateBatchesCoversInputExactlyOnce(t *testing.T) {
	mods := batchFixture(t)
	batches := CreateBatches(mods)

	seen := make(map[string]int)
	for _, batch := range batches {
		for _, mod := range batch {
			seen[mod.Name]++
		}
	}
	for _, mod := range mods {
		if seen[mod.Name] != 1 {
			t.Errorf("module %s batched %d times, want exactly once", mod.Name, seen[mod.Name])
		}
	}
	if len(seen) != len(mods) {
		t.Errorf("batched %d distinct modules, want %d", len(seen), len(mods))
	}
}

func TestCreateBatchesIsDeterministic(t *testing.T) {
	first := batchNames(CreateBatches(batchFixture(t)))
	second := batchNames(CreateBatches(batchFixture(t)))

	if !reflect.DeepEqual(first, second) {
		t.Errorf("partitions differ across identical inputs: %v vs %v", first, second)
	}
}

func TestCreateBatchesEveryBatchNonEmpty(t *testing.T) {
	for _, batch := range CreateBatches(batchFixture(t)) {
		if len(batch) == 0 {
			t.Error("produced an empty batch")
		}
	}
}

func TestCreateBatchesEmptyInput(t *testing.T) {
	if batches := CreateBatches(nil); len(batches) != 0 {
		t.Errorf("batches = %v, want none", batches)
	}
}
