package engine

import (
	"fmt"
	"io"
	"sort"

	"github.com/hostprobe/hostprobe/pkg/module"
	"github.com/hostprobe/hostprobe/pkg/registry"
)

// Summary is a read-side projection over a finished run: verdict counts for
// the diagnose class, per-class module counts, and the skip-reason
// histogram. It has no effect on scheduling or execution.
type Summary struct {
	// TotalRun counts the modules that remained after pruning.
	TotalRun int

	// ClassCounts maps each class bucket to the number of modules run.
	ClassCounts map[string]int

	// Successes, Failures, Warnings, and Unknowns count verdicts over the
	// diagnose class only.
	Successes int
	Failures  int
	Warnings  int
	Unknowns  int

	// Diagnose holds the diagnose-class modules in verdict-sorted order
	// for rendering.
	Diagnose []*module.Module

	// Histogram counts the pruned modules by tracked skip reason.
	Histogram map[module.SkipReason]int
}

// Summarize projects the post-run registry state and the pruner's histogram
// into a summary.
func Summarize(reg *registry.Registry, histogram map[module.SkipReason]int) *Summary {
	s := &Summary{
		TotalRun:    reg.Len(),
		ClassCounts: make(map[string]int),
		Histogram:   histogram,
	}
	if s.Histogram == nil {
		s.Histogram = make(map[module.SkipReason]int)
	}

	for _, class := range reg.Classes() {
		s.ClassCounts[class] = len(reg.ByClass(class))
	}

	diagnose := reg.ByClass("diagnose")
	for _, mod := range diagnose {
		switch mod.Verdict {
		case module.VerdictSuccess:
			s.Successes++
		case module.VerdictFailure:
			s.Failures++
		case module.VerdictWarn:
			s.Warnings++
		case module.VerdictUnknown:
			s.Unknowns++
		}
	}

	// Group warnings, successes, and so on together in the rendering.
	sort.SliceStable(diagnose, func(i, j int) bool {
		return diagnose[i].Verdict < diagnose[j].Verdict
	})
	s.Diagnose = diagnose

	return s
}

// AllDiagnosticsSucceeded reports whether every diagnose-class module that
// ran came back SUCCESS. A run with no diagnose modules counts as success.
func (s *Summary) AllDiagnosticsSucceeded() bool {
	return len(s.Diagnose) == s.Successes
}

// Render writes the human-readable run report.
func (s *Summary) Render(w io.Writer) {
	if len(s.Diagnose) > 0 {
		fmt.Fprintf(w, "\n----------[Diagnostic Results]----------\n\n")
		for _, mod := range s.Diagnose {
			fmt.Fprintf(w, "%-32s %s\n", fmt.Sprintf("module %s/%s", mod.Placement, mod.Name), mod.Summary)
			for _, detail := range mod.Details {
				fmt.Fprintf(w, "%-32s %s\n", " ", detail)
			}
		}
	}

	fmt.Fprintf(w, "\n--------------[Run  Stats]--------------\n\n")
	fmt.Fprintf(w, "%-32s %d\n", "Total modules run:", s.TotalRun)
	if s.TotalRun > 0 {
		classes := make([]string, 0, len(s.ClassCounts))
		for class := range s.ClassCounts {
			classes = append(classes, class)
		}
		sort.Strings(classes)
		for _, class := range classes {
			fmt.Fprintf(w, "%-32s %d\n", fmt.Sprintf("'%s' modules run:", class), s.ClassCounts[class])
			if class == "diagnose" {
				fmt.Fprintf(w, "%-32s %d\n", "    successes:", s.Successes)
				fmt.Fprintf(w, "%-32s %d\n", "    failures:", s.Failures)
				fmt.Fprintf(w, "%-32s %d\n", "    warnings:", s.Warnings)
				fmt.Fprintf(w, "%-32s %d\n", "    unknown:", s.Unknowns)
			}
		}
	}

	if len(s.Histogram) > 0 {
		fmt.Fprintf(w, "\n%-32s %-4s | %-8s | %-10s | %-11s\n",
			"Modules not run due to missing:", "sudo", "software", "parameters", "perf-impact")
		fmt.Fprintf(w, "%-32s %4d | %8d | %10d | %11d\n", "",
			s.Histogram[module.SkipRequiresSudo],
			s.Histogram[module.SkipMissingSoftware],
			s.Histogram[module.SkipMissingArgument],
			s.Histogram[module.SkipPerformanceImpact])
	}
}
