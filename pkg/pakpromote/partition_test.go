package pakpromote

import (
	"sort"
	"strings"
	"testing"

	"github.com/function61/pakka/pkg/paktypes"
	"pgregory.net/rapid"
)

// every requested path lands in exactly one bucket, whatever the target already has and
// wherever a copy fails
func TestPromotionPartitionsRequestedPaths(t *testing.T) {
	env := newTestEnv(t)

	rapid.Check(t, func(rt *rapid.T) {
		env.transport = newCountingTransport()
		env.engine.content = env.transport

		requested := rapid.SliceOfN(rapid.StringMatching(`[a-c]{1,2}/[a-c]{1,2}\.jar`), 1, 12).Draw(rt, "paths")
		unique := uniqueSorted(requested)

		for _, p := range unique {
			env.put(build1, p)

			if rapid.Bool().Draw(rt, "exists in target: "+p) {
				env.put(shared, p)
			}
		}

		if failAt := rapid.IntRange(-1, len(unique)-1).Draw(rt, "failing copy"); failAt >= 0 {
			env.transport.failCopyOnce(unique[failAt])
		}

		result, err := env.engine.PromotePaths(ctx, paktypes.PathsPromoteRequest{
			Source:         build1,
			Target:         shared,
			Paths:          requested,
			FailWhenExists: rapid.Bool().Draw(rt, "failWhenExists"),
			DryRun:         rapid.Bool().Draw(rt, "dryRun"),
		})
		if err != nil {
			rt.Fatalf("unexpected error: %v", err)
		}

		total := len(result.CompletedPaths) + len(result.SkippedPaths) + len(result.PendingPaths)
		if total != len(unique) {
			rt.Fatalf("buckets hold %d paths, requested %d distinct", total, len(unique))
		}

		if got, want := strings.Join(result.RequestedPaths(), ","), strings.Join(unique, ","); got != want {
			rt.Fatalf("bucket union %q != requested %q", got, want)
		}

		for _, p := range result.PendingPaths {
			if result.PendingNotes[p] == "" {
				rt.Fatalf("pending path %s has no note", p)
			}
		}

		if result.DryRun && env.transport.totalCopies() != 0 {
			rt.Fatalf("dry-run copied content")
		}
	})
}

func uniqueSorted(items []string) []string {
	seen := map[string]bool{}
	unique := []string{}
	for _, item := range items {
		if !seen[item] {
			seen[item] = true
			unique = append(unique, item)
		}
	}
	sort.Strings(unique)
	return unique
}
