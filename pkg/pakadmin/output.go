package pakadmin

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/function61/pakka/pkg/paktypes"
	"github.com/mattn/go-isatty"
	"github.com/olekukonko/tablewriter"
)

// tables for humans, tab-separated lines for pipes
func printTable(header []string, rows [][]string) {
	renderTable(os.Stdout, isatty.IsTerminal(os.Stdout.Fd()), header, rows)
}

func renderTable(out io.Writer, terminal bool, header []string, rows [][]string) {
	if !terminal {
		for _, row := range rows {
			fmt.Fprintln(out, strings.Join(row, "\t"))
		}
		return
	}

	tbl := tablewriter.NewWriter(out)
	tbl.SetAutoFormatHeaders(false)
	tbl.SetBorder(false)
	tbl.SetHeader(header)
	tbl.AppendBulk(rows)
	tbl.Render()
}

func printJson(x interface{}) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(x)
}

func storeRows(stores []paktypes.ArtifactStore) [][]string {
	rows := [][]string{}

	for _, store := range stores {
		details := ""
		switch s := store.(type) {
		case *paktypes.RemoteRepository:
			details = s.URL
		case *paktypes.Group:
			details = paktypes.FormatStoreKeyList(s.Constituents)
		}

		rows = append(rows, []string{
			store.StoreKey().String(),
			boolToStr(store.IsDisabled()),
			details,
		})
	}

	sort.Slice(rows, func(i, j int) bool { return rows[i][0] < rows[j][0] })

	return rows
}

// one row per requested path
func promoteResultRows(result *paktypes.PromoteResult) [][]string {
	rows := [][]string{}

	for _, p := range result.CompletedPaths {
		rows = append(rows, []string{p, "completed", ""})
	}
	for _, p := range result.SkippedPaths {
		rows = append(rows, []string{p, "skipped", ""})
	}
	for _, p := range result.PendingPaths {
		rows = append(rows, []string{p, "pending", result.PendingNotes[p]})
	}

	sort.SliceStable(rows, func(i, j int) bool { return rows[i][0] < rows[j][0] })

	return rows
}

func printPromoteResult(result *paktypes.PromoteResult) {
	printTable([]string{"Path", "Outcome", "Note"}, promoteResultRows(result))

	fmt.Fprintln(os.Stderr, promoteSummary(result))
}

func promoteSummary(result *paktypes.PromoteResult) string {
	lines := []string{fmt.Sprintf("promotion %s (%s -> %s)", result.ID, result.Source.String(), result.Target.String())}

	if result.DryRun {
		lines = append(lines, "dry-run: nothing was changed")
	}

	if result.Validations != nil && !result.Validations.Valid {
		failed := []string{}
		for rule, msg := range result.Validations.ValidatorErrors {
			failed = append(failed, fmt.Sprintf("  %s: %s", rule, msg))
		}
		sort.Strings(failed)

		lines = append(lines, fmt.Sprintf("validation failed (rule set %s):", result.Validations.RuleSet))
		lines = append(lines, failed...)
	}

	if result.Error != "" {
		lines = append(lines, "error: "+result.Error)
	}

	if result.Resumable() {
		lines = append(lines, fmt.Sprintf("%d path(s) pending, resume with: promote resume %s", len(result.PendingPaths), result.ID))
	}

	if result.PurgedSource {
		lines = append(lines, "source purged")
	}

	return strings.Join(lines, "\n")
}

func boolToStr(input bool) string {
	if input {
		return "true"
	}
	return "false"
}
