package pakadmin

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/function61/pakka/pkg/pakimplied"
	"github.com/function61/pakka/pkg/pakserver"
	"github.com/function61/pakka/pkg/paktypes"
	"github.com/function61/pakka/pkg/pakvalidation"
)

// stored descriptors go through implied repository detection right away, like the
// server's sweep would do later
func uploadContent(
	ctx context.Context,
	app *pakserver.App,
	key paktypes.StoreKey,
	path string,
	filename string,
) ([]paktypes.StoreKey, error) {
	if key.Type != paktypes.StoreTypeHosted {
		return nil, fmt.Errorf("content can only be uploaded into hosted stores: %s", key.String())
	}

	if _, err := app.Catalog.Get(ctx, key); err != nil {
		return nil, err
	}

	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	if err := app.Content.Put(ctx, key, path, file); err != nil {
		return nil, err
	}

	if !pakimplied.IsDescriptor(path) {
		return nil, nil
	}

	return app.Detector.OnDescriptorStored(ctx, key, path)
}

func checkRuleSet(ruleSet paktypes.RuleSet, rules *pakvalidation.Registry) error {
	if ruleSet.Name == "" {
		return fmt.Errorf("rule set needs a name")
	}

	if _, err := ruleSet.KeyPattern(); err != nil {
		return fmt.Errorf("rule set %s: storeKeyPattern: %w", ruleSet.Name, err)
	}

	for _, name := range ruleSet.RuleNames {
		if _, found := rules.Lookup(name); !found {
			return fmt.Errorf("rule set %s: unknown rule %q (known: %s)", ruleSet.Name, name, strings.Join(rules.Names(), ", "))
		}
	}

	return nil
}

func ruleSetRows(ruleSets []paktypes.RuleSet) [][]string {
	rows := [][]string{}

	for _, ruleSet := range ruleSets {
		pattern := ruleSet.StoreKeyPattern
		if pattern == "" {
			pattern = "(all)"
		}

		rows = append(rows, []string{ruleSet.Name, pattern, strings.Join(ruleSet.RuleNames, ", ")})
	}

	sort.Slice(rows, func(i, j int) bool { return rows[i][0] < rows[j][0] })

	return rows
}
