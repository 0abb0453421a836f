package pakcatalog

import (
	"context"
	"fmt"

	"github.com/function61/pakka/pkg/pakdb"
	"github.com/function61/pakka/pkg/paktypes"
	"go.etcd.io/bbolt"
)

func (c *Catalog) RuleSets(ctx context.Context) ([]paktypes.RuleSet, error) {
	var ruleSets []paktypes.RuleSet

	if err := c.db.View(func(tx *bbolt.Tx) error {
		var err error
		ruleSets, err = pakdb.Read(tx).RuleSets()
		return err
	}); err != nil {
		return nil, fmt.Errorf("%w: listing rule sets: %w", paktypes.ErrDataAccess, err)
	}

	return ruleSets, nil
}

func (c *Catalog) PutRuleSet(ctx context.Context, ruleSet paktypes.RuleSet) error {
	if ruleSet.Name == "" {
		return fmt.Errorf("rule set name cannot be empty")
	}

	return c.db.Update(func(tx *bbolt.Tx) error {
		return pakdb.RuleSetRepository.Update(&pakdb.RuleSetRecord{
			Name:    ruleSet.Name,
			RuleSet: ruleSet,
		}, tx)
	})
}

func (c *Catalog) DeleteRuleSet(ctx context.Context, name string) error {
	return c.db.Update(func(tx *bbolt.Tx) error {
		return pakdb.RuleSetRepository.Delete(&pakdb.RuleSetRecord{Name: name}, tx)
	})
}
