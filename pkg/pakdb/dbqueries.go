package pakdb

import (
	"github.com/function61/pakka/pkg/paktypes"
	"go.etcd.io/bbolt"
)

type dbQueries struct {
	tx *bbolt.Tx
}

func Read(tx *bbolt.Tx) *dbQueries {
	return &dbQueries{tx}
}

// returns blorm.ErrNotFound if not found
func (d *dbQueries) Store(key paktypes.StoreKey) (paktypes.ArtifactStore, error) {
	record := &StoreRecord{}
	if err := StoreRepository.OpenByPrimaryKey([]byte(key.String()), record, d.tx); err != nil {
		return nil, err
	}

	return RecordToStore(record)
}

// direct parents only
func (d *dbQueries) GroupsContaining(key paktypes.StoreKey) ([]*paktypes.Group, error) {
	groups := []*paktypes.Group{}

	return groups, GroupsByConstituentIndex.Query([]byte(key.String()), StartFromFirst, func(id []byte) error {
		groupKey, err := paktypes.ParseStoreKey(string(id))
		if err != nil {
			return err
		}

		store, err := d.Store(groupKey)
		if err != nil {
			return err
		}

		if group, isGroup := store.(*paktypes.Group); isGroup {
			groups = append(groups, group)
		}

		return nil
	}, d.tx)
}

func (d *dbQueries) Stores() ([]paktypes.ArtifactStore, error) {
	records := []StoreRecord{}
	if err := StoreRepository.Each(StoreRecordAppender(&records), d.tx); err != nil {
		return nil, err
	}

	stores := make([]paktypes.ArtifactStore, 0, len(records))
	for i := range records {
		store, err := RecordToStore(&records[i])
		if err != nil {
			return nil, err
		}

		stores = append(stores, store)
	}

	return stores, nil
}

func (d *dbQueries) RuleSets() ([]paktypes.RuleSet, error) {
	records := []RuleSetRecord{}
	if err := RuleSetRepository.Each(RuleSetRecordAppender(&records), d.tx); err != nil {
		return nil, err
	}

	ruleSets := make([]paktypes.RuleSet, 0, len(records))
	for _, record := range records {
		ruleSets = append(ruleSets, record.RuleSet)
	}

	return ruleSets, nil
}

func (d *dbQueries) Promotion(id string) (*PromotionRecord, error) {
	record := &PromotionRecord{}
	if err := PromotionRepository.OpenByPrimaryKey([]byte(id), record, d.tx); err != nil {
		return nil, err
	}

	return record, nil
}
