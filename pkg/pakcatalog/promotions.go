package pakcatalog

import (
	"context"
	"fmt"

	"github.com/function61/pakka/pkg/blorm"
	"github.com/function61/pakka/pkg/pakdb"
	"github.com/function61/pakka/pkg/paktypes"
	"go.etcd.io/bbolt"
)

var ErrPromotionNotFound = fmt.Errorf("promotion not found")

func (c *Catalog) SavePromotion(ctx context.Context, record *pakdb.PromotionRecord) error {
	if err := c.db.Update(func(tx *bbolt.Tx) error {
		return pakdb.PromotionRepository.Update(record, tx)
	}); err != nil {
		return fmt.Errorf("%w: saving promotion %s: %w", paktypes.ErrDataAccess, record.ID, err)
	}

	return nil
}

func (c *Catalog) Promotion(ctx context.Context, id string) (*pakdb.PromotionRecord, error) {
	var record *pakdb.PromotionRecord

	if err := c.db.View(func(tx *bbolt.Tx) error {
		var err error
		record, err = pakdb.Read(tx).Promotion(id)
		return err
	}); err != nil {
		if err == blorm.ErrNotFound {
			return nil, fmt.Errorf("%w: %s", ErrPromotionNotFound, id)
		}

		return nil, fmt.Errorf("%w: promotion %s: %w", paktypes.ErrDataAccess, id, err)
	}

	return record, nil
}

func (c *Catalog) Promotions(ctx context.Context) ([]pakdb.PromotionRecord, error) {
	records := []pakdb.PromotionRecord{}

	if err := c.db.View(func(tx *bbolt.Tx) error {
		return pakdb.PromotionRepository.Each(pakdb.PromotionRecordAppender(&records), tx)
	}); err != nil {
		return nil, fmt.Errorf("%w: listing promotions: %w", paktypes.ErrDataAccess, err)
	}

	return records, nil
}
