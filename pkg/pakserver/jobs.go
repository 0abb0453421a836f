package pakserver

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/function61/gokit/logex"
	"github.com/function61/pakka/pkg/pakcatalog"
	"github.com/function61/pakka/pkg/pakdb"
	"github.com/function61/pakka/pkg/pakimplied"
	"github.com/function61/pakka/pkg/pakpromote"
	"github.com/function61/pakka/pkg/paktypes"
	"github.com/function61/pakka/pkg/scheduler"
	"github.com/function61/pakka/pkg/workpool"
	"go.etcd.io/bbolt"
)

const (
	jobImpliedRepoRescan = "implied-repo-rescan"
	jobDescriptorSweep   = "descriptor-sweep"
)

func setupScheduledJobs(
	scf *ServerConfigFile,
	db *bbolt.DB,
	catalog *pakcatalog.Catalog,
	content paktypes.ContentTransport,
	maintainer *pakimplied.Maintainer,
	detector *pakimplied.Detector,
	pool *workpool.Pool,
	now time.Time,
) ([]*scheduler.Job, error) {
	rescan, err := scheduler.NewJob(
		jobImpliedRepoRescan,
		"Re-runs implied repository closure for all groups",
		scf.MaintenanceSchedule,
		impliedRepoRescan(db, maintainer),
		now)
	if err != nil {
		return nil, err
	}

	sweep, err := scheduler.NewJob(
		jobDescriptorSweep,
		"Looks for repository declarations in hosted stores' descriptors",
		scf.DescriptorSweepSchedule,
		descriptorSweep(catalog, content, detector, pool),
		now)
	if err != nil {
		return nil, err
	}

	return []*scheduler.Job{rescan, sweep}, nil
}

func impliedRepoRescan(db *bbolt.DB, maintainer *pakimplied.Maintainer) scheduler.JobFn {
	return func(ctx context.Context, logger *log.Logger) error {
		// per-group failures don't stop the others
		runErr := maintainer.RunAll(ctx)

		if err := db.Update(func(tx *bbolt.Tx) error {
			return pakdb.CfgLastMaintenanceScan.Set(time.Now().UTC().Format(time.RFC3339), tx)
		}); err != nil {
			return errors.Join(runErr, err)
		}

		return runErr
	}
}

// hosted stores' descriptors go through the detector via the work pool. the detector
// remembers what it has seen, so re-sweeping is cheap
func descriptorSweep(
	catalog *pakcatalog.Catalog,
	content paktypes.ContentTransport,
	detector *pakimplied.Detector,
	pool *workpool.Pool,
) scheduler.JobFn {
	return func(ctx context.Context, logger *log.Logger) error {
		logl := logex.Levels(logger)

		hosted, err := catalog.Query(ctx, paktypes.StoreTypeHosted)
		if err != nil {
			return err
		}

		submitted := 0

		for _, store := range hosted {
			if store.IsDisabled() {
				continue
			}

			key := store.StoreKey()

			paths, err := content.ListAll(ctx, key)
			if err != nil {
				logl.Error.Printf("listing %s: %v", key.String(), err)
				continue
			}

			for _, p := range paths {
				if !pakimplied.IsDescriptor(p) {
					continue
				}

				if err := pool.Submit(ctx, "descriptor "+key.String()+"/"+p, func(ctx context.Context) error {
					_, err := detector.OnDescriptorStored(ctx, key, p)
					return err
				}); err != nil {
					return err
				}

				submitted++
			}
		}

		logl.Debug.Printf("submitted %d descriptor(s)", submitted)

		return nil
	}
}

// async promotions that were accepted but never finished (the process stopped) are run
// again from their stored request
func resumeInterruptedPromotions(
	ctx context.Context,
	catalog *pakcatalog.Catalog,
	promotions *pakpromote.Engine,
	pool *workpool.Pool,
	logger *log.Logger,
) error {
	logl := logex.Levels(logger)

	records, err := catalog.Promotions(ctx)
	if err != nil {
		return err
	}

	for _, record := range records {
		if record.Status != pakdb.PromotionStatusAccepted {
			continue
		}

		id := record.ID

		logl.Info.Printf("resuming interrupted promotion %s", id)

		if err := pool.Submit(ctx, "resume "+id, func(ctx context.Context) error {
			_, err := promotions.Resume(ctx, id)
			return err
		}); err != nil {
			return err
		}
	}

	return nil
}
