package pakserver

import (
	"context"
	"fmt"
	"log"

	"github.com/function61/gokit/logex"
	"github.com/function61/pakka/pkg/contentstore"
	"github.com/function61/pakka/pkg/pakcatalog"
	"github.com/function61/pakka/pkg/pakdb"
	"github.com/function61/pakka/pkg/pakgroups"
	"github.com/function61/pakka/pkg/pakimplied"
	"github.com/function61/pakka/pkg/pakpromote"
	"github.com/function61/pakka/pkg/pakvalidation"
	"github.com/function61/pakka/pkg/workpool"
	"go.etcd.io/bbolt"
)

// the wired components. shared by the server and the admin commands
type App struct {
	DB         *bbolt.DB
	Catalog    *pakcatalog.Catalog
	Content    *contentstore.Transport
	Resolver   *pakgroups.Resolver
	Maintainer *pakimplied.Maintainer
	Detector   *pakimplied.Detector
	Validation *pakvalidation.Engine
	Promotions *pakpromote.Engine
	Pool       *workpool.Pool
}

// wrapDriver (optional) decorates the content driver, e.g. for metrics
func OpenApp(
	ctx context.Context,
	scf *ServerConfigFile,
	wrapDriver func(contentstore.Driver) contentstore.Driver,
	logger *log.Logger,
) (*App, error) {
	driver, err := ContentDriverFromConfig(scf.Content, logger)
	if err != nil {
		return nil, err
	}

	if err := driver.Mountable(ctx); err != nil {
		return nil, fmt.Errorf("content store (%s) not mountable: %w", scf.Content.Driver, err)
	}

	if wrapDriver != nil {
		driver = wrapDriver(driver)
	}

	db, err := pakdb.OpenAndBootstrap(scf.DbLocation, logex.Prefix("pakdb", logger))
	if err != nil {
		return nil, err
	}

	return wire(db, driver, scf, logger), nil
}

func wire(db *bbolt.DB, driver contentstore.Driver, scf *ServerConfigFile, logger *log.Logger) *App {
	catalog := pakcatalog.New(db, logex.Prefix("catalog", logger))
	content := contentstore.New(driver, logex.Prefix("content", logger))
	resolver := pakgroups.NewResolver(catalog, logex.Prefix("groups", logger))

	maintainer := pakimplied.NewMaintainer(catalog, resolver, pakimplied.MetadataScanner{}, logex.Prefix("implied", logger))

	// membership changes publish together with the stores they imply
	catalog.OnPreUpdate(maintainer.OnGroupPreUpdate)

	validation := pakvalidation.NewEngine(catalog, pakvalidation.DefaultRegistry(), content, logex.Prefix("validation", logger))

	pool := workpool.New(scf.Workers, scf.QueueSize, logex.Prefix("workpool", logger))

	return &App{
		DB:         db,
		Catalog:    catalog,
		Content:    content,
		Resolver:   resolver,
		Maintainer: maintainer,
		Detector:   pakimplied.NewDetector(catalog, content, maintainer, logex.Prefix("detector", logger)),
		Validation: validation,
		Promotions: pakpromote.NewEngine(
			catalog,
			content,
			validation,
			resolver,
			pool,
			scf.CallbackTimeout(),
			logex.Prefix("promote", logger)),
		Pool: pool,
	}
}

func (a *App) Close() error {
	return a.DB.Close()
}
