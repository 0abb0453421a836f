package pakserver

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/function61/gokit/httputils"
	"github.com/function61/gokit/logex"
	"github.com/function61/gokit/taskrunner"
	"github.com/function61/pakka/pkg/scheduler"
)

func runServer(ctx context.Context, logger *log.Logger, logTail *logTail) error {
	logl := logex.Levels(logger)

	scf, err := ReadServerConfigFile()
	if err != nil {
		return err
	}

	metrics := newMetricsController()

	app, err := OpenApp(ctx, scf, metrics.WrapDriver, logger)
	if err != nil {
		return err
	}
	defer app.Close()

	metrics.RegisterWorkPool(app.Pool)

	tasks := taskrunner.New(ctx, logger)

	tasks.Start("workpool", app.Pool.Run)

	jobs, err := setupScheduledJobs(
		scf,
		app.DB,
		app.Catalog,
		app.Content,
		app.Maintainer,
		app.Detector,
		app.Pool,
		time.Now())
	if err != nil {
		return err
	}

	schedulerController := scheduler.New(
		jobs,
		logger,
		metrics.ObserveJob,
		func(run func(context.Context) error) {
			tasks.Start("scheduler", run)
		})

	// startup maintenance, so membership is complete before the first interval passes
	if err := schedulerController.Trigger(ctx, jobImpliedRepoRescan); err != nil && ctx.Err() == nil {
		return err
	}

	if err := resumeInterruptedPromotions(ctx, app.Catalog, app.Promotions, app.Pool, logex.Prefix("resume", logger)); err != nil {
		return err
	}

	tasks.Start("metricscollector", metrics.Task(app.Catalog))

	if scf.MetricsAddr != "" {
		srv := &http.Server{
			Addr:    scf.MetricsAddr,
			Handler: metrics.WrapHTTPServer(newMetricsMux(metrics, app, logTail)),
		}

		tasks.Start("listener "+scf.MetricsAddr, func(ctx context.Context) error {
			return httputils.RemoveGracefulServerClosedError(srv.ListenAndServe())
		})

		tasks.Start("listenershutdowner", httputils.ServerShutdownTask(srv))
	}

	logl.Info.Printf("started with %d worker(s)", scf.Workers)

	return tasks.Wait()
}

func newMetricsMux(metrics *metricsController, app *App, logTail *logTail) *http.ServeMux {
	mux := http.NewServeMux()

	mux.Handle("/metrics", metrics.MetricsHTTPHandler())

	mux.Handle("/log", logTail)

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := app.Content.Mountable(r.Context()); err != nil {
			http.Error(w, fmt.Sprintf("content store: %v", err), http.StatusServiceUnavailable)
			return
		}

		fmt.Fprintln(w, "OK")
	})

	return mux
}
