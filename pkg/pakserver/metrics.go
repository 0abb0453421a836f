package pakserver

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/felixge/httpsnoop"
	"github.com/function61/pakka/pkg/contentstore"
	"github.com/function61/pakka/pkg/pakcatalog"
	"github.com/function61/pakka/pkg/paktypes"
	"github.com/function61/pakka/pkg/scheduler"
	"github.com/function61/pakka/pkg/workpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsCollectionInterval = 15 * time.Second

type metricsController struct {
	registry *prometheus.Registry

	httpRequests *prometheus.CounterVec

	// populated from the catalog at interval
	stores     *prometheus.GaugeVec
	promotions *prometheus.GaugeVec

	jobRuntime  *prometheus.GaugeVec
	jobFailures *prometheus.CounterVec

	content *contentMetrics
}

// using (totalRequests, errors) instead of (successes, errors) b/c:
//   https://promcon.io/2017-munich/slides/best-practices-and-beastly-pitfalls.pdf
type contentMetrics struct {
	readRequests prometheus.Counter
	readBytes    prometheus.Counter
	readErrors   prometheus.Counter

	writeRequests prometheus.Counter
	writtenBytes  prometheus.Counter
	writeErrors   prometheus.Counter

	copyRequests prometheus.Counter
	copyErrors   prometheus.Counter
}

func newMetricsController() *metricsController {
	reg := prometheus.NewRegistry()

	// shorthand for new'ing and registering
	counter := func(name string, help string) prometheus.Counter {
		c := prometheus.NewCounter(prometheus.CounterOpts{Name: name, Help: help})
		reg.MustRegister(c)
		return c
	}

	m := &metricsController{
		registry: reg,
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pak_http_requests_total",
			Help: "HTTP server's handled requests",
		}, []string{"code", "method"}),
		stores: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pak_stores",
			Help: "Stores in the catalog",
		}, []string{"type"}),
		promotions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pak_promotions",
			Help: "Recorded promotions",
		}, []string{"status"}),
		jobRuntime: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pak_scheduledjob_runtime_seconds",
			Help: "Scheduled job's last runtime (seconds)",
		}, []string{"job"}),
		jobFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pak_scheduledjob_failures_total",
			Help: "Scheduled job's failed runs",
		}, []string{"job"}),
		content: &contentMetrics{
			readRequests:  counter("pak_content_read_requests_total", "Content read operations (incl. errors)"),
			readBytes:     counter("pak_content_read_bytes_total", "Content read bytes"),
			readErrors:    counter("pak_content_read_errors_total", "Content failed read operations"),
			writeRequests: counter("pak_content_write_requests_total", "Content write operations (incl. errors)"),
			writtenBytes:  counter("pak_content_write_bytes_total", "Content written bytes"),
			writeErrors:   counter("pak_content_write_errors_total", "Content failed write operations"),
			copyRequests:  counter("pak_content_copy_requests_total", "Backend-side copies (incl. errors)"),
			copyErrors:    counter("pak_content_copy_errors_total", "Backend-side failed copies"),
		},
	}

	reg.MustRegister(m.httpRequests, m.stores, m.promotions, m.jobRuntime, m.jobFailures)

	return m
}

func (m *metricsController) RegisterWorkPool(pool *workpool.Pool) {
	m.registry.MustRegister(
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "pak_workpool_completed_total",
			Help: "Work pool jobs that completed",
		}, func() float64 {
			completed, _ := pool.Stats()
			return float64(completed)
		}),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "pak_workpool_failed_total",
			Help: "Work pool jobs that returned an error",
		}, func() float64 {
			_, failed := pool.Stats()
			return float64(failed)
		}))
}

// scheduler's onFinished hook
func (m *metricsController) ObserveJob(spec scheduler.JobSpec) {
	if spec.LastRun == nil {
		return
	}

	m.jobRuntime.WithLabelValues(spec.ID).Set(spec.LastRun.Duration().Seconds())

	if spec.LastRun.Error != "" {
		m.jobFailures.WithLabelValues(spec.ID).Inc()
	}
}

// builds a cancellable metrics collection task that can be given to taskrunner
func (m *metricsController) Task(catalog *pakcatalog.Catalog) func(context.Context) error {
	return func(ctx context.Context) error {
		interval := time.NewTicker(metricsCollectionInterval)
		defer interval.Stop()

		for {
			select {
			case <-ctx.Done():
				return nil
			case <-interval.C:
				if err := m.collectMetrics(ctx, catalog); err != nil {
					return err
				}
			}
		}
	}
}

func (m *metricsController) collectMetrics(ctx context.Context, catalog *pakcatalog.Catalog) error {
	stores, err := catalog.All(ctx)
	if err != nil {
		return err
	}

	storesByType := map[paktypes.StoreType]int{
		paktypes.StoreTypeHosted: 0,
		paktypes.StoreTypeRemote: 0,
		paktypes.StoreTypeGroup:  0,
	}
	for _, store := range stores {
		storesByType[store.StoreKey().Type]++
	}

	for typ, count := range storesByType {
		m.stores.WithLabelValues(string(typ)).Set(float64(count))
	}

	promotions, err := catalog.Promotions(ctx)
	if err != nil {
		return err
	}

	promotionsByStatus := map[string]int{}
	for _, promotion := range promotions {
		promotionsByStatus[string(promotion.Status)]++
	}

	m.promotions.Reset()
	for status, count := range promotionsByStatus {
		m.promotions.WithLabelValues(status).Set(float64(count))
	}

	return nil
}

func (m *metricsController) MetricsHTTPHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// instruments a HTTP handler
func (m *metricsController) WrapHTTPServer(actual http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		stats := httpsnoop.CaptureMetrics(actual, w, r)

		m.httpRequests.With(prometheus.Labels{
			"code":   strconv.Itoa(stats.Code),
			"method": r.Method,
		}).Inc()
	})
}

// decorates a content driver with a proxy driver that doesn't change any behaviour, but
// records metrics for the operations
func (m *metricsController) WrapDriver(origin contentstore.Driver) contentstore.Driver {
	proxy := &proxyDriver{origin, m.content}

	if copier, canCopy := origin.(contentstore.Copier); canCopy {
		return &proxyCopierDriver{proxy, copier}
	}

	return proxy
}

type proxyDriver struct {
	contentstore.Driver
	metrics *contentMetrics
}

func (p *proxyDriver) RawStore(ctx context.Context, name string, content io.Reader) error {
	p.metrics.writeRequests.Inc()

	err := p.Driver.RawStore(ctx, name, newReadCounter(content, func(bytesRead int64, errRead error) {
		if errRead == nil {
			// accurate on successes, which is what matters
			p.metrics.writtenBytes.Add(float64(bytesRead))
		}
	}))

	if err != nil {
		p.metrics.writeErrors.Inc()
	}

	return err
}

func (p *proxyDriver) RawFetch(ctx context.Context, name string) (io.ReadCloser, error) {
	// will be called (once) much later than we return from this func
	readFinished := func(bytesRead int64, err error) {
		p.metrics.readBytes.Add(float64(bytesRead))

		if err != nil {
			p.metrics.readErrors.Inc()
		}
	}

	p.metrics.readRequests.Inc()

	content, err := p.Driver.RawFetch(ctx, name)
	if err != nil {
		readFinished(0, err)
		return nil, err
	}

	return newReadCounter(content, readFinished), nil
}

// keeps the backend's native copy visible through the proxy
type proxyCopierDriver struct {
	*proxyDriver
	copier contentstore.Copier
}

func (p *proxyCopierDriver) RawCopy(ctx context.Context, from string, to string) error {
	p.metrics.copyRequests.Inc()

	err := p.copier.RawCopy(ctx, from, to)
	if err != nil {
		p.metrics.copyErrors.Inc()
	}

	return err
}

type readCounter struct {
	bytesRead int64 // has to be first b/c sync/atomic alignment rules
	io.ReadCloser
	stats     func(int64, error)
	statsOnce sync.Once
}

// "stats" is called once: when reading hits io.EOF or on the first failed read
func newReadCounter(content io.Reader, stats func(int64, error)) io.ReadCloser {
	rc, ok := content.(io.ReadCloser)
	if !ok {
		rc = io.NopCloser(content)
	}

	return &readCounter{
		ReadCloser: rc,
		stats:      stats,
	}
}

var _ io.ReadCloser = (*readCounter)(nil)

func (r *readCounter) Read(p []byte) (int, error) {
	n, err := r.ReadCloser.Read(p)

	atomic.AddInt64(&r.bytesRead, int64(n))

	if err != nil {
		if err == io.EOF {
			r.emitStats(nil)
		} else {
			r.emitStats(err)
		}
	}

	return n, err
}

func (r *readCounter) emitStats(err error) {
	r.statsOnce.Do(func() {
		r.stats(atomic.LoadInt64(&r.bytesRead), err)
	})
}
