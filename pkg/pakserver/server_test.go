package pakserver

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/function61/gokit/assert"
	"github.com/function61/gokit/logex"
	"github.com/function61/pakka/pkg/contentstore"
	"github.com/function61/pakka/pkg/contentstore/memcontentstore"
	"github.com/function61/pakka/pkg/pakdb"
	"github.com/function61/pakka/pkg/paktypes"
	"go.etcd.io/bbolt"
)

const pomWithRepository = `<?xml version="1.0" encoding="UTF-8"?>
<project xmlns="http://maven.apache.org/POM/4.0.0">
  <modelVersion>4.0.0</modelVersion>
  <groupId>org.example</groupId>
  <artifactId>app</artifactId>
  <version>1.0</version>
  <repositories>
    <repository>
      <id>jboss</id>
      <url>https://repository.jboss.org/nexus/content/groups/public/</url>
    </repository>
  </repositories>
</project>`

var (
	build1 = paktypes.MustParseStoreKey("maven:hosted:build-1")
	public = paktypes.MustParseStoreKey("maven:group:public")
)

func TestConfigDefaults(t *testing.T) {
	path := writeConfig(t, `{"db_location": "pakka.db", "content": {"driver": "memory"}}`)

	scf, err := readServerConfigFileFrom(path)
	assert.Assert(t, err == nil)
	assert.Assert(t, scf.Workers == defaultWorkers)
	assert.EqualString(t, scf.MaintenanceSchedule, "@every 1h")
	assert.EqualString(t, scf.DescriptorSweepSchedule, "@every 15m")
	assert.Assert(t, scf.CallbackTimeout() == 30*time.Second)
}

func TestConfigValidation(t *testing.T) {
	for _, tc := range []struct {
		config string
		errMsg string
	}{
		{`{"content": {"driver": "memory"}}`, "db_location not set"},
		{`{"db_location": "x", "content": {"driver": "ftp"}}`, `unsupported content driver: "ftp"`},
		{`{"db_location": "x", "content": {"driver": "localfs"}}`, "content.path required for localfs"},
		{`{"db_location": "x", "content": {"driver": "s3", "s3_bucket": "b"}}`, "content.s3_bucket and content.s3_region required for s3"},
		{`{"db_location": "x", "content": {"driver": "memory"}, "maintenance_schedule": "sometimes"}`, "schedule \"sometimes\""},
	} {
		t.Run(tc.errMsg, func(t *testing.T) {
			_, err := readServerConfigFileFrom(writeConfig(t, tc.config))
			assert.Assert(t, err != nil)
			assert.Assert(t, strings.Contains(err.Error(), tc.errMsg))
		})
	}
}

func TestDescriptorSweepImpliesRepositories(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app := newTestApp(t)
	go func() { _ = app.Pool.Run(ctx) }()

	for _, store := range []paktypes.ArtifactStore{
		paktypes.NewHostedRepository("maven", "build-1"),
		paktypes.NewGroup("maven", "public", build1),
	} {
		_, err := app.Catalog.Store(ctx, store, paktypes.Changed("test", "fixture"))
		assert.Assert(t, err == nil)
	}

	assert.Assert(t, app.Content.Put(ctx, build1, "org/example/app/1.0/app-1.0.pom", strings.NewReader(pomWithRepository)) == nil)
	assert.Assert(t, app.Content.Put(ctx, build1, "org/example/app/1.0/app-1.0.jar", strings.NewReader("jar")) == nil)

	sweep := descriptorSweep(app.Catalog, app.Content, app.Detector, app.Pool)
	assert.Assert(t, sweep(ctx, logex.Discard) == nil)

	members := waitForMembers(t, app, func(members string) bool {
		return strings.Contains(members, "maven:remote:i-jboss")
	})
	assert.EqualString(t, members, "maven:hosted:build-1,maven:remote:i-jboss")
}

func TestImpliedRepoRescanRecordsLastRun(t *testing.T) {
	ctx := context.Background()

	app := newTestApp(t)

	assert.Assert(t, impliedRepoRescan(app.DB, app.Maintainer)(ctx, logex.Discard) == nil)

	var lastScan string
	assert.Assert(t, app.DB.View(func(tx *bbolt.Tx) error {
		var err error
		lastScan, err = pakdb.CfgLastMaintenanceScan.GetRequired(tx)
		return err
	}) == nil)

	_, err := time.Parse(time.RFC3339, lastScan)
	assert.Assert(t, err == nil)
}

func TestInterruptedPromotionIsResumed(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app := newTestApp(t)

	hosted := paktypes.MustParseStoreKey("maven:hosted:shared")
	for _, store := range []paktypes.ArtifactStore{
		paktypes.NewHostedRepository("maven", "build-1"),
		paktypes.NewHostedRepository("maven", "shared"),
	} {
		_, err := app.Catalog.Store(ctx, store, paktypes.Changed("test", "fixture"))
		assert.Assert(t, err == nil)
	}
	assert.Assert(t, app.Content.Put(ctx, build1, "a/1.jar", strings.NewReader("jar")) == nil)

	// accepted, but the pool never ran it
	accepted, err := app.Promotions.SubmitPaths(ctx, paktypes.PathsPromoteRequest{Source: build1, Target: hosted})
	assert.Assert(t, err == nil)

	// "restart": the job queued above is dropped, the record says accepted
	restarted := wire(app.DB, app.driver, app.scf, logex.Discard)
	go func() { _ = restarted.Pool.Run(ctx) }()

	assert.Assert(t, resumeInterruptedPromotions(ctx, restarted.Catalog, restarted.Promotions, restarted.Pool, logex.Discard) == nil)

	deadline := time.Now().Add(5 * time.Second)
	for {
		record, err := restarted.Promotions.Result(ctx, accepted.ID)
		assert.Assert(t, err == nil)

		if record.Status == pakdb.PromotionStatusCompleted {
			assert.EqualString(t, strings.Join(record.Result.CompletedPaths, ","), "a/1.jar")
			return
		}

		if time.Now().After(deadline) {
			t.Fatalf("promotion still %s", record.Status)
		}

		time.Sleep(10 * time.Millisecond)
	}
}

func TestInterruptedGroupPromotionIsResumedUnderItsID(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app := newTestApp(t)

	for _, store := range []paktypes.ArtifactStore{
		paktypes.NewHostedRepository("maven", "build-1"),
		paktypes.NewGroup("maven", "public"),
	} {
		_, err := app.Catalog.Store(ctx, store, paktypes.Changed("test", "fixture"))
		assert.Assert(t, err == nil)
	}

	delivered := make(chan paktypes.PromoteResult, 10)

	callbackServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		result := paktypes.PromoteResult{}
		if err := json.NewDecoder(r.Body).Decode(&result); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		delivered <- result
	}))
	defer callbackServer.Close()

	accepted, err := app.Promotions.SubmitGroup(ctx, paktypes.GroupPromoteRequest{
		Source:      build1,
		TargetGroup: public,
		Async:       true,
		Callback:    &paktypes.CallbackTarget{URL: callbackServer.URL},
	})
	assert.Assert(t, err == nil)

	restarted := wire(app.DB, app.driver, app.scf, logex.Discard)
	go func() { _ = restarted.Pool.Run(ctx) }()

	assert.Assert(t, resumeInterruptedPromotions(ctx, restarted.Catalog, restarted.Promotions, restarted.Pool, logex.Discard) == nil)

	select {
	case result := <-delivered:
		assert.EqualString(t, result.ID, accepted.ID)
		assert.Assert(t, !result.Accepted)
		assert.EqualString(t, strings.Join(result.CompletedPaths, ","), "maven:hosted:build-1")
	case <-time.After(5 * time.Second):
		t.Fatal("callback not delivered")
	}

	record, err := restarted.Promotions.Result(ctx, accepted.ID)
	assert.Assert(t, err == nil)
	assert.Assert(t, record.Status == pakdb.PromotionStatusCompleted)

	// no second record was created
	records, err := restarted.Catalog.Promotions(ctx)
	assert.Assert(t, err == nil)
	assert.Assert(t, len(records) == 1)

	assert.EqualString(t, waitForMembers(t, app, func(string) bool { return true }), "maven:hosted:build-1")

	// nothing left to resume on the next start
	assert.Assert(t, resumeInterruptedPromotions(ctx, restarted.Catalog, restarted.Promotions, restarted.Pool, logex.Discard) == nil)

	select {
	case <-delivered:
		t.Fatal("finished promotion was resumed again")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestMetricsProxyCountsBytes(t *testing.T) {
	ctx := context.Background()

	metrics := newMetricsController()
	driver := metrics.WrapDriver(memcontentstore.New())

	assert.Assert(t, driver.RawStore(ctx, "maven/hosted/a/x.jar", strings.NewReader("12345")) == nil)

	content, err := driver.RawFetch(ctx, "maven/hosted/a/x.jar")
	assert.Assert(t, err == nil)
	body, err := io.ReadAll(content)
	assert.Assert(t, err == nil)
	assert.EqualString(t, string(body), "12345")

	_, err = driver.RawFetch(ctx, "maven/hosted/a/nonexistent.jar")
	assert.Assert(t, os.IsNotExist(err))

	families, err := metrics.registry.Gather()
	assert.Assert(t, err == nil)

	values := map[string]float64{}
	for _, family := range families {
		for _, metric := range family.GetMetric() {
			if metric.GetCounter() != nil {
				values[family.GetName()] = metric.GetCounter().GetValue()
			}
		}
	}

	assert.Assert(t, values["pak_content_write_bytes_total"] == 5)
	assert.Assert(t, values["pak_content_read_bytes_total"] == 5)
	assert.Assert(t, values["pak_content_read_requests_total"] == 2)
	assert.Assert(t, values["pak_content_read_errors_total"] == 1)
}

type testApp struct {
	*App
	driver contentstore.Driver // shared across "restarts"
	scf    *ServerConfigFile
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()

	db, err := pakdb.OpenAndBootstrap(filepath.Join(t.TempDir(), "pakka.db"), nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })

	scf := &ServerConfigFile{
		DbLocation: "unused",
		Content:    ContentConfig{Driver: "memory"},
	}
	assert.Assert(t, scf.applyDefaultsAndValidate() == nil)

	driver := memcontentstore.New()

	return &testApp{
		App:    wire(db, driver, scf, logex.Discard),
		driver: driver,
		scf:    scf,
	}
}

func waitForMembers(t *testing.T, app *testApp, done func(string) bool) string {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for {
		group, err := app.Catalog.GetGroup(context.Background(), public)
		assert.Assert(t, err == nil)

		members := paktypes.FormatStoreKeyList(group.Constituents)
		if done(members) || time.Now().After(deadline) {
			return members
		}

		time.Sleep(10 * time.Millisecond)
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	return path
}
