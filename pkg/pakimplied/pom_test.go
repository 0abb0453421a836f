package pakimplied

import (
	"strings"
	"testing"

	"github.com/function61/gokit/assert"
	"github.com/function61/pakka/pkg/paktypes"
)

const jbossPom = `<?xml version="1.0" encoding="UTF-8"?>
<project xmlns="http://maven.apache.org/POM/4.0.0">
	<modelVersion>4.0.0</modelVersion>
	<groupId>org.example</groupId>
	<artifactId>app</artifactId>
	<version>1.0</version>
	<repositories>
		<repository>
			<id>jboss</id>
			<url>https://repository.jboss.org/maven2/</url>
		</repository>
		<repository>
			<id>jboss-duplicate</id>
			<url>https://repository.jboss.org/maven2</url>
		</repository>
		<repository>
			<id>from-property</id>
			<url>${repo.url}</url>
		</repository>
	</repositories>
	<pluginRepositories>
		<pluginRepository>
			<id>nightlies</id>
			<url>https://nightlies.example.com/m2</url>
			<releases><enabled>false</enabled></releases>
		</pluginRepository>
	</pluginRepositories>
	<profiles>
		<profile>
			<repositories>
				<repository>
					<id>local</id>
					<url>file:///home/build/.m2/repository</url>
				</repository>
			</repositories>
		</profile>
	</profiles>
</project>`

func TestParsePomRepositories(t *testing.T) {
	declarations, err := ParsePomRepositories(strings.NewReader(jbossPom))
	assert.Assert(t, err == nil)
	assert.Assert(t, len(declarations) == 3)

	assert.EqualString(t, declarations[0].ID, "jboss")
	assert.Assert(t, declarations[0].ReleasesEnabled && declarations[0].SnapshotsEnabled)

	assert.EqualString(t, declarations[1].ID, "nightlies")
	assert.Assert(t, !declarations[1].ReleasesEnabled)

	assert.EqualString(t, declarations[2].URL, "file:///home/build/.m2/repository")
}

func TestParsePomRepositoriesGarbage(t *testing.T) {
	_, err := ParsePomRepositories(strings.NewReader("this is not xml"))
	assert.Assert(t, err != nil)
}

func TestMavenCreator(t *testing.T) {
	origin := paktypes.MustParseStoreKey("maven:hosted:build-1")

	remote, err := Creators["maven"].Create(origin, RepositoryDeclaration{
		ID:               "JBoss Public",
		URL:              "https://repository.jboss.org/maven2/",
		ReleasesEnabled:  true,
		SnapshotsEnabled: true,
	})
	assert.Assert(t, err == nil)
	assert.EqualString(t, remote.Key.String(), "maven:remote:i-JBoss-Public")
	assert.EqualString(t, remote.Metadata[paktypes.MetadataOrigin], "implied")
	assert.EqualString(t, remote.Metadata[paktypes.MetadataFoundInRepo], "maven:hosted:build-1")
	assert.Assert(t, len(remote.PathMaskPatterns) == 0)

	snapshotsOnly, err := Creators["maven"].Create(origin, RepositoryDeclaration{
		URL:              "https://nightlies.example.com/m2",
		SnapshotsEnabled: true,
	})
	assert.Assert(t, err == nil)
	assert.EqualString(t, snapshotsOnly.Key.Name, "i-nightlies.example.com-m2")
	assert.Assert(t, snapshotsOnly.AllowsPath("org/x/1.0-SNAPSHOT/x-1.0-SNAPSHOT.jar"))
	assert.Assert(t, !snapshotsOnly.AllowsPath("org/x/1.0/x-1.0.jar"))

	local, err := Creators["maven"].Create(origin, RepositoryDeclaration{
		URL: "file:///home/build/.m2/repository",
	})
	assert.Assert(t, err == nil)
	assert.Assert(t, local == nil)

	_, err = Creators["maven"].Create(origin, RepositoryDeclaration{ID: "x", URL: "not-an-url"})
	assert.Assert(t, err != nil)
}
