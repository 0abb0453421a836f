// Stores content as files under a root directory
package localfscontentstore

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/function61/gokit/atomicfilewrite"
	"github.com/function61/gokit/fileexists"
	"github.com/function61/gokit/logex"
	"github.com/minio/sha256-simd"
)

// to ensure that we mounted the correct directory, there must be a flag file in the root
const flagFilename = ".pakka-content"

func New(path string, logger *log.Logger) *localFs {
	return &localFs{
		path: path,
		log:  logex.Levels(logex.NonNil(logger)),
	}
}

type localFs struct {
	path string
	log  *logex.Leveled
}

// creates the root & flag file if missing
func Initialize(path string) error {
	if err := os.MkdirAll(path, 0755); err != nil {
		return err
	}

	return atomicfilewrite.Write(filepath.Join(path, flagFilename), func(writer io.Writer) error {
		_, err := writer.Write([]byte("pakka content root\n"))
		return err
	})
}

func (l *localFs) RawStore(_ context.Context, name string, content io.Reader) error {
	filename := l.getPath(name)

	// does not error if already exists
	if err := os.MkdirAll(filepath.Dir(filename), 0755); err != nil {
		return err
	}

	return atomicfilewrite.Write(filename, func(writer io.Writer) error {
		_, err := io.Copy(writer, content)
		return err
	})
}

func (l *localFs) RawFetch(_ context.Context, name string) (io.ReadCloser, error) {
	return os.Open(l.getPath(name))
}

func (l *localFs) RawExists(_ context.Context, name string) (bool, error) {
	return fileexists.Exists(l.getPath(name))
}

func (l *localFs) RawDelete(_ context.Context, name string) error {
	if err := os.Remove(l.getPath(name)); err != nil && !os.IsNotExist(err) {
		return err
	}

	return nil
}

func (l *localFs) RawList(ctx context.Context, prefix string) ([]string, error) {
	// prefixes are "<pkg>/<type>/<name>/" so walking the directory is enough
	dir := l.getPath(strings.TrimSuffix(prefix, "/"))

	names := []string{}

	err := filepath.WalkDir(dir, func(filename string, entry fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) && filename == dir { // store has no content yet
				return filepath.SkipDir
			}
			return err
		}

		if err := ctx.Err(); err != nil {
			return err
		}

		if entry.IsDir() || isTempFile(entry.Name()) {
			return nil
		}

		rel, err := filepath.Rel(l.path, filename)
		if err != nil {
			return err
		}

		names = append(names, filepath.ToSlash(rel))

		return nil
	})

	return names, err
}

// copies and verifies that the copy's checksum equals the source's
func (l *localFs) RawCopy(_ context.Context, from string, to string) error {
	source, err := os.Open(l.getPath(from))
	if err != nil {
		return err
	}
	defer source.Close()

	destination := l.getPath(to)

	if err := os.MkdirAll(filepath.Dir(destination), 0755); err != nil {
		return err
	}

	sourceHash := sha256.New()

	if err := atomicfilewrite.Write(destination, func(writer io.Writer) error {
		_, err := io.Copy(writer, io.TeeReader(source, sourceHash))
		return err
	}); err != nil {
		return err
	}

	copiedHash, err := fileSha256(destination)
	if err != nil {
		return err
	}

	if expected := hex.EncodeToString(sourceHash.Sum(nil)); copiedHash != expected {
		_ = os.Remove(destination)
		return fmt.Errorf("copy %s -> %s: checksum mismatch %s vs %s", from, to, expected, copiedHash)
	}

	l.log.Debug.Printf("copied %s -> %s (sha256 %s)", from, to, copiedHash)

	return nil
}

func (l *localFs) Mountable(_ context.Context) error {
	exists, err := fileexists.Exists(filepath.Join(l.path, flagFilename))
	if err != nil {
		return err // error checking file existence
	}

	if !exists {
		return fmt.Errorf("flag file not found: %s", filepath.Join(l.path, flagFilename))
	}

	return nil
}

func (l *localFs) getPath(name string) string {
	return filepath.Join(l.path, filepath.FromSlash(name))
}

func fileSha256(filename string) (string, error) {
	file, err := os.Open(filename)
	if err != nil {
		return "", err
	}
	defer file.Close()

	hash := sha256.New()
	if _, err := io.Copy(hash, file); err != nil {
		return "", err
	}

	return hex.EncodeToString(hash.Sum(nil)), nil
}

// in-progress atomic writes
func isTempFile(name string) bool {
	return strings.HasSuffix(name, ".part")
}
