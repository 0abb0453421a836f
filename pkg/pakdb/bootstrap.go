package pakdb

import (
	"encoding/binary"
	"fmt"
	"log"
	"time"

	"github.com/function61/gokit/logex"
	"github.com/function61/pakka/pkg/blorm"
	"go.etcd.io/bbolt"
)

/*	Schema versions

	v1
	==
	  Changes: stores, rulesets, promotions, config
	Migration: n/a
*/

const (
	CurrentSchemaVersion = 1
)

var (
	metaBucketKey    = []byte("_meta")
	schemaVersionKey = []byte("schemaVersion")
)

// how long we wait for another process (e.g. a running server when using admin commands)
// to release the DB file lock. timing out yields bbolt.ErrTimeout, which is transient
const openLockTimeout = 2 * time.Second

func Open(dbLocation string) (*bbolt.DB, error) {
	return bbolt.Open(dbLocation, 0700, &bbolt.Options{Timeout: openLockTimeout})
}

// opens and bootstraps if the database is new
func OpenAndBootstrap(dbLocation string, logger *log.Logger) (*bbolt.DB, error) {
	db, err := Open(dbLocation)
	if err != nil {
		return nil, err
	}

	if err := db.View(ValidateSchemaVersion); err != nil {
		if err != blorm.ErrBucketNotFound {
			db.Close()
			return nil, err
		}

		logex.Levels(logex.NonNil(logger)).Info.Printf("bootstrapping %s", dbLocation)

		if err := Bootstrap(db); err != nil {
			db.Close()
			return nil, err
		}
	}

	return db, nil
}

func Bootstrap(db *bbolt.DB) error {
	return db.Update(func(tx *bbolt.Tx) error {
		for _, repo := range RepoByRecordType {
			if err := repo.Bootstrap(tx); err != nil {
				return err
			}
		}

		return WriteSchemaVersion(CurrentSchemaVersion, tx)
	})
}

// returns blorm.ErrBucketNotFound if bootstrap needed
func ValidateSchemaVersion(tx *bbolt.Tx) error {
	version, err := ReadSchemaVersion(tx)
	if err != nil {
		return err
	}

	if version != CurrentSchemaVersion {
		return fmt.Errorf("schema version %d in DB, but we support %d", version, CurrentSchemaVersion)
	}

	return nil
}

func ReadSchemaVersion(tx *bbolt.Tx) (uint32, error) {
	metaBucket := tx.Bucket(metaBucketKey)
	if metaBucket == nil {
		return 0, blorm.ErrBucketNotFound
	}

	raw := metaBucket.Get(schemaVersionKey)
	if len(raw) != 4 {
		return 0, fmt.Errorf("corrupted schema version: %x", raw)
	}

	return binary.LittleEndian.Uint32(raw), nil
}

func WriteSchemaVersion(version uint32, tx *bbolt.Tx) error {
	metaBucket, err := tx.CreateBucketIfNotExists(metaBucketKey)
	if err != nil {
		return err
	}

	versionBytes := make([]byte, 4)
	binary.LittleEndian.PutUint32(versionBytes, version)

	return metaBucket.Put(schemaVersionKey, versionBytes)
}
