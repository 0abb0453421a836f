package blorm

import (
	"bytes"

	"go.etcd.io/bbolt"
)

/*	valueIndex (example: groups by constituent)
	----------
	bucket <repo>:<index> / partition <value> / (id) = nil
*/

type Index interface {
	// only for our internal use
	extractIndexRefs(record any) []qualifiedIndexRef
}

// fully qualified index reference, including the index name
type qualifiedIndexRef struct {
	indexName []byte // looks like stores:constituent
	partition []byte
	sortKey   []byte // primary key of record the index entry refers to
}

func (i *qualifiedIndexRef) equals(other *qualifiedIndexRef) bool {
	return bytes.Equal(i.indexName, other.indexName) &&
		bytes.Equal(i.partition, other.partition) &&
		bytes.Equal(i.sortKey, other.sortKey)
}

func (i *qualifiedIndexRef) write(tx *bbolt.Tx) error {
	bucket, err := indexBucketForWrite(i, tx)
	if err != nil {
		return err
	}

	return bucket.Put(i.sortKey, nil)
}

func (i *qualifiedIndexRef) drop(tx *bbolt.Tx) error {
	bucket, err := indexBucketForWrite(i, tx)
	if err != nil {
		return err
	}

	return bucket.Delete(i.sortKey)
}

func indexBucketForWrite(ref *qualifiedIndexRef, tx *bbolt.Tx) (*bbolt.Bucket, error) {
	indexBucket, err := tx.CreateBucketIfNotExists(ref.indexName)
	if err != nil {
		return nil, err
	}

	return indexBucket.CreateBucketIfNotExists(ref.partition)
}

type ByValueIndex interface {
	// return ErrStopIteration if you want to stop mid-iteration (nil error will be returned by Query() )
	Query(partition []byte, start []byte, fn func(sortKey []byte) error, tx *bbolt.Tx) error
	Index
}

type byValueIndex struct {
	repo            *SimpleRepository
	indexName       []byte
	memberEvaluator func(record any, index func(partition []byte))
}

func NewValueIndex(name string, repo *SimpleRepository, memberEvaluator func(record any, index func(partition []byte))) ByValueIndex {
	idx := &byValueIndex{repo, []byte(string(repo.bucketName) + ":" + name), memberEvaluator}

	repo.indices = append(repo.indices, idx)

	return idx
}

func (b *byValueIndex) extractIndexRefs(record any) []qualifiedIndexRef {
	refs := []qualifiedIndexRef{}

	b.memberEvaluator(record, func(partition []byte) {
		if len(partition) == 0 {
			panic("cannot index by empty value")
		}

		ref := qualifiedIndexRef{b.indexName, partition, b.repo.idExtractor(record)}
		if !indexRefExistsIn(ref, refs) {
			refs = append(refs, ref)
		}
	})

	return refs
}

func (b *byValueIndex) Query(partition []byte, start []byte, fn func(sortKey []byte) error, tx *bbolt.Tx) error {
	indexBucket := tx.Bucket(b.indexName)
	if indexBucket == nil {
		return nil // index doesn't exist => no matching entries
	}

	partitionBucket := indexBucket.Bucket(partition)
	if partitionBucket == nil {
		return nil
	}

	idx := partitionBucket.Cursor()

	var sortKey []byte
	if len(start) == 0 {
		sortKey, _ = idx.First()
	} else {
		sortKey, _ = idx.Seek(start)
	}

	for ; sortKey != nil; sortKey, _ = idx.Next() {
		if err := fn(makeCopy(sortKey)); err != nil {
			if err == ErrStopIteration {
				return nil
			}

			return err
		}
	}

	return nil
}

func indexRefExistsIn(ir qualifiedIndexRef, coll []qualifiedIndexRef) bool {
	for i := range coll {
		if ir.equals(&coll[i]) {
			return true
		}
	}

	return false
}

// https://github.com/boltdb/bolt/issues/658#issuecomment-277898467
func makeCopy(from []byte) []byte {
	copied := make([]byte, len(from))
	copy(copied, from)
	return copied
}
