// "Bolt Light ORM", doesn't do much else than persist structs into Bolt (with indices)
package blorm

import (
	"errors"

	"github.com/asdine/storm/codec/msgpack"
	"go.etcd.io/bbolt"
)

var (
	ErrNotFound       = errors.New("database: record not found")
	ErrBucketNotFound = errors.New("database: bucket not found (bootstrap needed?)")
	ErrStopIteration  = errors.New("blorm: stop iteration")
)

var StartFromFirst = []byte("")

type Repository interface {
	Bootstrap(tx *bbolt.Tx) error
	OpenByPrimaryKey(id []byte, record any, tx *bbolt.Tx) error
	Update(record any, tx *bbolt.Tx) error
	Delete(record any, tx *bbolt.Tx) error
	// return ErrStopIteration from "fn" to stop iteration. that error is not returned
	// to the API caller
	Each(fn func(record any) error, tx *bbolt.Tx) error
	// rules of Each() also apply here
	EachFrom(from []byte, fn func(record any) error, tx *bbolt.Tx) error
	Alloc() any
}

type SimpleRepository struct {
	bucketName  []byte
	alloc       func() any
	idExtractor func(record any) []byte
	indices     []Index
}

var _ Repository = (*SimpleRepository)(nil)

func NewSimpleRepo(bucketName string, allocator func() any, idExtractor func(any) []byte) *SimpleRepository {
	return &SimpleRepository{
		bucketName:  []byte(bucketName),
		alloc:       allocator,
		idExtractor: idExtractor,
		indices:     []Index{},
	}
}

func (r *SimpleRepository) Bootstrap(tx *bbolt.Tx) error {
	_, err := tx.CreateBucketIfNotExists(r.bucketName)
	return err
}

func (r *SimpleRepository) Alloc() any {
	return r.alloc()
}

func (r *SimpleRepository) OpenByPrimaryKey(id []byte, record any, tx *bbolt.Tx) error {
	bucket := tx.Bucket(r.bucketName)
	if bucket == nil {
		return ErrBucketNotFound
	}

	data := bucket.Get(id)
	if data == nil {
		return ErrNotFound
	}

	return msgpack.Codec.Unmarshal(data, record)
}

func (r *SimpleRepository) Update(record any, tx *bbolt.Tx) error {
	bucket := tx.Bucket(r.bucketName)
	if bucket == nil {
		return ErrBucketNotFound
	}

	id := r.idExtractor(record)

	data, err := msgpack.Codec.Marshal(record)
	if err != nil {
		return err
	}

	oldImage := r.alloc()

	errOpenOld := r.OpenByPrimaryKey(id, oldImage, tx)
	if errOpenOld != nil && errOpenOld != ErrNotFound {
		return errOpenOld
	}

	oldIndices := []qualifiedIndexRef{}
	if errOpenOld != ErrNotFound { // we have old and new image, must compare indices for both
		oldIndices = r.indexRefsForRecord(oldImage)
	}

	if err := updateIndices(oldIndices, r.indexRefsForRecord(record), tx); err != nil {
		return err
	}

	return bucket.Put(id, data)
}

func (r *SimpleRepository) Delete(record any, tx *bbolt.Tx) error {
	bucket := tx.Bucket(r.bucketName)
	if bucket == nil {
		return ErrBucketNotFound
	}

	id := r.idExtractor(record)

	// index refs must be computed from the stored image, caller's copy might be stale
	stored := r.alloc()
	if err := r.OpenByPrimaryKey(id, stored, tx); err != nil {
		return err
	}

	if err := updateIndices(r.indexRefsForRecord(stored), []qualifiedIndexRef{}, tx); err != nil {
		return err
	}

	return bucket.Delete(id)
}

func (r *SimpleRepository) Each(fn func(record any) error, tx *bbolt.Tx) error {
	return r.EachFrom(StartFromFirst, fn, tx)
}

func (r *SimpleRepository) EachFrom(from []byte, fn func(record any) error, tx *bbolt.Tx) error {
	bucket := tx.Bucket(r.bucketName)
	if bucket == nil {
		return ErrBucketNotFound
	}

	all := bucket.Cursor()

	var key, value []byte
	if len(from) == 0 {
		key, value = all.First()
	} else {
		key, value = all.Seek(from)
	}

	for ; key != nil; key, value = all.Next() {
		record := r.alloc()

		if err := msgpack.Codec.Unmarshal(value, record); err != nil {
			return err
		}

		if err := fn(record); err != nil {
			if err == ErrStopIteration {
				return nil // not an error, so don't give one out
			}

			return err
		}
	}

	return nil
}

func (r *SimpleRepository) indexRefsForRecord(record any) []qualifiedIndexRef {
	refs := []qualifiedIndexRef{}

	for _, repoIndex := range r.indices {
		refs = append(refs, repoIndex.extractIndexRefs(record)...)
	}

	return refs
}

func updateIndices(oldIndices []qualifiedIndexRef, newIndices []qualifiedIndexRef, tx *bbolt.Tx) error {
	for _, old := range oldIndices {
		if !indexRefExistsIn(old, newIndices) {
			if err := old.drop(tx); err != nil {
				return err
			}
		}
	}

	for _, nu := range newIndices {
		if !indexRefExistsIn(nu, oldIndices) {
			if err := nu.write(tx); err != nil {
				return err
			}
		}
	}

	return nil
}
