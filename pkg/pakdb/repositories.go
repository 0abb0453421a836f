// Encapsulates access to the catalog database
package pakdb

import (
	"github.com/function61/pakka/pkg/blorm"
)

// re-export so not all pakdb-importing packages have to import blorm
var (
	StartFromFirst = blorm.StartFromFirst
	StopIteration  = blorm.ErrStopIteration
	ErrNotFound    = blorm.ErrNotFound
)

var StoreRepository = register("Store", blorm.NewSimpleRepo(
	"stores",
	func() any { return &StoreRecord{} },
	func(record any) []byte { return []byte(record.(*StoreRecord).Key) }))

// answers "which groups list this key as a direct constituent"
var GroupsByConstituentIndex = blorm.NewValueIndex("constituent", StoreRepository, func(record any, index func(val []byte)) {
	for _, member := range record.(*StoreRecord).Constituents {
		index([]byte(member))
	}
})

var RuleSetRepository = register("RuleSet", blorm.NewSimpleRepo(
	"rulesets",
	func() any { return &RuleSetRecord{} },
	func(record any) []byte { return []byte(record.(*RuleSetRecord).Name) }))

var PromotionRepository = register("Promotion", blorm.NewSimpleRepo(
	"promotions",
	func() any { return &PromotionRecord{} },
	func(record any) []byte { return []byte(record.(*PromotionRecord).ID) }))

var configRepository = register("Config", blorm.NewSimpleRepo(
	"config",
	func() any { return &Config{} },
	func(record any) []byte { return []byte(record.(*Config).Key) }))

// appenders

func StoreRecordAppender(slice *[]StoreRecord) func(record any) error {
	return func(record any) error {
		*slice = append(*slice, *record.(*StoreRecord))
		return nil
	}
}

func RuleSetRecordAppender(slice *[]RuleSetRecord) func(record any) error {
	return func(record any) error {
		*slice = append(*slice, *record.(*RuleSetRecord))
		return nil
	}
}

func PromotionRecordAppender(slice *[]PromotionRecord) func(record any) error {
	return func(record any) error {
		*slice = append(*slice, *record.(*PromotionRecord))
		return nil
	}
}

// key is the record type name, used by bootstrap & for listing known buckets
var RepoByRecordType = map[string]blorm.Repository{}

func register(recordType string, repo *blorm.SimpleRepository) *blorm.SimpleRepository {
	RepoByRecordType[recordType] = repo
	return repo
}
