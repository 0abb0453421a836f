package pakdb

import (
	"fmt"

	"github.com/function61/pakka/pkg/blorm"
	"go.etcd.io/bbolt"
)

var (
	CfgLastMaintenanceScan = ConfigAccessor("lastMaintenanceScan")
)

type configAccessor struct {
	key string
}

func ConfigAccessor(key string) *configAccessor {
	return &configAccessor{key}
}

func (c *configAccessor) GetOptional(tx *bbolt.Tx) (string, error) {
	return c.getWithRequired(false, tx)
}

// returns descriptive error message if value not set
func (c *configAccessor) GetRequired(tx *bbolt.Tx) (string, error) {
	return c.getWithRequired(true, tx)
}

func (c *configAccessor) getWithRequired(required bool, tx *bbolt.Tx) (string, error) {
	conf := &Config{}
	if err := configRepository.OpenByPrimaryKey([]byte(c.key), conf, tx); err != nil && err != blorm.ErrNotFound {
		return "", err
	}

	if conf.Value == "" && required {
		return "", fmt.Errorf("config value %s not set", c.key)
	}

	return conf.Value, nil
}

func (c *configAccessor) Set(value string, tx *bbolt.Tx) error {
	return configRepository.Update(&Config{
		Key:   c.key,
		Value: value,
	}, tx)
}
