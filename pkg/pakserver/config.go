package pakserver

import (
	"fmt"
	"log"
	"time"

	"github.com/function61/gokit/jsonfile"
	"github.com/function61/gokit/logex"
	"github.com/function61/pakka/pkg/contentstore"
	"github.com/function61/pakka/pkg/contentstore/localfscontentstore"
	"github.com/function61/pakka/pkg/contentstore/memcontentstore"
	"github.com/function61/pakka/pkg/contentstore/s3contentstore"
	"github.com/function61/pakka/pkg/scheduler"
)

const (
	defaultWorkers             = 4
	defaultQueueSize           = 64
	defaultMaintenanceSchedule = "@every 1h"
	defaultSweepSchedule       = "@every 15m"
	defaultCallbackTimeout     = 30 * time.Second
)

type ServerConfigFile struct {
	DbLocation              string        `json:"db_location"`
	Content                 ContentConfig `json:"content"`
	Workers                 int           `json:"workers"`
	QueueSize               int           `json:"queue_size"`
	MaintenanceSchedule     string        `json:"maintenance_schedule"`
	DescriptorSweepSchedule string        `json:"descriptor_sweep_schedule"`
	MetricsAddr             string        `json:"metrics_addr"` // empty = no metrics listener
	CallbackTimeoutSeconds  int           `json:"callback_timeout_seconds"`
}

type ContentConfig struct {
	Driver            string `json:"driver"` // localfs | s3 | memory
	Path              string `json:"path,omitempty"`
	S3Bucket          string `json:"s3_bucket,omitempty"`
	S3Region          string `json:"s3_region,omitempty"`
	S3Prefix          string `json:"s3_prefix,omitempty"`
	S3AccessKeyID     string `json:"s3_access_key_id,omitempty"`
	S3SecretAccessKey string `json:"s3_secret_access_key,omitempty"`
}

func ReadServerConfigFile() (*ServerConfigFile, error) {
	return readServerConfigFileFrom("config.json")
}

func readServerConfigFileFrom(path string) (*ServerConfigFile, error) {
	scf := &ServerConfigFile{}
	if err := jsonfile.Read(path, &scf, true); err != nil {
		return nil, err
	}

	if err := scf.applyDefaultsAndValidate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return scf, nil
}

func (s *ServerConfigFile) applyDefaultsAndValidate() error {
	if s.DbLocation == "" {
		return fmt.Errorf("db_location not set")
	}

	if s.Workers <= 0 {
		s.Workers = defaultWorkers
	}

	if s.QueueSize <= 0 {
		s.QueueSize = defaultQueueSize
	}

	if s.MaintenanceSchedule == "" {
		s.MaintenanceSchedule = defaultMaintenanceSchedule
	}

	if s.DescriptorSweepSchedule == "" {
		s.DescriptorSweepSchedule = defaultSweepSchedule
	}

	for _, schedule := range []string{s.MaintenanceSchedule, s.DescriptorSweepSchedule} {
		if _, err := scheduler.ValidateSchedule(schedule); err != nil {
			return err
		}
	}

	switch s.Content.Driver {
	case "localfs":
		if s.Content.Path == "" {
			return fmt.Errorf("content.path required for localfs")
		}
	case "s3":
		if s.Content.S3Bucket == "" || s.Content.S3Region == "" {
			return fmt.Errorf("content.s3_bucket and content.s3_region required for s3")
		}
	case "memory":
	default:
		return fmt.Errorf("unsupported content driver: %q", s.Content.Driver)
	}

	return nil
}

func (s *ServerConfigFile) CallbackTimeout() time.Duration {
	if s.CallbackTimeoutSeconds <= 0 {
		return defaultCallbackTimeout
	}

	return time.Duration(s.CallbackTimeoutSeconds) * time.Second
}

// the memory driver loses everything on restart, so it's only useful for trying things out
func ContentDriverFromConfig(conf ContentConfig, logger *log.Logger) (contentstore.Driver, error) {
	switch conf.Driver {
	case "localfs":
		return localfscontentstore.New(conf.Path, logex.Prefix("contentstore/localfs", logger)), nil
	case "s3":
		return s3contentstore.New(s3contentstore.Options{
			Bucket:          conf.S3Bucket,
			Region:          conf.S3Region,
			Prefix:          conf.S3Prefix,
			AccessKeyID:     conf.S3AccessKeyID,
			SecretAccessKey: conf.S3SecretAccessKey,
		}, logex.Prefix("contentstore/s3", logger))
	case "memory":
		return memcontentstore.New(), nil
	default:
		return nil, fmt.Errorf("unsupported content driver: %q", conf.Driver)
	}
}
