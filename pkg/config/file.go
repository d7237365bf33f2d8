package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// FileConfig is the YAML overlay named by AUDIT_CONFIG_FILE:
//
//	monitored_tables:
//	  - users
//	  - user_roles
//	archive:
//	  retention: 48h
//	  schedule: "30 2 * * *"
//
// Omitted keys leave the environment values in place.
type FileConfig struct {
	MonitoredTables []string          `yaml:"monitored_tables"`
	Archive         ArchiveFileConfig `yaml:"archive"`
}

// ArchiveFileConfig overrides archive settings
type ArchiveFileConfig struct {
	Retention string `yaml:"retention"`
	Schedule  string `yaml:"schedule"`
}

// LoadFile parses a YAML overlay file
func LoadFile(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var fc FileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	for _, table := range fc.MonitoredTables {
		if table == "" {
			return nil, fmt.Errorf("config file %s: monitored table names must not be empty", path)
		}
	}
	return &fc, nil
}

func (fc *FileConfig) apply(cfg *Config) error {
	// A present but empty list is honored and disables auditing.
	if fc.MonitoredTables != nil {
		cfg.Audit.MonitoredTables = append([]string(nil), fc.MonitoredTables...)
	}
	if fc.Archive.Retention != "" {
		d, err := time.ParseDuration(fc.Archive.Retention)
		if err != nil {
			return fmt.Errorf("archive.retention: %w", err)
		}
		cfg.Archive.Retention = d
	}
	if fc.Archive.Schedule != "" {
		cfg.Archive.Schedule = fc.Archive.Schedule
	}
	return nil
}
