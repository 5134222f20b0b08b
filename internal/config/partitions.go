package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"github.com/andresuchdata/tripdata-ingest/internal/domain"
	"github.com/spf13/viper"
)

//go:embed partitions.yaml
var defaultPartitions []byte

// ErrUnknownPartition is returned when a requested partition is not configured.
var ErrUnknownPartition = errors.New("unknown partition")

// PartitionSet is a versioned list of partition configurations.
type PartitionSet struct {
	Version    int                      `mapstructure:"version"`
	Partitions []domain.PartitionConfig `mapstructure:"partitions"`
}

// LoadPartitions reads partition configs from path, or from the embedded
// reference file when path is empty. Release URLs are resolved against apiBase
// for partitions that only name a release tag.
func LoadPartitions(path, apiBase string) (*PartitionSet, error) {
	v := viper.New()
	if path == "" {
		v.SetConfigType("yaml")
		if err := v.ReadConfig(bytes.NewReader(defaultPartitions)); err != nil {
			return nil, fmt.Errorf("failed to read embedded partitions: %w", err)
		}
	} else {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read partitions file %s: %w", path, err)
		}
	}
	return decodePartitions(v, apiBase)
}

// ParsePartitions decodes a YAML partition document.
func ParsePartitions(data []byte, apiBase string) (*PartitionSet, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("failed to parse partitions: %w", err)
	}
	return decodePartitions(v, apiBase)
}

func decodePartitions(v *viper.Viper, apiBase string) (*PartitionSet, error) {
	var set PartitionSet
	if err := v.Unmarshal(&set); err != nil {
		return nil, fmt.Errorf("failed to decode partitions: %w", err)
	}
	if set.Version < 1 {
		return nil, fmt.Errorf("partitions file has no version")
	}

	seen := make(map[string]bool, len(set.Partitions))
	for i := range set.Partitions {
		p := &set.Partitions[i]
		if p.ReleaseURL == "" && p.ReleaseTag != "" {
			p.ReleaseURL = strings.TrimSuffix(apiBase, "/") + "/" + p.ReleaseTag
		}
		for j := range p.Columns {
			p.Columns[j].Type = domain.FieldType(strings.ToUpper(string(p.Columns[j].Type)))
			if p.Columns[j].Mode == "" {
				p.Columns[j].Mode = domain.ModeNullable
			}
			p.Columns[j].Mode = domain.Mode(strings.ToUpper(string(p.Columns[j].Mode)))
		}
		if err := p.Validate(); err != nil {
			return nil, err
		}
		if seen[p.Name] {
			return nil, fmt.Errorf("partition %s is configured twice", p.Name)
		}
		seen[p.Name] = true
	}
	if len(set.Partitions) == 0 {
		return nil, fmt.Errorf("no partitions configured")
	}
	return &set, nil
}

// Select returns the named partitions in the order given, or all of them when
// names is empty.
func (s *PartitionSet) Select(names ...string) ([]domain.PartitionConfig, error) {
	if len(names) == 0 {
		out := make([]domain.PartitionConfig, len(s.Partitions))
		copy(out, s.Partitions)
		return out, nil
	}

	byName := make(map[string]domain.PartitionConfig, len(s.Partitions))
	for _, p := range s.Partitions {
		byName[p.Name] = p
	}

	out := make([]domain.PartitionConfig, 0, len(names))
	for _, name := range names {
		p, ok := byName[strings.TrimSpace(name)]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownPartition, name)
		}
		out = append(out, p)
	}
	return out, nil
}
