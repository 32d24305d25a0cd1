// Package config loads the repository registry and fleet objectives from a
// YAML file at startup. The file is declarative seed data: entries are
// upserted, never deleted, so operators can also manage the registry through
// the REST API.
package config

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"
	"gopkg.in/yaml.v2"

	"github.com/ortelius/avr-backend/internal/store"
	"github.com/ortelius/avr-backend/model"
)

// Registry is the on-disk registry document. Skipped lists entries that
// failed validation; one bad repo must not keep the rest of the fleet from
// loading.
type Registry struct {
	Repos      []model.RepoConfig `yaml:"repos"`
	Objectives []model.Objective  `yaml:"objectives"`
	Skipped    []string           `yaml:"-"`
}

// LoadRegistry reads a registry document. An unreadable or unparseable file
// is an error; individually invalid entries are dropped and reported in
// Skipped.
func LoadRegistry(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading registry config: %w", err)
	}

	var reg Registry
	if err := yaml.Unmarshal(data, &reg); err != nil {
		return nil, fmt.Errorf("parsing registry config: %w", err)
	}

	valid := reg.Repos[:0]
	for i := range reg.Repos {
		if err := reg.Repos[i].Validate(); err != nil {
			reg.Skipped = append(reg.Skipped, fmt.Sprintf("repo %s: %v", reg.Repos[i].RepoURL, err))
			continue
		}
		valid = append(valid, reg.Repos[i])
	}
	reg.Repos = valid

	validObj := reg.Objectives[:0]
	for i := range reg.Objectives {
		if err := reg.Objectives[i].Validate(); err != nil {
			reg.Skipped = append(reg.Skipped, fmt.Sprintf("objective %s: %v", reg.Objectives[i].Name, err))
			continue
		}
		validObj = append(validObj, reg.Objectives[i])
	}
	reg.Objectives = validObj

	return &reg, nil
}

// Bootstrap upserts the registry document into the store.
func Bootstrap(ctx context.Context, st store.Store, reg *Registry, log *zap.SugaredLogger) error {
	for _, skipped := range reg.Skipped {
		log.Warnw("registry entry skipped", "entry", skipped)
	}
	for i := range reg.Repos {
		if err := st.UpsertRepo(ctx, &reg.Repos[i]); err != nil {
			return fmt.Errorf("upserting repo %s: %w", reg.Repos[i].RepoURL, err)
		}
	}
	for i := range reg.Objectives {
		if err := st.UpsertObjective(ctx, &reg.Objectives[i]); err != nil {
			return fmt.Errorf("upserting objective %s: %w", reg.Objectives[i].Name, err)
		}
	}
	log.Infow("registry bootstrapped", "repos", len(reg.Repos), "objectives", len(reg.Objectives))
	return nil
}
