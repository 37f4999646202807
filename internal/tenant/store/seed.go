package store

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"gatekeeper/internal/tenant/models"
	id "gatekeeper/pkg/domain"
)

// LoadSeedFile reads tenant settings from the "tenants" list of a YAML seed
// file. Fields left out of an entry take their default values.
func LoadSeedFile(path string) ([]*models.Settings, error) {
	body, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	var doc struct {
		Tenants []yaml.Node `yaml:"tenants"`
	}
	if err := yaml.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("parse seed file: %w", err)
	}
	out := make([]*models.Settings, 0, len(doc.Tenants))
	for i := range doc.Tenants {
		s := models.Defaults(id.TenantID{})
		if err := doc.Tenants[i].Decode(s); err != nil {
			return nil, fmt.Errorf("parse seed tenant %d: %w", i, err)
		}
		if err := s.Validate(); err != nil {
			return nil, fmt.Errorf("seed tenant %d: %w", i, err)
		}
		out = append(out, s)
	}
	return out, nil
}
