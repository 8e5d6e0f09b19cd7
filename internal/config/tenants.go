package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/kirillkom/grounded-rag/internal/core/domain"
)

// TenantFile is the on-disk layout of TENANT_CONFIG_FILE.
type TenantFile struct {
	Tenants []domain.TenantConfig `yaml:"tenants"`
}

// LoadTenantFile reads tenant overrides from a YAML file. Unknown keys and
// duplicate tenants are rejected.
func LoadTenantFile(path string) ([]domain.TenantConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tenant file: %w", err)
	}
	return ParseTenantFile(raw)
}

func ParseTenantFile(raw []byte) ([]domain.TenantConfig, error) {
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)

	var file TenantFile
	if err := dec.Decode(&file); err != nil && !errors.Is(err, io.EOF) {
		return nil, domain.WrapError(domain.ErrInvalidInput, "parse tenant file", err)
	}

	seen := make(map[string]struct{}, len(file.Tenants))
	for _, cfg := range file.Tenants {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		if _, dup := seen[cfg.TenantID]; dup {
			return nil, domain.WrapError(domain.ErrInvalidInput, "parse tenant file", fmt.Errorf("tenant %q listed twice", cfg.TenantID))
		}
		seen[cfg.TenantID] = struct{}{}
	}
	return file.Tenants, nil
}
