package vault

import (
	"fmt"

	"bakonf-go/internal/bakonf"
	"bakonf-go/internal/config"
)

// NewVaultFromConfig creates a Vault implementation based on the output config type.
func NewVaultFromConfig(cfg config.OutputConfig) (bakonf.Vault, error) {
	switch cfg.Type {
	case "memory":
		return NewMemoryVault(cfg.Name), nil
	case "s3":
		if cfg.S3Bucket == "" {
			return nil, fmt.Errorf("s3 output requires s3_bucket to be set")
		}
		v, err := NewS3Vault(cfg)
		if err != nil {
			return nil, err
		}
		return v, nil
	case "filesystem":
		if cfg.Dir == "" {
			return nil, fmt.Errorf("filesystem output requires dir to be set")
		}
		v, err := NewFileSystemVault(cfg.Name, cfg.Dir)
		if err != nil {
			return nil, err
		}
		return v, nil
	default:
		return nil, fmt.Errorf("unknown output type: %s", cfg.Type)
	}
}
