package version

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tidemark-lab/tidemark/pkg/errors"
)

func TestCheckConfigCompatibility(t *testing.T) {
	tests := []struct {
		name          string
		engineVersion string
		configVersion string
		wantErr       bool
	}{
		{"exact match", "1.2.0", "1.2.0", false},
		{"patch differs", "1.2.1", "1.2.0", false},
		{"engine minor newer", "1.3.0", "1.2.0", false},
		{"config minor newer", "1.2.0", "1.3.0", true},
		{"major differs", "2.0.0", "1.2.0", true},
		{"v prefix tolerated", "v1.2.0", "v1.2.3", false},
		{"dev engine skips check", "main", "1.2.0", false},
		{"dev config skips check", "1.2.0", "main", false},
		{"garbage engine version", "not-a-version", "1.2.0", true},
		{"garbage config version", "1.2.0", "not-a-version", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckConfigCompatibility(tt.engineVersion, tt.configVersion)
			if tt.wantErr {
				assert.Error(t, err)
				assert.Equal(t, errors.ErrCodeSchemaVersion, errors.GetCode(err))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
