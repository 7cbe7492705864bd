package scaffold

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckExisting(t *testing.T) {
	tests := []struct {
		name      string
		setupFunc func(dir string)
		wantErr   bool
		errMsg    []string
	}{
		{
			name:      "no existing files",
			setupFunc: func(string) {},
		},
		{
			name: "existing warren.yml only",
			setupFunc: func(dir string) {
				require.NoError(t, os.WriteFile(filepath.Join(dir, "warren.yml"), []byte("version: '1.0'"), 0644))
			},
			wantErr: true,
			errMsg:  []string{"Found existing: warren.yml"},
		},
		{
			name: "existing agents/ directory only",
			setupFunc: func(dir string) {
				require.NoError(t, os.MkdirAll(filepath.Join(dir, "agents"), 0755))
			},
			wantErr: true,
			errMsg:  []string{"Found existing: agents/"},
		},
		{
			name: "both warren.yml and agents/ exist",
			setupFunc: func(dir string) {
				require.NoError(t, os.WriteFile(filepath.Join(dir, "warren.yml"), []byte("version: '1.0'"), 0644))
				require.NoError(t, os.MkdirAll(filepath.Join(dir, "agents"), 0755))
			},
			wantErr: true,
			errMsg:  []string{"Found existing files:", "  - warren.yml\n", "  - agents/\n"},
		},
		{
			name: "agents is a file, not a directory",
			setupFunc: func(dir string) {
				require.NoError(t, os.WriteFile(filepath.Join(dir, "agents"), []byte("x"), 0644))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			tt.setupFunc(dir)

			err := CheckExisting(dir)
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), "project already initialized")
			assert.Contains(t, err.Error(), "warren init --force")
			for _, msg := range tt.errMsg {
				assert.Contains(t, err.Error(), msg)
			}
		})
	}
}
