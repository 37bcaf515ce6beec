package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetPath(t *testing.T) {
	cfg := Defaults()
	cfg.Service.Name = "test-host"
	cfg.UI.Name = "ui-under-test"

	tests := []struct {
		name    string
		path    string
		want    any
		wantErr bool
	}{
		{
			name: "root service field",
			path: "service.name",
			want: "test-host",
		},
		{
			name: "nested ui field",
			path: "ui.handshake.max_attempts",
			want: 20,
		},
		{
			name: "ui name",
			path: "ui.name",
			want: "ui-under-test",
		},
		{
			name:    "missing key",
			path:    "ui.nope",
			wantErr: true,
		},
		{
			name:    "path through scalar",
			path:    "service.name.extra",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := cfg.GetPath(tt.path)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
