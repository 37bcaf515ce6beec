package auth

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractBearerToken(t *testing.T) {
	tests := []struct {
		name    string
		header  string
		want    string
		wantErr bool
	}{
		{name: "valid", header: "Bearer abc", want: "abc"},
		{name: "padded", header: "Bearer   abc  ", want: "abc"},
		{name: "missing", header: "", wantErr: true},
		{name: "basic", header: "Basic abc", wantErr: true},
		{name: "empty token", header: "Bearer   ", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/", nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			got, err := ExtractBearerToken(r)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAuthenticateLegacyKeyIsAdmin(t *testing.T) {
	p, ok := Authenticate("secret", "secret", nil)
	require.True(t, ok)
	assert.True(t, HasAnyScope(p, "ui:rw"))
}

func TestAuthenticateScopedToken(t *testing.T) {
	tokens := []TokenConfig{{Token: "viewer", Scopes: []string{"settings:rw", " events:ro "}}}

	p, ok := Authenticate("viewer", "", tokens)
	require.True(t, ok)
	assert.True(t, HasAnyScope(p, "settings:ro"))
	assert.True(t, HasAnyScope(p, "events:ro"))
	assert.False(t, HasAnyScope(p, "ui:rw", "*"))
	assert.False(t, HasAnyScope(p, "steps:ro"))

	_, ok = Authenticate("nope", "", tokens)
	assert.False(t, ok)
}

func TestEmptyKeyNeverMatches(t *testing.T) {
	_, ok := Authenticate("", "", []TokenConfig{{Token: ""}})
	assert.False(t, ok)
}
