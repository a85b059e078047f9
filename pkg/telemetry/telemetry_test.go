package telemetry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitWithoutEndpoint(t *testing.T) {
	p, err := Init(context.Background(), "outsy-auth", "")
	require.NoError(t, err)
	assert.NoError(t, p.Shutdown(context.Background()))

	h := p.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
}

func TestInitRequiresServiceName(t *testing.T) {
	_, err := Init(context.Background(), "", "")
	assert.Error(t, err)
}

func TestExporterOptions(t *testing.T) {
	tests := []struct {
		endpoint string
		count    int
		wantErr  bool
	}{
		{endpoint: "collector:4318", count: 2},
		{endpoint: "http://collector:4318", count: 2},
		{endpoint: "https://collector:4318/v1/traces", count: 2},
		{endpoint: "http://collector:4318/custom", count: 3},
		{endpoint: "http://", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.endpoint, func(t *testing.T) {
			opts, err := exporterOptions(tt.endpoint)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Len(t, opts, tt.count)
		})
	}
}
