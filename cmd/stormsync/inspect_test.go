package main

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFeedServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /products", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`["Radar","METAR"]`))
	})
	mux.HandleFunc("GET /products/Radar/timestamps", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`["20240101-102000","20240101-100000","20240101-101000"]`))
	})
	mux.HandleFunc("GET /products/METAR/timestamps", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"timestamps":["20240101-095300"]}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("LOG_LEVEL", "error")
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestProductsCommand(t *testing.T) {
	srv := newFeedServer(t)

	out, err := run(t, "products", "--feed-url", srv.URL)
	require.NoError(t, err)

	assert.Contains(t, out, "PRODUCT")
	assert.Regexp(t, `Radar\s+3\s+2024-01-01 10:20\s+10m0s`, out)
	assert.Regexp(t, `METAR\s+1\s+2024-01-01 09:53\s+1h30m0s`, out)
}

func TestClosestCommand(t *testing.T) {
	srv := newFeedServer(t)

	out, err := run(t, "closest", "Radar", "20240101-100830", "--feed-url", srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "20240101-101000\n", out)

	out, err = run(t, "closest", "Radar", "20240101-110000", "--feed-url", srv.URL)
	require.NoError(t, err)
	assert.Contains(t, out, "no Radar frame within 10m0s")

	out, err = run(t, "closest", "Radar", "20240101-110000", "--tolerance", "1h", "--feed-url", srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "20240101-102000\n", out)
}

func TestClosestCommand_RejectsBadTimestamp(t *testing.T) {
	srv := newFeedServer(t)

	_, err := run(t, "closest", "Radar", "2024-01-01", "--feed-url", srv.URL)
	require.Error(t, err)
}
