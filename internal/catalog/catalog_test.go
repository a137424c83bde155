package catalog

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errpkg "github.com/veranemoloko/mobile-transfer/internal/errors"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestHTTPLookup_Found(t *testing.T) {
	var gotQuery string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/lookup", r.URL.Path)
		gotQuery = r.URL.RawQuery
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"resultCount":1,"results":[{"bundleId":"com.example.app","trackName":"Example","version":"1.2","downloadUrl":"https://cdn.example.com/a.ipa","md5":"D41D8CD98F00B204E9800998ECF8427E","artworkUrl512":"https://cdn.example.com/a.png"}]}`))
	}))
	defer server.Close()

	l := NewHTTPLookup(server.URL+"/", 5*time.Second, testLogger())
	acc := Account{Email: "a@example.com", CountryCode: "US", DirectoryServicesID: "42"}

	desc, err := l.Lookup(context.Background(), CandidateSoftware, "com.example.app", acc)
	require.NoError(t, err)
	assert.Equal(t, "com.example.app", desc.ItemID)
	assert.Equal(t, "Example", desc.Name)
	assert.Equal(t, "1.2", desc.Version)
	assert.Equal(t, "D41D8CD98F00B204E9800998ECF8427E", desc.Checksum)
	assert.Contains(t, gotQuery, "entity=software")
	assert.Contains(t, gotQuery, "country=us")
	assert.Contains(t, gotQuery, "dsid=42")
}

func TestHTTPLookup_NotFound(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"status 404", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNotFound) }},
		{"empty results", func(w http.ResponseWriter, r *http.Request) { w.Write([]byte(`{"resultCount":0,"results":[]}`)) }},
		{"invalid entry", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"resultCount":1,"results":[{"bundleId":"x","downloadUrl":"not a url","md5":"zz"}]}`))
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(tt.handler)
			defer server.Close()

			l := NewHTTPLookup(server.URL, 5*time.Second, testLogger())
			_, err := l.Lookup(context.Background(), CandidateIPadSoftware, "x", Account{CountryCode: "US"})
			require.Error(t, err)
			assert.True(t, errors.Is(err, errpkg.ErrNotFound))
		})
	}
}

func TestHTTPLookup_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	l := NewHTTPLookup(server.URL, 5*time.Second, testLogger())
	_, err := l.Lookup(context.Background(), CandidateSoftware, "x", Account{CountryCode: "US"})
	require.Error(t, err)
	assert.False(t, errors.Is(err, errpkg.ErrNotFound))
}

func TestCandidateTypesOrder(t *testing.T) {
	assert.Equal(t, []CandidateType{"software", "iPadSoftware", "macSoftware"}, CandidateTypes)
}

func TestLoadAccounts(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "accounts.toml")
	content := `
[[account]]
email = "first@example.com"
country_code = "US"
directory_services_id = "100"

[[account]]
email = "Second@Example.com"
country_code = "JP"
directory_services_id = "200"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	store, err := LoadAccounts(path)
	require.NoError(t, err)

	accounts := store.Accounts()
	require.Len(t, accounts, 2)
	assert.Equal(t, "first@example.com", accounts[0].Email)
	assert.Equal(t, "JP", accounts[1].CountryCode)

	acc, ok := store.Find("second@example.com")
	require.True(t, ok)
	assert.Equal(t, "200", acc.DirectoryServicesID)

	_, ok = store.Find("missing@example.com")
	assert.False(t, ok)
}

func TestLoadAccounts_MissingFile(t *testing.T) {
	store, err := LoadAccounts(filepath.Join(t.TempDir(), "none.toml"))
	require.NoError(t, err)
	assert.Empty(t, store.Accounts())
}

func TestLoadAccounts_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "accounts.toml")
	require.NoError(t, os.WriteFile(path, []byte("[[account]]\nemail = \"nope\"\n"), 0644))

	_, err := LoadAccounts(path)
	assert.Error(t, err)
}
