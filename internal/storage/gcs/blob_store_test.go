package gcs_test

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"

	"github.com/JakeFAU/proxy-harvester/internal/storage/gcs"
)

// newTestBlobStore creates a BlobStore pointed at a test server.
func newTestBlobStore(t *testing.T, handler http.Handler, cfg gcs.Config) *gcs.BlobStore {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := storage.NewClient(context.Background(), option.WithEndpoint(server.URL), option.WithoutAuthentication())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	store, err := gcs.New(client, cfg)
	require.NoError(t, err)
	return store
}

func TestPutObjectUploadsWithPrefix(t *testing.T) {
	names := make(chan string, 1)
	bodies := make(chan string, 1)
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/upload/storage/v1/b/exports/o")
		names <- r.URL.Query().Get("name")
		body, _ := io.ReadAll(r.Body)
		bodies <- string(body)
		_, _ = fmt.Fprintln(w, `{"name": "harvests/proxies.txt", "bucket": "exports"}`)
	})
	store := newTestBlobStore(t, handler, gcs.Config{Bucket: "exports", Prefix: "/harvests/"})

	uri, err := store.PutObject(context.Background(), "proxies.txt", "text/plain", bytes.NewReader([]byte("1.2.3.4:8080\n")))
	require.NoError(t, err)
	assert.Equal(t, "gs://exports/harvests/proxies.txt", uri)
	assert.Equal(t, "harvests/proxies.txt", <-names)
	assert.Contains(t, <-bodies, "1.2.3.4:8080")
}

func TestPutObjectServerError(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	store := newTestBlobStore(t, handler, gcs.Config{Bucket: "exports"})

	_, err := store.PutObject(context.Background(), "proxies.txt", "text/plain", bytes.NewReader([]byte("x")))
	assert.Error(t, err)
}

func TestNewValidatesConfig(t *testing.T) {
	_, err := gcs.New(nil, gcs.Config{Bucket: "b"})
	assert.Error(t, err)

	client, err := storage.NewClient(context.Background(), option.WithoutAuthentication())
	require.NoError(t, err)
	defer func() { _ = client.Close() }()
	_, err = gcs.New(client, gcs.Config{})
	assert.Error(t, err)
}
