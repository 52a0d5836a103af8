package gcs

import (
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
)

func TestNewRequiresClientAndBucket(t *testing.T) {
	_, err := New(nil, Config{Bucket: "b"})
	assert.Error(t, err)

	client, err := storage.NewClient(context.Background(), option.WithoutAuthentication(), option.WithEndpoint("http://127.0.0.1:1"))
	require.NoError(t, err)
	defer client.Close()
	_, err = New(client, Config{})
	assert.Error(t, err)
}

func TestPutUploadsObject(t *testing.T) {
	const bucket = "snapshots"
	const key = "pages/example.com/abc.html"

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, fmt.Sprintf("/upload/storage/v1/b/%s/o", bucket))
		assert.Equal(t, key, r.URL.Query().Get("name"))
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		assert.Contains(t, string(body), "<html>archived</html>")
		assert.Contains(t, string(body), "text/html")
		fmt.Fprintf(w, `{"name": %q, "bucket": %q}`, key, bucket)
	}))
	defer srv.Close()

	client, err := storage.NewClient(context.Background(), option.WithEndpoint(srv.URL), option.WithoutAuthentication())
	require.NoError(t, err)
	store, err := New(client, Config{Bucket: bucket})
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	uri, err := store.Put(context.Background(), key, "text/html", []byte("<html>archived</html>"))
	require.NoError(t, err)
	assert.Equal(t, "gs://snapshots/"+key, uri)
}

func TestPutRejectsEmptyKey(t *testing.T) {
	client, err := storage.NewClient(context.Background(), option.WithoutAuthentication(), option.WithEndpoint("http://127.0.0.1:1"))
	require.NoError(t, err)
	store, err := New(client, Config{Bucket: "b"})
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	_, err = store.Put(context.Background(), "", "text/html", []byte("x"))
	assert.Error(t, err)
}
