package scholar

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthorByID_Success(t *testing.T) {
	t.Parallel()

	want := Author{
		ID:           "HNw5OdcAAAAJ",
		Name:         "Alice Zhang",
		Affiliation:  "MIT CSAIL",
		Organization: "Massachusetts Institute of Technology",
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.Equal(t, "/authors/HNw5OdcAAAAJ", r.URL.Path)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(want)
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL), WithRateLimit(1000))
	got, err := client.AuthorByID(context.Background(), "HNw5OdcAAAAJ")

	require.NoError(t, err)
	assert.Equal(t, &want, got)
}

func TestAuthorByID_NotFound(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	client := NewClient("", WithBaseURL(srv.URL), WithRateLimit(1000))
	_, err := client.AuthorByID(context.Background(), "nope")

	assert.ErrorIs(t, err, ErrAuthorNotFound)
}

func TestAuthorByID_RetriesTransientStatus(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		json.NewEncoder(w).Encode(Author{ID: "a1", Name: "Bob"})
	}))
	defer srv.Close()

	client := NewClient("", WithBaseURL(srv.URL), WithRateLimit(1000))
	got, err := client.AuthorByID(context.Background(), "a1")

	require.NoError(t, err)
	assert.Equal(t, "Bob", got.Name)
	assert.Equal(t, int64(2), calls.Load())
}

func TestAuthorByID_ServerErrorExhaustsRetries(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":"upstream broke"}`)) //nolint:errcheck
	}))
	defer srv.Close()

	client := NewClient("", WithBaseURL(srv.URL), WithRateLimit(1000))
	_, err := client.AuthorByID(context.Background(), "a1")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}
