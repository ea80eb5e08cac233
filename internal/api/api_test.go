package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostForm_EncodesBody(t *testing.T) {
	var gotCT, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotCT = r.Header.Get("Content-Type")
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		_, _ = w.Write([]byte(`{"stat":"Ok"}`))
	}))
	defer srv.Close()

	c := NewClient(WithBaseURL(srv.URL+"/"), WithTimeout(time.Second))
	form := url.Values{"jData": {`{"uid":"FA1"}`}, "jKey": {"tok"}}
	resp, err := c.Do(PostForm(context.Background(), "/Limits", form))
	require.NoError(t, err)

	assert.Equal(t, "application/x-www-form-urlencoded", gotCT)
	parsed, err := url.ParseQuery(gotBody)
	require.NoError(t, err)
	assert.Equal(t, `{"uid":"FA1"}`, parsed.Get("jData"))
	assert.Equal(t, "tok", parsed.Get("jKey"))

	var out map[string]string
	require.NoError(t, resp.ParseJSON(&out))
	assert.Equal(t, "Ok", out["stat"])
}

func TestDo_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream down"))
	}))
	defer srv.Close()

	c := NewClient(WithBaseURL(srv.URL))
	resp, err := c.Do(NewRequest(http.MethodGet, "/"))
	require.Error(t, err)

	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusBadGateway, se.StatusCode)
	assert.Equal(t, "upstream down", resp.String())
}

func TestTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"network", errors.New("HTTP request failed: connection refused"), true},
		{"server error", &StatusError{StatusCode: http.StatusServiceUnavailable}, true},
		{"client error", &StatusError{StatusCode: http.StatusUnauthorized}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Transient(tt.err))
		})
	}
}

func TestDoWithRetry(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	c := NewClient(WithBaseURL(srv.URL))
	resp, err := c.DoWithRetry(NewRequest(http.MethodGet, "/"), &RetryConfig{
		MaxAttempts: 3, InitialWait: time.Millisecond, MaxWait: 2 * time.Millisecond,
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.String())
	assert.Equal(t, int32(3), calls.Load())
}

func TestDoWithRetry_NotRetryable(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"stat":"Not_Ok"}`))
	}))
	defer srv.Close()

	c := NewClient(WithBaseURL(srv.URL))
	resp, err := c.DoWithRetry(NewRequest(http.MethodGet, "/"), &RetryConfig{
		MaxAttempts: 3, InitialWait: time.Millisecond, MaxWait: time.Millisecond,
	})
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, `{"stat":"Not_Ok"}`, resp.String())
}
