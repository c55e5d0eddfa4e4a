package httpclient

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Defaults(t *testing.T) {
	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		http.Redirect(w, r, "/elsewhere", http.StatusFound)
	}))
	defer srv.Close()

	client := NewDefault()
	assert.Equal(t, DefaultTimeout, client.Timeout)
	assert.Nil(t, client.Jar)

	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, defaultUserAgent, gotUA)
}

func TestNewSession_KeepsCookies(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/login" {
			http.SetCookie(w, &http.Cookie{Name: "JWT", Value: "abc", Path: "/"})
			return
		}
		if c, err := r.Cookie("JWT"); err == nil && c.Value == "abc" {
			w.WriteHeader(http.StatusAccepted)
			return
		}
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	client := New(WithTimeout(5*time.Second), WithCookies(), WithUserAgent("test"))
	assert.Equal(t, 5*time.Second, client.Timeout)

	resp, err := client.Post(srv.URL+"/login", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()

	resp, err = client.Post(srv.URL+"/api/sync/trigger", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
}
