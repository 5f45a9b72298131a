package httpclient

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClient_Defaults(t *testing.T) {
	cli := NewClient()
	assert.Zero(t, cli.Timeout)
	assert.Nil(t, cli.CheckRedirect)
	_, ok := cli.Transport.(*http.Transport)
	assert.True(t, ok, "default transport should be a pooled *http.Transport")
	assert.NotSame(t, http.DefaultTransport, cli.Transport)
}

func TestNewClient_Timeout(t *testing.T) {
	cli := NewClient(WithTimeout(5 * time.Second))
	assert.Equal(t, 5*time.Second, cli.Timeout)
}

func TestNewClient_NoFollow(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/start" {
			http.Redirect(w, r, "/end", http.StatusFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	resp, err := NewClient(WithFollowRedir(false)).Get(srv.URL + "/start")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusFound, resp.StatusCode)

	resp2, err := NewClient().Get(srv.URL + "/start")
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusOK, resp2.StatusCode)
}

func TestNewClient_UserAgent(t *testing.T) {
	var got []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = append(got, r.Header.Get("User-Agent"))
	}))
	defer srv.Close()

	cli := NewClient(WithUserAgent("jsonflat/test"))

	resp, err := cli.Get(srv.URL)
	require.NoError(t, err)
	resp.Body.Close()

	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	req.Header.Set("User-Agent", "custom")
	resp, err = cli.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, []string{"jsonflat/test", "custom"}, got)
}
