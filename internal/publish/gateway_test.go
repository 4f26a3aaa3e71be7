package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pagelift/monetizer/internal/monetize"
)

func newGateway() *Gateway {
	return New("https://app.pagelift.example", time.Second, zap.NewNop())
}

func TestPublish_ReturnsCanonicalLink(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/wp-json/wp/v2/posts/42", r.URL.Path)

		u, p, ok := r.BasicAuth()
		require.True(t, ok)
		require.Equal(t, "editor", u)
		require.Equal(t, "app-pass", p)

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Contains(t, body["content"], "mz-product-box")

		fmt.Fprint(w, `{"link":"https://site.example/best-mugs/"}`)
	}))
	defer srv.Close()

	cms := monetize.CMSConfig{BaseURL: srv.URL, Username: "editor", AppPassword: "app-pass"}
	link, err := newGateway().Publish(context.Background(), cms, 42, `<div class="mz-product-box"></div>`)
	require.NoError(t, err)
	require.Equal(t, "https://site.example/best-mugs/", link)
}

func TestPublish_AuthFailure(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	cms := monetize.CMSConfig{BaseURL: srv.URL, Username: "editor", AppPassword: "bad"}
	_, err := newGateway().Publish(context.Background(), cms, 42, "x")
	require.ErrorIs(t, err, ErrAuth)
}

func TestPublish_ServerErrorCarriesStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		fmt.Fprint(w, "upstream broke")
	}))
	defer srv.Close()

	cms := monetize.CMSConfig{BaseURL: srv.URL, Username: "editor", AppPassword: "app-pass"}
	_, err := newGateway().Publish(context.Background(), cms, 42, "x")

	var serverErr *ServerError
	require.True(t, errors.As(err, &serverErr))
	require.Equal(t, http.StatusBadGateway, serverErr.Status)
}

func TestPublish_ConnectivityGuidanceNamesOrigin(t *testing.T) {
	t.Parallel()

	cms := monetize.CMSConfig{BaseURL: "http://127.0.0.1:1", Username: "editor", AppPassword: "app-pass"}
	_, err := newGateway().Publish(context.Background(), cms, 42, "x")
	require.Error(t, err)
	require.Contains(t, err.Error(), "https://app.pagelift.example")
	require.Contains(t, err.Error(), "allow-list")
}

func TestProbe_NeverRaises(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, p, _ := r.BasicAuth(); p != "app-pass" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		fmt.Fprint(w, `[{"id":1}]`)
	}))
	defer srv.Close()

	g := newGateway()

	ok := g.Probe(context.Background(), monetize.CMSConfig{BaseURL: srv.URL, Username: "e", AppPassword: "app-pass"})
	require.True(t, ok.OK)

	bad := g.Probe(context.Background(), monetize.CMSConfig{BaseURL: srv.URL, Username: "e", AppPassword: "nope"})
	require.False(t, bad.OK)
	require.Contains(t, bad.Message, "credentials")

	down := g.Probe(context.Background(), monetize.CMSConfig{BaseURL: "http://127.0.0.1:1", Username: "e", AppPassword: "x"})
	require.False(t, down.OK)
	require.NotEmpty(t, down.Message)
}
