// internal/api/client_test.go
package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/geodiary/mapcore/internal/model"
	"github.com/geodiary/mapcore/internal/model/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newServer(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(h)
	t.Cleanup(server.Close)
	return New(server.URL, "tok")
}

func TestNew(t *testing.T) {
	c := New("http://localhost:8080/", "secret123")

	require.NotNil(t, c)
	assert.Equal(t, "http://localhost:8080", c.baseURL, "trailing slash trimmed")
	assert.Equal(t, "secret123", c.Token())
	assert.Equal(t, DefaultTimeout, c.httpClient.Timeout)

	c.SetTimeout(5 * time.Second)
	assert.Equal(t, 5*time.Second, c.httpClient.Timeout)
	c.SetTimeout(0)
	assert.Equal(t, 5*time.Second, c.httpClient.Timeout, "non-positive timeout ignored")
}

func TestNoTokenShortCircuits(t *testing.T) {
	called := false
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) { called = true })
	c.SetToken("")

	_, err := c.CreateMarker(context.Background(), model.NewMarkerRequest{})
	assert.ErrorIs(t, err, ErrNoToken)

	ok, err := c.ValidateToken(context.Background())
	assert.NoError(t, err)
	assert.False(t, ok)
	assert.False(t, called)
}

func TestValidateToken(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/validateToken", r.URL.Path)
		if r.Header.Get("Authorization") == "Bearer tok" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusUnauthorized)
	})

	ok, err := c.ValidateToken(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)

	c.SetToken("expired")
	ok, err = c.ValidateToken(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestValidateToken_UnauthorizedEmail(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "Invalid: Unauthorized email", http.StatusUnauthorized)
	})

	ok, err := c.ValidateToken(context.Background())
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrUnauthorizedEmail)
}

func TestCreateMarker(t *testing.T) {
	var got model.NewMarkerRequest
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/markers/user", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte("42"))
	})

	id, err := c.CreateMarker(context.Background(), model.NewMarkerRequest{
		Latitude:    48.1,
		Longitude:   11.5,
		WeatherInfo: &model.WeatherInfo{Temp: 280, Location: "Munich"},
	})

	require.NoError(t, err)
	assert.Equal(t, int64(42), id)
	assert.Equal(t, 48.1, got.Latitude)
	require.NotNil(t, got.WeatherInfo)
	assert.Equal(t, "Munich", got.WeatherInfo.Location)
}

func TestCreateMarker_Failures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"server error", http.StatusInternalServerError, ""},
		{"zero id", http.StatusOK, "0"},
		{"garbage", http.StatusOK, "{"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})
			_, err := c.CreateMarker(context.Background(), model.NewMarkerRequest{})
			assert.ErrorIs(t, err, core.ErrNetwork)
		})
	}
}

func TestCreateMarker_Unreachable(t *testing.T) {
	c := New("http://127.0.0.1:1", "tok")
	_, err := c.CreateMarker(context.Background(), model.NewMarkerRequest{})
	assert.ErrorIs(t, err, core.ErrNetwork)
}

func TestListMarkers(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/markers/user", r.URL.Path)
		_, _ = w.Write([]byte(`[{"id":1,"latitude":1.5,"longitude":2.5,"title":"t","isPublic":false,
			"images":[{"url":"https://img/1"}],"user":{"name":"n","profileImageUrl":"https://a"}}]`))
	})

	markers, err := c.ListMarkers(context.Background())

	require.NoError(t, err)
	require.Len(t, markers, 1)
	assert.Equal(t, int64(1), markers[0].ID)
	require.NotNil(t, markers[0].IsPublic)
	assert.False(t, *markers[0].IsPublic)
	assert.Equal(t, "https://img/1", markers[0].Images[0].URL)
}

func TestListMarkers_NoMarkersForUser(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte("No markers for this user"))
	})

	markers, err := c.ListMarkers(context.Background())
	assert.ErrorIs(t, err, ErrNoMarkers)
	assert.Empty(t, markers)
}

func TestListMarkers_OtherNotFound(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	_, err := c.ListMarkers(context.Background())
	assert.ErrorIs(t, err, core.ErrNetwork)
	assert.NotErrorIs(t, err, ErrNoMarkers)
}

func TestListMarkers_ContextDeadline(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := c.ListMarkers(ctx)
	assert.ErrorIs(t, err, core.ErrNetwork)
}

func TestPatchEndpoints(t *testing.T) {
	tests := []struct {
		name      string
		call      func(c *Client) error
		wantPath  string
		wantQuery string
	}{
		{
			name:      "title",
			call:      func(c *Client) error { return c.UpdateTitle(context.Background(), 7, "Café & bar") },
			wantPath:  "/markers/user/7/title",
			wantQuery: "title=Caf%C3%A9+%26+bar",
		},
		{
			name:      "description",
			call:      func(c *Client) error { return c.UpdateDescription(context.Background(), 7, "d") },
			wantPath:  "/markers/user/7/description",
			wantQuery: "description=d",
		},
		{
			name:      "category",
			call:      func(c *Client) error { return c.UpdateCategory(context.Background(), 7, "food") },
			wantPath:  "/markers/user/7/category",
			wantQuery: "category=food",
		},
		{
			name:      "visibility",
			call:      func(c *Client) error { return c.UpdateVisibility(context.Background(), 7, false) },
			wantPath:  "/markers/user/7/isPublic",
			wantQuery: "isPublic=false",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodPatch, r.Method)
				assert.Equal(t, tt.wantPath, r.URL.Path)
				assert.Equal(t, tt.wantQuery, r.URL.RawQuery)
			})
			assert.NoError(t, tt.call(c))
		})
	}
}

func TestPatch_Failure(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})
	err := c.UpdateTitle(context.Background(), 1, "x")
	assert.ErrorIs(t, err, core.ErrNetwork)
}

func TestDeleteMarker(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "/markers/user/9", r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	})
	assert.NoError(t, c.DeleteMarker(context.Background(), 9))
}

func TestDeleteImage(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "/markers/images", r.URL.Path)
		assert.Equal(t, "https://cdn/x.jpg?v=1", r.URL.Query().Get("imageUrl"))
	})
	assert.NoError(t, c.DeleteImage(context.Background(), "https://cdn/x.jpg?v=1"))
}

func TestUploadImage(t *testing.T) {
	var gotName string
	var gotData []byte
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/markers/3/images", r.URL.Path)
		file, header, err := r.FormFile("image")
		require.NoError(t, err)
		defer file.Close()
		gotName = header.Filename
		gotData, _ = io.ReadAll(file)
		_, _ = w.Write([]byte(`{"imageUrl":"https://cdn/3/a.jpg"}`))
	})

	u, err := c.UploadImage(context.Background(), 3, core.LocalImage{Name: "a.jpg", Data: []byte("jpegdata")})

	require.NoError(t, err)
	assert.Equal(t, "https://cdn/3/a.jpg", u)
	assert.Equal(t, "a.jpg", gotName)
	assert.Equal(t, []byte("jpegdata"), gotData)
}

func TestUploadImage_MissingURL(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	})
	_, err := c.UploadImage(context.Background(), 3, core.LocalImage{Name: "a.jpg"})
	assert.ErrorIs(t, err, core.ErrNetwork)
}
