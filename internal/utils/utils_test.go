package utils

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTTLCache(t *testing.T) {
	c := NewTTLCache[string](2, 50*time.Millisecond)

	c.Set("a", "1")
	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, "1", v)

	c.Set("b", "2")
	c.Set("c", "3")
	_, ok = c.Get("a")
	assert.False(t, ok, "least recently used entry should be evicted")

	time.Sleep(80 * time.Millisecond)
	_, ok = c.Get("b")
	assert.False(t, ok, "expired entry should not be returned")
	assert.Equal(t, 1, c.Len())
}

func TestHTTPClient_GetJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/plain":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"name":"plain"}`))
		case "/gzip":
			w.Header().Set("Content-Encoding", "gzip")
			gz := gzip.NewWriter(w)
			_ = json.NewEncoder(gz).Encode(map[string]string{"name": "gzip"})
			_ = gz.Close()
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	client := NewHTTPClient(time.Second)
	var out struct {
		Name string `json:"name"`
	}

	require.NoError(t, client.GetJSON(context.Background(), srv.URL+"/plain", &out))
	assert.Equal(t, "plain", out.Name)

	require.NoError(t, client.GetJSON(context.Background(), srv.URL+"/gzip", &out))
	assert.Equal(t, "gzip", out.Name)

	assert.Error(t, client.GetJSON(context.Background(), srv.URL+"/missing", &out))
}

func TestResponseEnvelope(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	Conflict(c, "已存在")

	assert.Equal(t, http.StatusConflict, w.Code)
	var resp Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.Success)
	assert.Equal(t, http.StatusConflict, resp.Code)
	assert.Equal(t, "已存在", resp.Message)
}
