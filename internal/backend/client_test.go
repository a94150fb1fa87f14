package backend

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(Config{BaseURL: srv.URL + "/", Timeout: 2 * time.Second, Token: "svc"}, zap.NewNop())
}

func TestList_UnwrapsResultEnvelope(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/resources/vitals", r.URL.Path)
		assert.Equal(t, "2024-01-01", r.URL.Query().Get("from"))
		assert.Equal(t, "Bearer svc", r.Header.Get("Authorization"))
		assert.NotEmpty(t, r.Header.Get("X-Request-ID"))
		_, _ = io.WriteString(w, `{"code":2000,"type":"success","message":"ok","result":[{"id":"v-1","pulseRate":70}]}`)
	})

	items, err := c.List(context.Background(), "vitals", map[string]string{"from": "2024-01-01"})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "v-1", items[0]["id"])
	assert.Equal(t, 70.0, items[0]["pulseRate"])
}

func TestList_AcceptsBareAndPagedBodies(t *testing.T) {
	bodies := []string{`[{"id":"a"}]`, `{"items":[{"id":"a"}],"total":1}`, `{"code":2000,"message":"ok","result":{"items":[{"id":"a"}]}}`}
	for _, body := range bodies {
		body := body
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.WriteString(w, body)
		})
		items, err := c.List(context.Background(), "staff", nil)
		require.NoError(t, err, body)
		require.Len(t, items, 1, body)
		assert.Equal(t, "a", items[0]["id"])
	}
}

func TestCreateAndUpdate_SendJSONBodies(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		switch r.Method {
		case http.MethodPost:
			assert.Equal(t, "/resources/vitals", r.URL.Path)
			body["id"] = "v-123"
		case http.MethodPatch:
			assert.Equal(t, "/resources/vitals/v/1", r.URL.Path)
			body["id"] = "v/1"
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"code": 2000, "type": "success", "message": "ok", "result": body})
	})

	rec, err := c.Create(context.Background(), "vitals", map[string]any{"residentId": "R1", "temperature": "36.5"})
	require.NoError(t, err)
	assert.Equal(t, "v-123", rec["id"])
	assert.Equal(t, "36.5", rec["temperature"])

	rec, err = c.Update(context.Background(), "vitals", "v/1", map[string]any{"pulseRate": 75})
	require.NoError(t, err)
	assert.Equal(t, 75.0, rec["pulseRate"])
}

func TestErrors_AreClassified(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		check  func(t *testing.T, err error)
	}{
		{"http 401", http.StatusUnauthorized, `{}`, func(t *testing.T, err error) {
			assert.ErrorIs(t, err, ErrUnauthorized)
		}},
		{"token expired code", http.StatusOK, `{"code":60401,"type":"error","message":"token expired","result":null}`, func(t *testing.T, err error) {
			assert.ErrorIs(t, err, ErrUnauthorized)
		}},
		{"http 500", http.StatusInternalServerError, `{"code":-1,"type":"error","message":"db down","result":null}`, func(t *testing.T, err error) {
			var be *Error
			require.True(t, errors.As(err, &be))
			assert.Equal(t, KindServer, be.Kind)
			assert.Equal(t, 500, be.Status)
			assert.Equal(t, "db down", be.Message)
		}},
		{"plain text 502", http.StatusBadGateway, "bad gateway", func(t *testing.T, err error) {
			var be *Error
			require.True(t, errors.As(err, &be))
			assert.Equal(t, "bad gateway", be.Message)
		}},
		{"error code with 200", http.StatusOK, `{"code":-1,"type":"error","message":"duplicate","result":null}`, func(t *testing.T, err error) {
			var be *Error
			require.True(t, errors.As(err, &be))
			assert.Equal(t, -1, be.Code)
		}},
		{"malformed record", http.StatusOK, `[1,2]`, func(t *testing.T, err error) {
			var be *Error
			require.True(t, errors.As(err, &be))
			assert.Equal(t, KindServer, be.Kind)
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = io.WriteString(w, tc.body)
			})
			_, err := c.Update(context.Background(), "vitals", "v-1", map[string]any{"pulseRate": 75})
			require.Error(t, err)
			tc.check(t, err)
		})
	}
}

func TestNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()
	c := NewClient(Config{BaseURL: srv.URL, Timeout: time.Second}, zap.NewNop())

	err := c.Delete(context.Background(), "vitals", "v-1")
	var be *Error
	require.True(t, errors.As(err, &be))
	assert.Equal(t, KindNetwork, be.Kind)
	assert.Equal(t, 0, be.Status)
}

func TestContextTokenOverridesServiceToken(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer user-token", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusNoContent)
	})
	ctx := WithToken(context.Background(), "user-token")
	assert.Equal(t, "user-token", TokenFrom(ctx))
	require.NoError(t, c.Delete(ctx, "vitals", "v-1"))
}
