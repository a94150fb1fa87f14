package httpapi

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadBodyJSON(t *testing.T) {
	t.Run("numbers stay json.Number", func(t *testing.T) {
		r := httptest.NewRequest("PATCH", "/", strings.NewReader(`{"field":"pulseRate","value":72.5}`))
		var req editRequest
		require.NoError(t, readBodyJSON(r, maxBodyBytes, &req))
		assert.Equal(t, "pulseRate", req.Field)
		assert.Equal(t, json.Number("72.5"), req.Value)
	})

	t.Run("empty body leaves target untouched", func(t *testing.T) {
		r := httptest.NewRequest("POST", "/", strings.NewReader(""))
		req := addRowRequest{Date: day}
		require.NoError(t, readBodyJSON(r, maxBodyBytes, &req))
		assert.Equal(t, day, req.Date)
	})

	t.Run("body over limit is truncated and rejected", func(t *testing.T) {
		r := httptest.NewRequest("PATCH", "/", strings.NewReader(`{"field":"notes","value":"long"}`))
		var req editRequest
		assert.Error(t, readBodyJSON(r, 10, &req))
	})
}
