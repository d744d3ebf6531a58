package handlers

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeJSONBody(t *testing.T) {
	type payload struct {
		Name string `json:"name"`
	}

	tests := []struct {
		name    string
		body    io.Reader
		limit   int64
		wantErr string
	}{
		{name: "valid", body: strings.NewReader(`{"name":"x"}`)},
		{name: "unknown field", body: strings.NewReader(`{"name":"x","extra":1}`), wantErr: "extra"},
		{name: "empty body", body: http.NoBody, wantErr: "empty"},
		{name: "too large", body: strings.NewReader(`{"name":"` + strings.Repeat("a", 64) + `"}`), limit: 16, wantErr: "too large (limit 16 bytes)"},
		{name: "trailing data", body: strings.NewReader(`{"name":"x"}{"name":"y"}`), wantErr: "single JSON object"},
		{name: "wrong type", body: strings.NewReader(`{"name":42}`), wantErr: `field "name" must be string`},
		{name: "syntax", body: strings.NewReader(`{"name":}`), wantErr: "malformed JSON at offset"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			var p payload
			err := DecodeJSONBody(w, httptest.NewRequest(http.MethodPost, "/", tt.body), &p, tt.limit, nil)

			if tt.wantErr == "" {
				require.NoError(t, err)
				assert.Equal(t, "x", p.Name)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestValidateContentType(t *testing.T) {
	for header, ok := range map[string]bool{
		"application/json":                true,
		"application/json; charset=utf-8": true,
		"Application/JSON":                true,
		"text/plain":                      false,
		"":                                false,
	} {
		r := httptest.NewRequest(http.MethodPost, "/", nil)
		r.Header.Set("Content-Type", header)
		assert.Equal(t, ok, ValidateContentType(httptest.NewRecorder(), r, "application/json", nil), header)
	}
}
