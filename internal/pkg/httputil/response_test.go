package httputil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type payload struct {
	Email string `json:"email"`
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantOK   bool
		wantText string
	}{
		{"valid", `{"email":"a@b.co"}`, true, ""},
		{"empty", ``, false, "request body is empty"},
		{"unknown field", `{"email":"a@b.co","x":1}`, false, `unknown field "x"`},
		{"wrong type", `{"email":5}`, false, `invalid value for field "email"`},
		{"trailing", `{"email":"a@b.co"}{}`, false, "trailing data"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))

			var dst payload
			ok := Decode(w, r, &dst)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, "a@b.co", dst.Email)
				return
			}
			assert.Equal(t, http.StatusBadRequest, w.Code)
			var resp ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Contains(t, resp.Error, tt.wantText)
		})
	}
}

func TestValidationFailed(t *testing.T) {
	w := httptest.NewRecorder()
	ValidationFailed(w, []map[string]string{{"field": "email"}})

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, w.Body.String(), `"code":"validation_failed"`)
	assert.Equal(t, "application/json; charset=utf-8", w.Header().Get("Content-Type"))
}

func TestBearerToken(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Empty(t, BearerToken(r))

	r.Header.Set("Authorization", "Bearer s3cret")
	assert.Equal(t, "s3cret", BearerToken(r))

	r.Header.Set("Authorization", "Basic abc")
	assert.Empty(t, BearerToken(r))
}
