package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/juniperhq/juniper/types"
)

func TestWriteSuccessEnvelope(t *testing.T) {
	w := httptest.NewRecorder()
	WriteSuccess(w, map[string]string{"hello": "world"})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "application/json")

	var resp Response
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.True(t, resp.Success)
	assert.Nil(t, resp.Error)
	assert.False(t, resp.Timestamp.IsZero())
}

func TestWriteErrorUsesHTTPStatusOverride(t *testing.T) {
	w := httptest.NewRecorder()
	err := types.NewError(types.ErrInvalidRequest, "bad input").WithHTTPStatus(http.StatusTeapot)
	WriteError(w, err, zap.NewNop())

	assert.Equal(t, http.StatusTeapot, w.Code)

	var resp Response
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.False(t, resp.Success)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "INVALID_REQUEST", resp.Error.Code)
	assert.Equal(t, "bad input", resp.Error.Message)
}

func TestWriteErrorMapsCodes(t *testing.T) {
	cases := []struct {
		code types.ErrorCode
		want int
	}{
		{types.ErrInvalidRequest, http.StatusBadRequest},
		{types.ErrEpisodeNotFound, http.StatusNotFound},
		{types.ErrExpertNotFound, http.StatusNotFound},
		{types.ErrExpertTimeout, http.StatusGatewayTimeout},
		{types.ErrExpertInvocation, http.StatusBadGateway},
		{types.ErrGraphCycle, http.StatusUnprocessableEntity},
		{types.ErrStoreUnavailable, http.StatusServiceUnavailable},
		{types.ErrInternalError, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		w := httptest.NewRecorder()
		WriteError(w, types.NewError(tc.code, "x"), nil)
		assert.Equal(t, tc.want, w.Code, "code %s", tc.code)
	}
}

func TestWriteErrorFromWrapsUntyped(t *testing.T) {
	w := httptest.NewRecorder()
	WriteErrorFrom(w, errors.New("boom"), zap.NewNop())

	assert.Equal(t, http.StatusInternalServerError, w.Code)

	var resp Response
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, "INTERNAL_ERROR", resp.Error.Code)
}

func TestDecodeJSONBodyRejectsUnknownFields(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"nope":1}`))

	var dst struct {
		Name string `json:"name"`
	}
	err := DecodeJSONBody(w, r, &dst, zap.NewNop())
	require.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestValidateContentType(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/", nil)
	r.Header.Set("Content-Type", "text/plain")
	assert.False(t, ValidateContentType(w, r, zap.NewNop()))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = httptest.NewRecorder()
	r = httptest.NewRequest(http.MethodPost, "/", nil)
	r.Header.Set("Content-Type", "application/json")
	assert.True(t, ValidateContentType(w, r, zap.NewNop()))
}

func TestResponseWriterCapturesStatus(t *testing.T) {
	rw := NewResponseWriter(httptest.NewRecorder())
	rw.WriteHeader(http.StatusAccepted)
	rw.WriteHeader(http.StatusInternalServerError) // second write ignored

	assert.Equal(t, http.StatusAccepted, rw.StatusCode)
	assert.True(t, rw.Written)
}

func TestResponseWriterDefaultsTo200OnWrite(t *testing.T) {
	rw := NewResponseWriter(httptest.NewRecorder())
	_, err := rw.Write([]byte("ok"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, rw.StatusCode)
}
