package response

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strata-api/strata/internal/engine/apierr"
)

func decodeErrors(t *testing.T, w *httptest.ResponseRecorder) []map[string]interface{} {
	t.Helper()
	var body struct {
		Errors []map[string]interface{} `json:"errors"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.NotEmpty(t, body.Errors)
	return body.Errors
}

func TestWriteErrorNotFound(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(w, nil, apierr.NotFound("articles 9 not found"))

	assert.Equal(t, http.StatusNotFound, w.Code)
	errs := decodeErrors(t, w)
	assert.Equal(t, "404", errs[0]["status"])
	assert.Equal(t, "not_found", errs[0]["title"])
	assert.Equal(t, "articles 9 not found", errs[0]["detail"])
}

func TestWriteErrorViolations(t *testing.T) {
	err := apierr.Validation("invalid payload for articles").
		WithViolation("data.attributes.title", "required", "title is required").
		WithViolation("data.relationships.author.data.id", "not_found", "people 9 does not exist")

	w := httptest.NewRecorder()
	WriteError(w, nil, err)

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	errs := decodeErrors(t, w)
	require.Len(t, errs, 2)

	first := errs[0]
	assert.Equal(t, "422", first["status"])
	assert.Equal(t, "required", first["title"])
	assert.Equal(t, "validation_failed", first["code"])
	source := first["source"].(map[string]interface{})
	assert.Equal(t, "/data/attributes/title", source["pointer"])

	second := errs[1]
	source = second["source"].(map[string]interface{})
	assert.Equal(t, "/data/relationships/author/data/id", source["pointer"])
}

func TestWriteErrorMasksInternalDetail(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(w, nil, apierr.Internal(errors.New("pq: connection refused to 10.0.0.3")))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	errs := decodeErrors(t, w)
	assert.Equal(t, "internal error", errs[0]["detail"])
	assert.NotContains(t, w.Body.String(), "10.0.0.3")
}

func TestWriteErrorPlainError(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(w, nil, errors.New("boom"))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	errs := decodeErrors(t, w)
	assert.Equal(t, "internal error", errs[0]["detail"])
	assert.NotContains(t, w.Body.String(), "boom")
}

func TestWriteUnsupportedMediaType(t *testing.T) {
	w := httptest.NewRecorder()
	WriteUnsupportedMediaType(w)

	assert.Equal(t, http.StatusUnsupportedMediaType, w.Code)
	errs := decodeErrors(t, w)
	assert.Equal(t, "unsupported_media_type", errs[0]["title"])
}

func TestWriteMethodNotAllowed(t *testing.T) {
	w := httptest.NewRecorder()
	WriteMethodNotAllowed(w)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestWriteNotFound(t *testing.T) {
	w := httptest.NewRecorder()
	WriteNotFound(w)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
