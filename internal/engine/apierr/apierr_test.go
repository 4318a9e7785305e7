package apierr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindStatus(t *testing.T) {
	tests := []struct {
		kind   Kind
		code   string
		status int
	}{
		{KindPayloadShape, "payload_shape", http.StatusBadRequest},
		{KindValidation, "validation_failed", http.StatusUnprocessableEntity},
		{KindNotFound, "not_found", http.StatusNotFound},
		{KindConflict, "conflict", http.StatusConflict},
		{KindForbidden, "forbidden", http.StatusForbidden},
		{KindUnsupportedContentType, "unsupported_media_type", http.StatusUnsupportedMediaType},
		{KindInternal, "internal_error", http.StatusInternalServerError},
		{KindConfiguration, "configuration", http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			assert.Equal(t, tt.code, tt.kind.String())
			assert.Equal(t, tt.status, tt.kind.Status())
		})
	}
}

func TestViolationPointer(t *testing.T) {
	v := Violation{Field: "data.attributes.title", Rule: "required"}
	assert.Equal(t, "/data/attributes/title", v.Pointer())

	assert.Equal(t, "", Violation{}.Pointer())
}

func TestErrorMessage(t *testing.T) {
	err := Validation("validation failed").
		WithViolation("data.attributes.title", "required", "title is required").
		WithViolation("data.attributes.status", "enum", "not an allowed value")

	assert.Equal(t, "validation failed (data.attributes.title: required; data.attributes.status: enum)", err.Error())
	assert.Len(t, err.Violations, 2)
}

func TestWrapUnwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(KindInternal, cause, "query failed")

	assert.Equal(t, "query failed", err.Error())
	assert.ErrorIs(t, err, cause)
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindNotFound, KindOf(NotFound("missing")))
	assert.Equal(t, KindNotFound, KindOf(fmt.Errorf("fetch: %w", NotFound("missing"))))
	assert.Equal(t, KindInternal, KindOf(errors.New("plain")))
	assert.Equal(t, http.StatusNotFound, StatusOf(NotFound("missing")))
	assert.Equal(t, http.StatusInternalServerError, StatusOf(errors.New("plain")))
}

func TestAs(t *testing.T) {
	inner := Conflict("duplicate slug")
	got, ok := As(fmt.Errorf("create: %w", inner))
	require.True(t, ok)
	assert.Equal(t, KindConflict, got.Kind)

	_, ok = As(errors.New("plain"))
	assert.False(t, ok)
}
