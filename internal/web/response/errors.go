package response

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/strata-api/strata/internal/engine/apierr"
	"github.com/strata-api/strata/internal/jsonapi"
)

// WriteError renders an engine error as a JSON:API error document. Each
// violation becomes its own error object with a source pointer into the
// request document. Internal causes are logged, never surfaced.
func WriteError(w http.ResponseWriter, log *zap.Logger, err error) {
	status := apierr.StatusOf(err)
	kind := apierr.KindOf(err)

	if status >= http.StatusInternalServerError && log != nil {
		log.Error("request failed", zap.Error(err))
	}

	e, ok := apierr.As(err)
	if !ok {
		doc := jsonapi.NewErrorDocument(jsonapi.NewError(status, kind.String(), "internal error"))
		_ = WriteDocument(w, status, doc)
		return
	}

	detail := e.Message
	if kind == apierr.KindInternal {
		detail = "internal error"
	}

	if len(e.Violations) == 0 {
		doc := jsonapi.NewErrorDocument(jsonapi.NewError(status, kind.String(), detail))
		_ = WriteDocument(w, status, doc)
		return
	}

	errs := make([]*jsonapi.Error, 0, len(e.Violations))
	for _, v := range e.Violations {
		obj := jsonapi.NewError(status, v.Rule, v.Message)
		obj.Code = kind.String()
		if p := v.Pointer(); p != "" {
			obj.WithPointer(p)
		}
		errs = append(errs, obj)
	}
	_ = WriteDocument(w, status, jsonapi.NewErrorDocument(errs...))
}

// WriteUnsupportedMediaType rejects a request whose content type is not
// acceptable.
func WriteUnsupportedMediaType(w http.ResponseWriter) {
	doc := jsonapi.NewErrorDocument(jsonapi.NewError(
		http.StatusUnsupportedMediaType,
		apierr.KindUnsupportedContentType.String(),
		"request content type must be "+jsonapi.MediaType,
	))
	_ = WriteDocument(w, http.StatusUnsupportedMediaType, doc)
}

// WriteMethodNotAllowed renders the 405 response for unrouted methods.
func WriteMethodNotAllowed(w http.ResponseWriter) {
	doc := jsonapi.NewErrorDocument(jsonapi.NewError(
		http.StatusMethodNotAllowed,
		"method_not_allowed",
		"method not allowed on this endpoint",
	))
	_ = WriteDocument(w, http.StatusMethodNotAllowed, doc)
}

// WriteNotFound renders the 404 response for unrouted paths.
func WriteNotFound(w http.ResponseWriter) {
	doc := jsonapi.NewErrorDocument(jsonapi.NewError(
		http.StatusNotFound,
		apierr.KindNotFound.String(),
		"resource not found",
	))
	_ = WriteDocument(w, http.StatusNotFound, doc)
}
