// Package response renders JSON:API documents and error documents onto the
// HTTP response.
package response

import (
	"encoding/json"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/strata-api/strata/internal/jsonapi"
)

// AcceptsJSONAPI reports whether the request body's content type is the
// JSON:API media type or plain JSON. Requests with neither are rejected
// with 415 by the handler.
func AcceptsJSONAPI(r *http.Request) bool {
	ct := r.Header.Get("Content-Type")
	if ct == "" {
		return true
	}
	mediaType, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return strings.Contains(ct, jsonapi.MediaType)
	}
	return mediaType == jsonapi.MediaType || mediaType == "application/json"
}

// WriteDocument marshals a document and writes it with the given status.
// Marshaling happens before anything touches the response, so a marshal
// failure never produces a partial write.
func WriteDocument(w http.ResponseWriter, status int, doc *jsonapi.Document) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	w.Header().Set("Content-Type", jsonapi.MediaType)
	w.WriteHeader(status)
	_, err = w.Write(data)
	return err
}

// WriteNoContent writes an empty 204 response.
func WriteNoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// BuildPaginationLinks creates the top-level pagination links for a
// collection response.
func BuildPaginationLinks(baseURL string, limit, offset int, total *int) *jsonapi.Link {
	if limit <= 0 {
		return nil
	}
	links := &jsonapi.Link{
		Self:  buildPageURL(baseURL, limit, offset),
		First: buildPageURL(baseURL, limit, 0),
	}
	if offset > 0 {
		prev := offset - limit
		if prev < 0 {
			prev = 0
		}
		links.Prev = buildPageURL(baseURL, limit, prev)
	}
	if total != nil {
		lastOffset := ((*total - 1) / limit) * limit
		if lastOffset < 0 {
			lastOffset = 0
		}
		links.Last = buildPageURL(baseURL, limit, lastOffset)
		if offset+limit < *total {
			links.Next = buildPageURL(baseURL, limit, offset+limit)
		}
	} else {
		// Without a total the next link is offered optimistically.
		links.Next = buildPageURL(baseURL, limit, offset+limit)
	}
	return links
}

func buildPageURL(baseURL string, limit, offset int) string {
	u, err := url.Parse(baseURL)
	if err != nil {
		return fmt.Sprintf("%s?page[limit]=%d&page[offset]=%d", baseURL, limit, offset)
	}
	q := u.Query()
	q.Set("page[limit]", strconv.Itoa(limit))
	q.Set("page[offset]", strconv.Itoa(offset))
	u.RawQuery = q.Encode()
	return u.String()
}
