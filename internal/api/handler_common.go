package api

import (
	"errors"
	"io"
	"net/http"
	"time"
)

func parsePaginationOrWriteInvalid(w http.ResponseWriter, r *http.Request) (Pagination, bool) {
	pg, err := ParsePagination(r)
	if err != nil {
		writeInvalidArgument(w, err.Error())
		return Pagination{}, false
	}
	return pg, true
}

func parseBoolQueryOrWriteInvalid(w http.ResponseWriter, r *http.Request, key string) (*bool, bool) {
	v, err := ParseBoolQuery(r, key)
	if err != nil {
		writeInvalidArgument(w, err.Error())
		return nil, false
	}
	return v, true
}

func parseTimeQueryOrWriteInvalid(w http.ResponseWriter, r *http.Request, key string) (time.Time, bool) {
	t, err := ParseTimeQuery(r, key)
	if err != nil {
		writeInvalidArgument(w, err.Error())
		return time.Time{}, false
	}
	return t, true
}

func readRawBodyOrWriteInvalid(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	if r.Body == nil {
		writeInvalidArgument(w, "request body is required")
		return nil, false
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writePayloadTooLarge(w, maxErr.Limit)
			return nil, false
		}
		writeInvalidArgument(w, "failed to read body")
		return nil, false
	}
	return body, true
}

func requireIDPathParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := PathParam(r, "id")
	if id == "" {
		writeInvalidArgument(w, "id: must not be empty")
		return "", false
	}
	return id, true
}
