// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"encoding/json"
	"log/slog"
	"mime"
	"net/http"
	"net/url"

	tokaerrors "github.com/stacklok/toka/pkg/errors"
)

// maxBodyBytes bounds form and JSON request bodies.
const maxBodyBytes = 1 << 20

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("failed to encode response", "error", err)
		http.Error(w, tokaerrors.InternalMessage, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// writeError writes {"error": message} with the status of err.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := tokaerrors.Status(err)
	if status >= http.StatusInternalServerError {
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	} else {
		slog.Debug("request rejected", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	writeJSON(w, status, errorResponse{Error: tokaerrors.PublicMessage(err)})
}

// readParams returns the request parameters from a form-encoded or JSON
// body. JSON string values are copied into url.Values; other JSON types are
// ignored.
func readParams(w http.ResponseWriter, r *http.Request) (url.Values, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			return nil, tokaerrors.Wrap(tokaerrors.KindInvalidInput, "Malformed request body", err)
		}
		values := url.Values{}
		for k, v := range body {
			if s, ok := v.(string); ok {
				values.Set(k, s)
			}
		}
		return values, nil
	}

	if err := r.ParseForm(); err != nil {
		return nil, tokaerrors.Wrap(tokaerrors.KindInvalidInput, "Malformed request body", err)
	}
	return r.PostForm, nil
}
