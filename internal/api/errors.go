package api

import (
	"encoding/json"
	"io"
	"net/http"
)

// maxBodySize caps request bodies; anything larger fails to decode.
const maxBodySize = 1 << 20

// errorBody is the JSON error envelope: {"error":{"code":…,"message":…}}.
// Codes are stable machine-readable identifiers; messages are for humans.
type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// writeError writes a JSON error response with the given status and code.
func writeError(w http.ResponseWriter, status int, code, message string) {
	var body errorBody
	body.Error.Code = code
	body.Error.Message = message
	writeJSON(w, status, body)
}

// writeJSON writes v as a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// readJSON decodes the request body into dst, enforcing the body size cap.
func readJSON(r *http.Request, dst interface{}) error {
	return json.NewDecoder(io.LimitReader(r.Body, maxBodySize)).Decode(dst)
}
