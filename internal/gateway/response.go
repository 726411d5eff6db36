package gateway

import (
	"encoding/json"
	"net/http"
)

// httpResponseJSON writes msg as a JSON body with code, mirroring the
// teacher's internal/server/response.go helper of the same name.
func httpResponseJSON(w http.ResponseWriter, msg any, code int) {
	v, _ := json.Marshal(msg)
	httpResponseJSONByte(w, v, code)
}

func httpResponseJSONByte(w http.ResponseWriter, msg []byte, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(msg)
}
