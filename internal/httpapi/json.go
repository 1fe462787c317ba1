package httpapi

import (
	"encoding/json"
	"net/http"
)

type errorBody struct {
	OK      bool   `json:"ok"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeBody writes v as JSON or as a protobuf Struct.
func writeBody(w http.ResponseWriter, asProto bool, status int, v any) {
	if !asProto {
		writeJSON(w, status, v)
		return
	}
	s, err := toStruct(v)
	if err != nil {
		http.Error(w, "proto marshal error", http.StatusInternalServerError)
		return
	}
	writeProto(w, status, s)
}

func writeError(w http.ResponseWriter, asProto bool, status int, code, msg string) {
	writeBody(w, asProto, status, errorBody{OK: false, Error: code, Message: msg})
}
