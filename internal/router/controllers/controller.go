package controllers

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"
	serviceerrors "github.com/textileio/go-tonconnect/pkg/errors"
)

const maxBodySize = 1 << 20

func writeJSON(rw http.ResponseWriter, status int, v interface{}) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(rw).Encode(v); err != nil {
		log.Error().Err(err).Msg("encoding response")
	}
}

func writeError(rw http.ResponseWriter, status int, code, msg string) {
	writeJSON(rw, status, serviceerrors.ServiceError{Message: msg, Code: code})
}

func decodeBody(rw http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(rw, r.Body, maxBodySize))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
