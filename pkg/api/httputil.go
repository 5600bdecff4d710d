// Package api implements the platform's REST control surface: container
// and match lifecycle, command submission, snapshot reads, auth, and
// the cluster/module/deploy/autoscaler control plane. It wraps
// pkg/authz's bearer-token filter around a Go 1.22 method+path
// http.ServeMux, the same plain-handler-plus-json.Encode idiom
// pkg/relay/ha.go uses for its own HTTP routes.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/simhost/platform/pkg/apierrors"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		json.NewEncoder(w).Encode(v)
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := apierrors.HTTPStatus(err)
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apierrors.Wrap(apierrors.KindInvalidArg, "decode request body", err, nil)
	}
	return nil
}
