package handler

import "net/http"

// HandleHealthCheck is the liveness probe: 200 with an empty body. It does
// not touch storage, so it stays green while the database is down.
//
// HTTP: GET /health_check
func HandleHealthCheck(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}
