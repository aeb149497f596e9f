package httpapi

import (
	"math"
	"net/http"
	"strconv"
	"strings"

	"fleetdesk.org/internal/audit"
)

const (
	defaultAuditLimit = 50
	maxAuditLimit     = 500
)

func (a *API) listAuditLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := queryInt(q.Get("limit"), defaultAuditLimit, 1, maxAuditLimit, "limit")
	if err != nil {
		a.errors.writeError(w, r, err)
		return
	}
	before, err := queryInt(q.Get("before"), 0, 0, math.MaxInt, "before")
	if err != nil {
		a.errors.writeError(w, r, err)
		return
	}
	recs, err := a.audits.ListAudit(r.Context(), int64(before), limit)
	if err != nil {
		a.errors.writeError(w, r, err)
		return
	}
	resp := map[string]any{"records": recs}
	if len(recs) == limit {
		resp["nextBefore"] = recs[len(recs)-1].Seq
	}
	writeData(w, http.StatusOK, resp)
}

func (a *API) verifyAuditLogs(w http.ResponseWriter, r *http.Request) {
	batch, err := queryInt(r.URL.Query().Get("batch"), 500, 1, 5000, "batch")
	if err != nil {
		a.errors.writeError(w, r, err)
		return
	}
	res, err := audit.VerifyChain(r.Context(), a.audits, batch)
	if err != nil {
		a.errors.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, res)
}

func queryInt(raw string, def, min, max int, name string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < min || v > max {
		return 0, &apiError{
			status:  http.StatusUnprocessableEntity,
			code:    CodeValidation,
			message: name + " must be an integer between " + strconv.Itoa(min) + " and " + strconv.Itoa(max),
			details: map[string]any{"fields": map[string]string{name: "range"}},
		}
	}
	return v, nil
}
