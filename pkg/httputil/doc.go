// Package httputil holds the JSON response helpers and middleware shared by
// the audit log and archival HTTP handlers.
//
// Errors are always written as {"error": "..."}:
//
//	httputil.WriteBadRequest(w, "invalid scope")
//	httputil.WriteJSON(w, http.StatusOK, records)
//
// Recovery and AccessLog log through observability.FromContext, so they should
// run after the middleware that attaches the request logger.
package httputil
