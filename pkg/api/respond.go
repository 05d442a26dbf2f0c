package api

import (
	"net/http"

	"github.com/aminofox/hlsproxy/pkg/errors"
	"github.com/aminofox/hlsproxy/pkg/logger"
)

// writeError maps err onto its HTTP status and writes a short text
// body describing the kind — never the offending value, so a
// malformed key or header parameter never round-trips into a
// response. Logged once, here, at the point the error crosses the
// HTTP boundary.
func writeError(w http.ResponseWriter, r *http.Request, log logger.Logger, err error) {
	kind := errors.KindOf(err)
	status := errors.StatusFor(err)

	fields := []logger.Field{
		logger.String("request_id", RequestID(r)),
		logger.String("kind", kind.String()),
		logger.String("path", r.URL.Path),
	}
	if e, ok := err.(*errors.Error); ok && e.Cause != nil {
		fields = append(fields, logger.Err(e.Cause))
	}
	log.Warn("request failed", fields...)

	http.Error(w, kind.String()+": "+errMessage(err), status)
}

func errMessage(err error) string {
	if e, ok := err.(*errors.Error); ok {
		return e.Message
	}
	return err.Error()
}
