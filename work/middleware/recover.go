package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"

	"media-relay/work/logger"
	"media-relay/work/utils"
)

// Recover turns a panicking handler into a JSON error envelope with status 500 whose msg
// is the panic value. The stack goes to the log, never to the client. http.ErrAbortHandler is re-raised so that
// net/http can abort the connection quietly.
func Recover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			logger.Error("{middleware/recover - Recover} panic serving %s %s: %v\n%s", r.Method, r.URL.Path, rec, debug.Stack())
			utils.WriteError(w, errors.New(fmt.Sprint(rec)))
		}()
		next.ServeHTTP(w, r)
	})
}
