package middleware

import (
	"net/http"
	"runtime/debug"

	"orchestrator/pkg/utils"
)

// Recovery перехватывает panic в handlers и не даёт упасть серверу.
// Клиент получает 500, stack trace уходит в лог.
func Recovery(log *utils.Logger) func(http.Handler) http.Handler {
	if log == nil {
		log = utils.L()
	}
	log = log.WithComponent("api")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					log.Error("panic in http handler",
						utils.String("method", r.Method),
						utils.String("path", r.URL.Path),
						utils.Any("panic", rec),
						utils.String("stack", string(debug.Stack())))

					http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}
