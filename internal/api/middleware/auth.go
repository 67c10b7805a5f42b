package middleware

import (
	"net/http"
	"strings"

	"orchestrator/pkg/crypto"
	"orchestrator/pkg/utils"
)

// APIKeyAuth проверяет ключ оператора на мутирующих запросах
//
// В конфиге хранится только bcrypt-хеш ключа. Ключ передаётся в
// заголовке X-API-Key либо Authorization: Bearer <key>. GET/HEAD/OPTIONS
// проходят без проверки: чтение состояния не меняет систему, а панель
// оператора подключается и без ключа.
//
// Пустой хеш полностью отключает проверку (dev/paper режим).
func APIKeyAuth(keyHash string, log *utils.Logger) func(http.Handler) http.Handler {
	if log == nil {
		log = utils.L()
	}
	log = log.WithComponent("api")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if keyHash == "" || !isMutating(r.Method) {
				next.ServeHTTP(w, r)
				return
			}

			key := extractKey(r)
			if key == "" {
				w.Header().Set("WWW-Authenticate", "Bearer")
				http.Error(w, "API key required", http.StatusUnauthorized)
				return
			}

			if !crypto.CheckSecretMatch(key, keyHash) {
				log.Warn("api key rejected",
					utils.String("method", r.Method),
					utils.String("path", r.URL.Path),
					utils.String("remote", r.RemoteAddr))
				http.Error(w, "invalid API key", http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// isMutating возвращает true для методов, меняющих состояние
func isMutating(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return false
	default:
		return true
	}
}

// extractKey достаёт ключ из X-API-Key или Authorization: Bearer
func extractKey(r *http.Request) string {
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}

	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	}
	return ""
}
