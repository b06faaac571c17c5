package middleware

import (
	"net/http"

	"github.com/go-chi/cors"
)

// CORS 允许浏览器页面跨域访问 API，预检请求不进入后续处理器。
func CORS() func(http.Handler) http.Handler {
	return cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Correlation-ID"},
		ExposedHeaders: []string{"X-Correlation-ID"},
		MaxAge:         300,
	})
}
