package httpapi

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	platformhealth "github.com/ADX777/timelock-backend-clean/platform/health/http"
)

// NewRouter создаёт и настраивает HTTP роутер сервиса
// readiness - функция для проверки готовности сервиса (например, ping БД).
// Если readiness возвращает false, health endpoint вернёт 503 Service Unavailable.
func NewRouter(handler *Handler, readiness func() bool) chi.Router {
	router := chi.NewRouter()

	// Фронт ходит с другого origin, поэтому CORS открыт
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type"},
	}))

	router.Route("/api", func(r chi.Router) {
		r.Post("/create-payment", handler.PostCreatePayment)
		r.Post("/get-tx", handler.PostGetTx)
		r.Post("/preview-data", handler.PostPreviewData)
	})

	// Webhook вне /api: путь зарегистрирован у платёжного процессора
	router.Post("/webhook/nowpayments", handler.PostWebhook)

	// Health без middleware
	router.Get("/health", platformhealth.Handler(readiness))

	return router
}
