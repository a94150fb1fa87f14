package httpapi

import (
	"net/http"
	"time"

	"owl-care/internal/backend"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// Options 路由依赖
type Options struct {
	Rows *RowsHandler
	// Metrics 可选；为 nil 时不暴露 /metrics
	Metrics http.Handler
	Logger  *zap.Logger
}

// NewRouter 注册全部路由
func NewRouter(opts Options) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(opts.Logger))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, Ok("ok"))
	})
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}

	r.Route("/care/api/v1/{resource}", func(cr chi.Router) {
		cr.Use(forwardToken)
		cr.Get("/rows", opts.Rows.ListRows)
		cr.Post("/rows", opts.Rows.AddRow)
		cr.Patch("/rows/{key}", opts.Rows.EditRow)
		cr.Delete("/rows/{key}", opts.Rows.DeleteRow)
		cr.Post("/refresh", opts.Rows.Refresh)
	})
	return r
}

// forwardToken 调用方的 bearer token 随后端请求转发
func forwardToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if tok := bearerToken(r); tok != "" {
			r = r.WithContext(backend.WithToken(r.Context(), tok))
		}
		next.ServeHTTP(w, r)
	})
}

func requestLogger(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			logger.Debug("HTTP request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}
