package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	gqlgo "github.com/graph-gophers/graphql-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/zhouzirui/user-table/backend/internal/handler/events"
	"github.com/zhouzirui/user-table/backend/internal/handler/graphql"
	middlewarePkg "github.com/zhouzirui/user-table/backend/internal/middleware"
	usersvc "github.com/zhouzirui/user-table/backend/internal/service/user"
	"github.com/zhouzirui/user-table/backend/pkg/utils"
)

// Deps 路由依赖的服务
type Deps struct {
	Schema   *gqlgo.Schema
	Users    *usersvc.Service
	Gatherer prometheus.Gatherer
	Logger   *zap.Logger
}

// NewRouter wires HTTP routes to core services.
func NewRouter(deps Deps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middlewarePkg.RequestLogger(logger.Named("http")))
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	graphql.New(deps.Schema, logger).RegisterRoutes(r)
	events.New(deps.Users, logger).RegisterRoutes(r)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]any{
			"status":      "ok",
			"subscribers": deps.Users.Subscribers(),
		})
	})

	if deps.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}

	return r
}
