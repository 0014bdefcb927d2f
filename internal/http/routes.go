package httpx

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/target/mmk-pageshot/internal/artifact"
	domainauth "github.com/target/mmk-pageshot/internal/domain/auth"
	"github.com/target/mmk-pageshot/internal/domain/model"
	"github.com/target/mmk-pageshot/internal/service"
)

// RouterServices holds all the services needed by the HTTP router.
type RouterServices struct {
	Jobs      *service.JobService
	Discovery *service.DiscoveryService
	Dispatch  *service.DispatchService
	Watcher   *service.Watcher
	Auth      AuthServiceInterface
	Artifacts artifact.Store
	// LocalArtifactDir is served under /artifacts/ when screenshots are stored on disk.
	LocalArtifactDir string
	WorkerToken      string
	MaxUploadBytes   int64
	// MetricsHandler is mounted at MetricsPath when set.
	MetricsHandler    http.Handler
	MetricsPath       string
	CookieDomain      string
	HeartbeatInterval time.Duration
	// Readiness checks back /readyz; /healthz never consults them.
	Readiness map[string]ReadinessCheck
	Logger    *slog.Logger
}

// NewRouter creates and configures the HTTP router.
func NewRouter(services RouterServices) http.Handler {
	logger := services.Logger
	if logger == nil {
		logger = slog.Default()
	}
	mux := http.NewServeMux()

	mux.Handle("GET /healthz", http.HandlerFunc(healthHandler))
	mux.Handle("HEAD /healthz", http.HandlerFunc(healthHandler))
	mux.Handle("GET /readyz", readyHandler(services.Readiness))
	mux.Handle("HEAD /readyz", readyHandler(services.Readiness))
	if services.MetricsHandler != nil {
		path := services.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		mux.Handle("GET "+path, services.MetricsHandler)
	}
	if services.LocalArtifactDir != "" {
		prefix := artifact.LocalRoutePrefix + "/"
		mux.Handle("GET "+prefix, http.StripPrefix(prefix, http.FileServer(http.Dir(services.LocalArtifactDir))))
	}

	if services.Auth != nil {
		authHandlers := &AuthHandlers{Svc: services.Auth, CookieDomain: services.CookieDomain, Logger: logger}
		registerAuthRoutes(mux, authHandlers)
		registerJobRoutes(mux, services, logger)
	}
	if services.Jobs != nil {
		registerWorkerRoutes(mux, services, logger)
	}

	return Recover(logger)(Logging(logger)(mux))
}

func registerAuthRoutes(mux *http.ServeMux, h *AuthHandlers) {
	mux.HandleFunc("GET /auth/login", h.Login)
	mux.HandleFunc("GET /auth/callback", h.Callback)
	mux.HandleFunc("POST /auth/logout", h.Logout)
	mux.HandleFunc("GET /api/me", h.Me)
}

func registerJobRoutes(mux *http.ServeMux, services RouterServices, logger *slog.Logger) {
	auth := RequireAuth(services.Auth)
	jobs := &JobHandlers{
		Jobs:      services.Jobs,
		Discovery: services.Discovery,
		Dispatch:  services.Dispatch,
		Watcher:   services.Watcher,
		Logger:    logger,
	}
	events := &EventHandlers{Jobs: services.Jobs, HeartbeatInterval: services.HeartbeatInterval, Logger: logger}

	mux.Handle("POST /api/sitemap-jobs", auth(http.HandlerFunc(jobs.CreateSitemapJob)))
	mux.Handle("POST /api/crawl-jobs", auth(http.HandlerFunc(jobs.CreateCrawlJob)))
	mux.Handle("POST /api/screenshot-jobs", auth(http.HandlerFunc(jobs.CreateScreenshotJobs)))
	mux.Handle("GET /api/screenshot-jobs/progress", auth(http.HandlerFunc(jobs.Progress)))

	for _, kind := range []model.JobKind{model.JobKindSitemap, model.JobKindCrawl, model.JobKindScreenshot} {
		base := "/api/" + string(kind) + "-jobs"
		mux.Handle("GET "+base, auth(jobs.List(kind)))
		mux.Handle("GET "+base+"/watch", auth(jobs.Watch(kind)))
		mux.Handle("GET "+base+"/{id}", auth(jobs.Get(kind)))
	}

	mux.Handle("GET /api/events", auth(http.HandlerFunc(events.Stream)))
	mux.Handle("GET /api/admin/jobs/stats", RequireRole(services.Auth, domainauth.RoleAdmin)(http.HandlerFunc(jobs.Stats)))
}

func registerWorkerRoutes(mux *http.ServeMux, services RouterServices, logger *slog.Logger) {
	guard := RequireWorkerToken(services.WorkerToken)
	h := &WorkerHandlers{
		Jobs:           services.Jobs,
		Artifacts:      services.Artifacts,
		MaxUploadBytes: services.MaxUploadBytes,
		Logger:         logger,
	}
	mux.Handle("GET /api/worker/screenshot-jobs/reserve", guard(http.HandlerFunc(h.Reserve)))
	mux.Handle("POST /api/worker/screenshot-jobs/{id}/complete", guard(http.HandlerFunc(h.Complete)))
	mux.Handle("POST /api/worker/screenshot-jobs/{id}/fail", guard(http.HandlerFunc(h.Fail)))
}
