package api

import (
	"net/http"

	"github.com/triviaquiz/triviaquiz/internal/auth"
	"github.com/triviaquiz/triviaquiz/internal/db"
	apperrors "github.com/triviaquiz/triviaquiz/internal/errors"
	"github.com/triviaquiz/triviaquiz/internal/friends"
	"github.com/triviaquiz/triviaquiz/internal/game"
	"github.com/triviaquiz/triviaquiz/internal/health"
	"github.com/triviaquiz/triviaquiz/internal/logger"
	"github.com/triviaquiz/triviaquiz/internal/metrics"
	"github.com/triviaquiz/triviaquiz/internal/middleware"
	"github.com/triviaquiz/triviaquiz/internal/questions"
	"github.com/triviaquiz/triviaquiz/internal/trivia"
	"github.com/triviaquiz/triviaquiz/internal/websocket"
)

// Deps are the collaborators the router wires into handlers.
type Deps struct {
	DB             *db.DB
	AuthService    *auth.Service
	Cookies        auth.SessionCookies
	Hub            *websocket.Hub
	Trivia         *trivia.Client
	Health         *health.Checker
	Metrics        *metrics.Metrics
	AuthLimiter    *middleware.RateLimiter
	AllowedOrigins []string
	Log            *logger.Logger
}

type Router struct {
	mux     *http.ServeMux
	handler http.Handler
	deps    Deps

	authHandlers     *auth.Handlers
	userHandlers     *UserHandlers
	friendHandlers   *friends.Handlers
	questionHandlers *questions.Handlers
	gameHandlers     *game.Handlers
	triviaHandlers   *trivia.Handlers
	healthHandlers   *health.Handler
	wsHandler        *websocket.Handler
}

func NewRouter(deps Deps) *Router {
	if deps.Metrics == nil {
		deps.Metrics = metrics.Default()
	}
	if deps.Log == nil {
		deps.Log = logger.Default()
	}

	users := db.NewUserRepository(deps.DB)
	friendRepo := db.NewFriendRepository(deps.DB)
	questionRepo := db.NewQuestionRepository(deps.DB)

	r := &Router{
		mux:              http.NewServeMux(),
		deps:             deps,
		authHandlers:     auth.NewHandlers(deps.AuthService, deps.Cookies),
		userHandlers:     NewUserHandlers(users),
		friendHandlers:   friends.NewHandlers(friends.NewService(users, friendRepo, hubNotifier(deps.Hub))),
		questionHandlers: questions.NewHandlers(questions.NewService(questionRepo, users, deps.Metrics)),
		gameHandlers:     game.NewHandlers(game.NewService(users, hubNotifier(deps.Hub), deps.Metrics)),
		triviaHandlers:   trivia.NewHandlers(deps.Trivia),
		healthHandlers:   health.NewHandler(deps.Health),
	}
	if deps.Hub != nil {
		r.wsHandler = websocket.NewHandler(deps.Hub, deps.AuthService, deps.AllowedOrigins)
	}

	r.setupRoutes()
	r.handler = middleware.Chain(r.mux,
		apperrors.RequestIDMiddleware,
		logger.RecoveryMiddleware(deps.Log),
		logger.LoggingMiddleware(deps.Log),
		metrics.MetricsMiddleware(deps.Metrics),
		middleware.CORS(deps.AllowedOrigins),
		middleware.Gzip,
		middleware.Timing(deps.Log),
	)
	return r
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.handler.ServeHTTP(w, req)
}

func (r *Router) setupRoutes() {
	r.mux.HandleFunc("GET /{$}", rootHandler)

	// Health and metrics
	r.mux.HandleFunc("GET /health", r.healthHandlers.HealthHandler)
	r.mux.HandleFunc("GET /health/live", r.healthHandlers.LivenessHandler)
	r.mux.HandleFunc("GET /health/ready", r.healthHandlers.ReadinessHandler)
	r.mux.Handle("GET /metrics", r.deps.Metrics.Handler())

	// Auth
	r.mux.Handle("POST /api/auth/sign-up", r.limited(r.authHandlers.SignUp))
	r.mux.Handle("POST /api/auth/sign-in", r.limited(r.authHandlers.SignIn))
	r.mux.Handle("GET /api/auth/me", r.handle(r.authHandlers.Me))
	r.mux.Handle("POST /api/auth/sign-out", r.handle(r.authHandlers.SignOut))

	// Users
	r.mux.Handle("GET /api/users", r.cacheable(r.userHandlers.List))
	r.mux.Handle("GET /api/users/{id}", r.handle(r.userHandlers.Get))

	// Friends
	r.mux.Handle("GET /api/friends/{id}", r.cacheable(r.friendHandlers.ListFriends))
	r.mux.Handle("GET /api/friends/requests/sent/{id}", r.cacheable(r.friendHandlers.ListSent))
	r.mux.Handle("GET /api/friends/requests/received/{id}", r.cacheable(r.friendHandlers.ListReceived))
	r.mux.Handle("GET /api/friends/status/{id}/{otherId}", r.handle(r.friendHandlers.State))
	r.mux.Handle("POST /api/friends/send-request", r.withAuth(r.friendHandlers.SendRequest))
	r.mux.Handle("POST /api/friends/accept-request", r.withAuth(r.friendHandlers.AcceptRequest))
	r.mux.Handle("POST /api/friends/deny-request", r.withAuth(r.friendHandlers.DenyRequest))

	// Questions
	r.mux.Handle("GET /api/questions", r.cacheable(r.questionHandlers.List))
	r.mux.Handle("GET /api/questions/liked/{id}", r.cacheable(r.questionHandlers.Liked))
	r.mux.Handle("POST /api/questions/save", r.withAuth(r.questionHandlers.Save))
	r.mux.Handle("POST /api/questions/like", r.withAuth(r.questionHandlers.Like))
	r.mux.Handle("PUT /api/questions/update", r.withAuth(r.questionHandlers.Update))
	r.mux.Handle("DELETE /api/questions/delete", r.withAuth(r.questionHandlers.Delete))

	// Game
	r.mux.Handle("POST /api/game/add-point", r.withAuth(r.gameHandlers.AddPoint))
	r.mux.Handle("POST /api/game/add-match", r.withAuth(r.gameHandlers.AddMatch))
	r.mux.Handle("GET /api/game/stats/{id}", r.handle(r.gameHandlers.Stats))
	r.mux.Handle("GET /api/game/leaderboard", r.cacheable(r.gameHandlers.Leaderboard))

	// Trivia proxy
	r.mux.Handle("GET /api/trivia", r.handle(r.triviaHandlers.Questions))
	r.mux.Handle("GET /api/trivia/categories", r.cacheable(r.triviaHandlers.Categories))

	// Realtime notifications
	if r.wsHandler != nil {
		r.mux.HandleFunc("GET /api/ws", r.wsHandler.ServeWS)
	}
}

func (r *Router) handle(h apperrors.Handler) http.Handler {
	return apperrors.HandleFunc(h)
}

func (r *Router) withAuth(h apperrors.Handler) http.Handler {
	return auth.RequireAuth(r.deps.AuthService)(apperrors.HandleFunc(h))
}

func (r *Router) cacheable(h apperrors.Handler) http.Handler {
	return middleware.ETag(apperrors.HandleFunc(h))
}

func (r *Router) limited(h apperrors.Handler) http.Handler {
	if r.deps.AuthLimiter == nil {
		return apperrors.HandleFunc(h)
	}
	return r.deps.AuthLimiter.Middleware(r.deps.Log)(apperrors.HandleFunc(h))
}

// hubNotifier keeps a missing hub from reaching services as a typed nil.
func hubNotifier(hub *websocket.Hub) friends.Notifier {
	if hub == nil {
		return nil
	}
	return hub
}

func rootHandler(w http.ResponseWriter, r *http.Request) {
	apperrors.WriteJSON(w, apperrors.GetRequestID(r.Context()), http.StatusOK, map[string]string{
		"message": "Trivia Quiz API",
	})
}
