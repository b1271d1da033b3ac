// Package httpapi is the Task Layer's HTTP exposure: it accepts job
// metadata that references already-stored FileKeys (never raw PDF bytes),
// hands the job to the jobrunner, and lets a caller poll progress, fetch
// the merged result, or request cancellation. The byte-upload surface that
// populates FileKeys lives here too, as a thin wrapper over the Storage
// Service's file namespace.
package httpapi

import (
	"github.com/gofiber/fiber/v2"

	"github.com/jokbolink/orchestrator/services/jobrunner"
	"github.com/jokbolink/orchestrator/services/llmclient"
	"github.com/jokbolink/orchestrator/services/storage"
	"github.com/jokbolink/orchestrator/utils"
)

// Server holds the dependencies the Task Layer handlers need.
type Server struct {
	runner    *jobrunner.Runner
	store     *storage.Service
	audit     *utils.Logger
	newClient func(credentialID string) *llmclient.Client

	defaultTokenBudget int
	minRelevanceScore  int
}

// Config configures a Server.
type Config struct {
	Runner             *jobrunner.Runner
	Store              *storage.Service
	NewClient          func(credentialID string) *llmclient.Client
	DefaultTokenBudget int
	MinRelevanceScore  int
}

func NewServer(config Config) *Server {
	return &Server{
		runner:             config.Runner,
		store:              config.Store,
		audit:              utils.NewLogger(),
		newClient:          config.NewClient,
		defaultTokenBudget: config.DefaultTokenBudget,
		minRelevanceScore:  config.MinRelevanceScore,
	}
}

// Register attaches the Task Layer routes to a fiber app under /api/v1.
func (s *Server) Register(app *fiber.App) {
	v1 := app.Group("/api/v1")

	v1.Post("/files", s.uploadFile)

	v1.Post("/jobs", s.createJob)
	v1.Get("/jobs/:id", s.getJob)
	v1.Get("/jobs/:id/stream", s.streamJob)
	v1.Post("/jobs/:id/cancel", s.cancelJob)
	v1.Get("/jobs/:id/result", s.getJobResult)

	v1.Post("/users/:id/tokens/grant", s.grantTokens)
	v1.Get("/users/:id/tokens", s.getTokenBalance)

	v1.Get("/credentials/:id/files", s.listCredentialFiles)
}
