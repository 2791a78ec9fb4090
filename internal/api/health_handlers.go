package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
)

// Component statuses.
const (
	statusHealthy   = "healthy"
	statusDegraded  = "degraded"
	statusUnhealthy = "unhealthy"
)

func (s *Server) registerRootRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "banner",
		Method:      http.MethodGet,
		Path:        "/",
		Summary:     "Service banner",
		Description: "Returns a plain-text success message with the server version",
		Tags:        []string{"Health"},
	}, s.handleBanner)
}

func (s *Server) registerHealthRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "healthCheck",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
		Description: "Returns server health status with component checks",
		Tags:        []string{"Health"},
	}, s.handleHealthCheck)
}

// TextOutput is a plain-text response.
type TextOutput struct {
	ContentType string `header:"Content-Type"`
	Body        []byte
}

func textOutput(body string) *TextOutput {
	return &TextOutput{ContentType: "text/plain; charset=utf-8", Body: []byte(body)}
}

func (s *Server) handleBanner(_ context.Context, _ *struct{}) (*TextOutput, error) {
	return textOutput(fmt.Sprintf("success (version %s)", s.version)), nil
}

// ComponentHealth describes the health of a single component.
type ComponentHealth struct {
	Status  string `json:"status" doc:"Component status: healthy, degraded, or unhealthy"`
	Latency string `json:"latency,omitempty" doc:"Response time for this component"`
	Message string `json:"message,omitempty" doc:"Additional status information"`
}

// HealthResponse contains health check data in API responses.
type HealthResponse struct {
	Status     string                     `json:"status" doc:"Overall status: healthy, degraded, or unhealthy"`
	Components map[string]ComponentHealth `json:"components" doc:"Individual component statuses"`
}

// HealthOutput wraps the health response for Huma.
type HealthOutput struct {
	Body HealthResponse
}

func (s *Server) handleHealthCheck(ctx context.Context, _ *struct{}) (*HealthOutput, error) {
	components := map[string]ComponentHealth{
		"store":    s.checkStore(ctx),
		"search":   s.checkSearchIndex(),
		"watchers": s.checkRegistry(),
	}

	overall := statusHealthy
	for name, c := range components {
		switch {
		case c.Status == statusUnhealthy && name == "store":
			overall = statusUnhealthy
		case c.Status != statusHealthy && overall == statusHealthy:
			overall = statusDegraded
		}
	}

	return &HealthOutput{
		Body: HealthResponse{
			Status:     overall,
			Components: components,
		},
	}, nil
}

// checkStore pings the scan store.
func (s *Server) checkStore(ctx context.Context) ComponentHealth {
	if s.store == nil {
		return ComponentHealth{Status: statusDegraded, Message: "store not configured"}
	}

	start := time.Now()
	err := s.store.Ping(ctx)
	latency := time.Since(start)

	if err != nil {
		return ComponentHealth{
			Status:  statusUnhealthy,
			Latency: latency.String(),
			Message: "store ping failed",
		}
	}
	return ComponentHealth{Status: statusHealthy, Latency: latency.String()}
}

// checkSearchIndex verifies the Bleve index is readable.
func (s *Server) checkSearchIndex() ComponentHealth {
	if s.index == nil {
		return ComponentHealth{Status: statusDegraded, Message: "search index not configured"}
	}

	start := time.Now()
	count, err := s.index.DocumentCount()
	latency := time.Since(start)

	if err != nil {
		return ComponentHealth{
			Status:  statusUnhealthy,
			Latency: latency.String(),
			Message: "search index unreachable",
		}
	}
	return ComponentHealth{
		Status:  statusHealthy,
		Latency: latency.String(),
		Message: fmt.Sprintf("%d scans indexed", count),
	}
}

// checkRegistry reports the live watcher count.
func (s *Server) checkRegistry() ComponentHealth {
	if s.registry == nil {
		return ComponentHealth{Status: statusDegraded, Message: "watch registry not configured"}
	}
	if s.registry.Closed() {
		return ComponentHealth{Status: statusUnhealthy, Message: "watch registry closed"}
	}
	return ComponentHealth{Status: statusHealthy, Message: formatWatcherStatus(s.registry.Count())}
}

func formatWatcherStatus(count int) string {
	switch count {
	case 0:
		return "no connected watchers"
	case 1:
		return "1 connected watcher"
	default:
		return fmt.Sprintf("%d connected watchers", count)
	}
}
