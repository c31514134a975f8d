package server

import (
	"net/http"
	"sort"

	"github.com/gin-gonic/gin"

	"bitgremlin/internal/config"
	"bitgremlin/internal/pipeline"
)

// ToolNames lists every external tool the service may run, sorted.
func ToolNames() []string {
	names := make([]string, 0, len(config.ToolEnv))
	for name := range config.ToolEnv {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *Server) handleHealth(c *gin.Context) {
	c.String(http.StatusOK, "ok")
}

func (s *Server) handleTools(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"tools": s.Report()})
}

// Report resolves every known tool.
func (s *Server) Report() []pipeline.Resolution {
	return s.locator.Report(ToolNames()...)
}
