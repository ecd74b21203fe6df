package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"rtspengine/pkg/registry"
)

// SourceInfo is one registered media source's observable state.
type SourceInfo struct {
	Schema      string  `json:"schema"`
	Vhost       string  `json:"vhost"`
	App         string  `json:"app"`
	Stream      string  `json:"stream"`
	TrackCount  int     `json:"trackCount"`
	AliveSecond float64 `json:"aliveSeconds"`
}

// ListSourcesResponse is the body of GET /api/v1/sources.
type ListSourcesResponse struct {
	Sources []SourceInfo `json:"sources"`
}

// ListSourcesHandler handles GET /api/v1/sources: every currently
// registered source matching the optional schema, vhost, app and stream
// query parameters (an absent parameter matches everything).
func (s *Server) ListSourcesHandler(c *gin.Context) {
	schema := c.Query("schema")
	vhost := c.Query("vhost")
	app := c.Query("app")
	stream := c.Query("stream")

	var out []SourceInfo
	s.reg.ForEach(func(src *registry.Source) {
		out = append(out, SourceInfo{
			Schema:      src.Schema,
			Vhost:       src.Tuple.Vhost,
			App:         src.Tuple.App,
			Stream:      src.Tuple.Stream,
			TrackCount:  src.TrackCount(),
			AliveSecond: src.AliveSeconds(),
		})
	}, schema, vhost, app, stream)

	c.JSON(http.StatusOK, ListSourcesResponse{Sources: out})
}
