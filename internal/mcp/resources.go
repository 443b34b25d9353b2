package mcp

import (
	"context"
	"encoding/json"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// StatusResourceURI is the resource holding the full status report.
const StatusResourceURI = "careindex://status"

func (s *Server) registerResources() {
	s.mcp.AddResource(
		&mcp.Resource{
			Name:        "status",
			URI:         StatusResourceURI,
			Description: "Readiness flag, journal counts and collection manifests",
			MIMEType:    "application/json",
		},
		s.handleStatusResource,
	)
}

func (s *Server) handleStatusResource(_ context.Context, _ *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	text, err := s.statusJSON()
	if err != nil {
		return nil, err
	}
	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{{
			URI:      StatusResourceURI,
			MIMEType: "application/json",
			Text:     text,
		}},
	}, nil
}

func (s *Server) statusJSON() (string, error) {
	rep, err := s.status.Report()
	if err != nil {
		return "", MapError(err)
	}
	data, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
