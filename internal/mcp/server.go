// Package mcp exposes support-diagnostics tools over the Model Context
// Protocol.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"assetdesk/backend/internal/services"
	"assetdesk/backend/pkg/models"
)

type Server struct {
	mcpServer *server.MCPServer
	tours     *services.TourService
}

func NewServer(tours *services.TourService) *Server {
	s := &Server{
		mcpServer: server.NewMCPServer(
			"AssetDesk Onboarding Tours",
			"1.0.0",
			server.WithToolCapabilities(true),
		),
		tours: tours,
	}

	s.registerTools()
	return s
}

func (s *Server) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(
		mcp.NewTool(
			"list_tour_steps",
			mcp.WithDescription("List the onboarding tour steps authored for a role"),
			mcp.WithString("role", mcp.Required(), mcp.Description("One of admin, support, pm, user")),
		),
		s.handleListSteps,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"get_tour_progress",
			mcp.WithDescription("Show which roles a user has completed or dismissed"),
			mcp.WithString("user_id", mcp.Required(), mcp.Description("The user's identity subject")),
		),
		s.handleGetProgress,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"reset_tour_progress",
			mcp.WithDescription("Forget a user's tour progress so every tour auto-starts again"),
			mcp.WithString("user_id", mcp.Required(), mcp.Description("The user's identity subject")),
		),
		s.handleResetProgress,
	)
}

func (s *Server) handleListSteps(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}

	raw, _ := args["role"].(string)
	role, ok := models.ParseRole(raw)
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("Unknown role: %q", raw)), nil
	}

	jsonBytes, _ := json.Marshal(s.tours.Steps(role))
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func (s *Server) handleGetProgress(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	userID, errResult := requireUserID(request)
	if errResult != nil {
		return errResult, nil
	}

	jsonBytes, _ := json.Marshal(s.tours.Progress(userID).Read(ctx))
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func (s *Server) handleResetProgress(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	userID, errResult := requireUserID(request)
	if errResult != nil {
		return errResult, nil
	}

	if err := s.tours.ResetProgress(ctx, userID); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to reset progress: %v", err)), nil
	}

	return mcp.NewToolResultText("Progress reset for " + userID), nil
}

func requireUserID(request mcp.CallToolRequest) (string, *mcp.CallToolResult) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return "", mcp.NewToolResultError("Invalid arguments type")
	}
	userID, ok := args["user_id"].(string)
	if !ok || userID == "" {
		return "", mcp.NewToolResultError("Missing required parameter: user_id")
	}
	return userID, nil
}

func MountHTTPHandlers(mux *http.ServeMux, mcpServer *server.MCPServer) {
	// Use SSE server for /mcp/sse and /mcp/message endpoints
	sseServer := server.NewSSEServer(mcpServer, server.WithStaticBasePath("/mcp"))

	mux.HandleFunc("/mcp", func(w http.ResponseWriter, r *http.Request) {
		// Direct POST for tool calls
		if r.Method == http.MethodPost {
			sseServer.ServeHTTP(w, r)
			return
		}
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	})

	// SSE endpoints
	mux.HandleFunc("/mcp/sse", sseServer.ServeHTTP)
	mux.HandleFunc("/mcp/message", sseServer.ServeHTTP)
}
