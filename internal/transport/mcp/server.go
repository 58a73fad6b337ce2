// Package mcp exposes the sync core to assistant frontends over the Model
// Context Protocol (SSE transport).
package mcp

import (
	"context"
	"net/http"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/roomwire/chatsync/internal/service"
)

type ServerConfig struct {
	Address string
}

type Server struct {
	mcpServer  *server.MCPServer
	sseServer  *server.SSEServer
	httpServer *http.Server
	syncSvc    *service.SyncService
	config     ServerConfig
}

func NewServer(syncSvc *service.SyncService, config ServerConfig) *Server {
	s := &Server{
		syncSvc: syncSvc,
		config:  config,
	}

	s.mcpServer = server.NewMCPServer(
		"chatsync",
		"1.0.0",
		server.WithToolCapabilities(true),
	)

	s.registerTools()

	s.sseServer = server.NewSSEServer(s.mcpServer,
		server.WithKeepAliveInterval(30*time.Second),
	)

	return s
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(
		mcp.NewTool("chatsync_list_rooms",
			mcp.WithDescription("List chat rooms sorted by most recent activity, with unread counts"),
		),
		s.handleListRooms,
	)

	s.mcpServer.AddTool(
		mcp.NewTool("chatsync_list_messages",
			mcp.WithDescription("List the loaded messages of a room, oldest first"),
			mcp.WithString("room_id",
				mcp.Required(),
				mcp.Description("Identifier of the room"),
			),
			mcp.WithNumber("limit",
				mcp.Description("Maximum number of messages to return (default 50, max 200)"),
			),
		),
		s.handleListMessages,
	)

	s.mcpServer.AddTool(
		mcp.NewTool("chatsync_send_message",
			mcp.WithDescription("Send a text message to a room"),
			mcp.WithString("room_id",
				mcp.Required(),
				mcp.Description("Identifier of the room to send to"),
			),
			mcp.WithString("text",
				mcp.Required(),
				mcp.Description("Message text to send"),
			),
		),
		s.handleSendMessage,
	)

	s.mcpServer.AddTool(
		mcp.NewTool("chatsync_mark_read",
			mcp.WithDescription("Mark a room as read, resetting its unread counter"),
			mcp.WithString("room_id",
				mcp.Required(),
				mcp.Description("Identifier of the room"),
			),
		),
		s.handleMarkRead,
	)

	s.mcpServer.AddTool(
		mcp.NewTool("chatsync_unread_total",
			mcp.WithDescription("Get the total unread message count across all rooms"),
		),
		s.handleUnreadTotal,
	)
}

func (s *Server) Start() error {
	mux := http.NewServeMux()

	mux.Handle("/sse", s.sseServer.SSEHandler())
	mux.Handle("/message", s.sseServer.MessageHandler())

	// Health check endpoint
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	s.httpServer = &http.Server{
		Addr:    s.config.Address,
		Handler: mux,
	}

	return s.httpServer.ListenAndServe()
}

func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
