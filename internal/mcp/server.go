// Package mcp exposes the source registry as MCP tools: one tool per task
// type of every source that has at least one configured connector.
package mcp

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mark3labs/mcp-go/server"

	"sourcebridge.dev/internal/config"
	"sourcebridge.dev/internal/logger"
	"sourcebridge.dev/internal/mcputil"
	"sourcebridge.dev/internal/source"
)

// Server wraps the MCP server with the source registry.
type Server struct {
	mcpServer *server.MCPServer
	facade    *source.Facade
	store     *config.CredentialStore
}

// NewServer builds the MCP server and synthesizes its tool set from the
// registered source managers.
func NewServer(facade *source.Facade, store *config.CredentialStore, version string) *Server {
	mcpServer := server.NewMCPServer(
		"sourcebridge",
		version,
		server.WithToolCapabilities(true),
	)

	s := &Server{
		mcpServer: mcpServer,
		facade:    facade,
		store:     store,
	}
	s.registerTools()
	return s
}

// Serve starts the MCP server over stdio.
func (s *Server) Serve() error {
	return server.ServeStdio(s.mcpServer)
}

// ServeHTTP starts the MCP server over StreamableHTTP transport with
// graceful shutdown on SIGINT/SIGTERM.
func (s *Server) ServeHTTP(addr string) error {
	httpServer := server.NewStreamableHTTPServer(s.mcpServer)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.L().Info("shutting down MCP HTTP server")
		if err := httpServer.Shutdown(context.Background()); err != nil {
			logger.L().Error("error shutting down MCP HTTP server", "error", err)
		}
	}()

	fmt.Fprintf(os.Stderr, "MCP endpoint: %s\n", mcputil.Endpoint(addr))
	return httpServer.Start(addr)
}

// GetMCPServer returns the underlying MCP server.
func (s *Server) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}
