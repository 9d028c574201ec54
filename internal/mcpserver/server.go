// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes GitAtlas tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/veland/gitatlas/internal/index"
	"github.com/veland/gitatlas/internal/repos"
)

// Server wraps the MCP server with GitAtlas tools.
type Server struct {
	mcp *server.MCPServer
	svc *repos.Service
}

// New creates a new MCP server with all GitAtlas tools registered.
func New(svc *repos.Service) *Server {
	s := &Server{svc: svc}

	s.mcp = server.NewMCPServer(
		"GitAtlas",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("search_repositories",
		mcp.WithDescription("Search local git repositories by name prefix, size range, "+
			"commit count range, or contained file extension."),
		mcp.WithString("name_prefix", mcp.Description("Case-insensitive repository name prefix")),
		mcp.WithString("file_type", mcp.Description("File extension to filter by, without the dot (e.g. go, rs)")),
		mcp.WithNumber("min_size_mb", mcp.Description("Minimum repository size in MB")),
		mcp.WithNumber("max_size_mb", mcp.Description("Maximum repository size in MB")),
		mcp.WithNumber("min_commits", mcp.Description("Minimum commit count")),
		mcp.WithNumber("max_commits", mcp.Description("Maximum commit count")),
	), s.searchRepositories)

	s.mcp.AddTool(mcp.NewTool("list_repositories",
		mcp.WithDescription("List all known local git repositories."),
	), s.listRepositories)

	s.mcp.AddTool(mcp.NewTool("repositories_under",
		mcp.WithDescription("List repositories at or below a directory prefix."),
		mcp.WithString("prefix", mcp.Required(), mcp.Description("Absolute directory prefix (e.g. /home/dev)")),
	), s.repositoriesUnder)

	s.mcp.AddTool(mcp.NewTool("repository_info",
		mcp.WithDescription("Full metadata for one repository: branches, remote, size, "+
			"file type histogram, commit count, dependency directories."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Absolute repository path")),
	), s.repositoryInfo)

	s.mcp.AddTool(mcp.NewTool("cache_info",
		mcp.WithDescription("Statistics about the repository metadata cache."),
	), s.cacheInfo)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func (s *Server) searchRepositories(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	q := index.Query{
		NamePrefix: req.GetString("name_prefix", ""),
		FileType:   req.GetString("file_type", ""),
	}
	if v := req.GetFloat("min_size_mb", -1); v >= 0 {
		q.MinSizeMB = &v
	}
	if v := req.GetFloat("max_size_mb", -1); v >= 0 {
		q.MaxSizeMB = &v
	}
	if v := req.GetInt("min_commits", -1); v >= 0 {
		q.MinCommits = &v
	}
	if v := req.GetInt("max_commits", -1); v >= 0 {
		q.MaxCommits = &v
	}

	results, err := s.svc.Search(q)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out, _ := json.MarshalIndent(results, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) listRepositories(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	items, err := s.svc.List()
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	var lines []string
	for _, repo := range items {
		lines = append(lines, repo.Path)
	}
	if len(lines) == 0 {
		return mcp.NewToolResultText("no repositories known"), nil
	}
	return mcp.NewToolResultText(strings.Join(lines, "\n")), nil
}

func (s *Server) repositoriesUnder(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	prefix, err := req.RequireString("prefix")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	items, err := s.svc.Under(prefix)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	var lines []string
	for _, repo := range items {
		lines = append(lines, repo.Path)
	}
	if len(lines) == 0 {
		return mcp.NewToolResultText(fmt.Sprintf("no repositories under %s", prefix)), nil
	}
	return mcp.NewToolResultText(strings.Join(lines, "\n")), nil
}

func (s *Server) repositoryInfo(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	repo, err := s.svc.Repository(path)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("not found: %s", path)), nil
	}
	out, _ := json.MarshalIndent(repo, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) cacheInfo(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	info, err := s.svc.Store().CacheInfo()
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out, _ := json.MarshalIndent(info, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}
