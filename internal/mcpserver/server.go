// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes the annotation store to LLM clients via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/marginalia/internal/annotations"
	"github.com/starford/marginalia/internal/editlock"
)

// Server wraps the MCP server with Marginalia tools.
type Server struct {
	mcp   *server.MCPServer
	store *annotations.Store
	reg   *editlock.Registry
}

// New creates a new MCP server with all Marginalia tools registered.
func New(store *annotations.Store, reg *editlock.Registry) *Server {
	s := &Server{store: store, reg: reg}

	s.mcp = server.NewMCPServer(
		"Marginalia",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("list_annotated_files",
		mcp.WithDescription("List every source file that currently has annotations."),
	), s.listAnnotatedFiles)

	s.mcp.AddTool(mcp.NewTool("read_annotations",
		mcp.WithDescription("Read all annotations attached to one source file, ordered by line."),
		mcp.WithString("project", mcp.Required(), mcp.Description("Project name")),
		mcp.WithString("path", mcp.Required(), mcp.Description("File path relative to the project root (e.g. src/main.c)")),
	), s.readAnnotations)

	s.mcp.AddTool(mcp.NewTool("add_annotation",
		mcp.WithDescription("Attach an annotation to one line of a source file. "+
			"Replaces any existing annotation on that line (last write wins)."),
		mcp.WithString("project", mcp.Required(), mcp.Description("Project name")),
		mcp.WithString("path", mcp.Required(), mcp.Description("File path relative to the project root")),
		mcp.WithNumber("line", mcp.Required(), mcp.Description("1-based line number")),
		mcp.WithString("author", mcp.Required(), mcp.Description("Author name (free text)")),
		mcp.WithString("text", mcp.Required(), mcp.Description("Annotation text in Markdown")),
	), s.addAnnotation)

	s.mcp.AddTool(mcp.NewTool("delete_annotation",
		mcp.WithDescription("Remove the annotation on one line of a source file. Succeeds even if absent."),
		mcp.WithString("project", mcp.Required(), mcp.Description("Project name")),
		mcp.WithString("path", mcp.Required(), mcp.Description("File path relative to the project root")),
		mcp.WithNumber("line", mcp.Required(), mcp.Description("1-based line number")),
	), s.deleteAnnotation)

	s.mcp.AddTool(mcp.NewTool("get_editors",
		mcp.WithDescription("List who is currently composing an annotation, and where. "+
			"Advisory hints only; entries expire automatically."),
	), s.getEditors)

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

func (s *Server) listAnnotatedFiles(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	files, err := s.store.List()
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out, _ := json.MarshalIndent(files, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) readAnnotations(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	project, err := req.RequireString("project")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	anns, err := s.store.Read(project, path)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out, _ := json.MarshalIndent(anns, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) addAnnotation(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	project, err := req.RequireString("project")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	line, err := req.RequireInt("line")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	author, err := req.RequireString("author")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	text, err := req.RequireString("text")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	saveErr := s.store.Save(project, path, annotations.SaveInput{
		Line:   line,
		Author: author,
		Text:   text,
	})
	if saveErr != nil {
		return mcp.NewToolResultError(saveErr.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("annotated %s:%s line %d", project, path, line)), nil
}

func (s *Server) deleteAnnotation(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	project, err := req.RequireString("project")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	line, err := req.RequireInt("line")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if delErr := s.store.Delete(project, path, line); delErr != nil {
		return mcp.NewToolResultError(delErr.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("deleted annotation at %s:%s line %d", project, path, line)), nil
}

func (s *Server) getEditors(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	locks, err := s.reg.Editing()
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(locks) == 0 {
		return mcp.NewToolResultText("nobody is editing"), nil
	}
	out, _ := json.MarshalIndent(locks, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}
