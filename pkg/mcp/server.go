package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rendis/skillrun/internal/catalog"
	"github.com/rendis/skillrun/internal/store"
	"github.com/rendis/skillrun/pkg/schema"
)

// SkillEngine is the surface the MCP server drives. Satisfied by
// engine.Engine.
type SkillEngine interface {
	Execute(ctx context.Context, skillName string, inputs, callerContext map[string]any) (*schema.SkillExecutionRecord, error)
	Status(ctx context.Context, executionID string) (*schema.SkillExecutionRecord, error)
	Cancel(executionID string) error
	Confirm(executionID, stepName, option string) error
	PendingConfirmations(executionID string) []string
}

// SkillrunServerDeps holds the dependencies for creating a SkillrunServer.
type SkillrunServerDeps struct {
	Engine  SkillEngine
	Store   store.Store
	Catalog *catalog.Catalog
	Logger  *slog.Logger
}

// SkillrunServer wraps an MCP server with skillrun-specific tool handlers.
type SkillrunServer struct {
	engine    SkillEngine
	store     store.Store
	catalog   *catalog.Catalog
	logger    *slog.Logger
	mcpServer *server.MCPServer
}

// NewSkillrunServer creates a new SkillrunServer with all 5 tools registered.
func NewSkillrunServer(deps SkillrunServerDeps) *SkillrunServer {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	s := &SkillrunServer{
		engine:  deps.Engine,
		store:   deps.Store,
		catalog: deps.Catalog,
		logger:  logger,
	}

	mcpSrv := server.NewMCPServer(
		"skillrun",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("Skillrun executes declarative skills composed of tool and compute steps. Use skill.run to execute a registered skill, skill.status to inspect an execution, skill.confirm to answer a pending confirmation, skill.cancel to abort a running execution, and skill.list to browse skills, executions, and events."),
	)

	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or stdin closes.
func (s *SkillrunServer) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *SkillrunServer) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// tools returns the 5 registered MCP tools as ServerTool entries.
func (s *SkillrunServer) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: runTool(), Handler: s.handleRun},
		{Tool: statusTool(), Handler: s.handleStatus},
		{Tool: confirmTool(), Handler: s.handleConfirm},
		{Tool: cancelTool(), Handler: s.handleCancel},
		{Tool: listTool(), Handler: s.handleList},
	}
}

// --- Tool definitions ---

func runTool() mcp.Tool {
	return mcp.NewTool("skill.run",
		mcp.WithDescription("Execute a registered skill and wait for the result"),
		mcp.WithString("skill_name", mcp.Required(), mcp.Description("Name of the skill to execute")),
		mcp.WithObject("inputs", mcp.Description("Input values for the skill")),
		mcp.WithObject("context", mcp.Description("Caller context exposed to step templates under the context namespace")),
	)
}

func statusTool() mcp.Tool {
	return mcp.NewTool("skill.status",
		mcp.WithDescription("Get the current state of a skill execution, including pending confirmations"),
		mcp.WithString("execution_id", mcp.Required(), mcp.Description("ID of the execution to query")),
	)
}

func confirmTool() mcp.Tool {
	return mcp.NewTool("skill.confirm",
		mcp.WithDescription("Answer a pending confirmation gate on a running execution"),
		mcp.WithString("execution_id", mcp.Required(), mcp.Description("ID of the execution holding the gate")),
		mcp.WithString("step", mcp.Required(), mcp.Description("Name of the step awaiting confirmation")),
		mcp.WithString("option", mcp.Required(), mcp.Description("Selected option (must be one of the declared options)")),
	)
}

func cancelTool() mcp.Tool {
	return mcp.NewTool("skill.cancel",
		mcp.WithDescription("Cancel a running skill execution"),
		mcp.WithString("execution_id", mcp.Required(), mcp.Description("ID of the execution to cancel")),
	)
}

func listTool() mcp.Tool {
	return mcp.NewTool("skill.list",
		mcp.WithDescription("List registered skills, execution records, or execution events"),
		mcp.WithString("resource", mcp.Required(),
			mcp.Enum("skills", "executions", "events"),
			mcp.Description("Type of resource to list"),
		),
		mcp.WithObject("filter", mcp.Description("Filter criteria (skill_name, status, since, limit, execution_id, since_seq)")),
	)
}
