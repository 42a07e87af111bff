package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/rendis/skillrun/internal/store"
	"github.com/rendis/skillrun/pkg/schema"
)

// handleRun executes a skill synchronously and returns the final record.
func (s *SkillrunServer) handleRun(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	skillName, err := req.RequireString("skill_name")
	if err != nil {
		return mcp.NewToolResultError("skill_name is required"), nil
	}
	inputs := mcp.ParseStringMap(req, "inputs", nil)
	callerContext := mcp.ParseStringMap(req, "context", nil)

	record, runErr := s.engine.Execute(ctx, skillName, inputs, callerContext)
	if runErr != nil && record == nil {
		return mcp.NewToolResultError(fmt.Sprintf("skill execution failed: %v", runErr)), nil
	}

	// A record with a run error means the run started and failed; the
	// record carries the structured failure, so return it as data.
	return marshalResult(record)
}

// handleStatus returns the current state of an execution.
func (s *SkillrunServer) handleStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	executionID, err := req.RequireString("execution_id")
	if err != nil {
		return mcp.NewToolResultError("execution_id is required"), nil
	}

	record, statusErr := s.engine.Status(ctx, executionID)
	if statusErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("status query failed: %v", statusErr)), nil
	}

	return marshalResult(map[string]any{
		"execution":             record,
		"pending_confirmations": s.engine.PendingConfirmations(executionID),
	})
}

// handleConfirm resolves a pending confirmation gate.
func (s *SkillrunServer) handleConfirm(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	executionID, err := req.RequireString("execution_id")
	if err != nil {
		return mcp.NewToolResultError("execution_id is required"), nil
	}
	step, err := req.RequireString("step")
	if err != nil {
		return mcp.NewToolResultError("step is required"), nil
	}
	option, err := req.RequireString("option")
	if err != nil {
		return mcp.NewToolResultError("option is required"), nil
	}

	if confirmErr := s.engine.Confirm(executionID, step, option); confirmErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("confirm failed: %v", confirmErr)), nil
	}

	return marshalResult(map[string]any{
		"ok":           true,
		"execution_id": executionID,
		"step":         step,
		"option":       option,
	})
}

// handleCancel aborts a running execution.
func (s *SkillrunServer) handleCancel(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	executionID, err := req.RequireString("execution_id")
	if err != nil {
		return mcp.NewToolResultError("execution_id is required"), nil
	}

	if cancelErr := s.engine.Cancel(executionID); cancelErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("cancel failed: %v", cancelErr)), nil
	}

	return marshalResult(map[string]any{
		"ok":           true,
		"execution_id": executionID,
	})
}

// handleList lists skills, executions, or events based on filters.
func (s *SkillrunServer) handleList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	resource, err := req.RequireString("resource")
	if err != nil {
		return mcp.NewToolResultError("resource is required"), nil
	}

	filter := mcp.ParseStringMap(req, "filter", nil)

	switch resource {
	case "skills":
		return marshalResult(map[string]any{"skills": s.catalog.List()})
	case "executions":
		return s.listExecutions(ctx, filter)
	case "events":
		return s.listEvents(ctx, filter)
	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown resource type: %s", resource)), nil
	}
}

// --- List helpers ---

func (s *SkillrunServer) listExecutions(ctx context.Context, filter map[string]any) (*mcp.CallToolResult, error) {
	ef := store.ExecutionFilter{
		Limit: extractInt(filter, "limit", 50),
	}
	if skillName, ok := filter["skill_name"].(string); ok {
		ef.SkillName = skillName
	}
	if status, ok := filter["status"].(string); ok && status != "" {
		ef.Status = schema.ExecutionStatus(status)
	}
	if since, ok := filter["since"].(string); ok && since != "" {
		if t, err := time.Parse(time.RFC3339, since); err == nil {
			ef.Since = &t
		}
	}

	executions, err := s.store.ListExecutions(ctx, ef)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("list failed: %v", err)), nil
	}
	return marshalResult(map[string]any{"executions": executions})
}

func (s *SkillrunServer) listEvents(ctx context.Context, filter map[string]any) (*mcp.CallToolResult, error) {
	executionID, ok := filter["execution_id"].(string)
	if !ok || executionID == "" {
		return mcp.NewToolResultError("event listing requires 'execution_id' in filter"), nil
	}
	sinceSeq := int64(extractInt(filter, "since_seq", 0))

	events, err := s.store.GetEvents(ctx, executionID, sinceSeq)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("list failed: %v", err)), nil
	}
	return marshalResult(map[string]any{"events": events})
}

// --- Internal helpers ---

// extractInt safely extracts an integer from a filter map.
func extractInt(filter map[string]any, key string, defaultVal int) int {
	if filter == nil {
		return defaultVal
	}
	v, ok := filter[key]
	if !ok {
		return defaultVal
	}
	switch val := v.(type) {
	case float64:
		return int(val)
	case int:
		return val
	case string:
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultVal
}

// marshalResult converts a value to a JSON text tool result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}
