package mcp

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/rendis/skillrun/internal/catalog"
	"github.com/rendis/skillrun/internal/store"
	"github.com/rendis/skillrun/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Mock engine ---

type mockEngine struct {
	executeRecord *schema.SkillExecutionRecord
	executeErr    error
	statusRecord  *schema.SkillExecutionRecord
	statusErr     error
	cancelErr     error
	confirmErr    error
	pending       []string

	executedSkill  string
	executedInputs map[string]any
	confirmedStep  string
	confirmedOpt   string
	cancelledID    string
}

func (m *mockEngine) Execute(_ context.Context, skillName string, inputs, _ map[string]any) (*schema.SkillExecutionRecord, error) {
	m.executedSkill = skillName
	m.executedInputs = inputs
	return m.executeRecord, m.executeErr
}

func (m *mockEngine) Status(_ context.Context, _ string) (*schema.SkillExecutionRecord, error) {
	return m.statusRecord, m.statusErr
}

func (m *mockEngine) Cancel(executionID string) error {
	m.cancelledID = executionID
	return m.cancelErr
}

func (m *mockEngine) Confirm(_, stepName, option string) error {
	m.confirmedStep = stepName
	m.confirmedOpt = option
	return m.confirmErr
}

func (m *mockEngine) PendingConfirmations(_ string) []string {
	return m.pending
}

// --- Mock store ---

type mockStore struct {
	store.Store // embed for unimplemented methods

	executions []*schema.SkillExecutionRecord
	events     []*store.Event
}

func (m *mockStore) ListExecutions(_ context.Context, filter store.ExecutionFilter) ([]*schema.SkillExecutionRecord, error) {
	result := make([]*schema.SkillExecutionRecord, 0)
	for _, rec := range m.executions {
		if filter.SkillName != "" && rec.SkillName != filter.SkillName {
			continue
		}
		if filter.Status != "" && rec.FinalStatus != filter.Status {
			continue
		}
		result = append(result, rec)
	}
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

func (m *mockStore) GetEvents(_ context.Context, executionID string, since int64) ([]*store.Event, error) {
	result := make([]*store.Event, 0)
	for _, e := range m.events {
		if e.ExecutionID != executionID {
			continue
		}
		if e.Sequence <= since {
			continue
		}
		result = append(result, e)
	}
	return result, nil
}

// --- Helpers ---

func buildRequest(toolName string, args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      toolName,
			Arguments: args,
		},
	}
}

func testCatalog(t *testing.T, names ...string) *catalog.Catalog {
	t.Helper()
	cat := catalog.New()
	for _, name := range names {
		require.NoError(t, cat.Register(&schema.SkillDefinition{
			Name:  name,
			Steps: []schema.StepDefinition{{Name: "s1", Tool: "echo"}},
		}))
	}
	return cat
}

func extractText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content)
	return mcp.GetTextFromContent(result.Content[0])
}

func unmarshalResult(t *testing.T, result *mcp.CallToolResult, target any) {
	t.Helper()
	text := extractText(t, result)
	require.NoError(t, json.Unmarshal([]byte(text), target))
}

// --- Tests ---

func TestRunTool(t *testing.T) {
	eng := &mockEngine{
		executeRecord: &schema.SkillExecutionRecord{
			ExecutionID: "exec-123",
			SkillName:   "deploy",
			FinalStatus: schema.ExecutionStatusSucceeded,
		},
	}

	s := NewSkillrunServer(SkillrunServerDeps{Engine: eng})

	req := buildRequest("skill.run", map[string]any{
		"skill_name": "deploy",
		"inputs":     map[string]any{"env": "prod"},
	})

	result, err := s.handleRun(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.False(t, result.IsError)

	assert.Equal(t, "deploy", eng.executedSkill)
	assert.Equal(t, map[string]any{"env": "prod"}, eng.executedInputs)

	text := extractText(t, result)
	assert.Contains(t, text, "exec-123")
	assert.Contains(t, text, "succeeded")
}

func TestRunToolMissingSkillName(t *testing.T) {
	s := NewSkillrunServer(SkillrunServerDeps{})

	req := buildRequest("skill.run", map[string]any{})
	result, err := s.handleRun(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestRunToolUnknownSkill(t *testing.T) {
	eng := &mockEngine{
		executeErr: schema.NewError(schema.ErrCodeNotFound, "skill not found"),
	}
	s := NewSkillrunServer(SkillrunServerDeps{Engine: eng})

	req := buildRequest("skill.run", map[string]any{"skill_name": "missing"})
	result, err := s.handleRun(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestRunToolValidationFailureReturnsRecord(t *testing.T) {
	// Pre-run failures come back as a record plus an error; the record
	// carries the structured failure, so the tool returns it as data.
	eng := &mockEngine{
		executeRecord: &schema.SkillExecutionRecord{
			ExecutionID: "exec-1",
			SkillName:   "deploy",
			FinalStatus: schema.ExecutionStatusFailed,
			LastError:   "[VALIDATION_ERROR] missing required input",
		},
		executeErr: schema.NewError(schema.ErrCodeValidation, "missing required input"),
	}
	s := NewSkillrunServer(SkillrunServerDeps{Engine: eng})

	req := buildRequest("skill.run", map[string]any{"skill_name": "deploy"})
	result, err := s.handleRun(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, result.IsError)

	text := extractText(t, result)
	assert.Contains(t, text, "VALIDATION_ERROR")
	assert.Contains(t, text, "failed")
}

func TestStatusTool(t *testing.T) {
	eng := &mockEngine{
		statusRecord: &schema.SkillExecutionRecord{
			ExecutionID: "exec-123",
			SkillName:   "deploy",
			FinalStatus: schema.ExecutionStatusRunning,
		},
		pending: []string{"apply"},
	}

	s := NewSkillrunServer(SkillrunServerDeps{Engine: eng})

	req := buildRequest("skill.status", map[string]any{"execution_id": "exec-123"})
	result, err := s.handleStatus(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, result.IsError)

	text := extractText(t, result)
	assert.Contains(t, text, "exec-123")
	assert.Contains(t, text, "running")
	assert.Contains(t, text, "apply")
}

func TestStatusToolMissingID(t *testing.T) {
	s := NewSkillrunServer(SkillrunServerDeps{})

	req := buildRequest("skill.status", map[string]any{})
	result, err := s.handleStatus(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestStatusToolNotFound(t *testing.T) {
	eng := &mockEngine{
		statusErr: schema.NewError(schema.ErrCodeNotFound, "execution not found"),
	}
	s := NewSkillrunServer(SkillrunServerDeps{Engine: eng})

	req := buildRequest("skill.status", map[string]any{"execution_id": "missing"})
	result, err := s.handleStatus(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestConfirmTool(t *testing.T) {
	eng := &mockEngine{}
	s := NewSkillrunServer(SkillrunServerDeps{Engine: eng})

	req := buildRequest("skill.confirm", map[string]any{
		"execution_id": "exec-1",
		"step":         "apply",
		"option":       "proceed",
	})

	result, err := s.handleConfirm(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, result.IsError)

	assert.Equal(t, "apply", eng.confirmedStep)
	assert.Equal(t, "proceed", eng.confirmedOpt)

	text := extractText(t, result)
	assert.Contains(t, text, "exec-1")
	assert.Contains(t, text, "proceed")
}

func TestConfirmToolMissingParams(t *testing.T) {
	s := NewSkillrunServer(SkillrunServerDeps{})

	// Missing step.
	req := buildRequest("skill.confirm", map[string]any{"execution_id": "x", "option": "proceed"})
	result, err := s.handleConfirm(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, result.IsError)

	// Missing option.
	req = buildRequest("skill.confirm", map[string]any{"execution_id": "x", "step": "apply"})
	result, err = s.handleConfirm(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestConfirmToolInvalidOption(t *testing.T) {
	eng := &mockEngine{
		confirmErr: schema.NewError(schema.ErrCodeValidation, "option not declared"),
	}
	s := NewSkillrunServer(SkillrunServerDeps{Engine: eng})

	req := buildRequest("skill.confirm", map[string]any{
		"execution_id": "exec-1",
		"step":         "apply",
		"option":       "bogus",
	})
	result, err := s.handleConfirm(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestCancelTool(t *testing.T) {
	eng := &mockEngine{}
	s := NewSkillrunServer(SkillrunServerDeps{Engine: eng})

	req := buildRequest("skill.cancel", map[string]any{"execution_id": "exec-1"})
	result, err := s.handleCancel(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.Equal(t, "exec-1", eng.cancelledID)
}

func TestCancelToolNotRunning(t *testing.T) {
	eng := &mockEngine{
		cancelErr: schema.NewError(schema.ErrCodeNotFound, "execution not running"),
	}
	s := NewSkillrunServer(SkillrunServerDeps{Engine: eng})

	req := buildRequest("skill.cancel", map[string]any{"execution_id": "exec-1"})
	result, err := s.handleCancel(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestListSkills(t *testing.T) {
	cat := testCatalog(t, "deploy", "backup")
	s := NewSkillrunServer(SkillrunServerDeps{Catalog: cat})

	req := buildRequest("skill.list", map[string]any{"resource": "skills"})
	result, err := s.handleList(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, result.IsError)

	var payload struct {
		Skills []catalog.Summary `json:"skills"`
	}
	unmarshalResult(t, result, &payload)
	require.Len(t, payload.Skills, 2)
	assert.Equal(t, "backup", payload.Skills[0].Name)
	assert.Equal(t, "deploy", payload.Skills[1].Name)
}

func TestListExecutions(t *testing.T) {
	ms := &mockStore{
		executions: []*schema.SkillExecutionRecord{
			{ExecutionID: "e1", SkillName: "deploy", FinalStatus: schema.ExecutionStatusSucceeded},
			{ExecutionID: "e2", SkillName: "deploy", FinalStatus: schema.ExecutionStatusFailed},
			{ExecutionID: "e3", SkillName: "backup", FinalStatus: schema.ExecutionStatusSucceeded},
		},
	}
	s := NewSkillrunServer(SkillrunServerDeps{Store: ms})

	// All.
	req := buildRequest("skill.list", map[string]any{"resource": "executions"})
	result, err := s.handleList(context.Background(), req)
	require.NoError(t, err)

	var payload struct {
		Executions []schema.SkillExecutionRecord `json:"executions"`
	}
	unmarshalResult(t, result, &payload)
	assert.Len(t, payload.Executions, 3)

	// Filtered by skill and status.
	req = buildRequest("skill.list", map[string]any{
		"resource": "executions",
		"filter":   map[string]any{"skill_name": "deploy", "status": "succeeded"},
	})
	result, err = s.handleList(context.Background(), req)
	require.NoError(t, err)
	unmarshalResult(t, result, &payload)
	require.Len(t, payload.Executions, 1)
	assert.Equal(t, "e1", payload.Executions[0].ExecutionID)
}

func TestListEvents(t *testing.T) {
	now := time.Now().UTC()
	ms := &mockStore{
		events: []*store.Event{
			{ID: 1, ExecutionID: "e1", Type: "skill_started", Sequence: 1, Timestamp: now},
			{ID: 2, ExecutionID: "e1", Type: "skill_completed", Sequence: 2, Timestamp: now},
			{ID: 3, ExecutionID: "e2", Type: "skill_started", Sequence: 1, Timestamp: now},
		},
	}
	s := NewSkillrunServer(SkillrunServerDeps{Store: ms})

	req := buildRequest("skill.list", map[string]any{
		"resource": "events",
		"filter":   map[string]any{"execution_id": "e1"},
	})
	result, err := s.handleList(context.Background(), req)
	require.NoError(t, err)

	var payload struct {
		Events []store.Event `json:"events"`
	}
	unmarshalResult(t, result, &payload)
	assert.Len(t, payload.Events, 2)

	// since_seq skips already-seen events.
	req = buildRequest("skill.list", map[string]any{
		"resource": "events",
		"filter":   map[string]any{"execution_id": "e1", "since_seq": 1},
	})
	result, err = s.handleList(context.Background(), req)
	require.NoError(t, err)
	unmarshalResult(t, result, &payload)
	require.Len(t, payload.Events, 1)
	assert.Equal(t, "skill_completed", payload.Events[0].Type)
}

func TestListEventsRequiresExecutionID(t *testing.T) {
	s := NewSkillrunServer(SkillrunServerDeps{Store: &mockStore{}})

	req := buildRequest("skill.list", map[string]any{"resource": "events"})
	result, err := s.handleList(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestListUnknownResource(t *testing.T) {
	s := NewSkillrunServer(SkillrunServerDeps{})

	req := buildRequest("skill.list", map[string]any{"resource": "invalid"})
	result, err := s.handleList(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestExtractInt(t *testing.T) {
	assert.Equal(t, 50, extractInt(nil, "limit", 50))
	assert.Equal(t, 10, extractInt(map[string]any{"limit": float64(10)}, "limit", 50))
	assert.Equal(t, 10, extractInt(map[string]any{"limit": 10}, "limit", 50))
	assert.Equal(t, 10, extractInt(map[string]any{"limit": "10"}, "limit", 50))
	assert.Equal(t, 50, extractInt(map[string]any{"limit": "abc"}, "limit", 50))
	assert.Equal(t, 50, extractInt(map[string]any{}, "limit", 50))
}
