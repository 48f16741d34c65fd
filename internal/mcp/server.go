// internal/mcp/server.go
package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/colebrumley/amitrigger/internal/ami"
	"github.com/colebrumley/amitrigger/internal/catalog"
	"github.com/colebrumley/amitrigger/internal/config"
	"github.com/colebrumley/amitrigger/internal/state"
)

// Server exposes trigger state and filter previews as MCP tools
type Server struct {
	cfg         *config.Global
	triggersDir string
	db          *state.DB
	pool        *catalog.Pool
	server      *mcp.Server
}

// TestFilterInput is the input schema for the test_filter tool
type TestFilterInput struct {
	Trigger      string `json:"trigger,omitempty" jsonschema:"Use the credentials and region of this trigger definition"`
	Region       string `json:"region,omitempty" jsonschema:"AWS region, overrides the trigger's region"`
	Profile      string `json:"profile,omitempty" jsonschema:"AWS shared-config profile, overrides the trigger's credentials"`
	Name         string `json:"name,omitempty" jsonschema:"Image name pattern, * and ? wildcards allowed"`
	Description  string `json:"description,omitempty" jsonschema:"Image description pattern"`
	Architecture string `json:"architecture,omitempty" jsonschema:"i386, x86_64, arm64 or any"`
	OwnerAlias   string `json:"owner_alias,omitempty" jsonschema:"amazon, aws-marketplace, self or any"`
	OwnerID      string `json:"owner_id,omitempty" jsonschema:"Owning AWS account ID"`
	ProductCode  string `json:"product_code,omitempty" jsonschema:"Marketplace product code"`
	Tags         string `json:"tags,omitempty" jsonschema:"key=value;key=value"`
	Shared       string `json:"shared,omitempty" jsonschema:"true, false or any"`
}

// TestFilterOutput is the output schema for the test_filter tool
type TestFilterOutput struct {
	Total   int          `json:"total"`
	Images  []ImageBrief `json:"images"`
	Skipped []string     `json:"skipped_tags,omitempty"`
	Summary string       `json:"summary"`
}

// ImageBrief is one image in test_filter results
type ImageBrief struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	CreationDate string `json:"creation_date"`
	Description  string `json:"description,omitempty"`
}

// HistoryInput is the input schema for the trigger_history tool
type HistoryInput struct {
	Trigger string `json:"trigger,omitempty" jsonschema:"Only this trigger; empty for all"`
	Outcome string `json:"outcome,omitempty" jsonschema:"matched, no_match, catalog_error, persist_error or skipped"`
	Limit   int    `json:"limit,omitempty" jsonschema:"Maximum records, default 20"`
	Actions bool   `json:"actions,omitempty" jsonschema:"Also return action runs"`
}

// HistoryOutput is the output schema for the trigger_history tool
type HistoryOutput struct {
	Evaluations []Evaluation `json:"evaluations"`
	Actions     []ActionRun  `json:"actions,omitempty"`
}

type Evaluation struct {
	Trigger   string `json:"trigger"`
	PassID    string `json:"pass_id"`
	Source    string `json:"source"`
	Outcome   string `json:"outcome"`
	StartedAt string `json:"started_at"`
	Matches   int    `json:"matches"`
	ImageIDs  string `json:"image_ids,omitempty"`
	Error     string `json:"error,omitempty"`
}

type ActionRun struct {
	Trigger   string `json:"trigger"`
	PassID    string `json:"pass_id"`
	State     string `json:"state"`
	StartedAt string `json:"started_at"`
	Attempt   int    `json:"attempt"`
	Summary   string `json:"summary"`
	Error     string `json:"error,omitempty"`
}

// StateInput is the input schema for the trigger_state tool
type StateInput struct {
	Trigger string `json:"trigger,omitempty" jsonschema:"Only this trigger; empty for all"`
}

// StateOutput is the output schema for the trigger_state tool
type StateOutput struct {
	Triggers []TriggerState `json:"triggers"`
}

type TriggerState struct {
	Name       string `json:"name"`
	Defined    bool   `json:"defined"`
	Enabled    bool   `json:"enabled"`
	Schedule   string `json:"schedule,omitempty"`
	Filters    int    `json:"filters"`
	LastRun    string `json:"last_run,omitempty"`
	LastAction string `json:"last_action,omitempty"`
}

const defaultHistoryLimit = 20

// NewServer creates an MCP server reading the daemon's state database and
// querying the catalog with EC2 clients.
func NewServer(cfg *config.Global, triggersDir, statePath string, logger *slog.Logger) (*Server, error) {
	return newServer(cfg, triggersDir, statePath, catalog.NewPool(logger))
}

func newServer(cfg *config.Global, triggersDir, statePath string, pool *catalog.Pool) (*Server, error) {
	db, err := state.Open(statePath)
	if err != nil {
		return nil, fmt.Errorf("opening state database: %w", err)
	}

	s := &Server{cfg: cfg, triggersDir: triggersDir, db: db, pool: pool}

	server := mcp.NewServer(&mcp.Implementation{
		Name:    "amitrigger",
		Version: "1.0.0",
	}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "test_filter",
		Description: "Run an AMI filter once against EC2 and list the newest matching images. Use it to check a filter before adding it to a trigger definition. Nothing is recorded and no action runs.",
	}, s.handleTestFilter)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "trigger_history",
		Description: "List recent evaluation passes, newest first, with their outcome and matched image IDs. Set actions to also list action runs.",
	}, s.handleHistory)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "trigger_state",
		Description: "Show each trigger's last-run marker, schedule and the state of its most recent action. Images created before the marker are not considered new.",
	}, s.handleState)

	s.server = server
	return s, nil
}

func (s *Server) handleTestFilter(ctx context.Context, req *mcp.CallToolRequest, input TestFilterInput) (*mcp.CallToolResult, TestFilterOutput, error) {
	f := ami.Filter{
		Architecture: ami.ParseChoice(input.Architecture),
		Description:  input.Description,
		Name:         input.Name,
		OwnerAlias:   ami.ParseChoice(input.OwnerAlias),
		OwnerID:      input.OwnerID,
		ProductCode:  input.ProductCode,
		Tags:         input.Tags,
		Shared:       ami.ParseChoice(input.Shared),
	}
	if err := config.ValidateFilter(f); err != nil {
		return nil, TestFilterOutput{}, err
	}

	def := &config.TriggerDef{}
	if input.Trigger != "" {
		found, err := s.findTrigger(input.Trigger)
		if err != nil {
			return nil, TestFilterOutput{}, err
		}
		def = found
	}
	cc := catalog.ConfigFor(s.cfg, def)
	if input.Region != "" {
		cc.Region = input.Region
	}
	if input.Profile != "" {
		cc.Profile = input.Profile
	}

	cat, err := s.pool.Get(ctx, cc)
	if err != nil {
		return nil, TestFilterOutput{}, fmt.Errorf("creating catalog client: %w", err)
	}
	preview, err := ami.PreviewFilter(ctx, cat, f)
	if err != nil {
		return nil, TestFilterOutput{}, err
	}

	out := TestFilterOutput{
		Total:   preview.Total,
		Images:  make([]ImageBrief, 0, len(preview.Images)),
		Skipped: preview.Skipped,
		Summary: preview.Summary(),
	}
	for _, img := range preview.Images {
		out.Images = append(out.Images, ImageBrief{
			ID:           img.ID,
			Name:         img.Name,
			CreationDate: img.CreationDate,
			Description:  img.Description,
		})
	}
	return nil, out, nil
}

func (s *Server) handleHistory(ctx context.Context, req *mcp.CallToolRequest, input HistoryInput) (*mcp.CallToolResult, HistoryOutput, error) {
	limit := input.Limit
	if limit <= 0 {
		limit = defaultHistoryLimit
	}

	evals, err := s.db.GetEvaluations(ctx, input.Trigger, input.Outcome, limit)
	if err != nil {
		return nil, HistoryOutput{}, fmt.Errorf("failed to read evaluations: %w", err)
	}
	out := HistoryOutput{Evaluations: make([]Evaluation, len(evals))}
	for i, e := range evals {
		out.Evaluations[i] = Evaluation{
			Trigger:   e.Trigger,
			PassID:    e.PassID,
			Source:    e.Source,
			Outcome:   e.Outcome,
			StartedAt: e.StartedAt.UTC().Format(time.RFC3339),
			Matches:   e.Matches,
			ImageIDs:  e.ImageIDs,
			Error:     e.Error,
		}
	}

	if input.Actions {
		actions, err := s.db.GetActions(ctx, input.Trigger, "", limit)
		if err != nil {
			return nil, HistoryOutput{}, fmt.Errorf("failed to read actions: %w", err)
		}
		out.Actions = make([]ActionRun, len(actions))
		for i, a := range actions {
			out.Actions[i] = ActionRun{
				Trigger:   a.Trigger,
				PassID:    a.PassID,
				State:     a.State,
				StartedAt: a.StartedAt.UTC().Format(time.RFC3339),
				Attempt:   a.RetryAttempt,
				Summary:   a.Summary,
				Error:     a.Error,
			}
		}
	}
	return nil, out, nil
}

func (s *Server) handleState(ctx context.Context, req *mcp.CallToolRequest, input StateInput) (*mcp.CallToolResult, StateOutput, error) {
	states, err := s.db.ListTriggerStates(ctx)
	if err != nil {
		return nil, StateOutput{}, fmt.Errorf("failed to read trigger state: %w", err)
	}

	// Definitions that fail to load are still reported from persisted state.
	defs, _, err := config.LoadTriggersDir(s.triggersDir)
	if err != nil {
		defs = nil
	}

	byName := make(map[string]*TriggerState)
	var order []string
	entry := func(name string) *TriggerState {
		if ts, ok := byName[name]; ok {
			return ts
		}
		ts := &TriggerState{Name: name}
		byName[name] = ts
		order = append(order, name)
		return ts
	}
	for _, def := range defs {
		ts := entry(def.Name)
		ts.Defined = true
		ts.Enabled = def.Enabled
		ts.Schedule = def.ScheduleSpec()
		ts.Filters = len(def.Filters)
	}
	for _, st := range states {
		entry(st.Trigger).LastRun = st.LastRun.UTC().Format(time.RFC3339)
	}

	out := StateOutput{Triggers: []TriggerState{}}
	for _, name := range order {
		if input.Trigger != "" && name != input.Trigger {
			continue
		}
		ts := byName[name]
		if last, err := s.db.GetLastActionState(ctx, name); err == nil {
			ts.LastAction = last
		}
		out.Triggers = append(out.Triggers, *ts)
	}
	if input.Trigger != "" && len(out.Triggers) == 0 {
		return nil, StateOutput{}, fmt.Errorf("trigger %q not found", input.Trigger)
	}
	return nil, out, nil
}

var errTriggerNotFound = errors.New("trigger definition not found")

func (s *Server) findTrigger(name string) (*config.TriggerDef, error) {
	defs, _, err := config.LoadTriggersDir(s.triggersDir)
	if err != nil {
		return nil, err
	}
	for _, def := range defs {
		if def.Name == name {
			return def, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", errTriggerNotFound, name)
}

// Run starts the MCP server on stdio
func (s *Server) Run(ctx context.Context) error {
	return s.server.Run(ctx, &mcp.StdioTransport{})
}

// Close closes the database connection
func (s *Server) Close() error {
	return s.db.Close()
}
