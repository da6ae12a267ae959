// workflowctl authors, validates, and exercises workflow definitions from
// the command line: it round-trips definitions through the editor flow
// shape, lints flow graphs, and simulates instances in-process.
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/alecthomas/kong"
	"github.com/goliatone/go-logger/glog"
	"gopkg.in/yaml.v3"

	_ "modernc.org/sqlite"

	workflow "github.com/objectql/objectos-workflow"
	"github.com/objectql/objectos-workflow/engine"
	"github.com/objectql/objectos-workflow/flow"
)

// version is set at build time via -ldflags.
var version = "dev"

type Globals struct {
	LogLevel string           `help:"Log level." default:"info" enum:"trace,debug,info,warn,error"`
	JSONLogs bool             `help:"Emit JSON logs." name:"json-logs"`
	DB       string           `help:"SQLite database path; simulate persists instances there." type:"path"`
	Version  kong.VersionFlag `help:"Print version and exit."`
}

type CLI struct {
	Globals

	Validate ValidateCmd `cmd:"" help:"Validate workflow definitions in a YAML or JSON file."`
	Export   ExportCmd   `cmd:"" help:"Export a workflow definition as an editor flow graph."`
	Import   ImportCmd   `cmd:"" help:"Import an editor flow graph back into a workflow definition."`
	LintFlow LintFlowCmd `cmd:"" help:"Report structural problems in a flow graph."`
	Simulate SimulateCmd `cmd:"" help:"Run a workflow definition in-process and fire transitions."`
}

type runContext struct {
	logger  engine.Logger
	globals *Globals
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("workflowctl"),
		kong.Description("Author, validate, and exercise workflow definitions."),
		kong.UsageOnError(),
		kong.Vars{"version": version},
	)
	err := ctx.Run(&runContext{
		logger:  buildLogger(cli.Globals),
		globals: &cli.Globals,
	})
	ctx.FatalIfErrorf(err)
}

func buildLogger(g Globals) engine.Logger {
	if g.JSONLogs {
		return engine.NewGlogLogger(glog.NewLogger(
			glog.WithLevel(g.LogLevel),
			glog.WithLoggerTypeJSON(),
		))
	}
	return engine.NewGlogLogger(glog.NewLogger(glog.WithLevel(g.LogLevel)))
}

type ValidateCmd struct {
	Path string `arg:"" help:"Definition file (YAML or JSON)." type:"existingfile"`
}

func (c *ValidateCmd) Run(rc *runContext) error {
	defs, err := loadDefinitions(c.Path)
	if err != nil {
		return err
	}
	for _, def := range defs {
		def.Normalize()
		if err := def.Validate(); err != nil {
			return err
		}
		fmt.Printf("OK %s v%d (%d states, %d final)\n",
			def.ID, def.Version, len(def.States), len(def.FinalStates()))
	}
	return nil
}

type ExportCmd struct {
	Path     string `arg:"" help:"Definition file (YAML or JSON)." type:"existingfile"`
	Workflow string `help:"Workflow id to export when the file holds several." short:"w"`
	Out      string `help:"Write the flow JSON here instead of stdout." short:"o" type:"path"`
}

func (c *ExportCmd) Run(rc *runContext) error {
	def, err := pickDefinition(c.Path, c.Workflow)
	if err != nil {
		return err
	}
	if err := def.Validate(); err != nil {
		return err
	}
	data, err := json.MarshalIndent(flow.FromDefinition(def), "", "  ")
	if err != nil {
		return err
	}
	return writeOutput(c.Out, append(data, '\n'))
}

type ImportCmd struct {
	Path   string `arg:"" help:"Flow graph file (JSON)." type:"existingfile"`
	ID     string `help:"Workflow id for the imported definition; defaults to the flow name."`
	Type   string `help:"Workflow type for the imported definition."`
	Format string `help:"Output format." default:"yaml" enum:"yaml,json"`
	Out    string `help:"Write the definition here instead of stdout." short:"o" type:"path"`
}

func (c *ImportCmd) Run(rc *runContext) error {
	f, err := loadFlow(c.Path)
	if err != nil {
		return err
	}
	def, err := flow.ToDefinition(f, flow.ConvertOptions{ID: c.ID, Type: c.Type})
	if err != nil {
		return err
	}

	var data []byte
	if c.Format == "json" {
		if data, err = json.MarshalIndent(def, "", "  "); err != nil {
			return err
		}
	} else {
		if data, err = yaml.Marshal(def); err != nil {
			return err
		}
	}
	return writeOutput(c.Out, append(data, '\n'))
}

type LintFlowCmd struct {
	Path string `arg:"" help:"Flow graph file (JSON)." type:"existingfile"`
}

func (c *LintFlowCmd) Run(rc *runContext) error {
	f, err := loadFlow(c.Path)
	if err != nil {
		return err
	}
	problems := flow.Validate(f)
	if len(problems) == 0 {
		fmt.Println("flow is well-formed")
		return nil
	}
	for _, problem := range problems {
		fmt.Printf("- %s\n", problem)
	}
	return fmt.Errorf("%d problem(s) found", len(problems))
}

type SimulateCmd struct {
	Path      string   `arg:"" help:"Definition file (YAML or JSON)." type:"existingfile"`
	Workflow  string   `help:"Workflow id to simulate when the file holds several." short:"w"`
	Seed      string   `help:"Seed data as inline JSON." default:"{}"`
	Fire      []string `help:"Transitions to fire in order." short:"f"`
	StartedBy string   `help:"Actor recorded on the instance." default:"workflowctl"`
}

func (c *SimulateCmd) Run(rc *runContext) error {
	def, err := pickDefinition(c.Path, c.Workflow)
	if err != nil {
		return err
	}

	var seed map[string]any
	if err := json.Unmarshal([]byte(c.Seed), &seed); err != nil {
		return fmt.Errorf("parse seed data: %w", err)
	}

	var store engine.Store = engine.NewMemoryStore()
	if rc.globals.DB != "" {
		db, err := sql.Open("sqlite", rc.globals.DB)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer db.Close()
		store = engine.NewSQLiteStore(db, "workflow_instances")
	}

	registry := workflow.NewRegistry()
	if err := registry.Register(def); err != nil {
		return err
	}
	eng, err := engine.New(registry, store, nil, nil, engine.WithLogger(rc.logger))
	if err != nil {
		return err
	}

	ctx := context.Background()
	inst, err := eng.CreateInstance(ctx, engine.CreateRequest{
		WorkflowID: def.ID,
		Seed:       seed,
		StartedBy:  c.StartedBy,
	})
	if err != nil {
		return err
	}
	fmt.Printf("created %s at %s\n", inst.ID, inst.CurrentState)

	if inst, err = eng.StartInstance(ctx, inst.ID); err != nil {
		return err
	}
	fmt.Printf("started: status=%s state=%s\n", inst.Status, inst.CurrentState)

	for _, transition := range c.Fire {
		from := inst.CurrentState
		if inst, err = eng.FireTransition(ctx, inst.ID, transition); err != nil {
			return err
		}
		fmt.Printf("fired %s: %s -> %s\n", transition, from, inst.CurrentState)
	}

	fmt.Printf("final: status=%s state=%s history=%d\n",
		inst.Status, inst.CurrentState, len(inst.History))
	if len(inst.Data) > 0 {
		data, err := json.MarshalIndent(inst.Data, "", "  ")
		if err != nil {
			return err
		}
		fmt.Printf("data: %s\n", data)
	}
	return nil
}

// loadDefinitions reads a file holding either a definition set or a single
// definition.
func loadDefinitions(path string) ([]*workflow.Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if set, err := workflow.ParseDefinitionSet(data); err == nil && len(set.Workflows) > 0 {
		return set.Workflows, nil
	}
	def, err := workflow.ParseDefinition(data)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(def.ID) == "" {
		return nil, fmt.Errorf("%s holds no workflow definitions", path)
	}
	return []*workflow.Definition{def}, nil
}

func pickDefinition(path, id string) (*workflow.Definition, error) {
	defs, err := loadDefinitions(path)
	if err != nil {
		return nil, err
	}
	if id == "" {
		if len(defs) > 1 {
			return nil, fmt.Errorf("%s holds %d workflows, select one with --workflow", path, len(defs))
		}
		def := defs[0]
		def.Normalize()
		return def, nil
	}
	for _, def := range defs {
		if def.ID == id {
			def.Normalize()
			return def, nil
		}
	}
	return nil, fmt.Errorf("workflow %s not found in %s", id, path)
}

func loadFlow(path string) (*flow.Flow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f flow.Flow
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse flow graph: %w", err)
	}
	return &f, nil
}

func writeOutput(path string, data []byte) error {
	if path == "" {
		_, err := os.Stdout.Write(data)
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
