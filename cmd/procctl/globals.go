package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	process "github.com/goliatone/go-process"
	"github.com/goliatone/go-process/config"
	"github.com/goliatone/go-process/engine"
	"github.com/goliatone/go-process/job"
	"github.com/goliatone/go-process/model"
	"github.com/goliatone/go-process/modification"
	"gopkg.in/yaml.v3"
)

// Globals are the flags shared by every command.
type Globals struct {
	Config string `help:"YAML configuration file." type:"path" env:"PROCESS_CONFIG"`
	Deploy string `help:"Glob of definition files to deploy, replaces engine.definitions."`
	Store  string `help:"Bolt database path. Switches the store driver to bolt."`
	Tenant string `help:"Tenant of new instances, overrides engine.tenant."`

	out     io.Writer
	logOut  io.Writer
	execOps []job.Option
}

type session struct {
	cfg    *config.Config
	engine *engine.Engine
	logger process.Logger
}

func (g *Globals) stdout() io.Writer {
	if g.out == nil {
		return os.Stdout
	}
	return g.out
}

func (g *Globals) stderr() io.Writer {
	if g.logOut == nil {
		return os.Stderr
	}
	return g.logOut
}

// open loads the configuration, deploys the definitions and builds an engine
// over the configured store. Close the engine when done.
func (g *Globals) open() (*session, error) {
	cfg, err := config.Load(g.Config)
	if err != nil {
		return nil, err
	}
	if g.Deploy != "" {
		cfg.Engine.Definitions = g.Deploy
	}
	if g.Store != "" {
		cfg.Store.Driver = config.DriverBolt
		cfg.Store.Path = g.Store
	}
	if g.Tenant != "" {
		cfg.Engine.Tenant = g.Tenant
	}

	logger := cfg.NewLogger(g.stderr())
	repo := model.NewRepository()
	if cfg.Engine.Definitions != "" {
		defs, err := repo.DeployGlob(cfg.Engine.Definitions)
		if err != nil {
			return nil, err
		}
		logger.Debug("deployed %d definitions from %s", len(defs), cfg.Engine.Definitions)
	}

	store, err := cfg.OpenStore()
	if err != nil {
		return nil, err
	}
	eng := engine.New(
		engine.WithStore(store),
		engine.WithDefinitions(repo),
		engine.WithLogger(logger),
		engine.WithJobRetries(cfg.Batch.JobRetries),
		engine.WithBatchOptions(cfg.BatchOptions()...),
		engine.WithExecutorOptions(append(cfg.ExecutorOptions(), g.execOps...)...),
	)
	return &session{cfg: cfg, engine: eng, logger: logger}, nil
}

// with opens a session, runs fn and closes the engine.
func (g *Globals) with(fn func(ctx context.Context, s *session) error) (err error) {
	s, err := g.open()
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.engine.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(context.Background(), s)
}

func (g *Globals) print(v any) error {
	enc := json.NewEncoder(g.stdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// parseVariables decodes each value as JSON and falls back to the raw string,
// so amount=12 is a number and name=bob a string.
func parseVariables(raw map[string]string) map[string]any {
	if len(raw) == 0 {
		return nil
	}
	out := make(map[string]any, len(raw))
	for k, v := range raw {
		var decoded any
		if err := json.Unmarshal([]byte(v), &decoded); err == nil {
			out[k] = decoded
			continue
		}
		out[k] = v
	}
	return out
}

var instructionKinds = map[string]func(string) modification.Instruction{
	"start-before":      modification.StartBeforeActivity,
	"start-after":       modification.StartAfterActivity,
	"start-transition":  modification.StartTransition,
	"cancel":            modification.CancelActivityInstance,
	"cancel-transition": modification.CancelTransitionInstance,
	"cancel-all":        modification.CancelAllForActivity,
}

// parseInstructions turns "start-before:task2" style arguments into
// instructions, keeping their order.
func parseInstructions(args []string) ([]modification.Instruction, error) {
	out := make([]modification.Instruction, 0, len(args))
	for _, arg := range args {
		kind, target, ok := strings.Cut(arg, ":")
		build, known := instructionKinds[kind]
		if !ok || !known || target == "" {
			return nil, process.Validationf("invalid instruction %q, expected <kind>:<target> with kind one of %s", arg, kindNames())
		}
		out = append(out, build(target))
	}
	return out, nil
}

func kindNames() string {
	return "start-before, start-after, start-transition, cancel, cancel-transition, cancel-all"
}

// readInstructions loads an instruction list from a YAML or JSON file. The
// document uses the JSON field names of modification.Instruction.
func readInstructions(path string) ([]modification.Instruction, error) {
	meta := map[string]any{"path": path}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, process.NewError(process.ErrValidation, fmt.Sprintf("read instructions %s: %v", path, err), err, meta)
	}
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, process.NewError(process.ErrValidation, fmt.Sprintf("parse instructions %s: %v", path, err), err, meta)
	}
	if m, ok := doc.(map[string]any); ok {
		doc = m["instructions"]
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, process.NewError(process.ErrValidation, fmt.Sprintf("parse instructions %s: %v", path, err), err, meta)
	}
	var out []modification.Instruction
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, process.NewError(process.ErrValidation, fmt.Sprintf("parse instructions %s: %v", path, err), err, meta)
	}
	return out, nil
}

func collectInstructions(file string, args []string) ([]modification.Instruction, error) {
	var out []modification.Instruction
	if file != "" {
		fromFile, err := readInstructions(file)
		if err != nil {
			return nil, err
		}
		out = append(out, fromFile...)
	}
	parsed, err := parseInstructions(args)
	if err != nil {
		return nil, err
	}
	return append(out, parsed...), nil
}
