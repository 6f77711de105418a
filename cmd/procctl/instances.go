package main

import (
	"context"

	"github.com/goliatone/go-process/engine"
	"github.com/goliatone/go-process/modification"
	"github.com/goliatone/go-process/operation"
	"github.com/goliatone/go-process/persistence"
	"github.com/goliatone/go-process/restart"
)

// FlagsOpts maps to operation.Flags.
type FlagsOpts struct {
	SkipCustomListeners bool `help:"Do not invoke custom execution listeners."`
	SkipIoMappings      bool `help:"Do not apply input and output mappings."`
}

func (f FlagsOpts) flags() operation.Flags {
	return operation.Flags{SkipCustomListeners: f.SkipCustomListeners, SkipIoMappings: f.SkipIoMappings}
}

type DefinitionsCmd struct{}

func (c *DefinitionsCmd) Run(g *Globals) error {
	return g.with(func(_ context.Context, s *session) error {
		return g.print(s.engine.Definitions().List())
	})
}

type StartCmd struct {
	Key          string            `arg:"" help:"Process definition key."`
	DefinitionID string            `help:"Start a specific deployed version instead of the latest."`
	BusinessKey  string            `help:"Business key of the new instance."`
	Var          map[string]string `short:"v" help:"Process variable, key=value. JSON values are decoded."`
	At           []string          `help:"Start at the given instructions instead of the initial activity, e.g. start-before:task2."`
	FlagsOpts
}

func (c *StartCmd) Run(g *Globals) error {
	return g.with(func(ctx context.Context, s *session) error {
		opts := engine.StartOptions{
			DefinitionID: c.DefinitionID,
			BusinessKey:  c.BusinessKey,
			TenantID:     s.cfg.Engine.Tenant,
			Variables:    parseVariables(c.Var),
			Flags:        c.flags(),
		}
		var (
			pi  *engine.ProcessInstance
			err error
		)
		if len(c.At) > 0 {
			instructions, perr := parseInstructions(c.At)
			if perr != nil {
				return perr
			}
			pi, err = s.engine.StartProcessInstanceAt(ctx, c.Key, instructions, opts)
		} else {
			pi, err = s.engine.StartProcessInstance(ctx, c.Key, opts)
		}
		if err != nil {
			return err
		}
		return g.print(pi)
	})
}

type SignalCmd struct {
	Instance         string            `arg:"" help:"Process instance id."`
	ActivityInstance string            `arg:"" help:"Waiting activity instance id."`
	Var              map[string]string `short:"v" help:"Variable set before completing, key=value."`
}

func (c *SignalCmd) Run(g *Globals) error {
	return g.with(func(ctx context.Context, s *session) error {
		pi, err := s.engine.Signal(ctx, c.Instance, c.ActivityInstance, parseVariables(c.Var))
		if err != nil {
			return err
		}
		return g.print(pi)
	})
}

type ModifyCmd struct {
	Instance     string   `arg:"" help:"Process instance id."`
	Instructions []string `arg:"" optional:"" help:"Instructions in order, <kind>:<target>."`
	File         string   `short:"f" type:"existingfile" help:"YAML or JSON instruction list applied before the arguments."`
	Annotation   string   `help:"Free text recorded with the modification."`
	FlagsOpts
}

func (c *ModifyCmd) Run(g *Globals) error {
	instructions, err := collectInstructions(c.File, c.Instructions)
	if err != nil {
		return err
	}
	return g.with(func(ctx context.Context, s *session) error {
		cmd := modification.Command{
			ProcessInstanceID: c.Instance,
			Instructions:      instructions,
			Flags:             c.flags(),
			Annotation:        c.Annotation,
		}
		if err := s.engine.ExecuteModification(ctx, cmd); err != nil {
			return err
		}
		tree, err := s.engine.ActivityInstance(ctx, c.Instance)
		if err != nil {
			// the modification ended the instance
			hist, herr := s.engine.HistoricInstance(ctx, c.Instance)
			if herr != nil {
				return err
			}
			return g.print(hist)
		}
		return g.print(tree)
	})
}

type DeleteCmd struct {
	Instance string `arg:"" help:"Process instance id."`
	Reason   string `help:"Delete reason recorded in history."`
	FlagsOpts
}

func (c *DeleteCmd) Run(g *Globals) error {
	return g.with(func(ctx context.Context, s *session) error {
		return s.engine.DeleteProcessInstance(ctx, c.Instance, c.Reason, c.flags())
	})
}

type InstancesCmd struct {
	DefinitionID  string `help:"Filter by definition id."`
	DefinitionKey string `help:"Filter by definition key."`
	BusinessKey   string `help:"Filter by business key."`
	History       bool   `help:"List historic instances instead of running ones."`
	Finished      bool   `help:"With --history, only ended instances."`
	State         string `help:"With --history, filter by state."`
}

func (c *InstancesCmd) Run(g *Globals) error {
	return g.with(func(ctx context.Context, s *session) error {
		if c.History {
			found, err := s.engine.HistoricInstances(ctx, persistence.HistoricInstanceQuery{
				DefinitionID:  c.DefinitionID,
				DefinitionKey: c.DefinitionKey,
				State:         c.State,
				Finished:      c.Finished,
			})
			if err != nil {
				return err
			}
			return g.print(found)
		}
		found, err := s.engine.Instances(ctx, persistence.InstanceQuery{
			DefinitionID:  c.DefinitionID,
			DefinitionKey: c.DefinitionKey,
			BusinessKey:   c.BusinessKey,
		})
		if err != nil {
			return err
		}
		return g.print(found)
	})
}

type TreeCmd struct {
	Instance   string `arg:"" help:"Process instance id."`
	Executions bool   `help:"Print the execution tree instead of the activity instance tree."`
}

func (c *TreeCmd) Run(g *Globals) error {
	return g.with(func(ctx context.Context, s *session) error {
		if c.Executions {
			tree, err := s.engine.ExecutionTree(ctx, c.Instance)
			if err != nil {
				return err
			}
			return g.print(tree.Snapshot())
		}
		root, err := s.engine.ActivityInstance(ctx, c.Instance)
		if err != nil {
			return err
		}
		return g.print(root)
	})
}

type VariablesCmd struct {
	Instance string `arg:"" help:"Process instance id."`
	History  bool   `help:"Print historic variables, including those of ended instances."`
}

func (c *VariablesCmd) Run(g *Globals) error {
	return g.with(func(ctx context.Context, s *session) error {
		if c.History {
			vars, err := s.engine.HistoricVariables(ctx, c.Instance)
			if err != nil {
				return err
			}
			return g.print(vars)
		}
		vars, err := s.engine.Variables(ctx, c.Instance)
		if err != nil {
			return err
		}
		return g.print(vars)
	})
}

type RestartCmd struct {
	Definition         string   `arg:"" help:"Process definition id the new instances use."`
	Instructions       []string `arg:"" optional:"" help:"Start instructions in order, <kind>:<target>."`
	File               string   `short:"f" type:"existingfile" help:"YAML or JSON instruction list applied before the arguments."`
	Instance           []string `short:"i" help:"Historic instance id to restart."`
	Finished           bool     `help:"Also restart every ended historic instance of the definition."`
	InitialVariables   bool     `help:"Restore the variables the instances started with."`
	WithoutBusinessKey bool     `help:"Do not copy the business key."`
	Async              bool     `help:"Create a restart batch instead of restarting now."`
	Annotation         string   `help:"Free text recorded with an async batch."`
	FlagsOpts
}

func (c *RestartCmd) Run(g *Globals) error {
	instructions, err := collectInstructions(c.File, c.Instructions)
	if err != nil {
		return err
	}
	var query *persistence.HistoricInstanceQuery
	if c.Finished {
		query = &persistence.HistoricInstanceQuery{DefinitionID: c.Definition, Finished: true}
	}
	return g.with(func(ctx context.Context, s *session) error {
		if c.Async {
			b, err := s.engine.RestartAsync(ctx, c.submission(instructions, query))
			if err != nil {
				return err
			}
			return g.print(b)
		}
		created, err := s.engine.Restart(ctx, engine.RestartRequest{
			DefinitionID:  c.Definition,
			InstanceIDs:   c.Instance,
			HistoricQuery: query,
			Options: restart.Options{
				Instructions:          instructions,
				Flags:                 c.flags(),
				InitialSetOfVariables: c.InitialVariables,
				WithoutBusinessKey:    c.WithoutBusinessKey,
			},
		})
		if perr := g.print(created); perr != nil && err == nil {
			err = perr
		}
		return err
	})
}
