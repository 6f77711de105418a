// Package restart builds a fresh process instance from the history of a
// finished one.
package restart

import (
	"context"
	"sort"

	process "github.com/goliatone/go-process"
	"github.com/goliatone/go-process/execution"
	"github.com/goliatone/go-process/model"
	"github.com/goliatone/go-process/modification"
	"github.com/goliatone/go-process/persistence"
)

// Definitions resolves process definitions by id.
type Definitions interface {
	Get(id string) (*model.Definition, error)
}

// Result is a restarted instance ready to be committed. Tree carries the
// effects recorded while it was built.
type Result struct {
	Tree   *execution.Tree
	Ended  bool
	Source *persistence.HistoricInstance
	// Variables were restored on the process instance. InitialVariables
	// reports whether they are the initial set of the source.
	Variables        map[string]any
	InitialVariables bool
}

// Assembler restarts historic process instances.
type Assembler struct {
	store       persistence.Store
	definitions Definitions
	interpreter *modification.Interpreter
	ids         process.IDGenerator
	logger      process.Logger
}

// Option configures an Assembler.
type Option func(*Assembler)

func WithLogger(logger process.Logger) Option {
	return func(a *Assembler) {
		a.logger = logger
	}
}

// WithIDGenerator sets the generator used for the new execution tree.
func WithIDGenerator(gen process.IDGenerator) Option {
	return func(a *Assembler) {
		if gen != nil {
			a.ids = gen
		}
	}
}

func NewAssembler(store persistence.Store, definitions Definitions, interpreter *modification.Interpreter, opts ...Option) *Assembler {
	a := &Assembler{
		store:       store,
		definitions: definitions,
		interpreter: interpreter,
		ids:         process.NewID,
		logger:      process.NopLogger{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	if a.interpreter == nil {
		a.interpreter = modification.NewInterpreter(modification.WithLogger(a.logger))
	}
	a.logger = process.NormalizeLogger(a.logger)
	return a
}

// Restart builds a new instance of definitionID from the historic instance
// and runs the restart instructions on it. Nothing is persisted.
func (a *Assembler) Restart(ctx context.Context, definitionID, historicInstanceID string, opts Options) (*Result, error) {
	if definitionID == "" {
		return nil, process.Validationf("processDefinitionId is null")
	}
	if historicInstanceID == "" {
		return nil, process.Validationf("Process instance ids cannot be null")
	}
	if err := ValidateInstructions(opts.Instructions); err != nil {
		return nil, err
	}
	def, err := a.definitions.Get(definitionID)
	if err != nil {
		return nil, process.NewError(process.ErrValidation,
			"No process definition found with id '"+definitionID+"': processDefinition is null", err, nil)
	}

	source, history, err := a.load(ctx, historicInstanceID)
	if err != nil {
		return nil, err
	}
	if source.DefinitionID != def.ID {
		return nil, process.Validationf("Its process definition '%s' does not match given process definition '%s'",
			source.DefinitionID, def.ID)
	}
	if source.EndTime == nil || source.State == persistence.StateActive {
		return nil, process.InstanceStatef("Historic process instance '%s' is still active and cannot be restarted", source.ID)
	}

	tree := execution.New(def.ID, execution.WithIDGenerator(a.ids))
	tree.TenantID = source.TenantID
	if !opts.WithoutBusinessKey {
		tree.BusinessKey = source.BusinessKey
	}

	vars := latestVariables(source, history)
	if opts.InitialSetOfVariables {
		vars = initialVariables(source, history)
	}
	tree.SetVariables(tree.Root().ID, vars)

	session := a.interpreter.NewSession(ctx, tree, def, opts.Flags)
	if err := session.BeginProcess(); err != nil {
		return nil, err
	}
	if err := a.interpreter.ApplyTo(session, opts.Instructions); err != nil {
		return nil, err
	}
	ended, err := session.Finish()
	if err != nil {
		return nil, err
	}

	a.logger.WithContext(ctx).Debug("restarted historic instance %s as %s", source.ID, tree.ProcessInstanceID)
	return &Result{
		Tree:             tree,
		Ended:            ended,
		Source:           source,
		Variables:        vars,
		InitialVariables: opts.InitialSetOfVariables,
	}, nil
}

func (a *Assembler) load(ctx context.Context, id string) (*persistence.HistoricInstance, []*persistence.HistoricVariable, error) {
	var (
		source  *persistence.HistoricInstance
		history []*persistence.HistoricVariable
	)
	err := a.store.View(ctx, func(tx persistence.Tx) error {
		var err error
		if source, err = tx.HistoricInstance(id); err != nil {
			return err
		}
		history, err = tx.HistoricVariables(id)
		return err
	})
	if process.IsNotFound(err) {
		return nil, nil, process.NewError(process.ErrValidation, "Historic process instance cannot be found: "+id, err, nil)
	}
	return source, history, err
}

// latestVariables returns the last values of the process level variables.
// Local variables of inner scopes are not restored.
func latestVariables(source *persistence.HistoricInstance, history []*persistence.HistoricVariable) map[string]any {
	out := make(map[string]any)
	for _, v := range processLevel(source, history) {
		out[v.Name] = v.Value
	}
	return out
}

// initialVariables returns the variables the source started with. They are
// only known when the source had a unique start activity.
func initialVariables(source *persistence.HistoricInstance, history []*persistence.HistoricVariable) map[string]any {
	out := make(map[string]any)
	if source.StartActivityID == "" {
		return out
	}
	for _, v := range processLevel(source, history) {
		if v.Initial {
			out[v.Name] = v.InitialValue
		}
	}
	return out
}

func processLevel(source *persistence.HistoricInstance, history []*persistence.HistoricVariable) []*persistence.HistoricVariable {
	var out []*persistence.HistoricVariable
	for _, v := range history {
		if v.ScopeInstanceID == source.RootActivityInstance {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
