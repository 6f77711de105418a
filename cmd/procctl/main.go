// Command procctl operates process instances, batches and jobs stored by the
// engine. Every command loads the configuration, deploys the definitions and
// prints its result as JSON.
package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/kong"
	process "github.com/goliatone/go-process"
)

type CLI struct {
	Globals

	Definitions DefinitionsCmd `cmd:"" help:"List deployed process definitions."`
	Start       StartCmd       `cmd:"" help:"Start a process instance."`
	Signal      SignalCmd      `cmd:"" help:"Complete a waiting activity instance."`
	Modify      ModifyCmd      `cmd:"" help:"Modify the execution tree of a process instance."`
	Delete      DeleteCmd      `cmd:"" help:"Cancel a process instance."`
	Instances   InstancesCmd   `cmd:"" help:"List running or historic process instances."`
	Tree        TreeCmd        `cmd:"" help:"Print the activity instance tree of a process instance."`
	Variables   VariablesCmd   `cmd:"" help:"Print the variables of a process instance."`
	Restart     RestartCmd     `cmd:"" help:"Restart ended process instances from their history."`
	Batch       BatchCmd       `cmd:"" help:"Manage batches."`
	Jobs        JobsCmd        `cmd:"" help:"Inspect and execute jobs."`
	Incidents   IncidentsCmd   `cmd:"" help:"List incidents."`
	Cleanup     CleanupCmd     `cmd:"" help:"Remove history that ended before the retention window."`
	Serve       ServeCmd       `cmd:"" help:"Run the job executor and scheduled history cleanup."`
}

func newParser(cli *CLI, opts ...kong.Option) (*kong.Kong, error) {
	return kong.New(cli, append([]kong.Option{
		kong.Name("procctl"),
		kong.Description("Operate process instances, modification and restart batches, and jobs."),
		kong.UsageOnError(),
	}, opts...)...)
}

func main() {
	var cli CLI
	parser, err := newParser(&cli)
	if err != nil {
		fmt.Fprintf(os.Stderr, "procctl: %v\n", err)
		os.Exit(2)
	}
	ctx, err := parser.Parse(os.Args[1:])
	parser.FatalIfErrorf(err)
	if err := ctx.Run(&cli.Globals); err != nil {
		fmt.Fprintf(os.Stderr, "procctl: %s\n", describeError(err))
		os.Exit(1)
	}
}

func describeError(err error) string {
	if code := process.Code(err); code != "" {
		return fmt.Sprintf("%s (%s)", process.Message(err), code)
	}
	return err.Error()
}
