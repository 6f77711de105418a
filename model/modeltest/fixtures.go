// Package modeltest provides process definitions shared by package tests.
package modeltest

import (
	"fmt"

	"github.com/goliatone/go-process/model"
)

// OneTask: start -> task (wait) -> end.
const OneTask = `
id: oneTaskProcess:1
key: oneTaskProcess
version: 1
activities:
  - {id: theStart, type: startEvent}
  - {id: theTask, type: userTask}
  - {id: theEnd, type: endEvent}
flows:
  - {id: flow1, source: theStart, target: theTask}
  - {id: flow2, source: theTask, target: theEnd}
`

// TwoTasks: start -> task1 -> task2 -> end, both wait states.
const TwoTasks = `
id: twoTasksProcess:1
key: twoTasksProcess
version: 1
activities:
  - {id: theStart, type: startEvent}
  - {id: task1, type: userTask}
  - {id: task2, type: userTask}
  - {id: theEnd, type: endEvent}
flows:
  - {id: flow1, source: theStart, target: task1}
  - {id: flow2, source: task1, target: task2}
  - {id: flow3, source: task2, target: theEnd}
`

// ParallelGateway forks into task1 and task2, each ending separately.
const ParallelGateway = `
id: parallelGateway:1
key: parallelGateway
version: 1
activities:
  - {id: theStart, type: startEvent}
  - {id: fork, type: parallelGateway}
  - {id: task1, type: userTask}
  - {id: task2, type: userTask}
  - {id: end1, type: endEvent}
  - {id: end2, type: endEvent}
flows:
  - {id: flow1, source: theStart, target: fork}
  - {id: flow2, source: fork, target: task1}
  - {id: flow3, source: fork, target: task2}
  - {id: flow4, source: task1, target: end1}
  - {id: flow5, source: task2, target: end2}
`

// ForkJoin forks into task1 and task2 and joins them before afterJoin.
const ForkJoin = `
id: forkJoin:1
key: forkJoin
version: 1
activities:
  - {id: theStart, type: startEvent}
  - {id: fork, type: parallelGateway}
  - {id: task1, type: userTask}
  - {id: task2, type: userTask}
  - {id: join, type: parallelGateway}
  - {id: afterJoin, type: userTask}
  - {id: theEnd, type: endEvent}
flows:
  - {id: flow1, source: theStart, target: fork}
  - {id: flow2, source: fork, target: task1}
  - {id: flow3, source: fork, target: task2}
  - {id: flow4, source: task1, target: join}
  - {id: flow5, source: task2, target: join}
  - {id: flow6, source: join, target: afterJoin}
  - {id: flow7, source: afterJoin, target: theEnd}
`

// Subprocess wraps innerTask in subProcess, followed by outerTask.
const Subprocess = `
id: subprocess:1
key: subprocess
version: 1
activities:
  - {id: theStart, type: startEvent}
  - id: subProcess
    type: subProcess
    compensable: true
    activities:
      - {id: innerStart, type: startEvent}
      - {id: innerTask, type: userTask}
      - {id: innerEnd, type: endEvent}
    flows:
      - {id: innerFlow1, source: innerStart, target: innerTask}
      - {id: innerFlow2, source: innerTask, target: innerEnd}
  - {id: outerTask, type: userTask}
  - {id: theEnd, type: endEvent}
flows:
  - {id: flow1, source: theStart, target: subProcess}
  - {id: flow2, source: subProcess, target: outerTask}
  - {id: flow3, source: outerTask, target: theEnd}
`

// DoubleNested nests innerSubProcess (holding innerTask) inside subProcess.
const DoubleNested = `
id: doubleNestedSubprocess:1
key: doubleNestedSubprocess
version: 1
activities:
  - {id: theStart, type: startEvent}
  - id: outerSubProcess
    type: subProcess
    activities:
      - {id: outerSubProcessStart, type: startEvent}
      - id: innerSubProcess
        type: subProcess
        activities:
          - {id: innerSubProcessStart, type: startEvent}
          - {id: innerTask, type: userTask}
          - {id: innerSubProcessEnd, type: endEvent}
        flows:
          - {id: flow5, source: innerSubProcessStart, target: innerTask}
          - {id: flow6, source: innerTask, target: innerSubProcessEnd}
      - {id: outerSubProcessEnd, type: endEvent}
    flows:
      - {id: flow3, source: outerSubProcessStart, target: innerSubProcess}
      - {id: flow4, source: innerSubProcess, target: outerSubProcessEnd}
  - {id: theEnd, type: endEvent}
flows:
  - {id: flow1, source: theStart, target: outerSubProcess}
  - {id: flow2, source: outerSubProcess, target: theEnd}
`

// AsyncTask parks the process on a transition instance before task.
const AsyncTask = `
id: asyncTaskProcess:1
key: asyncTaskProcess
version: 1
activities:
  - {id: theStart, type: startEvent}
  - {id: task, type: userTask, asyncBefore: true}
  - {id: theEnd, type: endEvent}
flows:
  - {id: flow1, source: theStart, target: task}
  - {id: flow2, source: task, target: theEnd}
`

// IOProcess maps variables into and out of a scoped task.
const IOProcess = `
id: ioProcess:1
key: ioProcess
version: 1
activities:
  - {id: theStart, type: startEvent}
  - id: task
    type: userTask
    inputs:
      - {target: inputVar, source: processVar}
      - {target: constant, value: fixed}
    outputs:
      - {target: outputVar, source: inputVar}
  - {id: theEnd, type: endEvent}
flows:
  - {id: flow1, source: theStart, target: task}
  - {id: flow2, source: task, target: theEnd}
`

// ExclusiveFork has an activity with two outgoing flows.
const ExclusiveFork = `
id: exclusiveGateway:1
key: exclusiveGateway
version: 1
activities:
  - {id: theStart, type: startEvent}
  - {id: fork, type: userTask}
  - {id: task1, type: userTask}
  - {id: task2, type: userTask}
  - {id: theEnd, type: endEvent}
flows:
  - {id: flow1, source: theStart, target: fork}
  - {id: flow2, source: fork, target: task1}
  - {id: flow3, source: fork, target: task2}
  - {id: flow4, source: task1, target: theEnd}
`

// Must parses a fixture and panics on error.
func Must(src string) *model.Definition {
	def, err := model.Parse([]byte(src))
	if err != nil {
		panic(fmt.Sprintf("modeltest: %v", err))
	}
	return def
}

// Repository deploys the given fixtures in order.
func Repository(fixtures ...string) *model.Repository {
	repo := model.NewRepository()
	for _, src := range fixtures {
		if _, err := repo.DeployYAML([]byte(src)); err != nil {
			panic(fmt.Sprintf("modeltest: %v", err))
		}
	}
	return repo
}
