// Package dispatch implements the Event Dispatcher of spec.md §4.3: it owns
// the outer select loop, multiplexes every configured adapter's inbound
// event channel, and guarantees atomic, eventually-successful handling by
// wrapping each event in a queuestore.Store.Transaction with its own
// bounded-exponential-backoff retry envelope. This envelope is distinct
// from the adapter-side rate-limit retry in internal/ratelimit — spec.md
// §9 is explicit that the two must not be conflated, since a transient
// store error calls for retrying the whole state-machine invocation while
// a transient remote error calls for retrying only the one outbound call.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lucasnoah/aelitaqueue/internal/adapters"
	"github.com/lucasnoah/aelitaqueue/internal/ids"
	"github.com/lucasnoah/aelitaqueue/internal/log"
	"github.com/lucasnoah/aelitaqueue/internal/pipeline"
	"github.com/lucasnoah/aelitaqueue/internal/queuestore"
	"github.com/lucasnoah/aelitaqueue/internal/ratelimit"
)

// Binding wires one configured pipeline to the adapters that serve it.
type Binding struct {
	Pipeline   ids.PipelineID
	Ui         adapters.Ui
	Vcs        adapters.Vcs
	Ci         map[ids.CiID]adapters.Ci
	CiChannels []ids.CiID
}

// Dispatcher multiplexes every adapter's event channel into one serialized
// stream and drives the pipeline state machine with it.
type Dispatcher struct {
	store    queuestore.Store
	machine  *pipeline.Machine
	limiter  *ratelimit.Limiter
	logger   *log.Logger
	bindings map[ids.PipelineID]Binding
	sources  []adapters.EventSource

	retryInitial time.Duration
	retryMax     time.Duration
}

// New builds a Dispatcher over store, driving events from sources and
// routing commands according to bindings.
func New(store queuestore.Store, bindings map[ids.PipelineID]Binding, sources []adapters.EventSource, limiter *ratelimit.Limiter, logger *log.Logger) *Dispatcher {
	return &Dispatcher{
		store:        store,
		machine:      pipeline.New(),
		limiter:      limiter,
		logger:       logger,
		bindings:     bindings,
		sources:      sources,
		retryInitial: ratelimit.DefaultInitialDelay,
		retryMax:     ratelimit.DefaultMaxTotalDelay,
	}
}

// Run fans in every source's event channel and processes events one at a
// time until ctx is canceled or every source's channel closes.
func (d *Dispatcher) Run(ctx context.Context) error {
	events := fanIn(ctx, d.sources)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-events:
			if !ok {
				return nil
			}
			d.handle(ctx, event)
		}
	}
}

// handle drives one event through the state machine with the store-
// transaction retry envelope, then routes the resulting commands.
func (d *Dispatcher) handle(ctx context.Context, event pipeline.Event) {
	pipelineID := event.PipelineID()
	binding, ok := d.bindings[pipelineID]
	if !ok {
		d.logger.Warn("dispatch: event for unbound pipeline", "pipeline", pipelineID.String())
		return
	}

	elapsed := time.Duration(0)
	delay := d.retryInitial

	for {
		var cmds []pipeline.Command
		err := d.store.Transaction(pipelineID, func(tx queuestore.Tx) error {
			var handleErr error
			cmds, handleErr = d.machine.Handle(tx, event, binding.CiChannels)
			return handleErr
		})
		if err == nil {
			d.route(binding, cmds)
			return
		}

		if !errors.Is(err, queuestore.ErrTransient) {
			d.logger.Error("dispatch: non-retriable event handling error", "pipeline", pipelineID.String(), "error", err.Error())
			return
		}
		if elapsed+delay > d.retryMax {
			d.logger.Error("dispatch: dropping event after exhausting retry budget", "pipeline", pipelineID.String(), "error", err.Error())
			return
		}

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return
		}
		elapsed += delay
		delay *= 2
	}
}

// route hands each outbound command to the adapter bound to its capability.
func (d *Dispatcher) route(binding Binding, cmds []pipeline.Command) {
	for _, c := range cmds {
		var err error
		switch cmd := c.(type) {
		case pipeline.MergeToStaging:
			err = binding.Vcs.MergeToStaging(cmd.Pipeline, cmd.PR, cmd.PullCommit, cmd.Message)
		case pipeline.MoveStagingToMaster:
			err = binding.Vcs.MoveStagingToMaster(cmd.Pipeline, cmd.MergeCommit)
		case pipeline.StartBuild:
			ci, ok := binding.Ci[cmd.CiID]
			if !ok {
				err = fmt.Errorf("dispatch: no Ci adapter bound for channel %s", cmd.CiID)
				break
			}
			err = ci.StartBuild(cmd.Pipeline, cmd.CiID, cmd.Commit)
		case pipeline.SendResult:
			err = binding.Ui.SendResult(cmd.Pipeline, cmd.PR, cmd.Status)
		default:
			err = fmt.Errorf("dispatch: unroutable command type %T", c)
		}
		if err != nil {
			d.logger.Error("dispatch: command routing failed", "pipeline", binding.Pipeline.String(), "command", fmt.Sprintf("%T", c), "error", err.Error())
		}
	}
}

// fanIn merges every source's Events channel into one. It exits once ctx
// is canceled or every source channel has closed.
func fanIn(ctx context.Context, sources []adapters.EventSource) <-chan pipeline.Event {
	out := make(chan pipeline.Event)
	if len(sources) == 0 {
		close(out)
		return out
	}

	done := make(chan struct{})
	remaining := len(sources)
	finished := make(chan struct{}, len(sources))

	for _, s := range sources {
		go func(s adapters.EventSource) {
			for {
				select {
				case <-done:
					return
				case e, ok := <-s.Events():
					if !ok {
						finished <- struct{}{}
						return
					}
					select {
					case out <- e:
					case <-done:
						return
					}
				}
			}
		}(s)
	}

	go func() {
		defer close(out)
		defer close(done)
		for i := 0; i < remaining; i++ {
			select {
			case <-finished:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out
}
