// Package batch runs a sequence of credential rows through the portal on a
// single browser session and reports progress as an ordered event stream.
package batch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/credresolve/internal/browser"
	"github.com/sells-group/credresolve/internal/model"
	"github.com/sells-group/credresolve/internal/progress"
	"github.com/sells-group/credresolve/internal/resilience"
	"github.com/sells-group/credresolve/internal/sheet"
)

// releaseTimeout bounds closing the session after the batch ends.
const releaseTimeout = 10 * time.Second

// Resolver resolves one row on a session. portal.Resolver implements it.
type Resolver interface {
	Resolve(ctx context.Context, sess browser.Session, row model.CredentialRow) model.Outcome
}

// Pacer spaces out logins. pacing.Pacer implements it.
type Pacer interface {
	Admit(ctx context.Context) error
	DelayBeforeNext(ctx context.Context, isLastRow bool) error
}

// Orchestrator owns the session for each batch it runs. It is safe to run
// several batches concurrently; each acquires its own session.
type Orchestrator struct {
	launcher browser.Launcher
	resolver Resolver
	pacer    Pacer
	retry    resilience.RetryConfig
}

// New creates an Orchestrator. retry governs session acquisition.
func New(launcher browser.Launcher, resolver Resolver, pacer Pacer, retry resilience.RetryConfig) *Orchestrator {
	return &Orchestrator{launcher: launcher, resolver: resolver, pacer: pacer, retry: retry}
}

// Run processes rows in order and passes every event to emit: one progress
// event per row, sent before that row is resolved, followed by exactly one
// complete or error event. Row failures are recorded in the results and do
// not stop the batch. On a batch-fatal failure the returned error is a
// *Failure and no results are delivered.
//
// emit is called from the calling goroutine and must not block for long;
// a slow or gone subscriber must be handled by the sink itself.
func (o *Orchestrator) Run(ctx context.Context, rows []model.CredentialRow, emit progress.Sink) (state *model.BatchState, err error) {
	batchID := uuid.NewString()
	log := zap.L().With(zap.String("batch_id", batchID), zap.Int("total", len(rows)))
	start := time.Now()

	terminated := false
	abort := func(kind Kind, cause error) error {
		f := &Failure{Kind: kind, Err: cause}
		log.Error("batch: aborted",
			zap.String("kind", string(kind)),
			zap.Duration("duration", time.Since(start)),
			zap.Error(cause),
		)
		if !terminated {
			terminated = true
			emit(progress.Failure(f.Message()))
		}
		return f
	}

	// Replaced once a session is held; a panic before that has nothing to
	// release.
	release := func() {}
	defer func() {
		if r := recover(); r != nil {
			release()
			state = nil
			err = abort(KindInternal, eris.New(fmt.Sprintf("panic: %v", r)))
		}
	}()

	if len(rows) == 0 {
		return nil, abort(KindInput, sheet.ErrNoValidRows)
	}

	log.Info("batch: starting")
	sess, acquireErr := resilience.DoVal(ctx, o.retry, o.launcher.Acquire)
	if acquireErr != nil {
		if ctx.Err() != nil {
			return nil, abort(KindCancelled, ctx.Err())
		}
		return nil, abort(KindSession, eris.Wrap(acquireErr, "batch: acquire session"))
	}

	release = sync.OnceFunc(func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
		defer cancel()
		if cerr := sess.Close(closeCtx); cerr != nil {
			log.Warn("batch: close session", zap.Error(cerr))
			return
		}
		log.Debug("batch: session released")
	})
	defer release()

	state = model.NewBatchState(len(rows))
	for i, row := range rows {
		emit(progress.Progress(i+1, len(rows), row))

		if err := o.pacer.Admit(ctx); err != nil {
			return nil, abort(KindCancelled, err)
		}

		rowStart := time.Now()
		out := o.resolver.Resolve(ctx, sess, row)
		if out.Fatal != nil {
			if ctx.Err() != nil {
				return nil, abort(KindCancelled, ctx.Err())
			}
			return nil, abort(KindSession, out.Fatal)
		}

		result := out.Result(row.ClientRef)
		state.Append(result)
		log.Info("batch: row complete",
			zap.Int("row", i+1),
			zap.String("client_ref", row.ClientRef),
			zap.Bool("resolved", !result.IsError()),
			zap.String("step", string(out.Step)),
			zap.Duration("duration", time.Since(rowStart)),
		)

		if err := o.pacer.DelayBeforeNext(ctx, i == len(rows)-1); err != nil {
			return nil, abort(KindCancelled, err)
		}
	}

	release()

	resolved, failed := state.Summary()
	log.Info("batch: complete",
		zap.Int("resolved", resolved),
		zap.Int("failed", failed),
		zap.Duration("duration", time.Since(start)),
	)
	terminated = true
	emit(progress.Complete(state.Results))
	return state, nil
}

// Stream runs the batch in a new goroutine and returns its events. The
// channel is buffered for the whole batch, so the batch never waits on the
// reader, and it is closed after the terminal event.
func (o *Orchestrator) Stream(ctx context.Context, rows []model.CredentialRow) <-chan progress.Event {
	events := make(chan progress.Event, len(rows)+1)
	go func() {
		defer close(events)
		_, _ = o.Run(ctx, rows, func(ev progress.Event) { events <- ev })
	}()
	return events
}

// RunFile loads rows from a spreadsheet and runs them. A file that cannot
// be read, or has no valid rows, ends the batch with an input failure
// before any session is acquired.
func (o *Orchestrator) RunFile(ctx context.Context, path string, emit progress.Sink) (*model.BatchState, error) {
	rows, err := sheet.Load(path)
	if err != nil {
		return nil, inputFailure(err, emit)
	}
	return o.Run(ctx, rows, emit)
}

// StreamFile is RunFile with the events delivered on a channel, as Stream.
// The file is read before StreamFile returns, so the caller may delete it
// as soon as the channel is handed back.
func (o *Orchestrator) StreamFile(ctx context.Context, path string) <-chan progress.Event {
	rows, err := sheet.Load(path)
	if err != nil {
		events := make(chan progress.Event, 1)
		_ = inputFailure(err, func(ev progress.Event) { events <- ev })
		close(events)
		return events
	}
	return o.Stream(ctx, rows)
}

func inputFailure(err error, emit progress.Sink) error {
	f := &Failure{Kind: KindInput, Err: err}
	zap.L().Warn("batch: input rejected", zap.Error(err))
	emit(progress.Failure(f.Message()))
	return f
}
