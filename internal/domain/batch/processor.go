// Package batch drives a set of items through the converter with a bounded
// worker pool and collects the successes into one archive.
package batch

import (
	"context"
	stderrors "errors"
	"fmt"
	"runtime"

	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v3/cpu"
	"golang.org/x/sync/errgroup"

	"github.com/Lucke514/ImageConverter/internal/domain/archive"
	"github.com/Lucke514/ImageConverter/internal/domain/eventbus"
	"github.com/Lucke514/ImageConverter/internal/domain/image"
	"github.com/Lucke514/ImageConverter/internal/platform/errors"
	"github.com/Lucke514/ImageConverter/internal/platform/logging"
	"github.com/Lucke514/ImageConverter/internal/platform/observability"
)

// ErrNoImagesProcessed is the cause of a run that produced no output.
var ErrNoImagesProcessed = stderrors.New("no images were processed")

// Converter converts a single image.
type Converter interface {
	Convert(ctx context.Context, src image.SourceImage, opts image.Options) (*image.Result, error)
}

// Options configures a Processor.
type Options struct {
	Converter Converter
	Logger    *logging.Logger
	// Workers caps concurrent conversions; <= 0 means DefaultWorkers().
	Workers int
	// Events receives batch lifecycle events when set.
	Events eventbus.Publisher
}

// Processor runs batches. It holds no per-run state and may run several
// batches concurrently.
type Processor struct {
	converter Converter
	logger    *logging.Logger
	workers   int
	events    eventbus.Publisher
}

// Archive is the output of a run with at least one success.
type Archive struct {
	BatchID   string
	FileName  string
	Data      []byte
	Entries   []string
	Succeeded int
	Failed    int
	Skipped   int
}

// DefaultWorkers returns the number of logical CPUs.
func DefaultWorkers() int {
	if n, err := cpu.Counts(true); err == nil && n > 0 {
		return n
	}
	return runtime.NumCPU()
}

func NewProcessor(opts Options) (*Processor, error) {
	if opts.Converter == nil {
		return nil, errors.New(errors.KindConfig, "batch.new-processor", "converter is required")
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers()
	}
	return &Processor{
		converter: opts.Converter,
		logger:    opts.Logger,
		workers:   opts.Workers,
		events:    opts.Events,
	}, nil
}

// Workers returns the pool size.
func (p *Processor) Workers() int { return p.workers }

type runConfig struct {
	batchID    string
	onProgress func(float64)
	onStatus   func(*Item, State)
}

// RunOption customises a single Run.
type RunOption func(*runConfig)

// OnProgress registers a callback receiving done/total after every resolved
// item. Values never decrease.
func OnProgress(fn func(float64)) RunOption {
	return func(c *runConfig) { c.onProgress = fn }
}

// OnStatus registers a callback for every item state transition.
func OnStatus(fn func(*Item, State)) RunOption {
	return func(c *runConfig) { c.onStatus = fn }
}

// WithBatchID tags events and logs with id instead of a random one.
func WithBatchID(id string) RunOption {
	return func(c *runConfig) { c.batchID = id }
}

type update struct {
	item     *Item
	state    State
	resolved bool
}

// Run converts every item not already completed and returns an archive of
// the successes. Per-item failures are recorded on the item and never
// returned. Callbacks are invoked from a single goroutine.
//
// Run fails with a batch-kind error wrapping ErrNoImagesProcessed when no
// item succeeded in this run, and with a cancelled-kind error when ctx is
// done before the archive is built.
func (p *Processor) Run(ctx context.Context, items []*Item, opts image.Options, runOpts ...RunOption) (arch *Archive, err error) {
	const op = "batch.run"

	if err := opts.Validate(); err != nil {
		return nil, err
	}
	for n, it := range items {
		if it == nil {
			return nil, errors.Errorf(errors.KindConfig, op, "item %d is nil", n)
		}
	}

	cfg := runConfig{}
	for _, o := range runOpts {
		o(&cfg)
	}
	if cfg.batchID == "" {
		cfg.batchID = uuid.New().String()
	}

	ctx, end := observability.StartSpan(ctx, "batch.processor", "run")
	defer func() { end(err) }()

	total := len(items)
	var pending []int
	for n, it := range items {
		if it.State() != StateCompleted {
			pending = append(pending, n)
		}
	}
	skipped := total - len(pending)

	p.logger.InfoTag("BATCH", "batch %s: %d items, %d already completed, %d workers, target %s",
		cfg.batchID, total, skipped, p.workers, opts.Format)

	updates := make(chan update, 2*total+1)
	collected := make(chan struct{})
	go p.collect(cfg, total, updates, collected)

	for n := 0; n < skipped; n++ {
		updates <- update{resolved: true}
	}

	results := make([]*image.Result, total)
	var g errgroup.Group
	g.SetLimit(p.workers)
	for _, n := range pending {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			results[n] = p.process(ctx, items[n], opts, updates)
			return nil
		})
	}
	_ = g.Wait()

	var succeeded, failed, cancelled int
	for _, n := range pending {
		it := items[n]
		switch it.State() {
		case StateCompleted:
			succeeded++
		case StateError:
			failed++
		case StateCancelled:
			cancelled++
		default:
			it.set(StateCancelled, ctx.Err())
			updates <- update{item: it, state: StateCancelled}
			cancelled++
		}
	}
	close(updates)
	<-collected

	finished := eventbus.FinishedEvent{
		BatchID:   cfg.batchID,
		Succeeded: succeeded,
		Failed:    failed,
		Skipped:   skipped,
		Cancelled: cancelled,
	}
	defer func() {
		if err != nil {
			finished.Error = err.Error()
		}
		p.publish(eventbus.EventFinished, finished)
	}()

	if ctx.Err() != nil {
		return nil, p.cancelled(ctx, op)
	}
	if succeeded == 0 {
		p.logger.WarnTag("BATCH", "batch %s: no images were processed", cfg.batchID)
		return nil, errors.Wrap(errors.KindBatch, op, "batch produced no output", ErrNoImagesProcessed)
	}

	builder := archive.NewBuilder(p.logger)
	for _, n := range pending {
		res := results[n]
		if res == nil || items[n].State() != StateCompleted {
			continue
		}
		name := builder.Reserve(OutputName(items[n].Source.Name, res.Format))
		builder.Add(name, res.Data)
		items[n].setEntry(name)
	}

	data, err := builder.Build(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, p.cancelled(ctx, op)
		}
		return nil, err
	}

	observability.RecordMetric(ctx, "batch.succeeded", float64(succeeded), map[string]string{"format": opts.Format.String()})
	p.logger.InfoTag("BATCH", "batch %s: %d converted, %d failed, %d skipped", cfg.batchID, succeeded, failed, skipped)

	return &Archive{
		BatchID:   cfg.batchID,
		FileName:  archive.DefaultFileName,
		Data:      data,
		Entries:   builder.Names(),
		Succeeded: succeeded,
		Failed:    failed,
		Skipped:   skipped,
	}, nil
}

// process converts one item and records its terminal state. It returns the
// result on success.
func (p *Processor) process(ctx context.Context, it *Item, opts image.Options, updates chan<- update) *image.Result {
	if ctx.Err() != nil {
		return nil
	}
	it.set(StateProcessing, nil)
	updates <- update{item: it, state: StateProcessing}

	res, err := p.convert(ctx, it.Source, opts)
	switch {
	case err != nil && ctx.Err() != nil && (stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded)):
		it.set(StateCancelled, err)
		updates <- update{item: it, state: StateCancelled}
		return nil
	case err != nil:
		it.set(StateError, err)
		updates <- update{item: it, state: StateError, resolved: true}
		return nil
	}

	it.complete(res.Warning)
	updates <- update{item: it, state: StateCompleted, resolved: true}
	return res
}

// convert shields the pool from converter panics.
func (p *Processor) convert(ctx context.Context, src image.SourceImage, opts image.Options) (res *image.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.ErrorTag("BATCH", "conversion of %s panicked: %v", src.Name, r)
			res, err = nil, errors.Errorf(errors.KindBatch, "batch.convert", "conversion panicked: %v", r)
		}
	}()

	res, err = p.converter.Convert(ctx, src, opts)
	if err == nil && res == nil {
		err = errors.New(errors.KindEncode, "batch.convert", fmt.Sprintf("cannot convert to %s: empty result", opts.Format))
	}
	return res, err
}

// collect is the only goroutine that invokes callbacks, so progress is
// observed in order.
func (p *Processor) collect(cfg runConfig, total int, updates <-chan update, done chan<- struct{}) {
	defer close(done)

	resolved := 0
	for u := range updates {
		if u.item != nil {
			if cfg.onStatus != nil {
				cfg.onStatus(u.item, u.state)
			}
			ev := eventbus.ItemStatusEvent{
				BatchID: cfg.batchID,
				ItemID:  u.item.ID,
				Name:    u.item.Source.Name,
				State:   string(u.state),
			}
			if err := u.item.Err(); err != nil && u.state == StateError {
				ev.Error = err.Error()
			}
			p.publish(eventbus.EventItemStatus, ev)
		}
		if !u.resolved {
			continue
		}

		resolved++
		progress := float64(resolved) / float64(total)
		if cfg.onProgress != nil {
			cfg.onProgress(progress)
		}
		p.publish(eventbus.EventProgress, eventbus.ProgressEvent{
			BatchID:  cfg.batchID,
			Progress: progress,
			Done:     resolved,
			Total:    total,
		})
	}
}

func (p *Processor) publish(topic string, event interface{}) {
	if p.events != nil {
		p.events.PublishAsync(topic, event)
	}
}

func (p *Processor) cancelled(ctx context.Context, op string) error {
	p.logger.WarnTag("BATCH", "batch cancelled: %v", ctx.Err())
	return &errors.Error{
		Kind:    errors.KindCancelled,
		Op:      op,
		Message: "batch cancelled",
		Cause:   ctx.Err(),
	}
}
