package results

import (
	"context"
	"errors"
	"sync"
	"time"

	pond "github.com/alitto/pond/v2"

	"github.com/RAPD/rapd-relay/logging"
	"github.com/RAPD/rapd-relay/store"
)

// Child record kinds referenced from a detail's "results" section.
const (
	ChildAnalysis = "analysis"
	ChildPDBQuery = "pdbquery"
)

// ImageFinder loads image side-records.
type ImageFinder interface {
	FindImage(ctx context.Context, id string) (store.Document, error)
}

// CollectionResolver resolves a detail collection for (domain, kind).
type CollectionResolver interface {
	Resolve(ctx context.Context, domain, kind string) (store.Collection, error)
}

// Populator fills the side-record slots of a detail record.
type Populator struct {
	logger   logging.Logger
	images   ImageFinder
	resolver CollectionResolver
	pool     pond.Pool
	timeout  time.Duration
}

// NewPopulator creates a Populator. Lookups run on pool; timeout bounds one
// Populate call (0 means no bound beyond ctx).
func NewPopulator(
	logger logging.Logger,
	images ImageFinder,
	resolver CollectionResolver,
	pool pond.Pool,
	timeout time.Duration,
) *Populator {
	return &Populator{
		logger:   logger,
		images:   images,
		resolver: resolver,
		pool:     pool,
		timeout:  timeout,
	}
}

// Populate resolves image1, image2, results.analysis and results.pdbquery
// for detail in place and returns it. Slots whose reference is missing or
// fails to resolve are set to nil; Populate itself never fails.
// Records without a "process" section are returned unchanged.
func (p *Populator) Populate(ctx context.Context, domain string, detail map[string]any) map[string]any {
	process, ok := detail["process"].(map[string]any)
	if !ok {
		return detail
	}

	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	section, _ := detail["results"].(map[string]any)

	var (
		mu     sync.Mutex
		slots  = make(map[string]any, 4)
		group  = p.pool.NewGroup()
		submit = func(slot string, fn func() (store.Document, error)) {
			group.Submit(func() {
				doc, err := fn()
				var value any
				if doc != nil {
					value = doc
				}
				p.observe(slot, err)
				mu.Lock()
				slots[slot] = value
				mu.Unlock()
			})
		}
	)

	submit("image1", func() (store.Document, error) {
		return p.image(ctx, scalarString(process["image1_id"]))
	})
	submit("image2", func() (store.Document, error) {
		return p.image(ctx, scalarString(process["image2_id"]))
	})
	if section != nil {
		for _, child := range []string{ChildAnalysis, ChildPDBQuery} {
			child := child
			submit(child, func() (store.Document, error) {
				return p.child(ctx, domain, child, scalarString(section[child]))
			})
		}
	}
	_ = group.Wait()

	detail["image1"] = slots["image1"]
	detail["image2"] = slots["image2"]
	if section != nil {
		section[ChildAnalysis] = slots[ChildAnalysis]
		section[ChildPDBQuery] = slots[ChildPDBQuery]
	}
	return detail
}

var errNoReference = errors.New("no reference")

func (p *Populator) image(ctx context.Context, id string) (store.Document, error) {
	if id == "" {
		return nil, errNoReference
	}
	return p.images.FindImage(ctx, id)
}

func (p *Populator) child(ctx context.Context, domain, kind, id string) (store.Document, error) {
	if id == "" {
		return nil, errNoReference
	}
	coll, err := p.resolver.Resolve(ctx, domain, kind)
	if err != nil {
		return nil, err
	}
	doc, err := coll.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	redactChild(doc)
	return doc, nil
}

func (p *Populator) observe(slot string, err error) {
	outcome := logging.ResultSuccess
	switch {
	case err == nil:
	case errors.Is(err, errNoReference):
		outcome = logging.ResultSkipped
	case errors.Is(err, store.ErrNotFound):
		outcome = "not_found"
	default:
		outcome = logging.ResultFailure
		p.logger.Warn().
			Err(err).
			Str(logging.FieldKind, slot).
			Msg("failed to resolve side-record")
	}
	sideRecordsResolved.WithLabelValues(slot, outcome).Inc()
}

// redactChild strips database credentials that child records echo back
// from the command that produced them.
func redactChild(doc store.Document) {
	command, _ := doc["command"].(map[string]any)
	input, _ := command["input_data"].(map[string]any)
	delete(input, "db_settings")
}
