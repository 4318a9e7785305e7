// Package hooks provides the sequenced, named extension points invoked
// around every phase of read and write processing.
package hooks

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/strata-api/strata/internal/engine/access"
	"github.com/strata-api/strata/internal/engine/plan"
	"github.com/strata-api/strata/internal/engine/schema"
	"github.com/strata-api/strata/internal/engine/txn"
)

// Phase tags the well-known extension points.
type Phase int

const (
	BeforeProcessing Phase = iota
	BeforeSchemaValidate
	AfterSchemaValidate
	CheckPermissions
	BeforeData
	AfterData
	EnrichRecord
	EnrichAttributes
	Finish
	AfterCommit
	AfterRollback
)

// String returns the phase tag name.
func (p Phase) String() string {
	switch p {
	case BeforeProcessing:
		return "beforeProcessing"
	case BeforeSchemaValidate:
		return "beforeSchemaValidate"
	case AfterSchemaValidate:
		return "afterSchemaValidate"
	case CheckPermissions:
		return "checkPermissions"
	case BeforeData:
		return "beforeData"
	case AfterData:
		return "afterDataCall"
	case EnrichRecord:
		return "enrichRecord"
	case EnrichAttributes:
		return "enrichAttributes"
	case Finish:
		return "finish"
	case AfterCommit:
		return "afterCommit"
	case AfterRollback:
		return "afterRollback"
	default:
		return "unknown"
	}
}

// ErrSealed is returned when a handler mutates the record after the finish
// phase has begun.
var ErrSealed = errors.New("record is sealed once finish begins")

// Context is the shared phase context handlers may mutate. The record
// becomes immutable once the finish phase starts.
type Context struct {
	Method   access.Method
	Resource *schema.Resource
	Params   *plan.Params
	Filter   *plan.Filter
	Tx       *txn.Transaction
	Auth     access.Auth
	Meta     map[string]interface{}

	record map[string]interface{}
	sealed bool
}

// NewContext builds a phase context for one request.
func NewContext(method access.Method, res *schema.Resource) *Context {
	return &Context{
		Method:   method,
		Resource: res,
		Meta:     make(map[string]interface{}),
	}
}

// Record returns the in-flight record. After sealing, a copy is returned so
// late handlers cannot mutate the response.
func (c *Context) Record() map[string]interface{} {
	if !c.sealed {
		return c.record
	}
	copied := make(map[string]interface{}, len(c.record))
	for k, v := range c.record {
		copied[k] = v
	}
	return copied
}

// SetRecord replaces the in-flight record.
func (c *Context) SetRecord(record map[string]interface{}) error {
	if c.sealed {
		return ErrSealed
	}
	c.record = record
	return nil
}

// SetValue sets one record value.
func (c *Context) SetValue(key string, value interface{}) error {
	if c.sealed {
		return ErrSealed
	}
	if c.record == nil {
		c.record = make(map[string]interface{})
	}
	c.record[key] = value
	return nil
}

// Seal freezes the record for the finish phase.
func (c *Context) Seal() {
	c.sealed = true
}

// Func is a hook handler. Failures abort the in-flight request and propagate
// to the transaction owner.
type Func func(ctx context.Context, pc *Context) error

type handler struct {
	name   string
	order  int
	method *access.Method
	fn     Func
}

// Registry holds ordered handlers per phase. Registration happens at
// startup; dispatch is read-only and safe for concurrent requests.
type Registry struct {
	mu       sync.RWMutex
	handlers map[Phase][]handler
}

// NewRegistry creates an empty hook registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[Phase][]handler)}
}

// Register adds a named handler at a phase. Handlers run in ascending order,
// ties broken by name, so the declared order is stable.
func (r *Registry) Register(phase Phase, name string, order int, fn Func) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[phase] = append(r.handlers[phase], handler{name: name, order: order, fn: fn})
	r.sortPhase(phase)
}

// RegisterForMethod adds a handler that only runs for one method, the
// beforeData<Method> style of extension point.
func (r *Registry) RegisterForMethod(phase Phase, method access.Method, name string, order int, fn Func) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m := method
	r.handlers[phase] = append(r.handlers[phase], handler{name: name, order: order, method: &m, fn: fn})
	r.sortPhase(phase)
}

func (r *Registry) sortPhase(phase Phase) {
	hs := r.handlers[phase]
	sort.SliceStable(hs, func(i, j int) bool {
		if hs[i].order != hs[j].order {
			return hs[i].order < hs[j].order
		}
		return hs[i].name < hs[j].name
	})
}

// Run invokes every handler registered at the phase, in order. Method-scoped
// handlers run only when the phase context's method matches.
func (r *Registry) Run(ctx context.Context, phase Phase, pc *Context) error {
	r.mu.RLock()
	hs := r.handlers[phase]
	r.mu.RUnlock()

	if phase == Finish {
		pc.Seal()
	}
	for _, h := range hs {
		if h.method != nil && *h.method != pc.Method {
			continue
		}
		if err := h.fn(ctx, pc); err != nil {
			return err
		}
	}
	return nil
}
