package ir

import (
	"sync"

	"github.com/wippyai/gpujit/diag"
	"github.com/wippyai/gpujit/types"
	"go.uber.org/zap"
)

// Context owns the lifetime of every type, method, and block produced for
// a single compilation universe. A Context is not safe for concurrent
// mutation: compiling distinct methods in distinct contexts
// may proceed in parallel, but one context is single-threaded cooperative.
type Context struct {
	Types *types.Interner

	mu       sync.Mutex
	methods  map[Handle]*Method
	nextVal  int
	nextBlk  int
	log      *zap.Logger
}

// NewContext creates an empty IR context with its own type interner.
func NewContext() *Context {
	return NewContextWith(types.NewInterner())
}

// NewContextWith creates an empty IR context around an existing type
// interner, for callers that build types (fixture resolvers, parsers)
// before the context exists.
func NewContextWith(in *types.Interner) *Context {
	return &Context{
		Types:   in,
		methods: make(map[Handle]*Method),
		log:     diag.Logger(),
	}
}

// CreateMethod registers a new method by handle. Returns *diag.Error{Kind: DuplicateMethod} if the
// handle is already registered.
func (c *Context) CreateMethod(decl Declaration, paramTypes []*types.Type) (*Method, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.methods[decl.Handle]; exists {
		return nil, diag.DuplicateMethod(string(decl.Handle))
	}

	m := &Method{Declaration: decl, context: c}
	m.Entry = c.newBlockLocked(m, "entry")
	for i, pt := range paramTypes {
		m.Params = append(m.Params, &Value{
			ID:    c.nextValueIDLocked(),
			Type:  pt,
			Block: nil, // parameters are not owned by a block
			Kind:  KParam,
			Imm:   i,
			users: make(map[*Value]int),
		})
	}
	c.methods[decl.Handle] = m

	c.log.Debug("method created",
		zap.String("handle", string(decl.Handle)),
		zap.Int("params", len(paramTypes)))

	return m, nil
}

// Lookup returns a previously created method by handle.
func (c *Context) Lookup(h Handle) (*Method, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.methods[h]
	return m, ok
}

// NewBlock creates a new, unattached basic block owned by m. Builders use
// this when splitting or appending blocks.
func (c *Context) NewBlock(m *Method, name string) *Block {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.newBlockLocked(m, name)
}

func (c *Context) newBlockLocked(m *Method, name string) *Block {
	b := &Block{ID: c.nextBlk, Name: name, Method: m}
	c.nextBlk++
	m.blocks = append(m.blocks, b)
	return b
}

// NextValueID returns the next globally unique value id.
func (c *Context) NextValueID() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nextValueIDLocked()
}

func (c *Context) nextValueIDLocked() int {
	id := c.nextVal
	c.nextVal++
	return id
}

// CreateBuilder acquires the exclusive builder for m. Returns *diag.Error{Kind: BuilderInUse} if another
// builder is already live.
func (c *Context) CreateBuilder(m *Method) (*Builder, error) {
	if !m.tryAcquireBuilder() {
		return nil, diag.BuilderInUse(m.Name())
	}
	return &Builder{ctx: c, method: m, cur: m.Entry}, nil
}
