package compress

import "sync"

// poolKey identifies codec identity for reuse: algorithm and level, never
// allocation call order (spec §9 Open Question (a): the source's
// alloc_zlib round-robin attributed pool slots by the order allocations
// happened to occur in, which silently mixed up codecs of different
// identity under concurrent reuse patterns; keying on (algorithm, level)
// instead makes reuse depend only on what was requested).
type poolKey struct {
	algo  Algorithm
	level int
}

// Pool hands out Codec instances, reusing an idle one of matching
// (algorithm, level) identity when available.
type Pool struct {
	mu    sync.Mutex
	pools map[poolKey]*sync.Pool
}

// NewPool returns an empty Pool.
func NewPool() *Pool {
	return &Pool{pools: make(map[poolKey]*sync.Pool)}
}

func (p *Pool) poolFor(key poolKey) *sync.Pool {
	p.mu.Lock()
	defer p.mu.Unlock()
	sp, ok := p.pools[key]
	if !ok {
		sp = &sync.Pool{}
		p.pools[key] = sp
	}
	return sp
}

// Get returns a Codec for (algo, level), reusing an idle instance if one
// of that exact identity is available, or constructing a fresh one
// otherwise.
func (p *Pool) Get(algo Algorithm, level int) (Codec, error) {
	sp := p.poolFor(poolKey{algo, level})
	if v := sp.Get(); v != nil {
		c := v.(Codec)
		if err := c.Reset(); err != nil {
			return nil, err
		}
		if err := c.Init(level); err != nil {
			return nil, err
		}
		return c, nil
	}
	c, err := NewCodec(algo)
	if err != nil {
		return nil, err
	}
	if err := c.Init(level); err != nil {
		return nil, err
	}
	return c, nil
}

// Put returns c to the pool under (algo, level), ending its stream state
// first so no buffered output leaks to the next borrower.
func (p *Pool) Put(algo Algorithm, level int, c Codec) {
	c.End()
	sp := p.poolFor(poolKey{algo, level})
	sp.Put(c)
}
