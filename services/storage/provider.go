package storage

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/sahilchouksey/study-ingest/utils"
)

// Factory builds a fresh backend client
type Factory func(ctx context.Context) (ObjectStorage, error)

// ClientProvider holds one backend client and re-creates it once it is older
// than maxAge. It satisfies ObjectStorage itself so callers never see the swap.
// A replaced client is closed only after the last call using it returns.
type ClientProvider struct {
	factory Factory
	maxAge  time.Duration
	log     *utils.Logger
	now     func() time.Time

	mu      sync.Mutex
	current *lease
}

// lease tracks the calls running on one client
type lease struct {
	client    ObjectStorage
	createdAt time.Time
	refs      int
	retired   bool
}

// NewClientProvider wraps factory; maxAge <= 0 keeps the first client forever
func NewClientProvider(factory Factory, maxAge time.Duration, log *utils.Logger) *ClientProvider {
	return &ClientProvider{
		factory: factory,
		maxAge:  maxAge,
		log:     log,
		now:     time.Now,
	}
}

// acquire returns the live client, creating or replacing it when needed. The
// caller must hand the lease back with release.
func (p *ClientProvider) acquire(ctx context.Context) (*lease, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if cur := p.current; cur != nil && (p.maxAge <= 0 || p.now().Sub(cur.createdAt) < p.maxAge) {
		cur.refs++
		return cur, nil
	}

	client, err := p.factory(ctx)
	if err != nil {
		return nil, err
	}

	if old := p.current; old != nil {
		p.log.Debug("recycling storage client", "provider", old.client.Provider(), "age", p.now().Sub(old.createdAt), "in_flight", old.refs)
		old.retired = true
		if old.refs == 0 {
			p.closeClient(old.client)
		}
	}

	p.current = &lease{client: client, createdAt: p.now(), refs: 1}
	return p.current, nil
}

// Init creates the first client so bad credentials surface at startup
func (p *ClientProvider) Init(ctx context.Context) error {
	l, err := p.acquire(ctx)
	if err != nil {
		return err
	}
	p.release(l)
	return nil
}

func (p *ClientProvider) release(l *lease) {
	p.mu.Lock()
	l.refs--
	closeNow := l.retired && l.refs == 0
	p.mu.Unlock()

	if closeNow {
		p.closeClient(l.client)
	}
}

func (p *ClientProvider) closeClient(client ObjectStorage) {
	if closer, ok := client.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			p.log.Warn("failed to close old storage client", "error", err)
		}
	}
}

func (p *ClientProvider) Download(ctx context.Context, key string) ([]byte, error) {
	l, err := p.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer p.release(l)
	return l.client.Download(ctx, key)
}

func (p *ClientProvider) Delete(ctx context.Context, key string) error {
	l, err := p.acquire(ctx)
	if err != nil {
		return err
	}
	defer p.release(l)
	return l.client.Delete(ctx, key)
}

func (p *ClientProvider) Put(ctx context.Context, key string, body io.Reader, contentType string) error {
	l, err := p.acquire(ctx)
	if err != nil {
		return err
	}
	defer p.release(l)
	return l.client.Put(ctx, key, body, contentType)
}

func (p *ClientProvider) SignedUploadURL(ctx context.Context, key, contentType string, expiry time.Duration) (string, error) {
	l, err := p.acquire(ctx)
	if err != nil {
		return "", err
	}
	defer p.release(l)
	return l.client.SignedUploadURL(ctx, key, contentType, expiry)
}

func (p *ClientProvider) Provider() string {
	l, err := p.acquire(context.Background())
	if err != nil {
		return "unavailable"
	}
	defer p.release(l)
	return l.client.Provider()
}
