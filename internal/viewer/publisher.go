// Package viewer streams the displayed scene to remote viewers over gRPC.
// Its Publisher is a scene.Renderer: every frame the surface renders is
// turned into a snapshot and broadcast to the connected clients.
package viewer

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"google.golang.org/grpc"

	"github.com/banshee-data/blockview/internal/monitoring"
	"github.com/banshee-data/blockview/internal/scene"
)

var logf = monitoring.Component("Viewer")

// Config configures the Publisher.
type Config struct {
	// ListenAddr is used by Start, e.g. "localhost:50061".
	ListenAddr string
	// MaxClients bounds concurrent streams; further clients are refused.
	MaxClients int
	// ClientBuffer is the number of frames queued per client before frames
	// are dropped for it.
	ClientBuffer int
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		ListenAddr:   "localhost:50061",
		MaxClients:   5,
		ClientBuffer: 16,
	}
}

type clientStream struct {
	id       string
	name     string
	frameCh  chan *SceneSnapshot
	needFull atomic.Bool
}

// Publisher turns rendered frames into snapshots and fans them out.
type Publisher struct {
	config Config
	server *grpc.Server

	frameChan chan *SceneSnapshot
	clients   map[string]*clientStream
	clientsMu sync.RWMutex

	// lastFull is the latest full snapshot; new clients start from it.
	fullMu     sync.RWMutex
	lastFull   *SceneSnapshot
	lastRootID string
	lastWidth  int
	lastHeight int
	resized    bool

	frameCount    atomic.Uint64
	fullCount     atomic.Uint64
	droppedFrames atomic.Uint64
	clientCount   atomic.Int32
	released      [3]atomic.Uint64

	running atomic.Bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewPublisher creates a Publisher. It accepts frames right away but only
// streams them once Start or Serve has been called.
func NewPublisher(cfg Config) *Publisher {
	if cfg.MaxClients <= 0 {
		cfg.MaxClients = DefaultConfig().MaxClients
	}
	if cfg.ClientBuffer <= 0 {
		cfg.ClientBuffer = DefaultConfig().ClientBuffer
	}
	return &Publisher{
		config:    cfg,
		frameChan: make(chan *SceneSnapshot, 100),
		clients:   make(map[string]*clientStream),
		stopCh:    make(chan struct{}),
	}
}

// Render implements scene.Renderer.
func (p *Publisher) Render(f scene.Frame) error {
	rootID := ""
	if f.Root != nil {
		rootID = f.Root.ID
	}

	p.fullMu.Lock()
	changed := p.lastFull == nil || rootID != p.lastRootID || p.resized ||
		f.Width != p.lastWidth || f.Height != p.lastHeight
	var snap *SceneSnapshot
	if changed {
		snap = fullSnapshot(f)
		p.lastFull = snap
		p.lastRootID = rootID
		p.lastWidth, p.lastHeight = f.Width, f.Height
		p.resized = false
		p.fullCount.Add(1)
	}
	p.fullMu.Unlock()

	if !p.running.Load() || p.clientCount.Load() == 0 {
		return nil
	}
	if snap == nil {
		snap = header(f)
	}

	select {
	case p.frameChan <- snap:
		p.frameCount.Add(1)
	default:
		p.droppedFrames.Add(1)
		if snap.Full {
			p.markAllNeedFull()
		}
	}
	return nil
}

// Resize implements scene.Renderer. The next frame is sent in full.
func (p *Publisher) Resize(width, height int) {
	p.fullMu.Lock()
	p.resized = true
	p.fullMu.Unlock()
	logf("viewport resized to %dx%d", width, height)
}

// Release implements scene.Renderer. Viewers hold no GPU resources of
// ours, so releasing only updates the counters.
func (p *Publisher) Release(r scene.Resource) {
	if k := int(r.Kind()) - 1; k >= 0 && k < len(p.released) {
		p.released[k].Add(1)
	}
}

// LastFull returns the latest full snapshot, or nil before the first frame.
func (p *Publisher) LastFull() *SceneSnapshot {
	p.fullMu.RLock()
	defer p.fullMu.RUnlock()
	return p.lastFull
}

// Start listens on the configured address and serves in the background.
func (p *Publisher) Start() error {
	lis, err := net.Listen("tcp", p.config.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	return p.Serve(lis)
}

// Serve serves the viewer service on lis in the background.
func (p *Publisher) Serve(lis net.Listener) error {
	if !p.running.CompareAndSwap(false, true) {
		return fmt.Errorf("publisher already running")
	}

	// Block scenes with many thousands of instances exceed the 4 MB default.
	const maxMsgSize = 16 << 20
	p.server = grpc.NewServer(grpc.MaxSendMsgSize(maxMsgSize))
	RegisterViewerServer(p.server, NewServer(p))

	p.wg.Add(2)
	go p.broadcastLoop()
	go func() {
		defer p.wg.Done()
		logf("gRPC server listening on %s", lis.Addr())
		if err := p.server.Serve(lis); err != nil && p.running.Load() {
			logf("gRPC server error: %v", err)
		}
	}()
	return nil
}

// Stop closes every stream and stops the server.
func (p *Publisher) Stop() {
	if !p.running.CompareAndSwap(true, false) {
		return
	}
	close(p.stopCh)
	if p.server != nil {
		p.server.Stop()
	}
	p.wg.Wait()
	logf("gRPC server stopped")
}

func (p *Publisher) broadcastLoop() {
	defer p.wg.Done()
	for {
		select {
		case <-p.stopCh:
			return
		case snap := <-p.frameChan:
			p.clientsMu.RLock()
			for _, c := range p.clients {
				p.deliver(c, snap)
			}
			p.clientsMu.RUnlock()
		}
	}
}

// deliver queues snap for c. A client that missed a full snapshot gets the
// latest one in place of its next frame.
func (p *Publisher) deliver(c *clientStream, snap *SceneSnapshot) {
	msg := snap
	if !snap.Full && c.needFull.Load() {
		if full := p.LastFull(); full != nil {
			msg = full
		}
	}
	select {
	case c.frameCh <- msg:
		if msg.Full {
			c.needFull.Store(false)
		}
	default:
		p.droppedFrames.Add(1)
		if msg.Full {
			c.needFull.Store(true)
		}
	}
}

func (p *Publisher) markAllNeedFull() {
	p.clientsMu.RLock()
	defer p.clientsMu.RUnlock()
	for _, c := range p.clients {
		c.needFull.Store(true)
	}
}

// addClient registers a stream. It fails once MaxClients are connected.
func (p *Publisher) addClient(id, name string) (*clientStream, error) {
	p.clientsMu.Lock()
	defer p.clientsMu.Unlock()
	if len(p.clients) >= p.config.MaxClients {
		return nil, fmt.Errorf("too many viewers (%d)", p.config.MaxClients)
	}
	c := &clientStream{
		id:      id,
		name:    name,
		frameCh: make(chan *SceneSnapshot, p.config.ClientBuffer),
	}
	c.needFull.Store(true)
	p.clients[id] = c
	p.clientCount.Add(1)
	logf("client connected: %s %q (total: %d)", id, name, len(p.clients))
	return c, nil
}

func (p *Publisher) removeClient(id string) {
	p.clientsMu.Lock()
	defer p.clientsMu.Unlock()
	if _, ok := p.clients[id]; !ok {
		return
	}
	delete(p.clients, id)
	p.clientCount.Add(-1)
	logf("client disconnected: %s (remaining: %d)", id, len(p.clients))
}

// PublisherStats contains publisher statistics.
type PublisherStats struct {
	Frames        uint64 `json:"frames"`
	FullSnapshots uint64 `json:"fullSnapshots"`
	Dropped       uint64 `json:"dropped"`
	Clients       int32  `json:"clients"`
	Released      uint64 `json:"released"`
	Running       bool   `json:"running"`
}

// Stats returns current publisher statistics.
func (p *Publisher) Stats() PublisherStats {
	var released uint64
	for i := range p.released {
		released += p.released[i].Load()
	}
	return PublisherStats{
		Frames:        p.frameCount.Load(),
		FullSnapshots: p.fullCount.Load(),
		Dropped:       p.droppedFrames.Load(),
		Clients:       p.clientCount.Load(),
		Released:      released,
		Running:       p.running.Load(),
	}
}
