package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/zeusync/railgrind/internal/config"
	"github.com/zeusync/railgrind/internal/core/events/bus"
	"github.com/zeusync/railgrind/internal/core/heartbeat"
	"github.com/zeusync/railgrind/internal/core/observability/log"
	"github.com/zeusync/railgrind/internal/core/rail"
)

const commandQueueSize = 64

// EventTrackReloaded is published on the default topic whenever a new track is swapped in.
const EventTrackReloaded = "track.reloaded"

// TrackInfo summarises the current track.
type TrackInfo struct {
	Name        string  `json:"name"`
	Segments    int     `json:"segments"`
	Length      float64 `json:"length"`
	Fingerprint string  `json:"fingerprint"`
}

func trackInfo(t *rail.Track) TrackInfo {
	return TrackInfo{
		Name:        t.Name,
		Segments:    t.Len(),
		Length:      t.TotalLength(),
		Fingerprint: strconv.FormatUint(t.Fingerprint(), 16),
	}
}

// Server runs grinders over a track on a heartbeat and publishes their state
// over HTTP and websocket.
//
// Grinders are only touched from the heartbeat goroutine once Run has started;
// other goroutines reach them through Do, which queues work for the next step.
type Server struct {
	config    config.Config
	logger    log.Log
	events    bus.EventBus
	heartbeat *heartbeat.Heartbeat
	hub       *Hub

	track    atomic.Pointer[rail.Track]
	grinders map[string]*rail.Grinder
	starts   map[string]config.GrinderConfig
	held     map[string]bool // disabled by command, not restarted
	commands chan func()

	running   atomic.Bool
	addrMu    sync.Mutex
	addr      net.Addr
	listening chan struct{}
}

// NewServer creates a server. The track is loaded by Run unless SetTrack was called first.
func NewServer(cfg config.Config, logger log.Log, events bus.EventBus, hb *heartbeat.Heartbeat) (*Server, error) {
	if logger == nil {
		logger = log.Provide()
	}
	if events == nil {
		events = bus.New()
	}
	if hb == nil {
		hb = heartbeat.New()
	}
	hub, err := NewHub(events, logger)
	if err != nil {
		return nil, err
	}
	s := &Server{
		config:    cfg,
		logger:    logger,
		events:    events,
		heartbeat: hb,
		hub:       hub,
		grinders:  make(map[string]*rail.Grinder),
		starts:    make(map[string]config.GrinderConfig),
		held:      make(map[string]bool),
		commands:  make(chan func(), commandQueueSize),
		listening: make(chan struct{}),
	}
	events.AddObserver(newDeliveryLogger(logger))
	// connected before any grinder so queued commands apply ahead of movement
	hb.Connect(s.drainCommands)
	return s, nil
}

func (s *Server) Heartbeat() *heartbeat.Heartbeat { return s.heartbeat }
func (s *Server) Hub() *Hub                       { return s.hub }
func (s *Server) Track() *rail.Track              { return s.track.Load() }

// SetTrack replaces the track. Grinders pick it up at their next segment boundary.
func (s *Server) SetTrack(t *rail.Track) {
	s.track.Store(t)
}

// ReloadTrack reads the configured track file and swaps it in when its
// fingerprint differs from the current one.
func (s *Server) ReloadTrack() (bool, error) {
	t, err := rail.LoadTrackFile(s.config.TrackFile)
	if err != nil {
		return false, err
	}
	if cur := s.Track(); cur != nil && cur.Fingerprint() == t.Fingerprint() {
		return false, nil
	}
	s.SetTrack(t)
	info := trackInfo(t)
	s.logger.Info("track loaded",
		log.String("track", info.Name),
		log.Int("segments", info.Segments),
		log.Float64("length", info.Length),
		log.String("fingerprint", info.Fingerprint),
	)
	if err = s.events.Publish(bus.NewEvent(EventTrackReloaded, "server", info)); err != nil {
		s.logger.Warn("track reload handler failed", log.Error(err))
	}
	return true, nil
}

// GrinderIDs returns the configured grinder ids in sorted order.
func (s *Server) GrinderIDs() []string {
	ids := make([]string, 0, len(s.grinders))
	for id := range s.grinders {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// StartGrinders creates and enables every configured grinder. Run calls it;
// callers that step the heartbeat themselves call it directly.
func (s *Server) StartGrinders() error {
	if s.Track() == nil {
		return ErrNoTrack
	}
	for _, gc := range s.config.Grinders {
		if _, exists := s.grinders[gc.ID]; exists {
			continue
		}
		g := rail.NewGrinder(
			rail.WithID(gc.ID),
			rail.WithLogger(s.logger),
			rail.WithEventBus(s.events),
			rail.WithHeartbeat(s.heartbeat),
			rail.WithResolver(rail.ResolverFor(s.Track, gc.Loop)),
			rail.WithSpeed(gc.Speed),
		)
		s.grinders[gc.ID] = g
		s.starts[gc.ID] = gc

		if gc.Restart {
			gc := gc
			// the restart runs on the next step, after every completed
			// handler has seen the grinder disabled
			if _, err := g.OnCompleted(func() {
				if s.held[gc.ID] {
					return
				}
				queued := s.queue(func() {
					if err := s.enable(g, gc); err != nil {
						s.logger.Warn("grinder restart failed", log.String("grinder_id", gc.ID), log.Error(err))
					}
				})
				if !queued {
					s.logger.Warn("grinder restart dropped", log.String("grinder_id", gc.ID), log.Error(ErrCommandQueueFull))
				}
			}); err != nil {
				return err
			}
		}
		if err := s.enable(g, gc); err != nil {
			return fmt.Errorf("start grinder %s: %w", gc.ID, err)
		}
	}
	return nil
}

func (s *Server) enable(g *rail.Grinder, gc config.GrinderConfig) error {
	t := s.Track()
	if t == nil {
		return ErrNoTrack
	}
	start := t.First()
	if gc.Segment != "" {
		seg, ok := t.Segment(gc.Segment)
		if !ok {
			return fmt.Errorf("%w: %s", ErrSegmentNotFound, gc.Segment)
		}
		start = seg
	}
	return g.Enable(start, gc.VesselBody())
}

// Do validates cmd and queues it for the next heartbeat step.
func (s *Server) Do(cmd Command) error {
	g, ok := s.grinders[cmd.Grinder]
	if !ok {
		return fmt.Errorf("%w: %s", ErrGrinderNotFound, cmd.Grinder)
	}
	var fn func()
	switch cmd.Action {
	case ActionSetSpeed:
		speed := cmd.Speed
		fn = func() { g.SetSpeed(speed) }
	case ActionDisable:
		fn = func() {
			s.held[cmd.Grinder] = true
			g.Disable()
		}
	case ActionEnable:
		gc := s.starts[cmd.Grinder]
		if cmd.Segment != "" {
			gc.Segment = cmd.Segment
		}
		fn = func() {
			s.held[cmd.Grinder] = false
			if err := s.enable(g, gc); err != nil {
				s.logger.Warn("enable command failed", log.String("grinder_id", cmd.Grinder), log.Error(err))
			}
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownAction, cmd.Action)
	}

	if !s.queue(fn) {
		return ErrCommandQueueFull
	}
	return nil
}

func (s *Server) queue(fn func()) bool {
	select {
	case s.commands <- fn:
		return true
	default:
		return false
	}
}

func (s *Server) drainCommands(float64) {
	for {
		select {
		case fn := <-s.commands:
			fn()
		default:
			return
		}
	}
}

// Addr blocks until Run is listening and returns the bound address, or nil if ctx ends first.
func (s *Server) Addr(ctx context.Context) net.Addr {
	select {
	case <-s.listening:
		s.addrMu.Lock()
		defer s.addrMu.Unlock()
		return s.addr
	case <-ctx.Done():
		return nil
	}
}

// Run loads the track, starts the grinders and serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrServerAlreadyRunning
	}
	defer s.running.Store(false)

	if s.Track() == nil {
		if _, err := s.ReloadTrack(); err != nil {
			return err
		}
	}
	if err := s.StartGrinders(); err != nil {
		return err
	}

	ln, err := net.Listen("tcp", s.config.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.config.ListenAddr, err)
	}
	s.addrMu.Lock()
	s.addr = ln.Addr()
	s.addrMu.Unlock()
	close(s.listening)

	httpServer := &http.Server{Handler: s.Handler()}
	s.logger.Info("server started",
		log.String("addr", ln.Addr().String()),
		log.Int("tick_rate", s.config.TickRate),
		log.Int("grinders", len(s.grinders)),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := s.heartbeat.Run(gctx, s.config.TickRate)
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		if err := httpServer.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		s.hub.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	if s.config.WatchTrack {
		g.Go(func() error { return s.watchTrack(gctx) })
	}

	err = g.Wait()
	s.logger.Info("server stopped")
	return err
}

func (s *Server) watchTrack(ctx context.Context) error {
	w, err := config.NewWatcher(s.config.TrackFile)
	if err != nil {
		return fmt.Errorf("watch track: %w", err)
	}
	defer w.Close()

	for {
		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-w.Events:
			if !ok {
				return nil
			}
			changed, err := s.ReloadTrack()
			if err != nil {
				// keep the old track until the file is fixed
				s.logger.Warn("track reload failed", log.Error(err))
				continue
			}
			if !changed {
				s.logger.Debug("track file changed without geometry changes")
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("track watcher error", log.Error(err))
		}
	}
}
