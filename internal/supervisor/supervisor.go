// Package supervisor starts, health-checks and stops tool servers. It keeps
// at most one live process per server id; a second Start for an id that is
// starting or running joins the existing attempt instead of spawning.
package supervisor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/siderolabs/go-retry/retry"
	"golang.org/x/sync/errgroup"

	"toolbridge/internal/fsservice"
	"toolbridge/internal/logging"
	"toolbridge/internal/mcp"
	"toolbridge/internal/pathguard"
	"toolbridge/internal/tools"
)

// Options tunes process supervision.
type Options struct {
	// ReadyInterval is the pause between readiness checks and the timeout
	// of a single check.
	ReadyInterval time.Duration
	// ReadyRetries bounds the readiness window to ReadyRetries*ReadyInterval.
	ReadyRetries int
	// StopGrace is how long a terminated process may take before it is killed.
	StopGrace time.Duration
	// CallTimeout bounds every RPC call that has no earlier deadline.
	CallTimeout time.Duration
	// LogLines is the number of output lines kept per server.
	LogLines int
	// RestartBackoff is how long Ensure reports a failed start before it
	// launches the server again. Start always relaunches.
	RestartBackoff time.Duration
}

// DefaultOptions returns the supervision defaults.
func DefaultOptions() Options {
	return Options{
		ReadyInterval:  500 * time.Millisecond,
		ReadyRetries:   20,
		StopGrace:      5 * time.Second,
		CallTimeout:    30 * time.Second,
		LogLines:       DefaultLogLines,
		RestartBackoff: time.Minute,
	}
}

// Info is a snapshot of one supervised server.
type Info struct {
	ID        string
	Name      string
	Transport mcp.Transport
	Status    mcp.ServerStatus
	Pid       int
	Endpoint  string
	StartedAt time.Time
	Uptime    time.Duration
	LastError string
	FailedAt  time.Time
}

type process struct {
	config    mcp.ServerConfig
	status    mcp.ServerStatus
	cmd       *exec.Cmd
	client    mcp.Client
	kill      func(force bool)
	endpoint  string
	startedAt time.Time
	lastErr   error
	failedAt  time.Time
	stopping  bool
	cancel    context.CancelFunc

	ready    chan struct{} // closed once the start attempt resolves
	exited   chan struct{} // closed once the server is gone
	exitOnce sync.Once
}

func (p *process) markExited() {
	p.exitOnce.Do(func() { close(p.exited) })
}

// launched is what a transport-specific launcher hands back.
type launched struct {
	cmd      *exec.Cmd
	client   mcp.Client
	kill     func(force bool)
	endpoint string
}

// Supervisor owns the server processes.
type Supervisor struct {
	opts Options

	mu       sync.Mutex
	procs    map[string]*process
	logs     map[string]*logRing
	onStatus []func(Info)
	closed   bool
}

// New creates a supervisor. Zero option fields take their defaults.
func New(opts Options) *Supervisor {
	def := DefaultOptions()
	if opts.ReadyInterval <= 0 {
		opts.ReadyInterval = def.ReadyInterval
	}
	if opts.ReadyRetries <= 0 {
		opts.ReadyRetries = def.ReadyRetries
	}
	if opts.StopGrace <= 0 {
		opts.StopGrace = def.StopGrace
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = def.CallTimeout
	}
	if opts.LogLines <= 0 {
		opts.LogLines = def.LogLines
	}
	if opts.RestartBackoff <= 0 {
		opts.RestartBackoff = def.RestartBackoff
	}
	return &Supervisor{
		opts:  opts,
		procs: make(map[string]*process),
		logs:  make(map[string]*logRing),
	}
}

// OnStatus registers fn to receive every status transition. fn runs on the
// goroutine that caused the transition and must not call back into Start or Stop.
func (s *Supervisor) OnStatus(fn func(Info)) {
	s.mu.Lock()
	s.onStatus = append(s.onStatus, fn)
	s.mu.Unlock()
}

func (s *Supervisor) notify(info Info) {
	s.mu.Lock()
	hooks := slices.Clone(s.onStatus)
	s.mu.Unlock()
	for _, fn := range hooks {
		fn(info)
	}
}

func (s *Supervisor) infoLocked(p *process) Info {
	info := Info{
		ID:        p.config.ID,
		Name:      p.config.DisplayName(),
		Transport: p.config.TransportKind(),
		Status:    p.status,
		Endpoint:  p.endpoint,
		StartedAt: p.startedAt,
	}
	if p.cmd != nil && p.cmd.Process != nil {
		info.Pid = p.cmd.Process.Pid
	}
	if p.status == mcp.StatusRunning && !p.startedAt.IsZero() {
		info.Uptime = time.Since(p.startedAt)
	}
	if p.lastErr != nil {
		info.LastError = p.lastErr.Error()
	}
	info.FailedAt = p.failedAt
	return info
}

func (s *Supervisor) ringLocked(id string) *logRing {
	ring, ok := s.logs[id]
	if !ok {
		ring = newLogRing(s.opts.LogLines)
		s.logs[id] = ring
	}
	return ring
}

// Start launches the server described by cfg and waits until it is ready.
// If the server is already starting or running, Start waits for that
// attempt and returns its outcome. A failed start leaves the server in
// the failed state with no process behind it.
func (s *Supervisor) Start(ctx context.Context, cfg mcp.ServerConfig) (Info, error) {
	if err := cfg.Validate(); err != nil {
		return Info{}, err
	}
	log := logging.Get(logging.CategorySupervisor)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return Info{}, fmt.Errorf("%w: supervisor is shut down", tools.ErrServerStopped)
	}
	if p, ok := s.procs[cfg.ID]; ok && (p.status == mcp.StatusStarting || p.status == mcp.StatusRunning) {
		s.mu.Unlock()
		if !p.config.Equal(cfg) {
			log.Warn("Server %s is already %s with a different config; stop it first to apply changes", cfg.ID, p.status)
		}
		return s.await(ctx, p)
	}

	startCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	p := &process{
		config: cfg,
		status: mcp.StatusStarting,
		cancel: cancel,
		ready:  make(chan struct{}),
		exited: make(chan struct{}),
	}
	s.procs[cfg.ID] = p
	ring := s.ringLocked(cfg.ID)
	info := s.infoLocked(p)
	s.mu.Unlock()

	log.Info("Starting server %s (%s)", cfg.ID, cfg.TransportKind())
	s.notify(info)

	err := s.launch(startCtx, p, ring)

	s.mu.Lock()
	if err != nil {
		p.status = mcp.StatusFailed
		p.lastErr = err
		p.failedAt = time.Now()
	} else {
		p.status = mcp.StatusRunning
		p.startedAt = time.Now()
	}
	close(p.ready)
	info = s.infoLocked(p)
	s.mu.Unlock()

	if err != nil {
		log.Error("Server %s failed to start: %v", cfg.ID, err)
	} else {
		log.Info("Server %s running (pid %d)", cfg.ID, info.Pid)
	}
	s.notify(info)
	return info, err
}

// await waits for an in-progress start of p.
func (s *Supervisor) await(ctx context.Context, p *process) (Info, error) {
	select {
	case <-p.ready:
	case <-ctx.Done():
		return Info{}, ctx.Err()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	info := s.infoLocked(p)
	switch p.status {
	case mcp.StatusRunning:
		return info, nil
	case mcp.StatusFailed:
		return info, p.lastErr
	default:
		return info, fmt.Errorf("%w: %s", tools.ErrServerStopped, p.config.ID)
	}
}

// launch spawns or connects the server and polls it until ready. On
// failure nothing is left running.
func (s *Supervisor) launch(ctx context.Context, p *process, ring *logRing) error {
	var (
		l   *launched
		err error
	)
	switch cfg := p.config; {
	case cfg.TransportKind() == mcp.TransportBuiltin:
		l, err = s.startBuiltin(p, ring)
	case cfg.TransportKind() == mcp.TransportHTTP && cfg.Command == "":
		l = s.connectRemote(p)
	default:
		l, err = s.spawn(p, ring)
	}
	if err != nil {
		p.markExited()
		return err
	}

	s.mu.Lock()
	p.cmd, p.client, p.kill, p.endpoint = l.cmd, l.client, l.kill, l.endpoint
	s.mu.Unlock()

	if err := s.awaitReady(ctx, p, l.client); err != nil {
		_ = s.terminate(context.Background(), p)
		return err
	}
	return nil
}

// awaitReady polls the server every ReadyInterval until it answers. HTTP
// servers are checked on their health endpoint, stdio servers with a
// listTools handshake.
func (s *Supervisor) awaitReady(ctx context.Context, p *process, client mcp.Client) error {
	id := p.config.ID
	interval := s.opts.ReadyInterval
	var crashed error

	check := func(ctx context.Context) error {
		select {
		case <-p.exited:
			crashed = fmt.Errorf("%w: %s exited during startup", tools.ErrProcessCrashed, id)
			return crashed
		default:
		}

		pctx, cancel := context.WithTimeout(ctx, interval)
		defer cancel()
		var err error
		if hc, ok := client.(*mcp.HTTPClient); ok {
			err = hc.Health(pctx)
		} else {
			_, err = client.ListTools(pctx)
		}
		if err == nil {
			return nil
		}
		if errors.Is(err, tools.ErrProcessCrashed) {
			crashed = err
			return err
		}
		logging.Get(logging.CategorySupervisor).Debug("Server %s not ready: %v", id, err)
		return retry.ExpectedError(err)
	}

	window := interval * time.Duration(s.opts.ReadyRetries)
	err := retry.Constant(window, retry.WithUnits(interval)).RetryWithContext(ctx, check)
	switch {
	case err == nil:
		return nil
	case crashed != nil:
		return crashed
	case ctx.Err() != nil:
		return fmt.Errorf("start of %s aborted: %w", id, ctx.Err())
	default:
		return fmt.Errorf("%w: %s not ready after %s: %v", tools.ErrProcessStartTimeout, id, window, err)
	}
}

// spawn starts a child process. Stdio servers talk over stdin/stdout;
// HTTP servers have both output streams captured into the log ring.
func (s *Supervisor) spawn(p *process, ring *logRing) (*launched, error) {
	cfg := p.config
	name, args := resolveLaunch(cfg.Command, cfg.Args)

	cmd := exec.Command(name, args...)
	cmd.Dir = cfg.WorkDir
	cmd.Env = buildEnv(os.Environ(), cfg.Env)
	setupProcessGroup(cmd)

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	stdio := cfg.TransportKind() == mcp.TransportStdio
	var stdin io.WriteCloser
	if stdio {
		if stdin, err = cmd.StdinPipe(); err != nil {
			return nil, err
		}
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s (%s): %w", cfg.ID, name, err)
	}
	logging.Get(logging.CategorySupervisor).Debug("Spawned %s: %s %v (pid %d)", cfg.ID, name, args, cmd.Process.Pid)

	var drains sync.WaitGroup
	drains.Add(2)
	go func() {
		defer drains.Done()
		pump(stderr, ring)
	}()

	l := &launched{cmd: cmd, kill: func(force bool) { _ = signalGroup(cmd, force) }}
	if stdio {
		client := mcp.NewStdioClient(cfg.ID, stdin, stdout,
			mcp.WithCallTimeout(s.opts.CallTimeout), mcp.WithNoiseHandler(ring.Add))
		l.client = client
		go func() {
			defer drains.Done()
			<-client.Done()
		}()
	} else {
		l.endpoint = cfg.Endpoint()
		l.client = mcp.NewHTTPClient(cfg.ID, l.endpoint, cfg.APIKey, s.opts.CallTimeout)
		go func() {
			defer drains.Done()
			pump(stdout, ring)
		}()
	}

	// Wait must follow the last read from the pipes.
	go func() {
		drains.Wait()
		s.exited(p, cmd.Wait())
	}()
	return l, nil
}

// startBuiltin serves the in-process filesystem service over a pipe pair
// so it is reached through the same client as a spawned stdio server.
func (s *Supervisor) startBuiltin(p *process, ring *logRing) (*launched, error) {
	cfg := p.config
	allowed, err := pathguard.New(cfg.AllowedDirectories()...)
	if err != nil {
		return nil, fmt.Errorf("server %s: %w", cfg.ID, err)
	}
	registry := tools.NewRegistry()
	if err := fsservice.New(allowed).Register(registry); err != nil {
		return nil, err
	}
	srv := mcp.NewServer(cfg.ID, registry)

	clientIn, serverOut := io.Pipe()
	serverIn, clientOut := io.Pipe()
	client := mcp.NewStdioClient(cfg.ID, clientOut, clientIn,
		mcp.WithCallTimeout(s.opts.CallTimeout), mcp.WithNoiseHandler(ring.Add))

	go func() {
		err := srv.ServeStdio(context.Background(), serverIn, serverOut)
		serverOut.Close()
		<-client.Done()
		s.exited(p, err)
	}()
	return &launched{client: client, kill: func(bool) { _ = clientOut.Close() }}, nil
}

// connectRemote attaches to an HTTP server this supervisor does not own.
func (s *Supervisor) connectRemote(p *process) *launched {
	endpoint := p.config.Endpoint()
	return &launched{
		client:   mcp.NewHTTPClient(p.config.ID, endpoint, p.config.APIKey, s.opts.CallTimeout),
		kill:     func(bool) { p.markExited() },
		endpoint: endpoint,
	}
}

// exited runs once the server behind p is gone. An exit nobody asked for
// removes the entry so the server can be started again.
func (s *Supervisor) exited(p *process, waitErr error) {
	p.markExited()
	id := p.config.ID

	s.mu.Lock()
	crashed := p.status == mcp.StatusRunning && !p.stopping
	if crashed {
		p.status = mcp.StatusFailed
		p.lastErr = fmt.Errorf("%w: %s exited unexpectedly", tools.ErrProcessCrashed, id)
		if waitErr != nil {
			p.lastErr = fmt.Errorf("%w: %s: %v", tools.ErrProcessCrashed, id, waitErr)
		}
		if s.procs[id] == p {
			delete(s.procs, id)
		}
	}
	ring := s.ringLocked(id)
	client := p.client
	info := s.infoLocked(p)
	s.mu.Unlock()

	if waitErr != nil {
		ring.Add(fmt.Sprintf("[supervisor] process exited: %v", waitErr))
	}
	if !crashed {
		return
	}
	logging.Get(logging.CategorySupervisor).Warn("Server %s crashed: %v", id, info.LastError)
	if client != nil {
		_ = client.Close()
	}
	s.notify(info)
}

// terminate closes the client, asks the server to exit and kills it after
// the grace period.
func (s *Supervisor) terminate(ctx context.Context, p *process) error {
	s.mu.Lock()
	client, kill := p.client, p.kill
	s.mu.Unlock()

	if client != nil {
		_ = client.Close()
	}
	if kill == nil {
		p.markExited()
		return nil
	}

	select {
	case <-p.exited:
		return nil
	default:
	}
	kill(false)

	grace := time.NewTimer(s.opts.StopGrace)
	defer grace.Stop()
	select {
	case <-p.exited:
		return nil
	case <-grace.C:
		logging.Get(logging.CategorySupervisor).Warn("Server %s did not exit within %s, killing", p.config.ID, s.opts.StopGrace)
	case <-ctx.Done():
	}
	kill(true)

	select {
	case <-p.exited:
		return nil
	case <-time.After(s.opts.StopGrace):
		return fmt.Errorf("server %s did not exit after kill", p.config.ID)
	}
}

// Stop terminates a server and removes it once it has exited. Calls in
// flight fail with ErrServerStopped.
func (s *Supervisor) Stop(ctx context.Context, id string) error {
	s.mu.Lock()
	p, ok := s.procs[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", tools.ErrServerNotFound, id)
	}
	p.stopping = true
	cancel := p.cancel
	s.mu.Unlock()

	cancel()
	select {
	case <-p.ready:
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := s.terminate(ctx, p); err != nil {
		return err
	}

	s.mu.Lock()
	if s.procs[id] == p {
		delete(s.procs, id)
	}
	p.status = mcp.StatusStopped
	info := s.infoLocked(p)
	s.mu.Unlock()

	logging.Get(logging.CategorySupervisor).Info("Stopped server %s", id)
	s.notify(info)
	return nil
}

// Status reports the state of a server; ok is false when no entry exists.
func (s *Supervisor) Status(id string) (mcp.ServerStatus, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.procs[id]; ok {
		return p.status, true
	}
	return "", false
}

// Get returns a snapshot of one server.
func (s *Supervisor) Get(id string) (Info, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.procs[id]; ok {
		return s.infoLocked(p), true
	}
	return Info{}, false
}

// List returns snapshots of every server, sorted by id.
func (s *Supervisor) List() []Info {
	s.mu.Lock()
	out := make([]Info, 0, len(s.procs))
	for _, p := range s.procs {
		out = append(out, s.infoLocked(p))
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Logs returns up to limit recent output lines of a server, oldest first.
// Lines survive restarts and crashes.
func (s *Supervisor) Logs(id string, limit int) ([]string, error) {
	s.mu.Lock()
	ring, ok := s.logs[id]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", tools.ErrServerNotFound, id)
	}
	return ring.Tail(limit), nil
}

// Client returns the connection to a running server.
func (s *Supervisor) Client(id string) (mcp.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.procs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", tools.ErrServerNotFound, id)
	}
	switch p.status {
	case mcp.StatusRunning:
		return p.client, nil
	case mcp.StatusFailed:
		return nil, p.lastErr
	default:
		return nil, fmt.Errorf("%w: %s is %s", tools.ErrServerStopped, id, p.status)
	}
}

// Ensure returns the connection to a running server, starting it when
// needed. A server whose last start failed less than RestartBackoff ago
// is not relaunched; that failure is returned instead.
func (s *Supervisor) Ensure(ctx context.Context, cfg mcp.ServerConfig) (mcp.Client, error) {
	s.mu.Lock()
	if p, ok := s.procs[cfg.ID]; ok {
		switch p.status {
		case mcp.StatusRunning:
			s.mu.Unlock()
			return p.client, nil
		case mcp.StatusFailed:
			if wait := s.opts.RestartBackoff - time.Since(p.failedAt); wait > 0 {
				err := p.lastErr
				s.mu.Unlock()
				return nil, fmt.Errorf("%w (next start attempt in %s)", err, wait.Round(time.Second))
			}
		}
	}
	s.mu.Unlock()

	if _, err := s.Start(ctx, cfg); err != nil {
		return nil, err
	}
	return s.Client(cfg.ID)
}

// StartAll starts every enabled server concurrently and returns the first
// failure; the other servers still start.
func (s *Supervisor) StartAll(ctx context.Context, configs []mcp.ServerConfig) error {
	var g errgroup.Group
	for _, cfg := range configs {
		if cfg.Disabled {
			continue
		}
		g.Go(func() error {
			_, err := s.Start(ctx, cfg)
			return err
		})
	}
	return g.Wait()
}

// Reconcile brings the supervised set in line with configs: servers that
// were removed or disabled are stopped, and running servers whose record
// changed are restarted with the new record.
func (s *Supervisor) Reconcile(ctx context.Context, configs []mcp.ServerConfig) error {
	want := make(map[string]mcp.ServerConfig, len(configs))
	for _, cfg := range configs {
		want[cfg.ID] = cfg
	}

	type change struct {
		id      string
		restart bool
	}
	var changes []change
	s.mu.Lock()
	for id, p := range s.procs {
		cfg, ok := want[id]
		if ok && !cfg.Disabled && cfg.Equal(p.config) {
			continue
		}
		changes = append(changes, change{id: id, restart: ok && !cfg.Disabled && p.status == mcp.StatusRunning})
	}
	s.mu.Unlock()

	log := logging.Get(logging.CategorySupervisor)
	var errs []error
	for _, c := range changes {
		log.Info("Reconciling server %s (restart=%v)", c.id, c.restart)
		if err := s.Stop(ctx, c.id); err != nil && !errors.Is(err, tools.ErrServerNotFound) {
			errs = append(errs, err)
			continue
		}
		if c.restart {
			if _, err := s.Start(ctx, want[c.id]); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// Shutdown stops every server. Later Starts fail.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	ids := make([]string, 0, len(s.procs))
	for id := range s.procs {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	logging.Get(logging.CategorySupervisor).Info("Shutting down %d servers", len(ids))
	var g errgroup.Group
	for _, id := range ids {
		g.Go(func() error {
			if err := s.Stop(ctx, id); err != nil && !errors.Is(err, tools.ErrServerNotFound) {
				return err
			}
			return nil
		})
	}
	return g.Wait()
}

// pump copies lines from r into ring until r ends.
func pump(r io.Reader, ring *logRing) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		ring.Add(scanner.Text())
	}
	_, _ = io.Copy(io.Discard, r)
}
