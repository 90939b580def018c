// Package process attaches local helper programs as peers. The host spawns
// allow-listed commands (strict registry, never ad-hoc) and speaks
// newline-delimited envelopes over their stdio: child stdout lines become
// inbound datagrams, hub pushes are written to child stdin. Attribution is
// pinned by the host; a child cannot claim another peer's identity or origin.
package process

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sort"
	"sync"
	"time"

	"github.com/aretw0/pergola/internal/logging"
	"github.com/aretw0/pergola/pkg/domain"
	"github.com/aretw0/pergola/pkg/ports"
)

const (
	inboxSize    = 256
	linkBuffer   = 64
	maxLineBytes = 1 << 20
	defaultGrace = 5 * time.Second
)

// Origin returns the pinned origin for a locally hosted peer.
func Origin(name string) string {
	return "local://" + name
}

// RegisteredProgram defines an allowed command execution.
type RegisteredProgram struct {
	Command string
	Args    []string
	Env     map[string]string
}

// Host spawns registered programs and bridges their stdio to the hub.
// It implements ports.Feed for the inbound direction.
type Host struct {
	registry map[string]RegisteredProgram
	baseDir  string
	grace    time.Duration
	logger   *slog.Logger

	inbox chan ports.Datagram

	mu      sync.Mutex
	running map[string]*child
}

// HostOption configures the host.
type HostOption func(*Host)

// WithRegistry populates the allow-list from a loaded config.
func WithRegistry(programs map[string]ProgramConfig) HostOption {
	return func(h *Host) {
		for name, program := range programs {
			h.registry[name] = RegisteredProgram{
				Command: program.Command,
				Args:    program.Args,
				Env:     program.Environment,
			}
		}
	}
}

// WithBaseDir sets the working directory for spawned programs.
func WithBaseDir(dir string) HostOption {
	return func(h *Host) {
		h.baseDir = dir
	}
}

// WithStopGrace sets how long Stop waits after an interrupt before killing.
func WithStopGrace(grace time.Duration) HostOption {
	return func(h *Host) {
		h.grace = grace
	}
}

// WithLogger sets the host logger.
func WithLogger(logger *slog.Logger) HostOption {
	return func(h *Host) {
		h.logger = logger
	}
}

// NewHost creates a process host with an empty allow-list.
func NewHost(opts ...HostOption) *Host {
	h := &Host{
		registry: make(map[string]RegisteredProgram),
		grace:    defaultGrace,
		logger:   logging.NewNop(),
		inbox:    make(chan ports.Datagram, inboxSize),
		running:  make(map[string]*child),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register adds a trusted program to the allow-list.
func (h *Host) Register(name string, command string, args ...string) {
	h.registry[name] = RegisteredProgram{
		Command: command,
		Args:    args,
	}
}

// Origins lists the pinned origins of every registered program, for
// composing the hub's allow-list.
func (h *Host) Origins() []string {
	origins := make([]string, 0, len(h.registry))
	for name := range h.registry {
		origins = append(origins, Origin(name))
	}
	sort.Strings(origins)
	return origins
}

// Running lists the names of currently running peers.
func (h *Host) Running() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	names := make([]string, 0, len(h.running))
	for name := range h.running {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Receive implements ports.Feed, merging the stdout of every child.
func (h *Host) Receive(ctx context.Context) (<-chan ports.Datagram, error) {
	out := make(chan ports.Datagram)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case dg := <-h.inbox:
				select {
				case out <- dg:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Attacher is the hub surface the host drives.
type Attacher interface {
	Attach(peer domain.Peer, link ports.Link) error
	Detach(peerID string) error
}

// child tracks one spawned program.
type child struct {
	name  string
	cmd   *exec.Cmd
	stdin io.WriteCloser
	out   chan []byte
	done  chan struct{}
}

// Start spawns one registered program and attaches it to the hub. The name
// is checked against the registry; the host never executes ad-hoc commands.
// Per-peer settings ride PERGOLA_* environment variables, never argv, so a
// value cannot be mistaken for a flag.
func (h *Host) Start(ctx context.Context, hub Attacher, name string) error {
	program, ok := h.registry[name]
	if !ok {
		return fmt.Errorf("program not registered: %s", name)
	}

	h.mu.Lock()
	if _, exists := h.running[name]; exists {
		h.mu.Unlock()
		return fmt.Errorf("program already running: %s", name)
	}
	h.mu.Unlock()

	cmd := exec.CommandContext(ctx, program.Command, program.Args...)
	cmd.Dir = h.baseDir
	// Force-closes the stdio pipes if a grandchild inherits them, so the
	// pumps cannot block reaping forever.
	cmd.WaitDelay = h.grace

	env := []string{
		fmt.Sprintf("PERGOLA_PEER_ID=%s", name),
		fmt.Sprintf("PERGOLA_PEER_ORIGIN=%s", Origin(name)),
	}
	for k, v := range program.Env {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	cmd.Env = append(cmd.Environ(), env...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("wiring stdin for %s: %w", name, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("wiring stdout for %s: %w", name, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("wiring stderr for %s: %w", name, err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting %s: %w", name, err)
	}

	c := &child{
		name:  name,
		cmd:   cmd,
		stdin: stdin,
		out:   make(chan []byte, linkBuffer),
		done:  make(chan struct{}),
	}

	h.mu.Lock()
	h.running[name] = c
	h.mu.Unlock()

	if err := hub.Attach(domain.Peer{ID: name, Origin: Origin(name)}, &link{child: c}); err != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		h.mu.Lock()
		delete(h.running, name)
		h.mu.Unlock()
		return fmt.Errorf("attaching %s: %w", name, err)
	}

	var pumps sync.WaitGroup
	pumps.Add(2)
	go h.pumpStdout(c, stdout, &pumps)
	go h.pumpStderr(c, stderr, &pumps)
	go h.writeStdin(c)
	go h.reap(c, hub, &pumps)

	h.logger.Info("peer started", "peer", name, "command", program.Command)
	return nil
}

// StartAll spawns every registered program, stopping at the first failure.
func (h *Host) StartAll(ctx context.Context, hub Attacher) error {
	names := make([]string, 0, len(h.registry))
	for name := range h.registry {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := h.Start(ctx, hub, name); err != nil {
			return err
		}
	}
	return nil
}

// Stop closes the peer's stdin, interrupts it, and kills it after the grace
// period. Interrupt is not deliverable on Windows; the grace timer falls
// through to Kill there.
func (h *Host) Stop(name string) error {
	h.mu.Lock()
	c, ok := h.running[name]
	h.mu.Unlock()
	if !ok {
		return fmt.Errorf("program not running: %s", name)
	}

	_ = c.stdin.Close()
	_ = c.cmd.Process.Signal(os.Interrupt)

	select {
	case <-c.done:
	case <-time.After(h.grace):
		h.logger.Warn("peer ignored interrupt, killing", "peer", name)
		_ = c.cmd.Process.Kill()
		<-c.done
	}
	return nil
}

// Close stops every running peer.
func (h *Host) Close() error {
	var firstErr error
	for _, name := range h.Running() {
		if err := h.Stop(name); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// pumpStdout turns child stdout lines into inbound datagrams. Envelopes are
// single-line JSON; the newline terminates one message.
func (h *Host) pumpStdout(c *child, stdout io.Reader, pumps *sync.WaitGroup) {
	defer pumps.Done()
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		// The scanner reuses its buffer between lines.
		data := make([]byte, len(line))
		copy(data, line)
		dg := ports.Datagram{PeerID: c.name, Origin: Origin(c.name), Data: data}
		select {
		case h.inbox <- dg:
		default:
			h.logger.Warn("feed buffer full, message dropped", "peer", c.name)
		}
	}
	if err := scanner.Err(); err != nil {
		h.logger.Warn("reading peer stdout", "peer", c.name, "error", err)
	}
}

func (h *Host) pumpStderr(c *child, stderr io.Reader, pumps *sync.WaitGroup) {
	defer pumps.Done()
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		h.logger.Debug("peer stderr", "peer", c.name, "line", scanner.Text())
	}
}

func (h *Host) writeStdin(c *child) {
	for {
		select {
		case <-c.done:
			return
		case data := <-c.out:
			if _, err := c.stdin.Write(data); err != nil {
				h.logger.Warn("writing to peer stdin", "peer", c.name, "error", err)
				return
			}
		}
	}
}

// reap waits for the child to exit, drains the pipe pumps, and detaches the
// peer. WaitDelay guarantees the pumps terminate even when the pipes were
// inherited by a grandchild.
func (h *Host) reap(c *child, hub Attacher, pumps *sync.WaitGroup) {
	err := c.cmd.Wait()
	pumps.Wait()

	h.mu.Lock()
	delete(h.running, c.name)
	h.mu.Unlock()
	close(c.done)

	if detachErr := hub.Detach(c.name); detachErr != nil {
		h.logger.Debug("exited peer was not attached", "peer", c.name)
	}
	h.logger.Info("peer exited", "peer", c.name, "error", err)
}

// link writes hub pushes to the child's stdin, one envelope per line.
type link struct {
	child *child
}

func (l *link) Post(data []byte) error {
	select {
	case <-l.child.done:
		return fmt.Errorf("peer %s has exited", l.child.name)
	default:
	}
	framed := make([]byte, 0, len(data)+1)
	framed = append(framed, data...)
	framed = append(framed, '\n')
	select {
	case l.child.out <- framed:
		return nil
	default:
		return fmt.Errorf("peer %s buffer full", l.child.name)
	}
}

func (l *link) Origin() string {
	return Origin(l.child.name)
}

var _ ports.Feed = (*Host)(nil)
var _ ports.Link = (*link)(nil)
