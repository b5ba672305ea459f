package probe

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// request is one line of the worker protocol. The worker answers each request
// with one JSON-encoded ModuleShape line.
type request struct {
	Path string `json:"path"`
}

type worker struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	enc    *json.Encoder
	dec    *json.Decoder
	stderr *errgroup.Group
}

type processSandbox struct {
	ctx    context.Context
	opts   options
	logger *logrus.Entry

	mu     sync.Mutex
	w      *worker
	closed bool
}

type reply struct {
	shape ModuleShape
	err   error
}

func openProcess(ctx context.Context, o options) (Sandbox, error) {
	s := &processSandbox{
		ctx:    ctx,
		opts:   o,
		logger: o.logger.WithField("sandbox", ModeProcess),
	}
	w, err := s.spawn()
	if err != nil {
		return nil, err
	}
	s.w = w
	return s, nil
}

func (s *processSandbox) spawn() (*worker, error) {
	cmd := exec.CommandContext(s.ctx, s.opts.command, s.opts.args...)
	cmd.Env = append(os.Environ(), s.opts.env...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSandboxCreation, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSandboxCreation, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSandboxCreation, err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: failed to start worker %s: %w", ErrSandboxCreation, s.opts.command, err)
	}

	log := s.logger.WithField("pid", cmd.Process.Pid)
	log.Debug("probe worker started")

	g := &errgroup.Group{}
	g.Go(func() error {
		sc := bufio.NewScanner(stderr)
		for sc.Scan() {
			log.Debug(sc.Text())
		}
		return sc.Err()
	})

	return &worker{
		cmd:    cmd,
		stdin:  stdin,
		enc:    json.NewEncoder(stdin),
		dec:    json.NewDecoder(stdout),
		stderr: g,
	}, nil
}

// reap waits for the stderr drain and then for the process. Pipe reads must
// be finished before cmd.Wait closes them.
func (w *worker) reap() error {
	gerr := w.stderr.Wait()
	return errors.Join(gerr, w.cmd.Wait())
}

func (w *worker) kill() {
	_ = w.cmd.Process.Kill()
}

func (s *processSandbox) Inspect(ctx context.Context, paths []string) ([]ModuleShape, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errors.New("sandbox is closed")
	}

	shapes := make([]ModuleShape, 0, len(paths))
	for _, path := range paths {
		shape, err := s.inspectOne(ctx, path)
		if err != nil {
			return nil, err
		}
		shapes = append(shapes, shape)
	}
	return shapes, nil
}

func (s *processSandbox) inspectOne(ctx context.Context, path string) (ModuleShape, error) {
	if err := ctx.Err(); err != nil {
		return ModuleShape{}, err
	}

	if s.w == nil {
		w, err := s.spawn()
		if err != nil {
			return ModuleShape{}, err
		}
		s.w = w
	}
	w := s.w
	log := s.logger.WithFields(logrus.Fields{"path": path, "pid": w.cmd.Process.Pid})

	if err := w.enc.Encode(request{Path: path}); err != nil {
		s.discard(w)
		log.WithError(err).Warn("probe worker is gone")
		return failedShape(path, ReasonWorker, fmt.Errorf("failed to send request to worker: %w", err)), nil
	}

	replies := make(chan reply, 1)
	go func() {
		var shape ModuleShape
		err := w.dec.Decode(&shape)
		replies <- reply{shape: shape, err: err}
	}()

	timer := time.NewTimer(s.opts.timeout)
	defer timer.Stop()

	select {
	case r := <-replies:
		if r.err != nil {
			s.discard(w)
			log.WithError(r.err).Warn("probe worker exited during inspection")
			return failedShape(path, ReasonWorker, fmt.Errorf("worker exited: %w", r.err)), nil
		}
		if r.shape.Path != path {
			s.discard(w)
			return failedShape(path, ReasonWorker, fmt.Errorf("worker answered for %q", r.shape.Path)), nil
		}
		return r.shape, nil
	case <-timer.C:
		w.kill()
		<-replies
		s.discard(w)
		log.Warn("inspection timed out, worker killed")
		return failedShape(path, ReasonTimeout, fmt.Errorf("inspection exceeded %s", s.opts.timeout)), nil
	case <-ctx.Done():
		w.kill()
		<-replies
		s.discard(w)
		return ModuleShape{}, ctx.Err()
	}
}

// discard kills w and waits for it. The next request starts a fresh worker.
func (s *processSandbox) discard(w *worker) {
	w.kill()
	_ = w.reap()
	if s.w == w {
		s.w = nil
	}
}

func (s *processSandbox) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	w := s.w
	s.w = nil
	if w == nil {
		return nil
	}

	// Closing stdin ends the worker loop.
	_ = w.stdin.Close()
	done := make(chan error, 1)
	go func() {
		done <- w.reap()
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("probe worker exited uncleanly: %w", err)
		}
		return nil
	case <-time.After(closeGrace):
		w.kill()
		<-done
		s.logger.WithField("pid", w.cmd.Process.Pid).Warn("probe worker did not exit, killed")
		return nil
	}
}
