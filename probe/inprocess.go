package probe

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/tetratelabs/wazero"
)

type inProcessSandbox struct {
	rt     wazero.Runtime
	opts   options
	logger *logrus.Entry

	mu     sync.Mutex
	closed bool
}

func openInProcess(ctx context.Context, o options) (_ Sandbox, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrSandboxCreation, r)
		}
	}()

	return &inProcessSandbox{
		rt:     NewRuntime(context.WithoutCancel(ctx)),
		opts:   o,
		logger: o.logger.WithField("sandbox", ModeInProcess),
	}, nil
}

func (s *inProcessSandbox) Inspect(ctx context.Context, paths []string) ([]ModuleShape, error) {
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

func (s *inProcessSandbox) inspectOne(ctx context.Context, path string) (ModuleShape, error) {
	if err := ctx.Err(); err != nil {
		return ModuleShape{}, err
	}

	fileCtx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	done := make(chan ModuleShape, 1)
	go func() {
		done <- InspectFile(fileCtx, s.rt, path)
	}()

	select {
	case shape := <-done:
		return shape, nil
	case <-fileCtx.Done():
		if err := ctx.Err(); err != nil {
			return ModuleShape{}, err
		}
		s.logger.WithField("path", path).Warn("inspection timed out")
		return failedShape(path, ReasonTimeout, fmt.Errorf("inspection exceeded %s", s.opts.timeout)), nil
	}
}

func (s *inProcessSandbox) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.rt.Close(context.Background())
}
