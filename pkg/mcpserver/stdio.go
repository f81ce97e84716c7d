package mcpserver

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

// maxLineBytes bounds a single request line. Lines beyond this fail the
// scanner and end the session.
const maxLineBytes = 4 * 1024 * 1024

// StdioServer pumps line-delimited JSON-RPC between a reader/writer pair
// and a Server. Every request line produces exactly one response line.
type StdioServer struct {
	server *Server
	in     io.Reader
	out    io.Writer
	logger zerolog.Logger

	mu        sync.Mutex
	started   bool
	cancelRun context.CancelFunc
	wg        sync.WaitGroup
	stopOnce  sync.Once
	doneChan  chan struct{}
}

// NewStdioServer creates the transport. Pass os.Stdin and os.Stdout for
// the standard wiring; logs must go elsewhere, such as stderr, to keep
// the protocol stream clean.
func NewStdioServer(server *Server, in io.Reader, out io.Writer, logger zerolog.Logger) (*StdioServer, error) {
	if server == nil {
		return nil, errors.New("server cannot be nil")
	}
	if in == nil || out == nil {
		return nil, errors.New("in and out cannot be nil")
	}

	return &StdioServer{
		server:   server,
		in:       in,
		out:      out,
		logger:   logger.With().Str("component", "StdioServer").Logger(),
		doneChan: make(chan struct{}),
	}, nil
}

// Start launches the read loop and returns immediately. The loop runs
// until the input reaches EOF, ctx is cancelled, or Stop is called.
// Starting an already started server is an error.
func (s *StdioServer) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return errors.New("stdio server already started")
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRun = cancel
	s.started = true
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(s.doneChan)
		s.run(runCtx)
	}()

	s.logger.Info().Msg("Stdio server started.")
	return nil
}

// Stop cancels the read loop and waits for it to exit, or until ctx is
// done. A loop blocked mid-read holds on until its input closes; closing
// stdin is the caller's job. Stopping a server that was never started is
// a no-op.
func (s *StdioServer) Stop(ctx context.Context) error {
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	if !started {
		return nil
	}

	var err error
	s.stopOnce.Do(func() {
		s.logger.Info().Msg("Stopping stdio server...")
		s.cancelRun()

		select {
		case <-s.doneChan:
			s.logger.Info().Msg("Read loop confirmed stopped.")
		case <-ctx.Done():
			err = fmt.Errorf("timeout waiting for read loop to stop: %w", ctx.Err())
		}
	})
	return err
}

// Done is closed once the read loop has exited.
func (s *StdioServer) Done() <-chan struct{} {
	return s.doneChan
}

// run reads request lines until EOF or cancellation. A line that fails to
// parse gets a parse-error response with a null id; blank lines are
// skipped.
func (s *StdioServer) run(ctx context.Context) {
	scanner := bufio.NewScanner(s.in)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			s.writeResponse(errorResponse(nil, CodeParseError, "Parse error"))
			continue
		}
		s.writeResponse(s.server.HandleRequest(ctx, req))
	}

	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		s.logger.Error().Err(err).Msg("Input stream failed.")
		return
	}
	s.logger.Info().Msg("Input stream closed.")
}

func (s *StdioServer) writeResponse(resp Response) {
	payload, err := json.Marshal(resp)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to encode response.")
		return
	}
	payload = append(payload, '\n')
	if _, err = s.out.Write(payload); err != nil {
		s.logger.Error().Err(err).Msg("Failed to write response.")
	}
}
