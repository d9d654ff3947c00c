package toolhost

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// maxLineSize bounds a single JSON-RPC message from the tool host.
const maxLineSize = 16 << 20

// stdioTransport exchanges newline-delimited JSON-RPC messages with a child
// process. A single reader goroutine routes responses to waiting callers.
type stdioTransport struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	logger zerolog.Logger

	writeMu sync.Mutex

	mu      sync.Mutex
	nextID  int64
	pending map[int64]chan *envelope
	closed  bool
	readErr error

	readerDone chan struct{}
}

// startTransport spawns the child process and starts routing its output.
// Helpers spawned by the tool host share its process group so close can stop
// them too; waitDelay bounds how long Wait waits for their inherited pipes.
func startTransport(spec LaunchSpec, logger zerolog.Logger, waitDelay time.Duration) (*stdioTransport, error) {
	cmd := exec.Command(spec.Command, spec.Args...)
	cmd.Env = spec.Env
	cmd.Stderr = &stderrLogger{logger: logger}
	cmd.WaitDelay = waitDelay
	setProcessGroup(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return nil, fmt.Errorf("create stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		stdin.Close()
		return nil, fmt.Errorf("start subprocess %s: %w", spec.Command, err)
	}

	t := &stdioTransport{
		cmd:        cmd,
		stdin:      stdin,
		logger:     logger,
		pending:    make(map[int64]chan *envelope),
		readerDone: make(chan struct{}),
	}

	logger.Debug().Int("pid", cmd.Process.Pid).Msg("tool host process started")

	go t.listen(stdout)

	return t, nil
}

// listen reads stdout until EOF and dispatches each message.
func (t *stdioTransport) listen(stdout io.Reader) {
	defer close(t.readerDone)

	reader := bufio.NewReaderSize(stdout, 1<<20)
	var readErr error
	for {
		line, err := reader.ReadBytes('\n')
		if len(bytes.TrimSpace(line)) > 0 {
			if len(line) > maxLineSize {
				t.logger.Warn().Int("bytes", len(line)).Msg("dropping oversized message from tool host")
			} else {
				t.dispatch(line)
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				readErr = err
			}
			break
		}
	}

	t.mu.Lock()
	if readErr != nil {
		t.readErr = fmt.Errorf("%w: read from tool host: %w", ErrSessionClosed, readErr)
	} else {
		t.readErr = fmt.Errorf("%w: tool host exited", ErrSessionClosed)
	}
	for id, ch := range t.pending {
		delete(t.pending, id)
		close(ch)
	}
	t.mu.Unlock()
}

func (t *stdioTransport) dispatch(line []byte) {
	var env envelope
	if err := json.Unmarshal(line, &env); err != nil {
		t.logger.Debug().Str("line", string(line)).Msg("skipping non-JSON line from tool host")
		return
	}

	switch {
	case env.isResponse():
		id, ok := env.numericID()
		if !ok {
			t.logger.Debug().RawJSON("id", env.ID).Msg("skipping response with non-numeric id")
			return
		}
		t.mu.Lock()
		ch, exists := t.pending[id]
		if exists {
			delete(t.pending, id)
		}
		t.mu.Unlock()
		if !exists {
			t.logger.Debug().Int64("id", id).Msg("skipping unmatched response")
			return
		}
		ch <- &env
	case env.isRequest():
		go t.answer(&env)
	default:
		t.logger.Debug().Str("method", env.Method).Msg("tool host notification")
	}
}

// answer replies to requests initiated by the tool host. Only ping is
// supported; everything else is rejected as unknown.
func (t *stdioTransport) answer(req *envelope) {
	reply := rpcReply{JSONRPC: jsonrpcVersion, ID: req.ID}
	if req.Method == "ping" {
		reply.Result = json.RawMessage(`{}`)
	} else {
		reply.Error = &RPCError{Code: codeMethodNotFound, Message: "method not found: " + req.Method}
	}
	if err := t.write(reply); err != nil {
		t.logger.Debug().Err(err).Str("method", req.Method).Msg("failed to answer tool host request")
	}
}

// call sends a request and waits for the matching response.
func (t *stdioTransport) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, ErrSessionClosed
	}
	if t.readErr != nil {
		err := t.readErr
		t.mu.Unlock()
		return nil, err
	}
	t.nextID++
	id := t.nextID
	ch := make(chan *envelope, 1)
	t.pending[id] = ch
	t.mu.Unlock()

	req := rpcRequest{
		JSONRPC: jsonrpcVersion,
		ID:      id,
		Method:  method,
		Params:  params,
	}
	if err := t.write(req); err != nil {
		t.forget(id)
		return nil, err
	}

	select {
	case env, ok := <-ch:
		if !ok {
			t.mu.Lock()
			err := t.readErr
			t.mu.Unlock()
			return nil, err
		}
		if env.Error != nil {
			return nil, env.Error
		}
		return env.Result, nil
	case <-ctx.Done():
		t.forget(id)
		return nil, ctx.Err()
	}
}

// notify sends a notification; no response is expected.
func (t *stdioTransport) notify(method string, params any) error {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return ErrSessionClosed
	}
	return t.write(rpcNotification{JSONRPC: jsonrpcVersion, Method: method, Params: params})
}

func (t *stdioTransport) write(msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if _, err := t.stdin.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write to tool host stdin: %w", err)
	}
	return nil
}

func (t *stdioTransport) forget(id int64) {
	t.mu.Lock()
	delete(t.pending, id)
	t.mu.Unlock()
}

// close ends the child process: stdin is closed to request a graceful exit,
// and the process group is killed if it has not finished within timeout.
func (t *stdioTransport) close(timeout time.Duration) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	pid := t.cmd.Process.Pid
	t.logger.Debug().Int("pid", pid).Msg("stopping tool host process")

	t.writeMu.Lock()
	_ = t.stdin.Close()
	t.writeMu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	killed := false
	select {
	case <-t.readerDone:
	case <-timer.C:
		t.logger.Warn().Int("pid", pid).Msg("tool host did not exit gracefully, killing")
		killProcessGroup(t.cmd)
		killed = true
	}

	// Wait closes stdout once the child is gone, which also ends listen when
	// a leftover helper still holds the pipe.
	waitErr := make(chan error, 1)
	go func() { waitErr <- t.cmd.Wait() }()

	var err error
	if killed {
		err = <-waitErr
	} else {
		select {
		case err = <-waitErr:
		case <-timer.C:
			t.logger.Warn().Int("pid", pid).Msg("tool host closed stdout but kept running, killing")
			killProcessGroup(t.cmd)
			killed = true
			err = <-waitErr
		}
	}
	<-t.readerDone

	if killed || errors.Is(err, exec.ErrWaitDelay) {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		// A non-zero exit after stdin closed is the tool host's business.
		t.logger.Debug().Int("pid", pid).Int("exit_code", exitErr.ExitCode()).Msg("tool host exited")
		return nil
	}
	return err
}

// stderrLogger forwards the child's stderr to the debug log line by line.
type stderrLogger struct {
	logger zerolog.Logger
	buf    []byte
}

func (w *stderrLogger) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		w.logger.Debug().Str("line", string(bytes.TrimRight(w.buf[:i], "\r"))).Msg("tool host stderr")
		w.buf = w.buf[i+1:]
	}
	return len(p), nil
}
