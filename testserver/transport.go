package testserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"regexp"
	"sync"
	"time"

	"github.com/alessio/shellescape"
	"golang.org/x/sync/errgroup"

	"github.com/launchdarkly/test-engine/framework"
	"github.com/launchdarkly/test-engine/framework/harness"
)

// pipeTransport joins a reader and a writer into the transport of a connection.
type pipeTransport struct {
	io.Reader
	io.Writer
	closers []io.Closer
	once    sync.Once
}

func (p *pipeTransport) Close() error {
	var err error
	p.once.Do(func() {
		for _, c := range p.closers {
			if cerr := c.Close(); cerr != nil && err == nil {
				err = cerr
			}
		}
	})
	return err
}

// StdioTransport is the transport of a host that was spawned by a Launcher: it reads commands
// from stdin and writes them to stdout. Anything else the process prints must go to stderr.
//
// Closing os.Stdin does not interrupt a read that is already waiting on it, so reads go through
// closableReader. After Close, one goroutine may stay blocked on stdin until the process exits.
func StdioTransport() io.ReadWriteCloser {
	return stdioTransport(os.Stdin, os.Stdout)
}

func stdioTransport(in io.Reader, out io.WriteCloser) *pipeTransport {
	reader := closableReader(in)
	return &pipeTransport{Reader: reader, Writer: out, closers: []io.Closer{reader, out}}
}

// closableReader returns a reader whose Read returns io.ErrClosedPipe once it is closed, even if
// r is still blocked.
func closableReader(r io.Reader) io.ReadCloser {
	pr, pw := io.Pipe()
	go func() {
		_, err := io.Copy(pw, r)
		_ = pw.CloseWithError(err)
	}()
	return pr
}

// Launcher spawns a host process that speaks the protocol on its stdin and stdout.
type Launcher struct {
	Command string
	Args    []string
	Dir     string
	Env     []string

	// Stderr receives the process's stderr. If nil, it goes to os.Stderr.
	Stderr io.Writer

	// StderrFilters drop matching lines of the process's stderr.
	StderrFilters []*regexp.Regexp

	Logger framework.Logger
}

// Process is a running host process.
type Process struct {
	transport *pipeTransport
	cmd       *exec.Cmd
	done      chan struct{}
	err       error
}

// Start spawns the process. Canceling ctx kills it.
func (l Launcher) Start(ctx context.Context) (*Process, error) {
	logger := l.Logger
	if logger == nil {
		logger = framework.NullLogger()
	}
	cmd := exec.CommandContext(ctx, l.Command, l.Args...) //nolint:gosec
	cmd.Dir = l.Dir
	if len(l.Env) != 0 {
		cmd.Env = append(os.Environ(), l.Env...)
	}
	stderr := l.Stderr
	if stderr == nil {
		stderr = os.Stderr
	}
	cmd.Stderr = harness.NewFilteredWriter(stderr, l.StderrFilters...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	// Wait must not close the pipe that the connection is reading, so stdout is our own pipe.
	stdout, stdoutWriter, err := os.Pipe()
	if err != nil {
		return nil, err
	}
	cmd.Stdout = stdoutWriter
	logger.Printf("Starting host: %s", shellescape.QuoteCommand(append([]string{l.Command}, l.Args...)))
	err = cmd.Start()
	_ = stdoutWriter.Close()
	if err != nil {
		_ = stdout.Close()
		return nil, fmt.Errorf("failed to start %s: %w", l.Command, err)
	}

	p := &Process{
		transport: &pipeTransport{Reader: stdout, Writer: stdin, closers: []io.Closer{stdin, stdout}},
		cmd:       cmd,
		done:      make(chan struct{}),
	}
	go func() {
		p.err = cmd.Wait()
		if p.err != nil {
			logger.Printf("Host exited: %s", p.err)
		} else {
			logger.Println("Host exited")
		}
		close(p.done)
	}()
	return p, nil
}

// Transport returns the process's stdin and stdout as a connection transport. Closing it closes
// stdin, which a well-behaved host treats as the end of the session.
func (p *Process) Transport() io.ReadWriteCloser { return p.transport }

// Done is closed when the process has exited.
func (p *Process) Done() <-chan struct{} { return p.done }

// Wait waits for the process to exit, killing it if it has not exited by the time ctx ends.
func (p *Process) Wait(ctx context.Context) error {
	select {
	case <-p.done:
	case <-ctx.Done():
		_ = p.cmd.Process.Kill()
		<-p.done
	}
	var exitErr *exec.ExitError
	if errors.As(p.err, &exitErr) && ctx.Err() != nil {
		return ctx.Err()
	}
	return p.err
}

// Listen accepts connections on addr and runs serve for each one in its own goroutine, until ctx
// is canceled. It returns once the listener is closed and every serve call has returned.
func Listen(ctx context.Context, addr string, ready func(net.Addr), serve func(context.Context, net.Conn)) error {
	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	if ready != nil {
		ready(listener.Addr())
	}
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		<-groupCtx.Done()
		return listener.Close()
	})
	group.Go(func() error {
		for {
			conn, err := listener.Accept()
			if err != nil {
				if groupCtx.Err() != nil {
					return nil
				}
				return err
			}
			group.Go(func() error {
				serve(groupCtx, conn)
				return nil
			})
		}
	})
	err = group.Wait()
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

// Connect dials a host that is listening at addr, retrying until timeout. Progress is written to
// output as a row of dots.
func Connect(ctx context.Context, addr string, timeout time.Duration, output io.Writer) (net.Conn, error) {
	if output == nil {
		output = io.Discard
	}
	fmt.Fprintf(output, "Connecting to test host at %s", addr)

	var dialer net.Dialer
	deadline := time.Now().Add(timeout)
	for {
		fmt.Fprintf(output, ".")
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err == nil {
			fmt.Fprintln(output)
			return conn, nil
		}
		if ctx.Err() != nil || !time.Now().Before(deadline) {
			fmt.Fprintln(output)
			return nil, fmt.Errorf("timed out, result of last attempt was: %w", err)
		}
		select {
		case <-time.After(time.Millisecond * 100):
		case <-ctx.Done():
		}
	}
}
