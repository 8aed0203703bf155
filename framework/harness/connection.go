package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/launchdarkly/go-sdk-common/v3/ldlog"
	"golang.org/x/sync/errgroup"

	"github.com/launchdarkly/test-engine/framework"
	"github.com/launchdarkly/test-engine/framework/helpers"
	"github.com/launchdarkly/test-engine/servicedef"
	"github.com/launchdarkly/test-engine/serviceinfo"
)

// ErrConnectionClosed is returned for any operation on a connection that has been stopped, and
// for every call that was still waiting for a response when it stopped.
var ErrConnectionClosed = errors.New("connection closed")

// ErrNoHandler means the receiver has no handler for a command kind.
var ErrNoHandler = errors.New("no handler for command")

// ErrHandshakeNotComplete means a command other than Hello arrived before the handshake.
var ErrHandshakeNotComplete = errors.New("handshake not complete")

var lastConnectionID int64 //nolint:gochecknoglobals

// HandlerFunc handles one received command. For a command that expects a response, the returned
// payload goes into the Response, and a non-nil error makes it a failed Response.
type HandlerFunc func(ctx context.Context, cmd servicedef.Command) (payload string, err error)

// Config describes one side of a connection.
type Config struct {
	// Info is sent to the peer in the handshake.
	Info serviceinfo.HostInfo

	// Logger receives the connection's own diagnostics, filtered by LogLevel. If nil, they are
	// discarded.
	Logger   framework.Logger
	LogLevel ldlog.LogLevel

	// PeerLogger receives the text of Debug and Message commands from the peer.
	PeerLogger framework.Logger

	// Objects holds the servants that the peer can call. If nil, a new registry is created.
	Objects *ObjectRegistry

	// OnHello is called on the accepting side when the peer's Hello arrives. If it is nil, the
	// reply just contains Info.
	OnHello func(ctx context.Context, hello *servicedef.Hello) (servicedef.HelloReply, error)

	// OnDebugLevel is called when the peer sends SetDebugLevel.
	OnDebugLevel func(level ldlog.LogLevel)

	// OnShutdown is called after the peer's Shutdown has been acknowledged.
	OnShutdown func()
}

// frame is a queued frame body. A nil body is the end-of-stream frame.
type frame struct {
	body []byte
	done chan error
}

// dispatcher runs the handlers for one command kind, one at a time, in arrival order.
type dispatcher struct {
	queue   []servicedef.Command
	running bool
	lock    sync.Mutex
}

// Connection is one end of a length-framed duplex command channel.
//
// Frames are written by a single writer goroutine in the order they were queued. Received
// commands are handed to a dispatcher for their kind, so a slow handler only delays later
// commands of the same kind. Responses are matched to calls by ResponseID.
//
// Until the handshake is complete, the only frames written are Hello and its Response; anything
// else that is sent is held and queued after them.
type Connection struct {
	id          int64
	transport   io.ReadWriteCloser
	config      Config
	objects     *ObjectRegistry
	handlers    map[servicedef.CommandKind]HandlerFunc
	dispatchers map[servicedef.CommandKind]*dispatcher

	loggers    ldlog.Loggers
	queue      []frame
	held       []frame
	handshaken bool
	ended      bool
	closed     bool
	closeErr   error
	nextID     int64
	helloID    int64
	pending    map[int64]chan *servicedef.Response
	peerHello  servicedef.Hello
	peerInfo   serviceinfo.HostInfo
	lock       sync.Mutex

	wake      chan struct{}
	handshake chan struct{}
	done      chan struct{}
	ctx       context.Context
	cancel    context.CancelFunc
	group     errgroup.Group
}

// NewConnection creates a connection over a transport. Handlers may be added with Handle until
// Start is called.
func NewConnection(transport io.ReadWriteCloser, config Config) *Connection {
	if config.LogLevel == 0 {
		config.LogLevel = ldlog.Info
	}
	c := &Connection{
		id:          atomic.AddInt64(&lastConnectionID, 1),
		transport:   transport,
		config:      config,
		objects:     config.Objects,
		handlers:    make(map[servicedef.CommandKind]HandlerFunc),
		dispatchers: make(map[servicedef.CommandKind]*dispatcher),
		pending:     make(map[int64]chan *servicedef.Response),
		wake:        make(chan struct{}, 1),
		handshake:   make(chan struct{}),
		done:        make(chan struct{}),
	}
	if c.objects == nil {
		c.objects = NewObjectRegistry()
	}
	c.loggers = framework.NewLoggers(config.Logger, config.LogLevel, fmt.Sprintf("[conn %d] ", c.id))
	for _, kind := range servicedef.AllCommandKinds {
		c.dispatchers[kind] = &dispatcher{}
	}
	c.handlers[servicedef.CommandHello] = c.handleHello
	c.handlers[servicedef.CommandShutdown] = c.handleShutdown
	c.handlers[servicedef.CommandSetDebugLevel] = c.handleSetDebugLevel
	c.handlers[servicedef.CommandDebug] = c.handlePeerOutput
	c.handlers[servicedef.CommandMessage] = c.handlePeerOutput
	c.handlers[servicedef.CommandObjectCall] = c.handleObjectCall
	c.handlers[servicedef.CommandLogEvent] = c.handleEvent
	c.handlers[servicedef.CommandStatistics] = c.handleEvent
	return c
}

// ID is unique to this connection within the process.
func (c *Connection) ID() int64 { return c.id }

// Objects returns the registry of servants that the peer can call.
func (c *Connection) Objects() *ObjectRegistry { return c.objects }

// Handle sets the handler for a command kind, replacing any built-in handler. It must be called
// before Start.
func (c *Connection) Handle(kind servicedef.CommandKind, handler HandlerFunc) {
	c.handlers[kind] = handler
}

// Start launches the reader and writer goroutines. Canceling ctx is the same as calling Stop.
func (c *Connection) Start(ctx context.Context) {
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.group.Go(c.writeLoop)
	c.group.Go(c.readLoop)
	go func() {
		<-c.ctx.Done()
		c.stop(nil)
	}()
}

// Open performs the handshake from the initiating side: it sends Hello and waits for the reply.
// Commands sent before the reply arrives are held until then.
func (c *Connection) Open(ctx context.Context, hello servicedef.Hello) (servicedef.HelloReply, error) {
	if hello.Info.Name == "" {
		hello.Info = c.config.Info
	}
	var reply servicedef.HelloReply
	resp, err := c.call(ctx, &hello, true)
	if err != nil {
		return reply, fmt.Errorf("handshake failed: %w", err)
	}
	if err := servicedef.DecodePayload(resp.Payload, &reply); err != nil {
		return reply, fmt.Errorf("malformed handshake reply: %w", err)
	}
	c.log().Debugf("Handshake complete with %s %s", reply.Info.Name, reply.Info.Version)
	return reply, nil
}

// WaitForHandshake blocks until the handshake is complete on either side.
func (c *Connection) WaitForHandshake(ctx context.Context) error {
	select {
	case <-c.handshake:
		return nil
	case <-c.done:
		return ErrConnectionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PeerInfo returns what the peer said about itself in the handshake.
func (c *Connection) PeerInfo() serviceinfo.HostInfo {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.peerInfo
}

// PeerHello returns the Hello received from the peer, on the accepting side.
func (c *Connection) PeerHello() servicedef.Hello {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.peerHello
}

// Send queues a command that does not expect a response.
func (c *Connection) Send(cmd servicedef.Command) error {
	return c.enqueue(cmd, false)
}

// Call sends a command and waits for its response. A failed response is returned along with its
// *servicedef.RemoteError. If ctx ends first, the response will be ignored when it arrives.
func (c *Connection) Call(ctx context.Context, cmd servicedef.CommandWithResponse) (*servicedef.Response, error) {
	return c.call(ctx, cmd, false)
}

// Proxy returns a stub for an object exported by the peer.
func (c *Connection) Proxy(id servicedef.ObjectID) ObjectProxy {
	return ObjectProxy{conn: c, Ref: ObjectRef{ConnectionID: c.id, ObjectID: id}}
}

// RemoteLogger returns a Logger that sends each line to the peer as a Debug command.
func (c *Connection) RemoteLogger() framework.Logger {
	return framework.FuncLogger(func(line string) {
		_ = c.Send(&servicedef.Debug{Text: servicedef.Text(line)})
	})
}

// Shutdown closes the connection gracefully: it sends Shutdown, waits for the acknowledgement,
// sends the end-of-stream frame, and then stops. The connection is stopped even if the peer does
// not acknowledge.
func (c *Connection) Shutdown(ctx context.Context) error {
	_, err := c.Call(ctx, &servicedef.Shutdown{})
	eos := frame{done: make(chan error, 1)}
	if c.enqueueFrame(eos, true) == nil {
		select {
		case <-eos.done:
		case <-ctx.Done():
		}
	}
	c.Stop()
	return err
}

// Stop closes the transport immediately. Every call still waiting for a response fails with
// ErrConnectionClosed.
func (c *Connection) Stop() {
	c.stop(nil)
	_ = c.group.Wait()
}

// Done is closed when the connection has stopped for any reason.
func (c *Connection) Done() <-chan struct{} { return c.done }

// Err returns the transport error that stopped the connection, if any.
func (c *Connection) Err() error {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.closeErr
}

func (c *Connection) log() ldlog.Loggers {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.loggers
}

func (c *Connection) call(
	ctx context.Context,
	cmd servicedef.CommandWithResponse,
	handshake bool,
) (*servicedef.Response, error) {
	ch := make(chan *servicedef.Response, 1)
	c.lock.Lock()
	if c.closed {
		c.lock.Unlock()
		return nil, ErrConnectionClosed
	}
	c.nextID++
	id := c.nextID
	c.pending[id] = ch
	if handshake {
		c.helloID = id
	}
	c.lock.Unlock()

	cmd.SetResponseID(id)
	if err := c.enqueue(cmd, handshake); err != nil {
		c.forget(id)
		return nil, err
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, ErrConnectionClosed
		}
		if !resp.Success {
			if resp.Error == nil {
				return resp, &servicedef.RemoteError{Message: "peer reported failure"}
			}
			return resp, resp.Error
		}
		return resp, nil
	case <-ctx.Done():
		c.forget(id)
		return nil, ctx.Err()
	}
}

func (c *Connection) forget(id int64) {
	c.lock.Lock()
	delete(c.pending, id)
	c.lock.Unlock()
}

func (c *Connection) enqueue(cmd servicedef.Command, handshake bool) error {
	body, err := servicedef.Marshal(cmd)
	if err != nil {
		return err
	}
	return c.enqueueFrame(frame{body: body}, handshake)
}

func (c *Connection) enqueueFrame(f frame, handshake bool) error {
	c.lock.Lock()
	if c.closed || c.ended {
		c.lock.Unlock()
		return ErrConnectionClosed
	}
	if c.handshaken || handshake {
		c.queue = append(c.queue, f)
	} else {
		c.held = append(c.held, f)
	}
	c.lock.Unlock()
	helpers.NonBlockingSend(c.wake, struct{}{})
	return nil
}

// completeHandshake releases the held frames. On the accepting side, reply is the Response to
// Hello; it is queued ahead of them in the same step, so the handshake is already complete when
// the peer can see the reply.
func (c *Connection) completeHandshake(reply *frame) error {
	c.lock.Lock()
	if reply != nil {
		if c.closed || c.ended {
			c.lock.Unlock()
			return ErrConnectionClosed
		}
		c.queue = append(c.queue, *reply)
	}
	first := !c.handshaken
	if first {
		c.handshaken = true
		c.queue = append(c.queue, c.held...)
		c.held = nil
	}
	c.lock.Unlock()
	if first {
		close(c.handshake)
	}
	helpers.NonBlockingSend(c.wake, struct{}{})
	return nil
}

func (c *Connection) nextFrame() (frame, bool) {
	c.lock.Lock()
	defer c.lock.Unlock()
	if len(c.queue) == 0 {
		return frame{}, false
	}
	f := c.queue[0]
	c.queue = c.queue[1:]
	if f.body == nil {
		c.ended = true
	}
	return f, true
}

func (c *Connection) writeLoop() error {
	for {
		select {
		case <-c.wake:
		case <-c.ctx.Done():
			return nil
		}
		for {
			f, ok := c.nextFrame()
			if !ok {
				break
			}
			err := WriteFrame(c.transport, f.body)
			if f.done != nil {
				f.done <- err
			}
			if err != nil {
				return c.transportError("write", err)
			}
			if f.body == nil {
				c.log().Debug("Sent end of stream")
				return nil
			}
		}
	}
}

func (c *Connection) readLoop() error {
	for {
		body, err := ReadFrame(c.transport)
		if err == io.EOF {
			c.log().Debug("Received end of stream")
			c.stop(nil)
			return nil
		}
		if err != nil {
			return c.transportError("read", err)
		}
		cmd, err := servicedef.Unmarshal(body)
		if err != nil {
			c.log().Warnf("Discarding frame that could not be decoded: %s", err)
			continue
		}
		if resp, ok := cmd.(*servicedef.Response); ok {
			c.resolve(resp)
			continue
		}
		c.dispatch(cmd)
	}
}

func (c *Connection) transportError(op string, err error) error {
	c.lock.Lock()
	closed := c.closed
	c.lock.Unlock()
	if closed {
		return nil
	}
	err = fmt.Errorf("connection %s failed: %w", op, err)
	c.log().Errorf("%s", err)
	c.stop(err)
	return err
}

func (c *Connection) resolve(resp *servicedef.Response) {
	c.lock.Lock()
	ch, ok := c.pending[resp.ResponseID]
	delete(c.pending, resp.ResponseID)
	isHelloReply := ok && resp.ResponseID == c.helloID
	c.lock.Unlock()
	if !ok {
		c.log().Debugf("Ignoring response to unknown request %d", resp.ResponseID)
		return
	}
	// Commands the peer sends after its reply are read after it, so the handshake has to be
	// complete before the next frame is dispatched.
	if isHelloReply && resp.Success {
		var reply servicedef.HelloReply
		if servicedef.DecodePayload(resp.Payload, &reply) == nil {
			c.lock.Lock()
			c.peerInfo = reply.Info
			c.lock.Unlock()
			_ = c.completeHandshake(nil)
		}
	}
	ch <- resp
}

func (c *Connection) dispatch(cmd servicedef.Command) {
	d := c.dispatchers[cmd.Kind()]
	d.lock.Lock()
	d.queue = append(d.queue, cmd)
	if d.running {
		d.lock.Unlock()
		return
	}
	d.running = true
	d.lock.Unlock()

	go func() {
		for {
			d.lock.Lock()
			if len(d.queue) == 0 {
				d.running = false
				d.lock.Unlock()
				return
			}
			next := d.queue[0]
			d.queue = d.queue[1:]
			d.lock.Unlock()
			c.handle(next)
		}
	}()
}

func (c *Connection) handle(cmd servicedef.Command) {
	payload, err := c.invokeHandler(cmd)
	req, owed := cmd.(servicedef.CommandWithResponse)
	if !owed {
		if err != nil {
			c.log().Warnf("Error handling %s: %s", cmd.Kind(), err)
		}
		return
	}
	resp := &servicedef.Response{ResponseID: req.GetResponseID(), Success: err == nil, Payload: payload}
	if err != nil {
		c.log().Debugf("Returning failure for %s: %s", cmd.Kind(), err)
		resp.Error = servicedef.NewRemoteError(err, "")
		resp.Payload = ""
	}
	var sendErr error
	switch {
	case cmd.Kind() == servicedef.CommandHello && err == nil:
		var body []byte
		if body, sendErr = servicedef.Marshal(resp); sendErr == nil {
			sendErr = c.completeHandshake(&frame{body: body})
		}
	default:
		sendErr = c.enqueue(resp, cmd.Kind() == servicedef.CommandHello)
	}
	if sendErr != nil {
		c.log().Debugf("Could not send response to %s: %s", cmd.Kind(), sendErr)
		return
	}
	if cmd.Kind() == servicedef.CommandShutdown && c.config.OnShutdown != nil {
		c.config.OnShutdown()
	}
}

func (c *Connection) invokeHandler(cmd servicedef.Command) (payload string, err error) {
	defer func() {
		if r := recover(); r != nil {
			payload = ""
			err = &servicedef.RemoteError{Message: servicedef.Text(fmt.Sprintf("panic: %v", r)), Stack: servicedef.Text(debug.Stack())}
		}
	}()
	c.lock.Lock()
	handshaken := c.handshaken
	c.lock.Unlock()
	if !handshaken && cmd.Kind() != servicedef.CommandHello {
		return "", fmt.Errorf("%w: received %s", ErrHandshakeNotComplete, cmd.Kind())
	}
	handler := c.handlers[cmd.Kind()]
	if handler == nil {
		return "", fmt.Errorf("%w: %s", ErrNoHandler, cmd.Kind())
	}
	return handler(c.ctx, cmd)
}

func (c *Connection) stop(err error) {
	c.lock.Lock()
	if c.closed {
		c.lock.Unlock()
		return
	}
	c.closed = true
	c.closeErr = err
	pending := c.pending
	c.pending = make(map[int64]chan *servicedef.Response)
	frames := append(c.held, c.queue...)
	c.held, c.queue = nil, nil
	c.lock.Unlock()

	for _, ch := range pending {
		close(ch)
	}
	for _, f := range frames {
		if f.done != nil {
			f.done <- ErrConnectionClosed
		}
	}
	_ = c.transport.Close()
	if c.cancel != nil {
		c.cancel()
	}
	close(c.done)
}

func (c *Connection) handleHello(ctx context.Context, cmd servicedef.Command) (string, error) {
	hello := cmd.(*servicedef.Hello)
	c.lock.Lock()
	c.peerHello = *hello
	c.peerInfo = hello.Info
	c.lock.Unlock()
	c.log().Debugf("Received handshake from %s %s", hello.Info.Name, hello.Info.Version)

	reply := servicedef.HelloReply{Info: c.config.Info}
	if c.config.OnHello != nil {
		var err error
		if reply, err = c.config.OnHello(ctx, hello); err != nil {
			return "", err
		}
	}
	return servicedef.EncodePayload("HelloReply", reply)
}

func (c *Connection) handleShutdown(context.Context, servicedef.Command) (string, error) {
	c.log().Debug("Peer is shutting down")
	return "", nil
}

func (c *Connection) handleSetDebugLevel(_ context.Context, cmd servicedef.Command) (string, error) {
	level := ldlog.LogLevel(cmd.(*servicedef.SetDebugLevel).Level)
	c.lock.Lock()
	c.loggers = framework.NewLoggers(c.config.Logger, level, fmt.Sprintf("[conn %d] ", c.id))
	c.lock.Unlock()
	if c.config.OnDebugLevel != nil {
		c.config.OnDebugLevel(level)
	}
	return "", nil
}

func (c *Connection) handlePeerOutput(_ context.Context, cmd servicedef.Command) (string, error) {
	var text string
	switch cmd := cmd.(type) {
	case *servicedef.Debug:
		text = string(cmd.Text)
	case *servicedef.Message:
		text = string(cmd.Text)
	}
	if c.config.PeerLogger != nil {
		c.config.PeerLogger.Println(text)
	} else {
		c.log().Info(text)
	}
	return "", nil
}

func (c *Connection) handleObjectCall(ctx context.Context, cmd servicedef.Command) (string, error) {
	call := cmd.(*servicedef.ObjectCall)
	servant, ok := c.objects.Lookup(call.Object)
	if !ok {
		return "", fmt.Errorf("%w: %d", ErrNoSuchObject, call.Object)
	}
	return servant.HandleCall(ctx, call.Method, call.Payload)
}

func (c *Connection) handleEvent(ctx context.Context, cmd servicedef.Command) (string, error) {
	var sink servicedef.ObjectID
	switch cmd := cmd.(type) {
	case *servicedef.LogEvent:
		sink = cmd.Sink
	case *servicedef.Statistics:
		sink = cmd.Sink
	}
	servant, ok := c.objects.Lookup(sink)
	if !ok {
		return "", fmt.Errorf("%w: %d", ErrNoSuchObject, sink)
	}
	receiver, ok := servant.(EventReceiver)
	if !ok {
		return "", fmt.Errorf("object %d does not receive events", sink)
	}
	return "", receiver.ReceiveEvent(ctx, cmd)
}
