package servicedef

import (
	"github.com/launchdarkly/test-engine/serviceinfo"
)

// CommandKind is the root element name of a command.
type CommandKind string

const (
	CommandHello             CommandKind = "Hello"
	CommandDebug             CommandKind = "Debug"
	CommandMessage           CommandKind = "Message"
	CommandSetDebugLevel     CommandKind = "SetDebugLevel"
	CommandSyncConfiguration CommandKind = "SyncConfiguration"
	CommandShutdown          CommandKind = "Shutdown"
	CommandResponse          CommandKind = "Response"
	CommandLoadTestSuite     CommandKind = "LoadTestSuite"
	CommandRunTestSuite      CommandKind = "RunTestSuite"
	CommandCancelTestRun     CommandKind = "CancelTestRun"
	CommandObjectCall        CommandKind = "ObjectCall"
	CommandLogEvent          CommandKind = "LogEvent"
	CommandStatistics        CommandKind = "Statistics"
)

// AllCommandKinds lists every command kind, in no particular order of importance.
var AllCommandKinds = []CommandKind{ //nolint:gochecknoglobals
	CommandHello,
	CommandDebug,
	CommandMessage,
	CommandSetDebugLevel,
	CommandSyncConfiguration,
	CommandShutdown,
	CommandResponse,
	CommandLoadTestSuite,
	CommandRunTestSuite,
	CommandCancelTestRun,
	CommandObjectCall,
	CommandLogEvent,
	CommandStatistics,
}

// ObjectID identifies an exported object within one connection. Zero means no object.
type ObjectID int64

// Command is any message that can be sent over a connection.
type Command interface {
	Kind() CommandKind
}

// CommandWithResponse is a command that the receiver must answer with a Response carrying the
// same ResponseID.
type CommandWithResponse interface {
	Command
	GetResponseID() int64
	SetResponseID(id int64)
}

// RequestHeader is embedded in every command that expects a response.
type RequestHeader struct {
	ResponseID int64 `xml:"ResponseID,attr,omitempty"`
}

func (h RequestHeader) GetResponseID() int64 { return h.ResponseID }

func (h *RequestHeader) SetResponseID(id int64) { h.ResponseID = id }

// SettingEntry is one key/value pair of a settings bag.
type SettingEntry struct {
	Key   string `xml:"Key,attr"`
	Value string `xml:"Value,attr"`
}

// Hello is always the first command on a connection. The sender describes itself, names the
// objects that will receive its peer's log output and events, and may offer settings to merge.
// The Response payload is a HelloReply.
type Hello struct {
	RequestHeader
	Info      serviceinfo.HostInfo `xml:"HostInfo"`
	Logger    ObjectID             `xml:"Logger,attr,omitempty"`
	EventSink ObjectID             `xml:"EventSink,attr,omitempty"`
	Settings  []SettingEntry       `xml:"Settings>Entry"`
}

// HelloReply is the payload of the Response to Hello.
type HelloReply struct {
	Info    serviceinfo.HostInfo `xml:"HostInfo"`
	Session ObjectID             `xml:"Session,attr,omitempty"`
}

// Debug is a line of diagnostic output from the peer.
type Debug struct {
	Text Text `xml:",chardata"`
}

// Message is a line of output meant for the user.
type Message struct {
	Text Text `xml:",chardata"`
}

// SetDebugLevel changes the minimum level of the peer's diagnostic output. Level uses the values
// of ldlog.LogLevel.
type SetDebugLevel struct {
	Level int `xml:"Level,attr"`
}

// SyncConfiguration merges settings into the peer's settings bag.
type SyncConfiguration struct {
	RequestHeader
	Entries []SettingEntry `xml:"Entry"`
}

// Shutdown asks the peer to finish up. It is acknowledged before the connection is closed.
type Shutdown struct {
	RequestHeader
}

// Response answers a CommandWithResponse. If Success is false, Error describes the failure.
type Response struct {
	ResponseID int64        `xml:"ResponseID,attr"`
	Success    bool         `xml:"Success,attr"`
	Error      *RemoteError `xml:"Error,omitempty"`
	Payload    string       `xml:"Payload,omitempty"`
}

// LoadTestSuite asks a test session to build its test tree. The Response payload is a TestList.
type LoadTestSuite struct {
	RequestHeader
	Session           ObjectID `xml:"Session,attr"`
	Suites            []string `xml:"Suite"`
	IncludeCategories []string `xml:"IncludeCategory"`
	ExcludeCategories []string `xml:"ExcludeCategory"`
}

// RunTestSuite asks a test session to run its loaded tree. The Response payload is the
// ResultElement of the root, and is sent when the run is over.
type RunTestSuite struct {
	RequestHeader
	Session      ObjectID `xml:"Session,attr"`
	RunID        string   `xml:"RunID,attr"`
	DebugLevel   int      `xml:"DebugLevel,attr,omitempty"`
	MustMatch    []string `xml:"MustMatch"`
	MustNotMatch []string `xml:"MustNotMatch"`
	Include      []string `xml:"Include"`
	Exclude      []string `xml:"Exclude"`
}

// CancelTestRun cancels a run that is in progress. It is acknowledged as soon as the
// cancellation is requested, not when the run has stopped.
type CancelTestRun struct {
	RequestHeader
	Session ObjectID `xml:"Session,attr"`
	RunID   string   `xml:"RunID,attr"`
}

// ObjectCall invokes a method of an exported object. The Response payload is the method's result.
type ObjectCall struct {
	RequestHeader
	Object  ObjectID `xml:"Object,attr"`
	Method  string   `xml:"Method,attr"`
	Payload string   `xml:"Payload,omitempty"`
}

// LogEventKind says which test logger event a LogEvent carries.
type LogEventKind string

const (
	EventTestStarted  LogEventKind = "started"
	EventTestError    LogEventKind = "error"
	EventTestFinished LogEventKind = "finished"
	EventTestSkipped  LogEventKind = "skipped"
)

// OutputLine is a line of captured debug output.
type OutputLine struct {
	TimeMillis int64 `xml:"Time,attr"`
	Text       Text  `xml:",chardata"`
}

// LogEvent forwards one test logger event to an event sink object on the peer.
type LogEvent struct {
	Sink    ObjectID        `xml:"Sink,attr"`
	Event   LogEventKind    `xml:"Event,attr"`
	Test    TestNameElement `xml:"Test"`
	Message Text            `xml:"Message,omitempty"`
	Result  *ResultElement  `xml:"Result,omitempty"`
	Output  []OutputLine    `xml:"Output>Line"`
}

// Statistics reports the running counts of a test run to an event sink object on the peer.
type Statistics struct {
	Sink     ObjectID `xml:"Sink,attr"`
	Started  int      `xml:"Started,attr"`
	Passed   int      `xml:"Passed,attr"`
	Failed   int      `xml:"Failed,attr"`
	Ignored  int      `xml:"Ignored,attr"`
	Warnings int      `xml:"Warnings,attr"`
	Canceled int      `xml:"Canceled,attr"`
}

func (Hello) Kind() CommandKind             { return CommandHello }
func (Debug) Kind() CommandKind             { return CommandDebug }
func (Message) Kind() CommandKind           { return CommandMessage }
func (SetDebugLevel) Kind() CommandKind     { return CommandSetDebugLevel }
func (SyncConfiguration) Kind() CommandKind { return CommandSyncConfiguration }
func (Shutdown) Kind() CommandKind          { return CommandShutdown }
func (Response) Kind() CommandKind          { return CommandResponse }
func (LoadTestSuite) Kind() CommandKind     { return CommandLoadTestSuite }
func (RunTestSuite) Kind() CommandKind      { return CommandRunTestSuite }
func (CancelTestRun) Kind() CommandKind     { return CommandCancelTestRun }
func (ObjectCall) Kind() CommandKind        { return CommandObjectCall }
func (LogEvent) Kind() CommandKind          { return CommandLogEvent }
func (Statistics) Kind() CommandKind        { return CommandStatistics }

// NewCommand returns a pointer to an empty command of the given kind, or nil if the kind is not
// one of AllCommandKinds.
func NewCommand(kind CommandKind) Command {
	switch kind {
	case CommandHello:
		return &Hello{}
	case CommandDebug:
		return &Debug{}
	case CommandMessage:
		return &Message{}
	case CommandSetDebugLevel:
		return &SetDebugLevel{}
	case CommandSyncConfiguration:
		return &SyncConfiguration{}
	case CommandShutdown:
		return &Shutdown{}
	case CommandResponse:
		return &Response{}
	case CommandLoadTestSuite:
		return &LoadTestSuite{}
	case CommandRunTestSuite:
		return &RunTestSuite{}
	case CommandCancelTestRun:
		return &CancelTestRun{}
	case CommandObjectCall:
		return &ObjectCall{}
	case CommandLogEvent:
		return &LogEvent{}
	case CommandStatistics:
		return &Statistics{}
	default:
		return nil
	}
}
