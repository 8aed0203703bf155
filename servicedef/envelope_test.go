package servicedef

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/launchdarkly/test-engine/framework"
	"github.com/launchdarkly/test-engine/framework/ldtest"
	"github.com/launchdarkly/test-engine/framework/opt"
	"github.com/launchdarkly/test-engine/serviceinfo"
)

func sampleResult() ResultElement {
	return ResultElement{
		Name:     TestNameElement{Parts: []TestNamePartElement{{Label: "suite"}}},
		Status:   ldtest.StatusError,
		Duration: 3 * time.Millisecond,
		Children: []ResultElement{
			{
				Name: TestNameElement{Parts: []TestNamePartElement{
					{Label: "suite"},
					{Label: "x", Parameter: opt.Some("1")},
					{Label: "hidden", Hidden: true},
				}},
				Status:   ldtest.StatusError,
				Errors:   []Text{"expected <1> & got <2>", "nul \x00 in \xfe\xff"},
				Messages: []Text{"note", "\x1b[1mbold\x1b[0m"},
			},
		},
	}
}

func sampleCommands() []Command {
	return []Command{
		&Hello{
			RequestHeader: RequestHeader{ResponseID: 1},
			Info: serviceinfo.HostInfo{Name: "host", Version: "1.0", SessionID: "abc",
				Capabilities: framework.Capabilities{framework.CapabilityCancel}},
			Logger:    2,
			EventSink: 3,
			Settings:  []SettingEntry{{Key: "a", Value: "1"}},
		},
		&Debug{Text: "debug <output> \x1b[31mred\x1b[0m"},
		&Message{Text: "bad utf8 \xff"},
		&SetDebugLevel{Level: 1},
		&SyncConfiguration{RequestHeader: RequestHeader{ResponseID: 2}, Entries: []SettingEntry{{Key: "k", Value: "v"}}},
		&Shutdown{RequestHeader: RequestHeader{ResponseID: 3}},
		&Response{ResponseID: 4, Success: false,
			Error:   &RemoteError{Message: "nul \x00 byte", Stack: `at C:\x\y` + "\r\n\uFFFE"},
			Payload: "<TestList></TestList>"},
		&LoadTestSuite{RequestHeader: RequestHeader{ResponseID: 5}, Session: 1, Suites: []string{"a", "b"},
			IncludeCategories: []string{"fast"}, ExcludeCategories: []string{"slow"}},
		&RunTestSuite{RequestHeader: RequestHeader{ResponseID: 6}, Session: 1, RunID: "run", DebugLevel: 2,
			MustMatch: []string{"a/.*"}, MustNotMatch: []string{"b"}, Include: []string{"a/**"}},
		&CancelTestRun{RequestHeader: RequestHeader{ResponseID: 7}, Session: 1, RunID: "run"},
		&ObjectCall{RequestHeader: RequestHeader{ResponseID: 8}, Object: 9, Method: "ListTests", Payload: "<x/>"},
		func() Command {
			result := sampleResult()
			return &LogEvent{
				Sink:    3,
				Event:   EventTestFinished,
				Test:    result.Name,
				Message: "bell \a\ttab",
				Result:  &result,
				Output:  []OutputLine{{TimeMillis: 1000, Text: "line\x1b[K"}},
			}
		}(),
		&Statistics{Sink: 3, Started: 6, Passed: 1, Failed: 2, Ignored: 3, Warnings: 4, Canceled: 5},
	}
}

func TestEveryCommandKindRoundTrips(t *testing.T) {
	commands := sampleCommands()
	require.Len(t, commands, len(AllCommandKinds))
	seen := make(map[CommandKind]bool)
	for _, cmd := range commands {
		t.Run(string(cmd.Kind()), func(t *testing.T) {
			seen[cmd.Kind()] = true
			data, err := Marshal(cmd)
			require.NoError(t, err)
			assert.Contains(t, string(data), "<"+string(cmd.Kind()))

			decoded, err := Unmarshal(data)
			require.NoError(t, err)
			assert.Equal(t, cmd, decoded)
		})
	}
	assert.Len(t, seen, len(AllCommandKinds))
}

func TestTextEscaping(t *testing.T) {
	for _, value := range []string{
		"",
		"plain <text> & more",
		"\x1b[31mred\x1b[0m",
		"bad utf8 \xff\xc3",
		"nul \x00 byte",
		`back\slash \x41 and \\`,
		"\uFFFE\uFFFF\ufffd",
		"tab\tnewline\ncr\r",
	} {
		t.Run(value, func(t *testing.T) {
			data, err := Text(value).MarshalText()
			require.NoError(t, err)
			var back Text
			require.NoError(t, back.UnmarshalText(data))
			assert.Equal(t, Text(value), back)
		})
	}
}

func TestTextWithoutSpecialCharactersIsWrittenAsIs(t *testing.T) {
	data, err := Text("café <ok>\n").MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "café <ok>\n", string(data))

	data, err = Text("\x1b[0m\\").MarshalText()
	require.NoError(t, err)
	assert.Equal(t, `\x1b[0m\\`, string(data))
}

func TestTextRejectsBadEscapes(t *testing.T) {
	for _, data := range []string{`trailing \`, `\q`, `\x4`, `\xzz`} {
		var back Text
		assert.Error(t, back.UnmarshalText([]byte(data)), data)
	}
}

func TestNewCommandCoversEveryKind(t *testing.T) {
	for _, kind := range AllCommandKinds {
		cmd := NewCommand(kind)
		require.NotNil(t, cmd, kind)
		assert.Equal(t, kind, cmd.Kind())
	}
	assert.Nil(t, NewCommand("Bogus"))
}

func TestCommandsWithResponse(t *testing.T) {
	var withResponse []CommandKind
	for _, kind := range AllCommandKinds {
		if cmd, ok := NewCommand(kind).(CommandWithResponse); ok {
			cmd.SetResponseID(10)
			assert.Equal(t, int64(10), cmd.GetResponseID())
			withResponse = append(withResponse, kind)
		}
	}
	assert.ElementsMatch(t, []CommandKind{CommandHello, CommandSyncConfiguration, CommandShutdown,
		CommandLoadTestSuite, CommandRunTestSuite, CommandCancelTestRun, CommandObjectCall}, withResponse)
}

func TestUnmarshalErrors(t *testing.T) {
	_, err := Unmarshal([]byte(`<Bogus/>`))
	assert.True(t, errors.Is(err, ErrUnknownCommand))

	_, err = Unmarshal([]byte(`<?xml version="1.0"?>`))
	assert.True(t, errors.Is(err, ErrEmptyEnvelope))

	_, err = Unmarshal([]byte(`<Statistics Started="x"/>`))
	assert.Error(t, err)

	_, err = Unmarshal([]byte(`<Debug>`))
	assert.Error(t, err)
}

func TestUnmarshalSkipsProlog(t *testing.T) {
	cmd, err := Unmarshal([]byte(`<?xml version="1.0"?>` + "\n" + `<Shutdown ResponseID="5"/>`))
	require.NoError(t, err)
	assert.Equal(t, &Shutdown{RequestHeader: RequestHeader{ResponseID: 5}}, cmd)
}

func TestPayloadRoundTrip(t *testing.T) {
	payload, err := EncodePayload("Result", sampleResult())
	require.NoError(t, err)
	assert.Contains(t, payload, "<Result ")

	var decoded ResultElement
	require.NoError(t, DecodePayload(payload, &decoded))
	assert.Equal(t, sampleResult(), decoded)

	assert.True(t, errors.Is(DecodePayload("", &decoded), ErrEmptyEnvelope))
}

func TestResultSnapshotConversion(t *testing.T) {
	root := ldtest.NewTestResult(nil)
	child := ldtest.NewTestResult(ldtest.NewTestName("suite").PlusParameter("x", "1"))
	require.NoError(t, child.AddError(errors.New("failed")))
	require.NoError(t, child.AddMessage("message"))
	require.NoError(t, root.AddChild(child))

	snapshot := root.Snapshot()
	payload, err := EncodePayload("Result", ResultElementFromSnapshot(snapshot))
	require.NoError(t, err)
	var decoded ResultElement
	require.NoError(t, DecodePayload(payload, &decoded))

	assert.Equal(t, snapshot, decoded.Snapshot())
	assert.Equal(t, "suite/x(1)", decoded.Snapshot().Children[0].Name.String())
}

func TestTestList(t *testing.T) {
	names := []ldtest.TestName{ldtest.NewTestName("a", "b"), ldtest.NewTestName("c").PlusHidden("d")}
	payload, err := EncodePayload("TestList", TestListFromNames(names))
	require.NoError(t, err)
	var decoded TestList
	require.NoError(t, DecodePayload(payload, &decoded))
	assert.Equal(t, names, decoded.Names())
}

func TestStatisticsConversion(t *testing.T) {
	stats := ldtest.Statistics{Started: 5, Passed: 1, Failed: 1, Ignored: 1, Warnings: 1, Canceled: 1}
	assert.Equal(t, stats, StatisticsFrom(2, stats).Statistics())
	assert.Equal(t, ObjectID(2), StatisticsFrom(2, stats).Sink)
}

func TestOutputLines(t *testing.T) {
	now := time.UnixMilli(time.Now().UnixMilli())
	output := framework.CapturedOutput{{Time: now, Message: "a"}}
	back := CapturedOutput(OutputLines(output))
	require.Len(t, back, 1)
	assert.True(t, now.Equal(back[0].Time))
	assert.Equal(t, "a", back[0].Message)
}

func TestRemoteError(t *testing.T) {
	err := NewRemoteError(errors.New("boom"), "stack")
	assert.Equal(t, "boom", err.Error())
	assert.Equal(t, Text("stack"), err.Stack)
	assert.Same(t, err, NewRemoteError(err, "other"))
}
