package settings

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	consul "github.com/hashicorp/consul/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/launchdarkly/test-engine/servicedef"
)

func TestWriteAndLoad(t *testing.T) {
	s := New(map[string]string{"b": "2", "a": `one "quoted" <value>`})

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, s))
	assert.True(t, strings.HasPrefix(buf.String(), "<?xml"))
	assert.Contains(t, buf.String(), `<Settings><Entry Key="a" Value="one &#34;quoted&#34; &lt;value&gt;"></Entry><Entry Key="b" Value="2"></Entry></Settings>`)

	loaded, err := Load(&buf)
	require.NoError(t, err)
	assert.True(t, s.Equal(loaded))
	assert.Equal(t, []string{"a", "b"}, loaded.Keys())
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(strings.NewReader(""))
	assert.ErrorIs(t, err, servicedef.ErrEmptyEnvelope)

	_, err = Load(strings.NewReader("<Settings><Entry"))
	assert.Error(t, err)
}

func TestZeroValueAndAccessors(t *testing.T) {
	var s Settings
	_, ok := s.Get("x")
	assert.False(t, ok)
	assert.Equal(t, "default", s.GetOrElse("x", "default"))

	s.Set("x", "1")
	assert.Equal(t, "1", s.GetOrElse("x", "default"))
	assert.Equal(t, 1, s.Len())
	s.Delete("x")
	assert.Equal(t, 0, s.Len())
}

func TestMergeDoesNotModifyOriginal(t *testing.T) {
	base := New(map[string]string{"a": "1", "b": "2"})
	merged := base.Merge(FromEntries([]servicedef.SettingEntry{{Key: "b", Value: "3"}, {Key: "c", Value: "4"}}))

	assert.Equal(t, map[string]string{"a": "1", "b": "3", "c": "4"}, merged.Map())
	assert.Equal(t, map[string]string{"a": "1", "b": "2"}, base.Map())
}

func TestFromEntriesLaterEntryWins(t *testing.T) {
	s := FromEntries([]servicedef.SettingEntry{{Key: "a", Value: "1"}, {Key: "a", Value: "2"}})
	assert.Equal(t, []servicedef.SettingEntry{{Key: "a", Value: "2"}}, s.Entries())
}

func TestShared(t *testing.T) {
	shared := NewShared(New(map[string]string{"a": "1"}))
	snapshot := shared.Current()
	result := shared.Merge(New(map[string]string{"a": "2"}))

	assert.Equal(t, "2", result.GetOrElse("a", ""))
	v, _ := shared.Get("a")
	assert.Equal(t, "2", v)
	assert.Equal(t, "1", snapshot.GetOrElse("a", ""))
}

func TestFileStore(t *testing.T) {
	ctx := context.Background()
	store := FileStore{Path: filepath.Join(t.TempDir(), "nested", "settings.xml")}

	empty, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, empty.Len())

	require.NoError(t, store.Save(ctx, New(map[string]string{"k": "v"})))
	loaded, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"k": "v"}, loaded.Map())

	require.NoError(t, store.Save(ctx, New(map[string]string{"other": "x"})))
	loaded, err = store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"other": "x"}, loaded.Map())
}

func TestOpenStore(t *testing.T) {
	store, err := OpenStore("/tmp/settings.xml")
	require.NoError(t, err)
	assert.Equal(t, FileStore{Path: "/tmp/settings.xml"}, store)

	store, err = OpenStore("file:///var/settings.xml")
	require.NoError(t, err)
	assert.Equal(t, FileStore{Path: "/var/settings.xml"}, store)

	store, err = OpenStore("redis://localhost:6379/0?key=mine")
	require.NoError(t, err)
	if assert.IsType(t, &RedisStore{}, store) {
		assert.Equal(t, "mine", store.(*RedisStore).key)
		assert.Equal(t, "redis://localhost:6379", store.(*RedisStore).DSN())
	}

	store, err = OpenStore("consul://localhost:8500/engine/settings/")
	require.NoError(t, err)
	if assert.IsType(t, &ConsulStore{}, store) {
		assert.Equal(t, "engine/settings", store.(*ConsulStore).prefix)
	}

	_, err = OpenStore("ftp://nowhere")
	assert.Error(t, err)
}

func TestConsulOps(t *testing.T) {
	s := New(map[string]string{"a": "1", "b": "2"})
	ops := consulOps("p", s, []string{"p/b", "p/old", "p/older"})

	var described []string
	for _, op := range ops {
		described = append(described, string(op.Verb)+" "+op.Key+"="+string(op.Value))
	}
	assert.Equal(t, []string{
		string(consul.KVSet) + " p/a=1",
		string(consul.KVSet) + " p/b=2",
		string(consul.KVDelete) + " p/old=",
		string(consul.KVDelete) + " p/older=",
	}, described)
}

func TestSplitBatches(t *testing.T) {
	items := make([]int, 130)
	batches := splitBatches(items, consulMaxTxnOps)
	require.Len(t, batches, 3)
	assert.Len(t, batches[0], 64)
	assert.Len(t, batches[1], 64)
	assert.Len(t, batches[2], 2)
	assert.Nil(t, splitBatches([]int{}, 25))
}

func TestDynamoDBRequests(t *testing.T) {
	s := New(map[string]string{"a": "1"})
	requests := dynamoDBRequests("ns", s, []string{"a", "gone"})
	require.Len(t, requests, 2)

	put := requests[0].PutRequest
	require.NotNil(t, put)
	assert.Equal(t, "ns", *put.Item[tablePartitionKey].S)
	assert.Equal(t, "a", *put.Item[tableSortKey].S)
	assert.Equal(t, "1", *put.Item[valueAttribute].S)

	del := requests[1].DeleteRequest
	require.NotNil(t, del)
	assert.Equal(t, "gone", *del.Key[tableSortKey].S)
}
