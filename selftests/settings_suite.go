package selftests

import (
	"bytes"
	"context"
	"os"
	"path/filepath"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/launchdarkly/test-engine/framework/builder"
	"github.com/launchdarkly/test-engine/framework/ldtest"
	"github.com/launchdarkly/test-engine/settings"
)

// currentSettings returns the settings of the run, which the host passes as the test context
// value, or an empty bag if there are none.
func currentSettings(t *ldtest.T) settings.Settings {
	if shared, ok := t.TestContext().Value().(*settings.Shared); ok && shared != nil {
		return shared.Current()
	}
	return settings.Settings{}
}

func registerSettingsSuite(suite *builder.SuiteDecl) {
	builder.Test(suite, "envelope round trip", func(t *ldtest.T) {
		s := currentSettings(t).Merge(settings.New(map[string]string{
			"self-test": `<quoted & "escaped">`,
		}))
		var buf bytes.Buffer
		require.NoError(t, settings.Write(&buf, s))
		loaded, err := settings.Load(&buf)
		require.NoError(t, err)
		assert.True(t, s.Equal(loaded), "expected %v, got %v", s.Map(), loaded.Map())
	})

	stores := builder.Fixture(suite, "file store", builder.FixtureFuncs[settings.FileStore]{
		SetUp: func(context.Context, *ldtest.TestContext) (settings.FileStore, error) {
			dir, err := os.MkdirTemp("", "test-engine-settings")
			if err != nil {
				return settings.FileStore{}, err
			}
			return settings.FileStore{Path: filepath.Join(dir, "nested", "settings.xml")}, nil
		},
		TearDown: func(_ context.Context, store settings.FileStore) error {
			return os.RemoveAll(filepath.Dir(filepath.Dir(store.Path)))
		},
	})
	builder.Case(stores, "starts empty", func(t *ldtest.T, store settings.FileStore) {
		s, err := store.Load(t.Context())
		require.NoError(t, err)
		assert.Equal(t, 0, s.Len())
	})
	builder.Case(stores, "saves and loads", func(t *ldtest.T, store settings.FileStore) {
		s := currentSettings(t)
		s.Set("saved-by", t.Name().String())
		require.NoError(t, store.Save(t.Context(), s))
		loaded, err := store.Load(t.Context())
		require.NoError(t, err)
		assert.Equal(t, s.Map(), loaded.Map())
	})
}
