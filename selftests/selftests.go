package selftests

import (
	"embed"
	"fmt"

	"github.com/launchdarkly/test-engine/data"
	"github.com/launchdarkly/test-engine/framework/builder"
)

//go:embed manifests
var manifestFS embed.FS

const manifestPattern = "manifests/**/*.{json,yaml}"

// Register adds the self-test suites, and the parameter sources from their embedded manifests, to
// a registry.
func Register(registry *builder.Registry) error {
	manifests, err := data.LoadManifests(manifestFS, manifestPattern)
	if err != nil {
		return fmt.Errorf("cannot load self-test manifests: %w", err)
	}
	data.ApplyAll(registry, manifests)

	registerEngineSuite(registry.Suite("engine"))
	registerSettingsSuite(registry.Suite("settings"))
	registerProtocolSuite(registry.Suite("protocol", builder.Categories("remote")))
	return nil
}
