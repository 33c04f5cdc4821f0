package builtin

import (
	"testing"

	"github.com/bft-labs/gracehost/pkg/module"
)

func TestCatalog(t *testing.T) {
	cat := Catalog()

	for _, name := range []string{"configwatcher", "heartbeat", "status"} {
		factory, ok := cat[name]
		if !ok {
			t.Errorf("catalog is missing %q", name)
			continue
		}
		m := factory()
		if _, ok := m.(module.SetupHook); !ok {
			t.Errorf("%s does not implement SetupHook", name)
		}
		if _, ok := m.(module.ConfigReader); !ok {
			t.Errorf("%s does not implement ConfigReader", name)
		}
		if factory() == m {
			t.Errorf("%s factory returned a shared instance", name)
		}
	}
}
