package gracehost_test

import (
	"context"
	"fmt"

	"github.com/bft-labs/gracehost"
	"github.com/bft-labs/gracehost/pkg/config"
	"github.com/bft-labs/gracehost/pkg/host"
	"github.com/bft-labs/gracehost/pkg/log"
	"github.com/bft-labs/gracehost/pkg/module"
)

type greeter struct {
	name string
}

func (g *greeter) ReadConfig(sec config.Section) error {
	g.name = sec.String("name")
	return nil
}

func (g *greeter) Setup(ctx context.Context, mc *gracehost.Context) error {
	fmt.Printf("hello, %s\n", g.name)
	return nil
}

// ExampleNew demonstrates how to embed the host in your application.
func ExampleNew() {
	h := gracehost.New(
		host.WithConfigStore(config.FromMap(map[string]interface{}{
			"greeter": map[string]interface{}{"name": "world"},
		})),
		host.WithLogger(log.NewNoopLogger()),
		host.WithAppModules(module.Catalog{
			"greeter": func() module.Module { return &greeter{} },
		}),
		host.WithoutSignals(),
	)

	if err := h.Use("greeter", ""); err != nil {
		fmt.Printf("use: %v\n", err)
		return
	}

	// Load never exits the process, unlike Start.
	ctx := context.Background()
	if err := h.Load(ctx, func() { fmt.Println("ready") }); err != nil {
		fmt.Printf("load: %v\n", err)
		return
	}
	fmt.Println(h.Role())

	if err := h.Unload(ctx); err != nil {
		fmt.Printf("unload: %v\n", err)
	}

	// Output:
	// hello, world
	// ready
	// singleton
}
