package provider_test

import (
	"context"
	"reflect"
	"testing"

	"github.com/petal-labs/petalmcp/provider"
	"github.com/petal-labs/petalmcp/provider/providertest"
)

func toolNames(descriptors []provider.ToolDescriptor) []string {
	out := make([]string, 0, len(descriptors))
	for _, d := range descriptors {
		out = append(out, d.Provider+"/"+d.Name)
	}
	return out
}

func TestRegistryFirstRegisteredWins(t *testing.T) {
	alpha := &providertest.Server{Name: "alpha", Tools: []providertest.Tool{{Name: "search"}, {Name: "fetch"}}}
	beta := &providertest.Server{Name: "beta", Tools: []providertest.Tool{{Name: "search"}, {Name: "summarize"}}}
	network := providertest.NewNetwork(alpha, beta)
	manager := newManager(network, nil)
	defer manager.Close(context.Background())

	if _, err := manager.ConnectAll(context.Background(), []provider.Spec{providertest.Spec("alpha"), providertest.Spec("beta")}, 1); err != nil {
		t.Fatalf("ConnectAll() error = %v", err)
	}

	registry := manager.Registry()
	owner, ok := registry.FindOwner("search")
	if !ok || owner.Name() != "alpha" {
		t.Fatalf("FindOwner(search) = %v, want alpha", owner)
	}

	got := toolNames(registry.DescribeAll())
	want := []string{"alpha/search", "alpha/fetch", "beta/summarize"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("DescribeAll() = %v, want %v", got, want)
	}
	beta1, _ := manager.Connection("beta")
	if shadowed := registry.Shadowed(beta1); !reflect.DeepEqual(shadowed, []string{"search"}) {
		t.Fatalf("Shadowed(beta) = %v, want [search]", shadowed)
	}

	if err := manager.Disconnect(context.Background(), "alpha"); err != nil {
		t.Fatalf("Disconnect(alpha) error = %v", err)
	}
	owner, ok = registry.FindOwner("search")
	if !ok || owner.Name() != "beta" {
		t.Fatalf("FindOwner(search) after alpha left = %v, want beta", owner)
	}
	if _, ok := registry.FindOwner("fetch"); ok {
		t.Fatal("FindOwner(fetch) ok after alpha left")
	}
}

func TestRegistryDescribeAllIsDeterministic(t *testing.T) {
	servers := []*providertest.Server{
		{Name: "one", Tools: []providertest.Tool{{Name: "b"}, {Name: "a"}}},
		{Name: "two", Tools: []providertest.Tool{{Name: "c"}}},
		{Name: "three", Tools: []providertest.Tool{{Name: "d"}, {Name: "a"}}},
	}
	specs := []provider.Spec{providertest.Spec("one"), providertest.Spec("two"), providertest.Spec("three")}

	var first []string
	for i := 0; i < 5; i++ {
		manager := newManager(providertest.NewNetwork(servers...), nil)
		if _, err := manager.ConnectAll(context.Background(), specs, 1); err != nil {
			t.Fatalf("ConnectAll() error = %v", err)
		}
		got := toolNames(manager.Registry().DescribeAll())
		if err := manager.Close(context.Background()); err != nil {
			t.Fatalf("Close() error = %v", err)
		}
		if first == nil {
			first = got
			continue
		}
		if !reflect.DeepEqual(got, first) {
			t.Fatalf("run %d DescribeAll() = %v, want %v", i, got, first)
		}
	}
	want := []string{"one/b", "one/a", "two/c", "three/d"}
	if !reflect.DeepEqual(first, want) {
		t.Fatalf("DescribeAll() = %v, want %v", first, want)
	}
}

func TestRegistryProvidersInRegistrationOrder(t *testing.T) {
	manager, _ := providertest.Connect(t,
		&providertest.Server{Name: "zeta"},
		&providertest.Server{Name: "alpha"},
	)
	if got := manager.Registry().Providers(); !reflect.DeepEqual(got, []string{"zeta", "alpha"}) {
		t.Fatalf("Providers() = %v, want [zeta alpha]", got)
	}
}
