package provider_test

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/petal-labs/petalmcp/provider"
	"github.com/petal-labs/petalmcp/provider/providertest"
)

func TestHealthMonitorRejectsBadSchedule(t *testing.T) {
	manager := provider.NewManager(provider.ManagerOptions{})
	defer manager.Close(context.Background())

	for _, schedule := range []string{"", "every minute", "* * *"} {
		if _, err := provider.NewHealthMonitor(manager, schedule, nil); err == nil {
			t.Fatalf("NewHealthMonitor(%q) error = nil, want error", schedule)
		}
	}
}

func TestHealthMonitorCheckAll(t *testing.T) {
	search := &providertest.Server{Name: "search"}
	manager, _ := providertest.Connect(t, &providertest.Server{Name: "files"}, search)
	monitor, err := provider.NewHealthMonitor(manager, "@every 1h", slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("NewHealthMonitor() error = %v", err)
	}
	monitor.Start()
	defer monitor.Stop()

	if unhealthy := monitor.CheckAll(context.Background()); len(unhealthy) != 0 {
		t.Fatalf("CheckAll() unhealthy = %v, want none", unhealthy)
	}
	conn, _ := manager.Connection("files")
	if _, ok := conn.LastPing(); !ok {
		t.Fatal("LastPing() ok = false after healthy ping")
	}

	search.SetFailPings(true)
	unhealthy := monitor.CheckAll(context.Background())
	if len(unhealthy) != 1 || unhealthy[0] != "search" {
		t.Fatalf("CheckAll() unhealthy = %v, want [search]", unhealthy)
	}
}
