package manager

import (
	"context"
	"net/http"
	"testing"

	"deployd/internal/ports"
)

func TestUndeployTwiceIsNotFound(t *testing.T) {
	r := ports.Range{Start: 33250, End: 33252}
	requireFree(t, r)
	h := newHarness(t, r)
	ctx := context.Background()

	d, _, err := h.m.Deploy(ctx, "iris", "1")
	if err != nil {
		t.Fatalf("deploy: %v", err)
	}
	if err := h.m.Undeploy(ctx, d.ID); err != nil {
		t.Fatalf("undeploy: %v", err)
	}
	if _, ok := h.m.Lookup(d.ID); ok {
		t.Fatalf("record still in mirror")
	}
	if _, err := h.store.Get(ctx, d.ID); err == nil {
		t.Fatalf("record still in store")
	}
	if h.m.FreePorts() != r.Size() {
		t.Fatalf("port not released: free=%d", h.m.FreePorts())
	}
	if len(h.monitor.unregistered) != 1 || h.monitor.unregistered[0] != d.ID {
		t.Fatalf("monitor unregistrations: %v", h.monitor.unregistered)
	}

	err = h.m.Undeploy(ctx, d.ID)
	if !IsNotFound(err) || StatusCode(err) != http.StatusNotFound {
		t.Fatalf("second undeploy err=%v, want not found", err)
	}
	if h.m.Status().UndeploysTotal != 1 {
		t.Fatalf("UndeploysTotal=%d", h.m.Status().UndeploysTotal)
	}
}

func TestUndeployUnknown(t *testing.T) {
	h := newHarness(t, ports.Range{Start: 33253, End: 33254})
	if err := h.m.Undeploy(context.Background(), "ghost-1"); !IsNotFound(err) {
		t.Fatalf("err=%v", err)
	}
	if n := len(h.launcher.terminatedIDs()); n != 0 {
		t.Fatalf("terminate called %d times for unknown id", n)
	}
}

func TestUndeployTerminateFailureKeepsRecord(t *testing.T) {
	r := ports.Range{Start: 33255, End: 33257}
	requireFree(t, r)
	h := newHarness(t, r)
	ctx := context.Background()

	d, _, err := h.m.Deploy(ctx, "wine", "7")
	if err != nil {
		t.Fatalf("deploy: %v", err)
	}
	h.launcher.terminateErr = errBoom
	if err := h.m.Undeploy(ctx, d.ID); err == nil {
		t.Fatalf("expected undeploy to fail")
	}
	if _, ok := h.m.Lookup(d.ID); !ok {
		t.Fatalf("record removed although the process was not stopped")
	}
	if !hasEvent(h.pub, EventUndeployFailed, d.ID) {
		t.Fatalf("missing undeploy_failed event")
	}
}
