package ctlproto_test

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/mgroupd/mgroupd/internal/ctlproto"
)

func startTestServer(t *testing.T, handler ctlproto.Handler) (socketPath string, stop func()) {
	t.Helper()

	dir := t.TempDir()
	socketPath = filepath.Join(dir, "ctl.sock")

	l, err := net.Listen("unix", socketPath)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	srv := ctlproto.NewServer(handler, nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = srv.Serve(ctx, l)
	}()

	return socketPath, func() {
		cancel()
		<-done
	}
}

func TestCallRoundTrip(t *testing.T) {
	t.Parallel()

	handler := ctlproto.HandlerFunc(func(_ context.Context, op ctlproto.Op, params json.RawMessage) (any, error) {
		if op != ctlproto.OpShowVif {
			t.Errorf("unexpected op %q", op)
		}
		var p ctlproto.ShowVifParams
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, err
		}
		return ctlproto.ShowVifResult{
			Vifs: []ctlproto.VifInfo{
				{Name: p.Name, Family: "ipv4", Up: true, ProtoVersion: 3},
			},
		}, nil
	})

	sock, stop := startTestServer(t, handler)
	defer stop()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	client, err := ctlproto.Dial(ctx, sock)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer client.Close()

	var result ctlproto.ShowVifResult
	if err := client.Call(ctlproto.OpShowVif, ctlproto.ShowVifParams{Name: "eth0"}, &result); err != nil {
		t.Fatalf("Call: %v", err)
	}

	if len(result.Vifs) != 1 || result.Vifs[0].Name != "eth0" {
		t.Fatalf("result = %+v, want one vif named eth0", result)
	}
}

func TestCallRemoteError(t *testing.T) {
	t.Parallel()

	wantErr := errors.New("vif not found")
	handler := ctlproto.HandlerFunc(func(_ context.Context, _ ctlproto.Op, _ json.RawMessage) (any, error) {
		return nil, wantErr
	})

	sock, stop := startTestServer(t, handler)
	defer stop()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	client, err := ctlproto.Dial(ctx, sock)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer client.Close()

	err = client.Call(ctlproto.OpDeleteVif, ctlproto.DeleteVifParams{Name: "eth0", Family: "ipv4"}, nil)
	if err == nil {
		t.Fatal("Call() returned nil error, want remote error")
	}
	if !errors.Is(err, ctlproto.ErrRemote) {
		t.Errorf("Call() error = %v, want wrapping ctlproto.ErrRemote", err)
	}
}

func TestCallMultipleSequential(t *testing.T) {
	t.Parallel()

	var calls int
	handler := ctlproto.HandlerFunc(func(_ context.Context, op ctlproto.Op, _ json.RawMessage) (any, error) {
		calls++
		return ctlproto.ShowQuerierResult{Vif: "eth0", IsQuerier: op == ctlproto.OpShowQuerier}, nil
	})

	sock, stop := startTestServer(t, handler)
	defer stop()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	client, err := ctlproto.Dial(ctx, sock)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer client.Close()

	for i := 0; i < 3; i++ {
		var result ctlproto.ShowQuerierResult
		if err := client.Call(ctlproto.OpShowQuerier, ctlproto.ShowQuerierParams{Name: "eth0", Family: "ipv4"}, &result); err != nil {
			t.Fatalf("Call #%d: %v", i, err)
		}
		if !result.IsQuerier {
			t.Errorf("Call #%d: IsQuerier = false, want true", i)
		}
	}

	if calls != 3 {
		t.Errorf("handler invoked %d times, want 3", calls)
	}
}
