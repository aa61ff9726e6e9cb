package kit

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
)

func TestChainOrder(t *testing.T) {
	var order []string
	mw := func(name string) Middleware {
		return func(next Endpoint) Endpoint {
			return func(ctx context.Context, req any) (any, error) {
				order = append(order, name)
				return next(ctx, req)
			}
		}
	}
	ep := Chain(mw("a"), mw("b"), mw("c"))(func(context.Context, any) (any, error) {
		order = append(order, "endpoint")
		return "ok", nil
	})

	resp, err := ep(context.Background(), nil)
	if err != nil || resp != "ok" {
		t.Fatalf("endpoint = %v, %v", resp, err)
	}
	want := []string{"a", "b", "c", "endpoint"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("order = %v, want %v", order, want)
			break
		}
	}
}

func TestLoggingPassesThrough(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	boom := errors.New("boom")
	ep := Logging(logger, "total")(func(context.Context, any) (any, error) {
		return nil, boom
	})
	if _, err := ep(context.Background(), nil); !errors.Is(err, boom) {
		t.Errorf("err = %v, want boom", err)
	}
}

func TestContextKeys(t *testing.T) {
	ctx := context.Background()
	if GetTransport(ctx) != "http" {
		t.Errorf("default transport = %q", GetTransport(ctx))
	}
	if GetRequestID(ctx) != "" {
		t.Errorf("default request id = %q", GetRequestID(ctx))
	}
	ctx = WithRequestID(WithTransport(ctx, "mcp"), "abc")
	if GetTransport(ctx) != "mcp" || GetRequestID(ctx) != "abc" {
		t.Errorf("transport = %q, request id = %q", GetTransport(ctx), GetRequestID(ctx))
	}
}
