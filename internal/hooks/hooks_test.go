package hooks

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/assetpipe/internal/chunk"
	"github.com/wolfeidau/assetpipe/internal/emit"
	"github.com/wolfeidau/assetpipe/internal/graph"
)

type recorder struct {
	Base
	name  string
	calls *[]string
	fail  Hook
	panic bool
}

func (r *recorder) Name() string { return r.name }

func (r *recorder) record(hook Hook) error {
	*r.calls = append(*r.calls, r.name+":"+string(hook))
	if r.fail != hook {
		return nil
	}
	if r.panic {
		panic("boom")
	}
	return errors.New("rejected")
}

func (r *recorder) OnGraphBuilt(context.Context, *graph.Graph) error {
	return r.record(HookGraphBuilt)
}

func (r *recorder) OnChunkOptimized(context.Context, *chunk.Set) error {
	return r.record(HookChunkOptimized)
}

func (r *recorder) OnAssetEmitted(context.Context, *emit.Assets) error {
	return r.record(HookAssetEmitted)
}

type graphOnly struct {
	Base
	seen int
}

func (g *graphOnly) Name() string { return "graph-only" }

func (g *graphOnly) OnGraphBuilt(_ context.Context, gr *graph.Graph) error {
	g.seen = gr.Len()
	return nil
}

func TestBus_RegistrationOrder(t *testing.T) {
	var calls []string
	bus := NewBus(&recorder{name: "a", calls: &calls})
	bus.Register(&recorder{name: "b", calls: &calls})
	require.Equal(t, []string{"a", "b"}, bus.Plugins())

	ctx := context.Background()
	require.NoError(t, bus.GraphBuilt(ctx, graph.New()))
	require.NoError(t, bus.ChunkOptimized(ctx, &chunk.Set{}))
	require.NoError(t, bus.AssetEmitted(ctx, emit.NewAssets("/")))

	require.Equal(t, []string{
		"a:graph-built", "b:graph-built",
		"a:chunk-optimized", "b:chunk-optimized",
		"a:asset-emitted", "b:asset-emitted",
	}, calls)
}

func TestBus_Failures(t *testing.T) {
	tests := []struct {
		name  string
		panic bool
		want  string
	}{
		{name: "error", want: "rejected"},
		{name: "panic", panic: true, want: "panic: boom"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls []string
			bus := NewBus(
				&recorder{name: "first", calls: &calls},
				&recorder{name: "bad", calls: &calls, fail: HookAssetEmitted, panic: tt.panic},
				&recorder{name: "last", calls: &calls},
			)

			err := bus.AssetEmitted(context.Background(), emit.NewAssets("/"))

			var pluginErr *PluginError
			require.ErrorAs(t, err, &pluginErr)
			require.Equal(t, "bad", pluginErr.Plugin)
			require.Equal(t, HookAssetEmitted, pluginErr.Hook)
			require.EqualError(t, pluginErr.Err, tt.want)
			require.Equal(t, []string{"first:asset-emitted", "bad:asset-emitted"}, calls)
		})
	}
}

func TestBus_CancelledContext(t *testing.T) {
	var calls []string
	bus := NewBus(&recorder{name: "a", calls: &calls})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := bus.GraphBuilt(ctx, graph.New())
	require.ErrorIs(t, err, context.Canceled)
	require.Empty(t, calls)
}

func TestBase_NoOps(t *testing.T) {
	p := &graphOnly{}
	bus := NewBus(p)

	g := graph.New()
	g.Modules["src/main.js"] = &graph.Module{ID: "src/main.js"}

	ctx := context.Background()
	require.NoError(t, bus.GraphBuilt(ctx, g))
	require.NoError(t, bus.ChunkOptimized(ctx, &chunk.Set{}))
	require.NoError(t, bus.AssetEmitted(ctx, emit.NewAssets("/")))
	require.Equal(t, 1, p.seen)
}
