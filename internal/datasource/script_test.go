package datasource

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/strata3d/engine/internal/load"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func writeScript(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "generate_tile.lua")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestScriptSourceGeneratesRecords(t *testing.T) {
	path := writeScript(t, `
function generate_tile(tile)
    return {
        {
            key = string.format("%s/%d/%d/%d/a", tile.layer, tile.level, tile.x, tile.y),
            name = "a",
            kind = "marker",
            properties = {
                weight = 3,
                flag = true,
                label = "spawn",
                offsets = { 0.25, 0.75 },
            },
        },
        {
            key = "b",
            kind = "marker",
        },
    }
end
`)
	clock := &stubClock{}
	src, err := NewScriptSource(path, clock, zap.NewNop())
	require.NoError(t, err)
	defer src.Close()

	var got load.Result
	src.Fetch(context.Background(), load.ScopeKey{Layer: "proc", Level: 2, X: 1, Y: 0},
		func(res load.Result) { got = res })
	clock.drain()

	require.NoError(t, got.Err)
	require.Len(t, got.Records, 2)

	rec := got.Records[0]
	assert.Equal(t, "proc/2/1/0/a", rec.Key)
	assert.Equal(t, "a", rec.Name)
	assert.Equal(t, "marker", rec.Kind)
	assert.Equal(t, 3.0, rec.Properties["weight"])
	assert.Equal(t, true, rec.Properties["flag"])
	assert.Equal(t, "spawn", rec.Properties["label"])
	assert.Equal(t, []any{0.25, 0.75}, rec.Properties["offsets"])
	assert.NotEmpty(t, rec.Revision)

	assert.Equal(t, "b", got.Records[1].Key)
	assert.Nil(t, got.Records[1].Properties)
}

func TestScriptSourceDeterministicRevisions(t *testing.T) {
	path := writeScript(t, `
function generate_tile(tile)
    return {
        { key = "a", kind = "marker", properties = { x = tile.x, y = tile.y } },
    }
end
`)
	clock := &stubClock{}
	src, err := NewScriptSource(path, clock, zap.NewNop())
	require.NoError(t, err)
	defer src.Close()

	fetch := func(x int) load.Record {
		var got load.Result
		src.Fetch(context.Background(), load.ScopeKey{Layer: "proc", Level: 2, X: x, Y: 0},
			func(res load.Result) { got = res })
		clock.drain()
		require.NoError(t, got.Err)
		require.Len(t, got.Records, 1)
		return got.Records[0]
	}

	assert.Equal(t, fetch(1).Revision, fetch(1).Revision)
	assert.NotEqual(t, fetch(1).Revision, fetch(2).Revision)
}

func TestScriptSourceErrors(t *testing.T) {
	t.Run("missing generator", func(t *testing.T) {
		path := writeScript(t, `x = 1`)
		_, err := NewScriptSource(path, &stubClock{}, zap.NewNop())
		assert.ErrorContains(t, err, "generate_tile")
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := NewScriptSource(filepath.Join(t.TempDir(), "nope.lua"), &stubClock{}, zap.NewNop())
		assert.Error(t, err)
	})

	t.Run("runtime error surfaces in result", func(t *testing.T) {
		path := writeScript(t, `
function generate_tile(tile)
    error("boom")
end
`)
		clock := &stubClock{}
		src, err := NewScriptSource(path, clock, zap.NewNop())
		require.NoError(t, err)
		defer src.Close()

		var got load.Result
		src.Fetch(context.Background(), load.ScopeKey{Layer: "proc"}, func(res load.Result) { got = res })
		clock.drain()
		assert.Error(t, got.Err)
	})
}
