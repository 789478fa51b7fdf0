package logging

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuild(t *testing.T) {
	var buf bytes.Buffer
	logger := Build(Config{Level: "warn", Component: "geopipe"}, &buf)

	logger.Info().Msg("hidden")
	assert.Empty(t, buf.String())

	logger.Warn().Msg("shown")
	assert.Contains(t, buf.String(), `"component":"geopipe"`)
	assert.Contains(t, buf.String(), `"msg":"shown"`)
}

func TestFromContext(t *testing.T) {
	var buf bytes.Buffer
	ctx := Into(context.Background(), Build(Config{Level: "debug"}, &buf))
	ctx = WithSource(WithStage(ctx, "slicer"), "a.tif")

	FromContext(ctx).Debug().Int("windows", 4).Msg("sliced")
	assert.Contains(t, buf.String(), `"stage":"slicer"`)
	assert.Contains(t, buf.String(), `"source":"a.tif"`)
	assert.Contains(t, buf.String(), `"windows":4`)
}

func TestFromContextWithoutLogger(t *testing.T) {
	assert.NotPanics(t, func() {
		FromContext(context.Background()).Info().Msg("nowhere")
	})
}
