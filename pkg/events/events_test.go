package events

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	sampleInfo = Event{Package: "test", Code: 1, Level: LevelInfo, Title: "Deployed", Cause: "All good"}
	sampleErr  = Event{Package: "test", Code: 2, Level: LevelAppError, Title: "Broken <b>", Action: "Check the logs"}
)

func TestLevelIsError(t *testing.T) {
	assert.False(t, LevelInfo.IsError())
	assert.False(t, LevelSuccess.IsError())
	assert.False(t, LevelWarning.IsError())
	assert.True(t, LevelAppError.IsError())
	assert.True(t, LevelError.IsError())
	assert.True(t, LevelCritical.IsError())
}

func TestWithDoesNotMutateCatalog(t *testing.T) {
	e := sampleErr.WithErr(errors.New("boom"), "file=a.jar")

	assert.Equal(t, "file=a.jar", e.Parameters)
	assert.Empty(t, sampleErr.Parameters)
	assert.Nil(t, sampleErr.Err)
	assert.True(t, e.Same(sampleErr))
	assert.Equal(t, "test:2", e.Key())
}

func TestIsErrorAndContains(t *testing.T) {
	assert.False(t, IsError(nil))
	assert.False(t, IsError([]Event{sampleInfo}))
	assert.True(t, IsError([]Event{sampleInfo, sampleErr}))

	assert.True(t, Contains([]Event{sampleInfo, sampleErr.With("x")}, sampleErr))
	assert.False(t, Contains([]Event{sampleInfo}, sampleErr))
}

func TestHTML(t *testing.T) {
	assert.Equal(t, "", HTML(nil))

	out := HTML([]Event{sampleInfo, sampleErr})
	assert.Contains(t, out, "test:1")
	assert.Contains(t, out, "event-error")
	assert.Contains(t, out, "Broken &lt;b&gt;")
	assert.Contains(t, out, "Check the logs")
	assert.NotContains(t, out, "Broken <b>")
}

func TestSyntheticErrors(t *testing.T) {
	list := []Event{sampleInfo, sampleErr.With("p")}
	assert.Equal(t, "test:2(APPLICATION_ERROR) Broken <b> - p", SyntheticErrors(list))
	assert.Contains(t, Synthetic(list), "test:1(INFO) Deployed")
}

func TestLogSink(t *testing.T) {
	var buf bytes.Buffer
	sink := &LogSink{Logger: slog.New(slog.NewTextHandler(&buf, nil))}

	sink.Record(context.Background(), []Event{sampleInfo, sampleErr})

	out := buf.String()
	require.NotEmpty(t, out)
	assert.Contains(t, out, "level=INFO")
	assert.Contains(t, out, "level=ERROR")
	assert.Contains(t, out, "event=test:2")
}
