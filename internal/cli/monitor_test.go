package cli

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/volley/internal/monitor"
)

type steadySource struct {
	sample monitor.Sample
	err    error
}

func (s steadySource) Sample(ctx context.Context, name string) (monitor.Sample, error) {
	return s.sample, s.err
}

func TestRunMonitor(t *testing.T) {
	m := monitor.New(steadySource{sample: monitor.Sample{CPUPercent: 12.5, MemoryMB: 48}}, 10*time.Millisecond, nil)

	var buf bytes.Buffer
	require.NoError(t, runMonitor(context.Background(), m, "api", 35*time.Millisecond, &buf))

	out := buf.String()
	assert.Contains(t, out, "Monitoring api for 35ms...")
	assert.Contains(t, out, "Sample 1: CPU=12.5%, RAM=48.0MB")
	assert.Contains(t, out, "Average CPU: 12.50%")
	assert.Contains(t, out, "Average RAM: 48.00 MB")
}

func TestRunMonitor_NoSamples(t *testing.T) {
	m := monitor.New(steadySource{err: errors.New("no such container")}, 10*time.Millisecond, nil)

	var buf bytes.Buffer
	err := runMonitor(context.Background(), m, "missing", 25*time.Millisecond, &buf)
	require.Error(t, err)
	assert.True(t, errors.Is(err, monitor.ErrNoSamples))
	assert.False(t, strings.Contains(buf.String(), "Average CPU"))
}

func TestMonitorCommand_RequiresContainer(t *testing.T) {
	err := executeRoot(t, new(bytes.Buffer), "monitor")
	assert.Error(t, err)
}
