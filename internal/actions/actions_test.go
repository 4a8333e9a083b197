package actions

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ticksched/internal/config"
	"ticksched/internal/scheduler"
	logx "ticksched/pkg/logx"
)

func TestLogAction(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	b := Builder{Log: logx.NewJSON(&buf, "info")}

	task, err := b.Task(0, config.Default().Tasks[0])
	require.NoError(t, err)
	assert.Equal(t, scheduler.Periodic, task.Kind)
	assert.Equal(t, time.Second, task.Timeout)

	task.Callback.Run(task.Arg)

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, config.DemoTaskMessage, line["message"])
	assert.Equal(t, config.DemoTaskName, line["task"])
}

func TestCountAction(t *testing.T) {
	t.Parallel()
	counters := NewCounters()
	b := Builder{Log: logx.Nop(), Counters: counters}

	task, err := b.Task(0, config.TaskConfig{Name: "hits", Kind: "oneshot", Timeout: "5ms", Action: "count"})
	require.NoError(t, err)
	assert.Equal(t, scheduler.OneShot, task.Kind)

	task.Callback.Run(task.Arg)
	task.Callback.Run(task.Arg)
	assert.EqualValues(t, 2, counters.Get("hits"))
	assert.Equal(t, []string{"hits"}, counters.Names())
	assert.Equal(t, map[string]uint64{"hits": 2}, counters.Snapshot())
}

func TestBuildErrors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		b    Builder
		tc   config.TaskConfig
	}{
		{name: "bad kind", tc: config.TaskConfig{Name: "x", Kind: "hourly", Timeout: "1s"}},
		{name: "bad timeout", tc: config.TaskConfig{Name: "x", Timeout: "later"}},
		{name: "bad action", tc: config.TaskConfig{Name: "x", Timeout: "1s", Action: "mail"}},
		{name: "count without counters", tc: config.TaskConfig{Name: "x", Timeout: "1s", Action: "count"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := tt.b.Task(0, tt.tc)
			assert.Error(t, err)
		})
	}
}
