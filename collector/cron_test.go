package collector

import (
	"context"
	"testing"
	"time"

	"github.com/hupe1980/taskmesh/bus"
	"github.com/hupe1980/taskmesh/core"
	"github.com/hupe1980/taskmesh/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCron_EmitsCommands(t *testing.T) {
	b := bus.NewInMemory()
	t.Cleanup(func() { _ = b.Close() })

	rec := testutil.NewRecorder()
	_, err := b.Subscribe(context.Background(), core.CommandTopic("worker-1"), rec.Handle)
	require.NoError(t, err)

	c := NewCron(b)
	id, err := c.Schedule("@every 10ms", "worker-1", core.Command{
		TaskType: "echo",
		Params:   map[string]any{"msg": "tick"},
		Priority: core.PriorityHigh,
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	c.Start()
	defer c.Stop()

	require.Eventually(t, func() bool {
		return len(rec.OfType(core.EventTaskCommand)) >= 2
	}, 2*time.Second, 5*time.Millisecond)

	c.Stop()

	events := rec.OfType(core.EventTaskCommand)
	require.GreaterOrEqual(t, len(events), 2)

	first, err := core.ParseCommand(events[0])
	require.NoError(t, err)
	second, err := core.ParseCommand(events[1])
	require.NoError(t, err)

	assert.Equal(t, "echo", first.TaskType)
	assert.Equal(t, core.PriorityHigh, first.Priority)
	assert.Equal(t, map[string]any{"msg": "tick"}, first.Params)
	assert.Equal(t, "cron-collector", events[0].Source)

	// Every firing is a fresh task.
	assert.NotEmpty(t, first.TaskID)
	assert.NotEqual(t, first.TaskID, second.TaskID)
	assert.NotEqual(t, first.CorrelationID, second.CorrelationID)

	// No emissions after Stop.
	n := len(rec.OfType(core.EventTaskCommand))
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, rec.OfType(core.EventTaskCommand), n)
}

func TestCron_TemplateTaskIDIgnored(t *testing.T) {
	b := bus.NewInMemory()
	t.Cleanup(func() { _ = b.Close() })

	rec := testutil.NewRecorder()
	_, err := b.Subscribe(context.Background(), core.CommandTopic("worker-1"), rec.Handle)
	require.NoError(t, err)

	c := NewCron(b)
	_, err = c.Schedule("@every 10ms", "worker-1", core.Command{TaskID: "template-id", TaskType: "echo"})
	require.NoError(t, err)

	c.Start()
	defer c.Stop()

	ev := rec.WaitForType(t, core.EventTaskCommand, "")

	cmd, err := core.ParseCommand(ev)
	require.NoError(t, err)
	assert.NotEqual(t, "template-id", cmd.TaskID)
}

func TestCron_ScheduleValidation(t *testing.T) {
	c := NewCron(bus.NewInMemory())

	_, err := c.Schedule("not a spec", "worker-1", core.Command{TaskType: "echo"})
	require.Error(t, err)

	_, err = c.Schedule("@hourly", "", core.Command{TaskType: "echo"})
	require.Error(t, err)

	_, err = c.Schedule("@hourly", "worker-1", core.Command{})
	require.Error(t, err)
}

func TestCron_Unschedule(t *testing.T) {
	c := NewCron(bus.NewInMemory())

	id, err := c.Schedule("@hourly", "worker-1", core.Command{TaskType: "echo"})
	require.NoError(t, err)

	assert.True(t, c.Unschedule(id))
	assert.False(t, c.Unschedule(id))
	assert.False(t, c.Unschedule("unknown"))
}
