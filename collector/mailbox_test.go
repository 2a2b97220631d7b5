package collector

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hupe1980/taskmesh/bus"
	"github.com/hupe1980/taskmesh/core"
	"github.com/hupe1980/taskmesh/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeMailboxFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestMailbox_ScanOnce(t *testing.T) {
	b := bus.NewInMemory()
	t.Cleanup(func() { _ = b.Close() })

	recA := testutil.NewRecorder()
	_, err := b.Subscribe(context.Background(), core.CommandTopic("worker-1"), recA.Handle)
	require.NoError(t, err)

	recB := testutil.NewRecorder()
	_, err = b.Subscribe(context.Background(), core.CommandTopic("worker-2"), recB.Handle)
	require.NoError(t, err)

	dir := t.TempDir()
	writeMailboxFile(t, dir, "batch-a.yaml", `schema_version: 1
file_type: commands
commands:
  - agent_id: worker-1
    task_type: echo
    params:
      msg: hello
    priority: HIGH
  - agent_id: worker-2
    task_id: task-fixed
    task_type: sleep
  - agent_id: worker-2
    task_type: echo
    priority: 2
`)

	m := NewMailbox(b, dir)

	n, err := m.ScanOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	require.Len(t, recA.Events(), 1)
	require.Len(t, recB.Events(), 2)

	first, err := core.ParseCommand(recA.Events()[0])
	require.NoError(t, err)
	assert.Equal(t, "echo", first.TaskType)
	assert.Equal(t, core.PriorityHigh, first.Priority)
	assert.Equal(t, map[string]any{"msg": "hello"}, first.Params)
	assert.NotEmpty(t, first.TaskID)
	assert.Equal(t, "mailbox-collector", recA.Events()[0].Source)

	second, err := core.ParseCommand(recB.Events()[0])
	require.NoError(t, err)
	assert.Equal(t, "task-fixed", second.TaskID)
	assert.Equal(t, core.PriorityNormal, second.Priority)

	third, err := core.ParseCommand(recB.Events()[1])
	require.NoError(t, err)
	assert.Equal(t, core.PriorityHigh, third.Priority)

	// Processed files are archived and never picked up again.
	_, err = os.Stat(filepath.Join(dir, "batch-a.yaml"+doneSuffix))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "batch-a.yaml"))
	require.True(t, os.IsNotExist(err))

	n, err = m.ScanOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestMailbox_FileOrder(t *testing.T) {
	b := bus.NewInMemory()
	t.Cleanup(func() { _ = b.Close() })

	rec := testutil.NewRecorder()
	_, err := b.Subscribe(context.Background(), core.CommandTopic("worker-1"), rec.Handle)
	require.NoError(t, err)

	dir := t.TempDir()
	writeMailboxFile(t, dir, "02-second.yaml", `schema_version: 1
file_type: commands
commands:
  - agent_id: worker-1
    task_type: echo
    params:
      order: second
`)
	writeMailboxFile(t, dir, "01-first.yaml", `schema_version: 1
file_type: commands
commands:
  - agent_id: worker-1
    task_type: echo
    params:
      order: first
`)

	m := NewMailbox(b, dir)

	n, err := m.ScanOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, n)

	events := rec.Events()
	require.Len(t, events, 2)

	first, err := core.ParseCommand(events[0])
	require.NoError(t, err)
	second, err := core.ParseCommand(events[1])
	require.NoError(t, err)

	assert.Equal(t, "first", first.Params["order"])
	assert.Equal(t, "second", second.Params["order"])
}

func TestMailbox_QuarantinesBadFiles(t *testing.T) {
	b := bus.NewInMemory()
	t.Cleanup(func() { _ = b.Close() })

	rec := testutil.NewRecorder()
	_, err := b.Subscribe(context.Background(), core.CommandTopic("worker-1"), rec.Handle)
	require.NoError(t, err)

	dir := t.TempDir()
	writeMailboxFile(t, dir, "bad-agent.yaml", `schema_version: 1
file_type: commands
commands:
  - task_type: echo
`)
	writeMailboxFile(t, dir, "bad-priority.yaml", `schema_version: 1
file_type: commands
commands:
  - agent_id: worker-1
    task_type: echo
    priority: URGENT
`)
	writeMailboxFile(t, dir, "bad-syntax.yaml", "commands: [")
	writeMailboxFile(t, dir, "bad-version.yaml", `schema_version: 7
file_type: commands
commands: []
`)
	writeMailboxFile(t, dir, "good.yaml", `schema_version: 1
file_type: commands
commands:
  - agent_id: worker-1
    task_type: echo
`)

	m := NewMailbox(b, dir)

	n, err := m.ScanOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Len(t, rec.Events(), 1)

	for _, name := range []string{"bad-agent.yaml", "bad-priority.yaml", "bad-syntax.yaml", "bad-version.yaml"} {
		_, err := os.Stat(filepath.Join(dir, name+failedSuffix))
		assert.NoError(t, err, name)
	}

	_, err = os.Stat(filepath.Join(dir, "good.yaml"+doneSuffix))
	assert.NoError(t, err)
}

func TestMailbox_PollLoop(t *testing.T) {
	b := bus.NewInMemory()
	t.Cleanup(func() { _ = b.Close() })

	rec := testutil.NewRecorder()
	_, err := b.Subscribe(context.Background(), core.CommandTopic("worker-1"), rec.Handle)
	require.NoError(t, err)

	dir := t.TempDir()

	m := NewMailbox(b, dir, func(o *MailboxOptions) {
		o.PollInterval = 10 * time.Millisecond
	})
	require.NoError(t, m.Start())
	require.NoError(t, m.Start())
	t.Cleanup(m.Stop)

	// Dropped after the first scan; the loop picks it up.
	writeMailboxFile(t, dir, "late.yaml", `schema_version: 1
file_type: commands
commands:
  - agent_id: worker-1
    task_type: echo
`)

	rec.WaitForType(t, core.EventTaskCommand, "")

	m.Stop()
	m.Stop()
}

func TestMailbox_StartMissingDir(t *testing.T) {
	b := bus.NewInMemory()
	t.Cleanup(func() { _ = b.Close() })

	m := NewMailbox(b, filepath.Join(t.TempDir(), "absent"))
	require.Error(t, m.Start())
}
