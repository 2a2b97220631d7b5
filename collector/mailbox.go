package collector

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/hupe1980/taskmesh/core"
	"github.com/hupe1980/taskmesh/logging"
	"gopkg.in/yaml.v3"
)

const (
	mailboxSchemaVersion = 1
	mailboxFileType      = "commands"

	doneSuffix   = ".done"
	failedSuffix = ".failed"
)

// MailboxOptions configures a Mailbox collector.
type MailboxOptions struct {
	// PollInterval is the delay between directory scans. Defaults to 2s.
	PollInterval time.Duration

	// Source identifies the collector in the events it publishes.
	Source string

	// Logger receives collector diagnostics. Defaults to a no-op logger.
	Logger logging.Logger
}

// Mailbox ingests command files dropped into a directory. A scan picks up
// every *.yaml and *.yml file, publishes its commands in file-name order and
// renames the file to *.done. Files that fail to parse are renamed to
// *.failed and skipped from then on.
//
// A mailbox file looks like:
//
//	schema_version: 1
//	file_type: commands
//	commands:
//	  - agent_id: researcher
//	    task_type: completion
//	    params:
//	      prompt: Summarize the overnight run.
//	    priority: HIGH
//
// Omitted priorities default to NORMAL and omitted task ids are generated at
// scan time. A file whose publishes fail midway is left in place and retried
// whole on the next scan; set task_id explicitly when duplicate intake
// matters.
type Mailbox struct {
	bus      core.Bus
	dir      string
	interval time.Duration
	source   string
	logger   logging.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewMailbox creates a mailbox collector watching dir and publishing on the
// given bus.
func NewMailbox(bus core.Bus, dir string, optFns ...func(o *MailboxOptions)) *Mailbox {
	opts := MailboxOptions{
		PollInterval: 2 * time.Second,
		Source:       "mailbox-collector",
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	return &Mailbox{
		bus:      bus,
		dir:      dir,
		interval: opts.PollInterval,
		source:   opts.Source,
		logger:   logging.OrNop(opts.Logger),
	}
}

// Start launches the poll loop. The first scan runs immediately. Calling
// Start on a running collector is a no-op.
func (c *Mailbox) Start() error {
	info, err := os.Stat(c.dir)
	if err != nil {
		return fmt.Errorf("failed to stat mailbox directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("mailbox path %s is not a directory", c.dir)
	}

	c.mu.Lock()
	if c.cancel != nil {
		c.mu.Unlock()
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.cancel = cancel
	c.done = done
	c.mu.Unlock()

	go c.loop(ctx, done)

	c.logger.Info("mailbox collector started dir=%s interval=%s", c.dir, c.interval)

	return nil
}

// Stop halts the poll loop and waits for an in-flight scan to finish.
func (c *Mailbox) Stop() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel, c.done = nil, nil
	c.mu.Unlock()

	if cancel == nil {
		return
	}

	cancel()
	<-done

	c.logger.Info("mailbox collector stopped dir=%s", c.dir)
}

func (c *Mailbox) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		if n, err := c.ScanOnce(ctx); err != nil {
			c.logger.Warn("mailbox scan failed: %v", err)
		} else if n > 0 {
			c.logger.Debug("mailbox scan published %d commands", n)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// ScanOnce processes all pending mailbox files and returns the number of
// commands published. It is called by the poll loop and exported for
// one-shot ingestion.
func (c *Mailbox) ScanOnce(ctx context.Context) (int, error) {
	dirents, err := os.ReadDir(c.dir)
	if err != nil {
		return 0, fmt.Errorf("failed to read mailbox directory: %w", err)
	}

	names := make([]string, 0, len(dirents))

	for _, d := range dirents {
		if d.IsDir() {
			continue
		}
		if ext := filepath.Ext(d.Name()); ext != ".yaml" && ext != ".yml" {
			continue
		}
		names = append(names, d.Name())
	}

	sort.Strings(names)

	total := 0

	for _, name := range names {
		path := filepath.Join(c.dir, name)

		entries, err := readMailboxFile(path)
		if err != nil {
			c.logger.Warn("failed to parse mailbox file %s: %v", name, err)
			c.rename(path, failedSuffix)

			continue
		}

		published := 0

		for _, entry := range entries {
			ev := core.NewCommandEvent(c.source, entry.AgentID, entry.Command)
			if err := c.bus.Publish(ctx, ev); err != nil {
				// File stays in place for the next scan.
				return total + published, fmt.Errorf("failed to publish command %s: %w", entry.TaskID, err)
			}
			published++
		}

		total += published

		c.rename(path, doneSuffix)
		c.logger.Info("mailbox file processed file=%s commands=%d", name, published)
	}

	return total, nil
}

func (c *Mailbox) rename(path, suffix string) {
	if err := os.Rename(path, path+suffix); err != nil {
		c.logger.Error("failed to rename mailbox file %s: %v", path, err)
	}
}

// mailboxFile is the on-disk document shape. Command nodes are decoded
// individually so omitted fields pick up defaults.
type mailboxFile struct {
	SchemaVersion int         `yaml:"schema_version"`
	FileType      string      `yaml:"file_type"`
	Commands      []yaml.Node `yaml:"commands"`
}

// mailboxEntry is a command plus the agent it targets.
type mailboxEntry struct {
	AgentID      string `yaml:"agent_id"`
	core.Command `yaml:",inline"`
}

func readMailboxFile(path string) ([]mailboxEntry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read mailbox file: %w", err)
	}

	var doc mailboxFile
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode mailbox file: %w", err)
	}

	if doc.SchemaVersion != mailboxSchemaVersion {
		return nil, fmt.Errorf("unsupported schema_version %d", doc.SchemaVersion)
	}
	if doc.FileType != mailboxFileType {
		return nil, fmt.Errorf("unexpected file_type %q", doc.FileType)
	}

	entries := make([]mailboxEntry, 0, len(doc.Commands))

	for i, node := range doc.Commands {
		entry := mailboxEntry{Command: core.Command{Priority: core.PriorityNormal}}
		if err := node.Decode(&entry); err != nil {
			return nil, fmt.Errorf("command %d: %w", i, err)
		}

		if entry.AgentID == "" {
			return nil, fmt.Errorf("command %d: agent_id is required", i)
		}

		entry.Normalize()

		if err := entry.Validate(); err != nil {
			return nil, fmt.Errorf("command %d: %w", i, err)
		}

		entries = append(entries, entry)
	}

	return entries, nil
}
