package collector

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/taskmesh/core"
	"github.com/hupe1980/taskmesh/logging"
	"github.com/robfig/cron/v3"
)

// publishTimeout bounds a single command publish from a schedule firing.
const publishTimeout = 10 * time.Second

// CronOptions configures a Cron collector.
type CronOptions struct {
	// Source identifies the collector in the events it publishes.
	Source string

	// Location sets the time zone schedules are evaluated in. Defaults to
	// the local time zone.
	Location *time.Location

	// Logger receives collector diagnostics. Defaults to a no-op logger.
	Logger logging.Logger
}

// Cron emits commands on recurring schedules. Each registered schedule holds
// a command template; every firing publishes a copy with a fresh task id so
// successive runs never collide in intake.
//
// Specs use the standard five-field cron syntax plus descriptors such as
// "@hourly" and "@every 90s".
type Cron struct {
	bus    core.Bus
	source string
	logger logging.Logger
	cron   *cron.Cron

	mu      sync.Mutex
	entries map[string]cron.EntryID
	running bool
}

// NewCron creates a cron collector publishing on the given bus.
func NewCron(bus core.Bus, optFns ...func(o *CronOptions)) *Cron {
	opts := CronOptions{
		Source: "cron-collector",
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	cronOpts := []cron.Option{
		cron.WithParser(cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)),
		cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)),
	}
	if opts.Location != nil {
		cronOpts = append(cronOpts, cron.WithLocation(opts.Location))
	}

	return &Cron{
		bus:     bus,
		source:  opts.Source,
		logger:  logging.OrNop(opts.Logger),
		cron:    cron.New(cronOpts...),
		entries: make(map[string]cron.EntryID),
	}
}

// Schedule registers a recurring command emission and returns its schedule id.
// The template's TaskID and CorrelationID are ignored; each firing generates
// fresh ones. Schedules may be added before or after Start.
func (c *Cron) Schedule(spec, agentID string, template core.Command) (string, error) {
	if agentID == "" {
		return "", fmt.Errorf("agent id is required")
	}
	if template.TaskType == "" {
		return "", fmt.Errorf("task type is required")
	}

	entryID, err := c.cron.AddFunc(spec, func() {
		c.emit(agentID, template)
	})
	if err != nil {
		return "", fmt.Errorf("failed to parse cron spec %q: %w", spec, err)
	}

	id := core.NewID()

	c.mu.Lock()
	c.entries[id] = entryID
	c.mu.Unlock()

	c.logger.Info("schedule registered id=%s spec=%q agent=%s type=%s", id, spec, agentID, template.TaskType)

	return id, nil
}

// Unschedule removes a schedule. It reports whether the id was known.
func (c *Cron) Unschedule(id string) bool {
	c.mu.Lock()
	entryID, ok := c.entries[id]
	if ok {
		delete(c.entries, id)
	}
	c.mu.Unlock()

	if !ok {
		return false
	}

	c.cron.Remove(entryID)
	c.logger.Info("schedule removed id=%s", id)

	return true
}

// Start begins evaluating schedules. Calling Start on a running collector is
// a no-op.
func (c *Cron) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return
	}
	c.running = true

	c.cron.Start()
	c.logger.Info("cron collector started schedules=%d", len(c.entries))
}

// Stop halts schedule evaluation and waits for in-flight emissions to finish.
// Registered schedules survive a Stop; Start resumes them.
func (c *Cron) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	c.mu.Unlock()

	stopCtx := c.cron.Stop()
	<-stopCtx.Done()

	c.logger.Info("cron collector stopped")
}

func (c *Cron) emit(agentID string, template core.Command) {
	cmd := template
	if template.Params != nil {
		params := make(map[string]any, len(template.Params))
		for k, v := range template.Params {
			params[k] = v
		}
		cmd.Params = params
	}
	cmd.TaskID = ""
	cmd.CorrelationID = ""
	cmd.Normalize()

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	if err := c.bus.Publish(ctx, core.NewCommandEvent(c.source, agentID, cmd)); err != nil {
		c.logger.Error("failed to publish scheduled command agent=%s type=%s: %v", agentID, cmd.TaskType, err)
		return
	}

	c.logger.Debug("scheduled command published agent=%s type=%s task=%s", agentID, cmd.TaskType, cmd.TaskID)
}
