// Package collector feeds the mesh from outside producers. A collector turns
// an external trigger into command events on the bus; runtimes consume them
// like any other command traffic.
//
// Two collectors ship with the package: Cron emits commands on recurring
// schedules and Mailbox ingests YAML command files dropped into a directory.
//
//	c := collector.NewCron(b)
//	c.Schedule("@hourly", "researcher", core.Command{
//		TaskType: "completion",
//		Params:   map[string]any{"prompt": "Hourly status digest."},
//	})
//	c.Start()
//	defer c.Stop()
package collector
