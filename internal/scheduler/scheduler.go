// Package scheduler emits queue jobs on cron schedules. Schedule lines are
// data: they load from a YAML file and fall back to the two built-ins.
package scheduler

import (
	"context"
	"fmt"
	"log"
	"os"

	"civicsync/internal/queue"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Entry is one schedule line.
type Entry struct {
	Name    string                 `yaml:"name"`
	Cron    string                 `yaml:"cron"`
	Queue   string                 `yaml:"queue"`
	Job     string                 `yaml:"job"`
	Payload map[string]interface{} `yaml:"payload,omitempty"`
}

type scheduleFile struct {
	Schedules []Entry `yaml:"schedules"`
}

// Builtins returns the default schedule when no file is configured:
// every 6 hours ingest all sources, daily 03:00 recompute all metrics.
func Builtins() []Entry {
	return []Entry{
		{Name: "ingest-all", Cron: "0 */6 * * *", Queue: queue.QueueIngest, Job: "ingest:all"},
		{Name: "metrics-recompute-all", Cron: "0 3 * * *", Queue: queue.QueueMetrics, Job: "metrics:recompute-all"},
	}
}

// LoadEntries parses the schedule file; a missing file yields the built-ins,
// a malformed one is a configuration error.
func LoadEntries(path string) ([]Entry, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Builtins(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read schedules %s: %w", path, err)
	}

	var f scheduleFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse schedules %s: %w", path, err)
	}
	if len(f.Schedules) == 0 {
		return Builtins(), nil
	}
	for i, e := range f.Schedules {
		if e.Cron == "" || e.Queue == "" || e.Job == "" {
			return nil, fmt.Errorf("schedule %d (%q): cron, queue and job are required", i, e.Name)
		}
	}
	return f.Schedules, nil
}

// Scheduler drives the cron runner. Missed fires during downtime collapse to
// a single run because cron only fires on wall-clock ticks while running.
type Scheduler struct {
	client  *queue.Client
	entries []Entry
	cron    *cron.Cron
}

func New(client *queue.Client, entries []Entry) *Scheduler {
	return &Scheduler{
		client:  client,
		entries: entries,
		cron:    cron.New(),
	}
}

// Start verifies broker connectivity, registers all entries and launches the
// cron runner. It refuses to run without a reachable queue.
func (s *Scheduler) Start(ctx context.Context) error {
	if err := s.client.Ping(ctx); err != nil {
		return fmt.Errorf("queue broker unreachable: %w", err)
	}

	for _, e := range s.entries {
		entry := e
		_, err := s.cron.AddFunc(entry.Cron, func() {
			s.fire(entry)
		})
		if err != nil {
			return fmt.Errorf("schedule %q (%s): %w", entry.Name, entry.Cron, err)
		}
		log.Printf("[scheduler] registered %q: %s -> %s/%s", entry.Name, entry.Cron, entry.Queue, entry.Job)
	}

	s.cron.Start()
	go func() {
		<-ctx.Done()
		s.cron.Stop()
	}()
	return nil
}

// Fire enqueues one entry by name immediately (used by the authenticated
// cron HTTP trigger).
func (s *Scheduler) Fire(name string) bool {
	for _, e := range s.entries {
		if e.Name == name {
			s.fire(e)
			return true
		}
	}
	return false
}

func (s *Scheduler) fire(e Entry) {
	ctx := context.Background()
	id, err := s.client.Enqueue(ctx, e.Queue, e.Job, e.Payload, nil)
	if err != nil {
		log.Printf("[scheduler] enqueue %s/%s failed: %v", e.Queue, e.Job, err)
		return
	}
	log.Printf("[scheduler] fired %q -> %s/%s (job %s)", e.Name, e.Queue, e.Job, id)
}
