package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/netbase/engine/internal/bus"
	"github.com/netbase/engine/internal/storage"
	"github.com/netbase/engine/pkg/models"
)

// CronTrigger fires scheduled DAG templates. Each template with a non-empty
// cron expression gets an entry that snapshots the template into a new
// workflow instance and publishes its start event.
type CronTrigger struct {
	cron      *cron.Cron
	templates storage.TemplateRepository
	workflows storage.WorkflowRepository
	publisher bus.Publisher
	logger    zerolog.Logger

	mu      sync.Mutex
	entries map[int64]cron.EntryID // template id -> entry
}

// NewCronTrigger creates a trigger; call Refresh then Start.
func NewCronTrigger(
	templates storage.TemplateRepository,
	workflows storage.WorkflowRepository,
	publisher bus.Publisher,
	location *time.Location,
	logger zerolog.Logger,
) *CronTrigger {
	return &CronTrigger{
		cron:      cron.New(cron.WithLocation(location)),
		templates: templates,
		workflows: workflows,
		publisher: publisher,
		logger:    logger.With().Str("component", "cron_trigger").Logger(),
		entries:   make(map[int64]cron.EntryID),
	}
}

// Refresh syncs cron entries with the scheduled templates in the database.
// Templates whose schedule changed are re-registered; templates no longer
// scheduled are removed.
func (t *CronTrigger) Refresh(ctx context.Context) error {
	scheduled, err := t.templates.ListScheduled(ctx)
	if err != nil {
		return fmt.Errorf("failed to list scheduled templates: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	seen := make(map[int64]bool, len(scheduled))
	for _, tmpl := range scheduled {
		seen[tmpl.ID] = true
		if id, ok := t.entries[tmpl.ID]; ok {
			t.cron.Remove(id)
		}

		tmplID := tmpl.ID
		entryID, err := t.cron.AddFunc(tmpl.Schedule, func() {
			t.fire(tmplID)
		})
		if err != nil {
			t.logger.Error().Err(err).
				Int64("template_id", tmpl.ID).
				Str("schedule", tmpl.Schedule).
				Msg("invalid cron expression, skipping template")
			delete(t.entries, tmpl.ID)
			continue
		}
		t.entries[tmpl.ID] = entryID
	}

	for tmplID, entryID := range t.entries {
		if !seen[tmplID] {
			t.cron.Remove(entryID)
			delete(t.entries, tmplID)
		}
	}

	t.logger.Info().Int("templates", len(t.entries)).Msg("cron entries refreshed")
	return nil
}

// Start begins firing entries.
func (t *CronTrigger) Start() {
	t.cron.Start()
}

// Stop halts the trigger and waits for in-flight jobs.
func (t *CronTrigger) Stop() {
	<-t.cron.Stop().Done()
}

func (t *CronTrigger) fire(templateID int64) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	logger := t.logger.With().Int64("template_id", templateID).Logger()

	tmpl, err := t.templates.Get(ctx, templateID)
	if err != nil {
		logger.Error().Err(err).Msg("failed to load template for scheduled run")
		return
	}

	instance := &models.WorkflowInstance{
		TemplateID:    tmpl.ID,
		DAGDefinition: tmpl.DAGDefinition,
		Status:        models.WorkflowQueued,
	}
	if err := t.workflows.Create(ctx, instance); err != nil {
		logger.Error().Err(err).Msg("failed to create scheduled workflow instance")
		return
	}

	if err := t.publisher.Publish(ctx, bus.SchedulerQueue, models.StartWorkflowEvent(instance.ID)); err != nil {
		logger.Error().Err(err).Int64("workflow_instance_id", instance.ID).Msg("failed to publish scheduled start event")
		return
	}

	logger.Info().Int64("workflow_instance_id", instance.ID).Msg("scheduled workflow triggered")
}
