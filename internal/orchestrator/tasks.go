package orchestrator

import (
	"bytes"
	"context"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/Iron-Ham/roundtable/internal/conversation"
	"github.com/Iron-Ham/roundtable/internal/errors"
	"github.com/Iron-Ham/roundtable/internal/event"
	"github.com/Iron-Ham/roundtable/internal/iteration"
	"github.com/Iron-Ham/roundtable/internal/layering"
)

type taskEntry struct {
	ID          string   `yaml:"id"`
	Description string   `yaml:"description"`
	Assignee    string   `yaml:"assignee"`
	DependsOn   []string `yaml:"depends_on"`
	Done        string   `yaml:"done"`
	Notes       string   `yaml:"notes"`
}

type taskFile struct {
	Tasks []taskEntry `yaml:"tasks"`
}

// ParseTasks reads a task breakdown from YAML or JSON. The document is
// either a list of tasks or a mapping with a "tasks" list.
func ParseTasks(data []byte) ([]iteration.Task, error) {
	var entries []taskEntry
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && (trimmed[0] == '-' || trimmed[0] == '[') {
		if err := yaml.Unmarshal(data, &entries); err != nil {
			return nil, errors.NewValidationError("invalid task list").WithCause(err)
		}
	} else {
		var f taskFile
		if err := yaml.Unmarshal(data, &f); err != nil {
			return nil, errors.NewValidationError("invalid task file").WithCause(err)
		}
		entries = f.Tasks
	}
	if len(entries) == 0 {
		return nil, errors.NewValidationError("task file lists no tasks").WithField("tasks").WithCause(errors.ErrNoTasks)
	}

	tasks := make([]iteration.Task, 0, len(entries))
	for i, e := range entries {
		if e.ID == "" || e.Assignee == "" {
			return nil, errors.NewValidationError(fmt.Sprintf("task %d needs an id and an assignee", i+1)).
				WithField("tasks").WithValue(e.ID)
		}
		tasks = append(tasks, iteration.Task{
			ID:          e.ID,
			Description: e.Description,
			Assignee:    e.Assignee,
			DependsOn:   e.DependsOn,
			Done:        e.Done,
			Notes:       e.Notes,
		})
	}
	return tasks, nil
}

// ImportTasks replaces the task list of iteration id. Tasks can only change
// before they are layered, so the iteration must not be past planning. The
// graph is checked up front so a cycle is reported at import time.
func (o *Orchestrator) ImportTasks(ctx context.Context, id string, tasks []iteration.Task) error {
	release, err := o.lock(ctx, id)
	if err != nil {
		return err
	}
	defer release()

	st, err := o.load(id)
	if err != nil {
		return err
	}
	if st.Phase.Index() > iteration.PhasePlanning.Index() {
		return errors.NewIterationError("tasks are fixed after planning", errors.ErrPhaseOrder).
			WithIterationID(id).WithPhase(string(st.Phase))
	}
	if _, err := assignLayers(tasks); err != nil {
		return err
	}
	st.Tasks = tasks
	if err := o.store.Save(st); err != nil {
		return err
	}
	o.logger.WithIteration(id).Info("tasks imported", "count", len(tasks))
	o.bus.Publish(event.NewTasksRecordedEvent(id, conversation.SenderHuman, len(tasks)))
	return nil
}

// Layers computes the layer assignment of iteration id's current tasks
// without recording it.
func (o *Orchestrator) Layers(id string) (*layering.Result, error) {
	st, err := o.store.Load(id)
	if err != nil {
		return nil, err
	}
	return assignLayers(st.Tasks)
}
