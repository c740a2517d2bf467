package activities

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/novotx/elsa-core/pkg/models"
	"github.com/novotx/elsa-core/pkg/workflow"
	"github.com/robfig/cron/v3"
)

// EventPayload is the bookmark and trigger payload of an Event activity named name.
func EventPayload(name string) map[string]any {
	return map[string]any{"name": name}
}

// WebhookPayload is the bookmark and trigger payload of a Webhook activity listening on path.
func WebhookPayload(path string) map[string]any {
	return map[string]any{"path": path}
}

// CronPayload is the bookmark and trigger payload of a Cron activity.
func CronPayload(expression string) map[string]any {
	return map[string]any{"expression": expression}
}

// ParseCronPayload reads the expression of a stored Cron trigger payload.
func ParseCronPayload(payload string) (string, error) {
	var decoded struct {
		Expression string `json:"expression"`
	}

	err := json.Unmarshal([]byte(payload), &decoded)
	if err != nil {
		return "", fmt.Errorf("%w: cron payload: %w", ErrInvalidConfig, err)
	}

	_, err = cron.ParseStandard(decoded.Expression)
	if err != nil {
		return "", fmt.Errorf("%w: invalid cron expression %q: %w", ErrInvalidConfig, decoded.Expression, err)
	}

	return decoded.Expression, nil
}

// waitOrStart completes a trigger activity that started the instance, or suspends it on payload.
func waitOrStart(ctx context.Context, actx *workflow.ActivityExecutionContext, payload any, callback models.ResumeHandler) error {
	if actx.IsTriggerOfWorkflow() {
		return actx.Complete(ctx, actx.WorkflowContext().Input)
	}

	_, err := actx.CreateBookmark(workflow.BookmarkOptions{Payload: payload, Callback: callback})

	return err
}

// Event waits for the named event. Used as the first activity it also starts new instances.
// The received input is stored in Result when set.
type Event struct {
	base

	Name   string
	Result string
}

func NewEvent(id, name string) *Event {
	return &Event{base: base{id: id}, Name: name}
}

func newEvent(id string, config map[string]any, children []workflow.Activity) (workflow.Activity, error) {
	err := noChildren(TypeEvent, children)
	if err != nil {
		return nil, err
	}

	name, err := requiredString(TypeEvent, config, "name")
	if err != nil {
		return nil, err
	}

	e := NewEvent(id, name)
	e.Result = optionalString(config, "result", "")

	return e, nil
}

func (e *Event) Type() string {
	return TypeEvent
}

func (e *Event) TriggerPayloads() []any {
	return []any{EventPayload(e.Name)}
}

func (e *Event) Execute(ctx context.Context, actx *workflow.ActivityExecutionContext) error {
	if actx.IsTriggerOfWorkflow() {
		return e.Resume(ctx, actx, actx.WorkflowContext().Input)
	}

	_, err := actx.CreateBookmark(workflow.BookmarkOptions{Payload: EventPayload(e.Name), Callback: models.ResumeInvoke})

	return err
}

func (e *Event) Resume(ctx context.Context, actx *workflow.ActivityExecutionContext, input map[string]any) error {
	if e.Result != "" {
		actx.Set(e.Result, input)
	}

	return actx.Complete(ctx, input)
}

// Webhook waits for an HTTP request on Path.
type Webhook struct {
	base

	Path string
}

func NewWebhook(id, path string) *Webhook {
	return &Webhook{base: base{id: id}, Path: path}
}

func newWebhook(id string, config map[string]any, children []workflow.Activity) (workflow.Activity, error) {
	err := noChildren(TypeWebhook, children)
	if err != nil {
		return nil, err
	}

	path, err := requiredString(TypeWebhook, config, "path")
	if err != nil {
		return nil, err
	}

	return NewWebhook(id, path), nil
}

func (w *Webhook) Type() string {
	return TypeWebhook
}

func (w *Webhook) TriggerPayloads() []any {
	return []any{WebhookPayload(w.Path)}
}

func (w *Webhook) Execute(ctx context.Context, actx *workflow.ActivityExecutionContext) error {
	return waitOrStart(ctx, actx, WebhookPayload(w.Path), models.ResumeComplete)
}

// Cron waits for the next occurrence of Expression.
type Cron struct {
	base

	Expression string
}

func NewCron(id, expression string) (*Cron, error) {
	_, err := cron.ParseStandard(expression)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid cron expression %q: %w", ErrInvalidConfig, expression, err)
	}

	return &Cron{base: base{id: id}, Expression: expression}, nil
}

func newCron(id string, config map[string]any, children []workflow.Activity) (workflow.Activity, error) {
	err := noChildren(TypeCron, children)
	if err != nil {
		return nil, err
	}

	expression, err := requiredString(TypeCron, config, "expression")
	if err != nil {
		return nil, err
	}

	return NewCron(id, expression)
}

func (c *Cron) Type() string {
	return TypeCron
}

func (c *Cron) TriggerPayloads() []any {
	return []any{CronPayload(c.Expression)}
}

func (c *Cron) Execute(ctx context.Context, actx *workflow.ActivityExecutionContext) error {
	return waitOrStart(ctx, actx, CronPayload(c.Expression), models.ResumeComplete)
}
