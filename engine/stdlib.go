package engine

import (
	"context"
	"math"
	"reflect"
	"strings"
)

// Built-in action and guard names. Definitions reference these directly;
// hosts extend the set through the registries.
const (
	ActionLog          = "log"
	ActionSendEmail    = "sendEmail"
	ActionUpdateRecord = "updateRecord"
	ActionWebhook      = "webhook"
	ActionAssignTask   = "assignTask"

	GuardAlways      = "always"
	GuardNever       = "never"
	GuardFieldEquals = "fieldEquals"
	GuardGreaterThan = "greaterThan"
)

// Mailer delivers mail for the sendEmail action. Hosts inject a real
// transport; the default records the delivery in the log.
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

// LogMailer is the default Mailer.
type LogMailer struct {
	Logger Logger
}

func (m LogMailer) Send(_ context.Context, to, subject, body string) error {
	normalizeLogger(m.Logger).Info("sendEmail to=%s subject=%q body=%q", to, subject, body)
	return nil
}

// WebhookDoer performs the HTTP call for the webhook action. Hosts inject a
// real client; the default records the call in the log.
type WebhookDoer interface {
	Do(ctx context.Context, method, url string, payload map[string]any) error
}

// LogWebhook is the default WebhookDoer.
type LogWebhook struct {
	Logger Logger
}

func (w LogWebhook) Do(_ context.Context, method, url string, payload map[string]any) error {
	normalizeLogger(w.Logger).Info("webhook %s %s payload=%v", method, url, payload)
	return nil
}

// RegisterStandardActions seeds reg with the built-in action set.
func RegisterStandardActions(reg *ActionRegistry, mailer Mailer, webhook WebhookDoer) error {
	if mailer == nil {
		mailer = LogMailer{}
	}
	if webhook == nil {
		webhook = LogWebhook{}
	}
	for _, entry := range []struct {
		name    string
		handler ActionHandler
	}{
		{ActionLog, LogAction()},
		{ActionSendEmail, SendEmailAction(mailer)},
		{ActionUpdateRecord, UpdateRecordAction()},
		{ActionWebhook, WebhookAction(webhook)},
		{ActionAssignTask, AssignTaskAction()},
	} {
		if err := reg.Register(entry.name, entry.handler); err != nil {
			return err
		}
	}
	return nil
}

// RegisterStandardGuards seeds reg with the built-in guard set.
func RegisterStandardGuards(reg *GuardRegistry) error {
	for _, entry := range []struct {
		name    string
		handler GuardHandler
	}{
		{GuardAlways, AlwaysGuard()},
		{GuardNever, NeverGuard()},
		{GuardFieldEquals, FieldEqualsGuard()},
		{GuardGreaterThan, GreaterThanGuard()},
	} {
		if err := reg.Register(entry.name, entry.handler); err != nil {
			return err
		}
	}
	return nil
}

// LogAction writes the interpolated message param to the instance log.
// Optional level param selects debug, info, warn, or error (default info).
func LogAction() ActionHandler {
	return ActionFunc(func(_ context.Context, run *Run, params map[string]any) error {
		message := Interpolate(stringParam(params, "message"), run.Lookup)
		switch strings.ToLower(stringParam(params, "level")) {
		case "debug":
			run.Logger().Debug(message)
		case "warn":
			run.Logger().Warn(message)
		case "error":
			run.Logger().Error(message)
		default:
			run.Logger().Info(message)
		}
		return nil
	})
}

// SendEmailAction interpolates to, subject, and body params and delegates
// delivery to the mailer.
func SendEmailAction(mailer Mailer) ActionHandler {
	if mailer == nil {
		mailer = LogMailer{}
	}
	return ActionFunc(func(ctx context.Context, run *Run, params map[string]any) error {
		to := Interpolate(stringParam(params, "to"), run.Lookup)
		subject := Interpolate(stringParam(params, "subject"), run.Lookup)
		body := Interpolate(stringParam(params, "body"), run.Lookup)
		return mailer.Send(ctx, to, subject, body)
	})
}

// UpdateRecordAction merges params into the instance data.
func UpdateRecordAction() ActionHandler {
	return ActionFunc(func(_ context.Context, run *Run, params map[string]any) error {
		for key, value := range params {
			run.SetData(key, value)
		}
		return nil
	})
}

// WebhookAction calls the webhook doer with the url param (interpolated),
// an optional method param (default POST), and an optional payload param
// (default: the merged instance data).
func WebhookAction(doer WebhookDoer) ActionHandler {
	if doer == nil {
		doer = LogWebhook{}
	}
	return ActionFunc(func(ctx context.Context, run *Run, params map[string]any) error {
		url := Interpolate(stringParam(params, "url"), run.Lookup)
		method := strings.ToUpper(stringParam(params, "method"))
		if method == "" {
			method = "POST"
		}
		payload := mapParam(params, "payload")
		if payload == nil {
			payload = run.Data()
		}
		return doer.Do(ctx, method, url, payload)
	})
}

// AssignTaskAction spawns a human work item from name, assignedTo, and an
// optional data param.
func AssignTaskAction() ActionHandler {
	return ActionFunc(func(_ context.Context, run *Run, params map[string]any) error {
		name := Interpolate(stringParam(params, "name"), run.Lookup)
		assignedTo := Interpolate(stringParam(params, "assignedTo"), run.Lookup)
		run.SpawnTask(name, assignedTo, mapParam(params, "data"))
		return nil
	})
}

// AlwaysGuard admits every transition.
func AlwaysGuard() GuardHandler {
	return GuardFunc(func(context.Context, *Run, map[string]any) bool { return true })
}

// NeverGuard blocks every transition.
func NeverGuard() GuardHandler {
	return GuardFunc(func(context.Context, *Run, map[string]any) bool { return false })
}

// FieldEqualsGuard admits when the data field named by the field param
// equals the value param. Numbers compare numerically regardless of their
// decoded Go type; everything else compares strictly, with no coercion
// between strings and numbers.
func FieldEqualsGuard() GuardHandler {
	return GuardFunc(func(_ context.Context, run *Run, params map[string]any) bool {
		field := stringParam(params, "field")
		if field == "" {
			return false
		}
		want, hasWant := params["value"]
		if !hasWant {
			return false
		}
		got, ok := run.Lookup(field)
		if !ok {
			return false
		}
		if gf, gok := toFloat(got); gok {
			if wf, wok := toFloat(want); wok {
				return gf == wf
			}
			return false
		}
		return reflect.DeepEqual(got, want)
	})
}

// GreaterThanGuard admits when the data field named by the field param is
// numerically greater than the value param. Either side missing or not a
// finite number means false.
func GreaterThanGuard() GuardHandler {
	return GuardFunc(func(_ context.Context, run *Run, params map[string]any) bool {
		field := stringParam(params, "field")
		if field == "" {
			return false
		}
		raw, ok := run.Lookup(field)
		if !ok {
			return false
		}
		got, ok := toFloat(raw)
		if !ok {
			return false
		}
		threshold, ok := toFloat(params["value"])
		if !ok {
			return false
		}
		return got > threshold
	})
}

func stringParam(params map[string]any, key string) string {
	if v, ok := params[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func mapParam(params map[string]any, key string) map[string]any {
	if v, ok := params[key]; ok {
		if m, ok := v.(map[string]any); ok {
			return m
		}
	}
	return nil
}

func toFloat(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case int:
		f = float64(n)
	case int8:
		f = float64(n)
	case int16:
		f = float64(n)
	case int32:
		f = float64(n)
	case int64:
		f = float64(n)
	case uint:
		f = float64(n)
	case uint8:
		f = float64(n)
	case uint16:
		f = float64(n)
	case uint32:
		f = float64(n)
	case uint64:
		f = float64(n)
	case float32:
		f = float64(n)
	case float64:
		f = n
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
