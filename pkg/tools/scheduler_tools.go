package tools

import (
	"context"
	"fmt"
)

// SchedulerControl is the scheduler surface exposed to the model and the
// deterministic router. Implemented by *scheduler.Scheduler.
type SchedulerControl interface {
	ScheduleOneTimeIn(minutes float64, prompt string, lane string) (string, error)
	CancelOneTime(id string) bool
	DescribeOneTime() string
	SetHeartbeat(intervalMinutes int, prompt string) error
	DisableHeartbeat()
}

// SchedulerSpecs returns the reminder management tools.
func SchedulerSpecs(sched SchedulerControl) []Spec {
	return []Spec{
		{
			Name:        "schedule_reminder",
			Description: "Schedule a one-time reminder to run a prompt after a delay in minutes.",
			Schema: objSchema(map[string]string{
				"minutes": "number",
				"prompt":  "string",
				"lane":    "string",
			}, []string{"minutes", "prompt"}),
			Label: func(args map[string]any) string {
				return fmt.Sprintf("Scheduling a reminder in %.0f minutes", NumberArg(args, "minutes", 0))
			},
			Handler: func(_ context.Context, args map[string]any) (string, error) {
				lane := StringArg(args, "lane")
				if lane == "" {
					lane = "background"
				}
				id, err := sched.ScheduleOneTimeIn(NumberArg(args, "minutes", 0), StringArg(args, "prompt"), lane)
				if err != nil {
					return "", err
				}
				return fmt.Sprintf("Reminder scheduled (id %s) in %.0f minutes.", id, NumberArg(args, "minutes", 0)), nil
			},
		},
		{
			Name:        "cancel_reminder",
			Description: "Cancel a scheduled one-time reminder by id.",
			Schema:      objSchema(map[string]string{"id": "string"}, []string{"id"}),
			Label:       func(map[string]any) string { return "Cancelling a reminder" },
			Handler: func(_ context.Context, args map[string]any) (string, error) {
				id := StringArg(args, "id")
				if sched.CancelOneTime(id) {
					return "Reminder " + id + " cancelled.", nil
				}
				return "No reminder found with id " + id + ".", nil
			},
		},
		{
			Name:        "list_reminders",
			Description: "List the pending one-time reminders.",
			Schema:      objSchema(nil, nil),
			Label:       func(map[string]any) string { return "Listing reminders" },
			Handler: func(context.Context, map[string]any) (string, error) {
				return sched.DescribeOneTime(), nil
			},
		},
		{
			Name:        "set_heartbeat",
			Description: "Enable or reconfigure the periodic self-heartbeat with an interval in minutes and an optional prompt.",
			Schema: objSchema(map[string]string{
				"interval_minutes": "number",
				"prompt":           "string",
			}, []string{"interval_minutes"}),
			Label: func(args map[string]any) string {
				return fmt.Sprintf("Setting heartbeat every %.0f minutes", NumberArg(args, "interval_minutes", 0))
			},
			Handler: func(_ context.Context, args map[string]any) (string, error) {
				interval := int(NumberArg(args, "interval_minutes", 0))
				if err := sched.SetHeartbeat(interval, StringArg(args, "prompt")); err != nil {
					return "", err
				}
				return fmt.Sprintf("Heartbeat enabled every %d minutes.", interval), nil
			},
		},
		{
			Name:        "disable_heartbeat",
			Description: "Disable the periodic self-heartbeat.",
			Schema:      objSchema(nil, nil),
			Label:       func(map[string]any) string { return "Disabling heartbeat" },
			Handler: func(context.Context, map[string]any) (string, error) {
				sched.DisableHeartbeat()
				return "Heartbeat disabled.", nil
			},
		},
	}
}
