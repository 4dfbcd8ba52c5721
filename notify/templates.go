package notify

import (
	"fmt"

	"prism-live/domain"
)

// Render builds the human-readable line for env. A message supplied by the
// server wins over the templates. title is the resolved task title.
func Render(env domain.Envelope, title string) string {
	if env.Message != "" {
		return env.Message
	}
	by := ""
	if env.Actor != "" {
		by = " by " + env.Actor
	}
	switch env.Kind {
	case domain.KindCreated:
		return fmt.Sprintf("New task created%s: %s", by, title)
	case domain.KindUpdated:
		status := ""
		if env.Task != nil && env.Task.Status != "" {
			status = fmt.Sprintf(" (%s)", domain.FormatStatus(env.Task.Status))
		}
		return fmt.Sprintf("Task updated%s: %s%s", by, title, status)
	case domain.KindAssigned:
		who := "you"
		if env.Task != nil && env.Task.AssignedToEmail != "" {
			who = env.Task.AssignedToEmail
		}
		return fmt.Sprintf("Task assigned to %s: %s", who, title)
	case domain.KindStatusChanged:
		return fmt.Sprintf("Task status changed%s: \"%s\" → %s", by, title, domain.FormatStatus(env.Status))
	}
	return fmt.Sprintf("Task event %s: %s", env.Kind, title)
}
