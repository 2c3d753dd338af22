package recipes

import "github.com/andrej220/capstan/pkg/task"

var appRoles = []string{"app"}

// Default is the generic lifecycle: each event runs the matching script
// shipped with the release.
func Default(r *task.Registry) {
	lifecycle := []struct {
		name, desc, cmd string
	}{
		{"start", "Start the application servers.", "sh ${current_path}/script/spin"},
		{"stop", "Stop the application servers.", "sh ${current_path}/script/process/reaper -a kill"},
		{"restart", "Restart the application servers.", "sh ${current_path}/script/process/reaper"},
		{"status", "Show the status of the application servers.", "sh ${current_path}/script/process/inspector"},
	}
	for _, ev := range lifecycle {
		r.Register(task.Definition{
			Key:         task.NewKey(Namespace, ev.name),
			Description: ev.desc,
			Roles:       appRoles,
			Except:      task.MustExcept("no_release"),
			Body:        Privileged(ev.cmd),
		})
	}
}
