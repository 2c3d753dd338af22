package recipes

import (
	"fmt"

	"github.com/andrej220/capstan/pkg/task"
)

// Passenger overrides the lifecycle for Phusion Passenger. Passenger starts
// and stops with the web server, so start, stop and status do nothing; a
// restart is requested by touching tmp/restart.txt.
func Passenger(r *task.Registry) {
	for _, event := range []string{"start", "stop", "status"} {
		r.Register(task.Definition{
			Key:         task.NewKey(Namespace, event),
			Description: fmt.Sprintf("Dummy command to %s your application, not used by Passenger.", event),
			Roles:       appRoles,
			Except:      task.MustExcept("no_release"),
		})
	}

	r.Register(task.Definition{
		Key:         task.NewKey(Namespace, "restart"),
		Description: "Restart your application using Passenger.",
		Roles:       appRoles,
		Except:      task.MustExcept("no_release"),
		Body:        Privileged("touch ${current_path}/tmp/restart.txt"),
	})
}
