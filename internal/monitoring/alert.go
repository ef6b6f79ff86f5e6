package monitoring

import (
	"github.com/rs/zerolog/log"
)

// RollbackAlert raises an alert for a rolled-back lifecycle transaction
// (logs for now).
func RollbackAlert(action string, labels map[string]string) {
	log.Error().
		Str("action", action).
		Fields(labels).
		Msg("ALERT: Lifecycle transaction rollback detected")
}
