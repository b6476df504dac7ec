package index

type State string

const (
	StateIdle       State = "idle"
	StateScanning   State = "scanning"
	StateExtracting State = "extracting"
	StateUpdating   State = "updating"
	StateCommitting State = "committing"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
)

const (
	ProgressStatusScanned    = 10
	ProgressStatusExtracting = 20
	ProgressStatusCommitting = 95
	ProgressStatusComplete   = 100
	ProgressStatusFailed     = -1
)

func getProgressPercentage(done int, total int, initial int, final int) int {
	if done == 0 || total == 0 {
		return initial
	}

	if done >= total {
		return final
	}

	// Calculate the percentage between initial and final
	progress := float64(done) / float64(total)
	result := float64(initial) + progress*float64(final-initial)

	return int(result)
}
