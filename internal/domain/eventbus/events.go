package eventbus

const (
	// EventItemStatus carries an ItemStatusEvent.
	EventItemStatus = "batch:item-status"
	// EventProgress carries a ProgressEvent.
	EventProgress = "batch:progress"
	// EventFinished carries a FinishedEvent.
	EventFinished = "batch:finished"
)

type ItemStatusEvent struct {
	BatchID string `json:"batch_id"`
	ItemID  string `json:"item_id"`
	Name    string `json:"name"`
	State   string `json:"state"`
	Error   string `json:"error,omitempty"`
}

type ProgressEvent struct {
	BatchID  string  `json:"batch_id"`
	Progress float64 `json:"progress"`
	Done     int     `json:"done"`
	Total    int     `json:"total"`
}

type FinishedEvent struct {
	BatchID   string `json:"batch_id"`
	Succeeded int    `json:"succeeded"`
	Failed    int    `json:"failed"`
	Skipped   int    `json:"skipped"`
	Cancelled int    `json:"cancelled"`
	Error     string `json:"error,omitempty"`
}
