package eventbus

import (
	"github.com/Lucke514/ImageConverter/internal/platform/logging"
)

// LogHandler writes batch events to the log.
type LogHandler struct {
	logger *logging.Logger
}

func NewLogHandler(logger *logging.Logger) *LogHandler {
	if logger == nil {
		logger = logging.Discard()
	}
	return &LogHandler{logger: logger}
}

// Register subscribes the handler to every batch topic on bus.
func (h *LogHandler) Register(bus *AsyncEventBus) error {
	if err := bus.Subscribe(EventItemStatus, h.OnItemStatus); err != nil {
		return err
	}
	return bus.Subscribe(EventFinished, h.OnFinished)
}

func (h *LogHandler) OnItemStatus(e ItemStatusEvent) {
	if e.Error != "" {
		h.logger.WarnTag("BATCH", "%s %s -> %s: %s", e.BatchID, e.Name, e.State, e.Error)
		return
	}
	h.logger.DebugTag("BATCH", "%s %s -> %s", e.BatchID, e.Name, e.State)
}

func (h *LogHandler) OnFinished(e FinishedEvent) {
	if e.Error != "" {
		h.logger.WarnTag("BATCH", "%s finished: %d ok, %d failed, %d skipped, %d cancelled (%s)",
			e.BatchID, e.Succeeded, e.Failed, e.Skipped, e.Cancelled, e.Error)
		return
	}
	h.logger.InfoTag("BATCH", "%s finished: %d ok, %d failed, %d skipped, %d cancelled",
		e.BatchID, e.Succeeded, e.Failed, e.Skipped, e.Cancelled)
}
