package batch

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Lucke514/ImageConverter/internal/domain/image"
)

// State is the lifecycle position of one Item.
type State string

const (
	StatePending    State = "pending"
	StateProcessing State = "processing"
	StateCompleted  State = "completed"
	StateError      State = "error"
	StateCancelled  State = "cancelled"
)

// Terminal reports whether s ends an item's participation in a run.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateError, StateCancelled:
		return true
	}
	return false
}

// Item is one source image tracked across runs. Completed items are skipped
// by later runs.
type Item struct {
	ID        string
	Source    image.SourceImage
	CreatedAt time.Time

	mu        sync.RWMutex
	state     State
	err       error
	entry     string
	warning   string
	updatedAt time.Time
}

func NewItem(src image.SourceImage) *Item {
	now := time.Now()
	return &Item{
		ID:        uuid.New().String(),
		Source:    src,
		CreatedAt: now,
		state:     StatePending,
		updatedAt: now,
	}
}

func (i *Item) State() State {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.state
}

// Err is the failure recorded by the last run, if any.
func (i *Item) Err() error {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.err
}

// Entry is the archive entry name of the last successful conversion.
func (i *Item) Entry() string {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.entry
}

func (i *Item) Warning() string {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.warning
}

func (i *Item) set(state State, err error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.state = state
	i.err = err
	i.updatedAt = time.Now()
	if state != StateCompleted {
		i.entry = ""
		i.warning = ""
	}
}

func (i *Item) complete(warning string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.state = StateCompleted
	i.err = nil
	i.warning = warning
	i.updatedAt = time.Now()
}

func (i *Item) setEntry(name string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.entry = name
}

// ItemView is a JSON-friendly copy of an Item.
type ItemView struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	MediaType string    `json:"media_type"`
	Size      int       `json:"size"`
	State     State     `json:"state"`
	Error     string    `json:"error,omitempty"`
	Entry     string    `json:"entry,omitempty"`
	Warning   string    `json:"warning,omitempty"`
	Formats   []string  `json:"formats"`
	UpdatedAt time.Time `json:"updated_at"`
}

// View snapshots the item, including the targets offered for its source.
func (i *Item) View() ItemView {
	i.mu.RLock()
	defer i.mu.RUnlock()

	formats := image.FormatsFor(i.Source.MediaType)
	names := make([]string, len(formats))
	for n, f := range formats {
		names[n] = f.String()
	}

	v := ItemView{
		ID:        i.ID,
		Name:      i.Source.Name,
		MediaType: i.Source.MediaType,
		Size:      len(i.Source.Data),
		State:     i.state,
		Entry:     i.entry,
		Warning:   i.warning,
		Formats:   names,
		UpdatedAt: i.updatedAt,
	}
	if i.err != nil {
		v.Error = i.err.Error()
	}
	return v
}
