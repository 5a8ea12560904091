package menu

// Status tracks the lifecycle of one item's generated image.
// An item starts at StatusLoading (or StatusSkipped when the job is too large
// for enrichment) and settles into exactly one terminal status, after which it
// never changes again.
type Status string

const (
	StatusLoading Status = "loading"
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
	StatusError   Status = "error"
	StatusSkipped Status = "skipped"
)

// Terminal reports whether s is a final status.
func (s Status) Terminal() bool {
	return s != StatusLoading
}

// Item is one extracted menu entry plus its image enrichment state.
// ImageRef is non-empty exactly when ImageStatus is StatusSuccess; it holds
// either a data URI with embedded image bytes or an upstream-hosted URL.
type Item struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Calories    int    `json:"calories,omitempty"`
	ImageRef    string `json:"imageUrl,omitempty"`
	ImageStatus Status `json:"imageStatus"`
}

// AllTerminal reports whether every item has settled into a final status.
func AllTerminal(items []Item) bool {
	for _, it := range items {
		if !it.ImageStatus.Terminal() {
			return false
		}
	}
	return true
}
