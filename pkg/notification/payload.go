package notification

// Payload is the notification body sent to every endpoint. Any JSON object
// is accepted; the fields below are the ones the service worker understands.
// Unknown fields are forwarded untouched.
type Payload map[string]any

// Action is a notification button as understood by the service worker.
type Action struct {
	Action string `json:"action"`
	Title  string `json:"title"`
	Icon   string `json:"icon,omitempty"`
}

const (
	FieldTitle   = "title"
	FieldBody    = "body"
	FieldIcon    = "icon"
	FieldBadge   = "badge"
	FieldTag     = "tag"
	FieldURL     = "url"
	FieldActions = "actions"
)

// Title returns the payload title, or "" when absent or not a string.
func (p Payload) Title() string { return p.str(FieldTitle) }

// Tag returns the payload tag, or "" when absent or not a string.
func (p Payload) Tag() string { return p.str(FieldTag) }

func (p Payload) str(key string) string {
	if v, ok := p[key].(string); ok {
		return v
	}
	return ""
}
