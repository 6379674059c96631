package relay

// Event is one webhook delivery pulled from the relay service, reduced to
// the fields the deploy loop cares about.
type Event struct {
	ID       string // relay message id, used for deduplication
	Type     string // webhook event type from the x-github-event header
	Branch   string // git ref from the push payload, e.g. refs/heads/main
	Repo     string // repository identifier, e.g. acme/app
	Revision string // head commit of the push, when present
}

// envelope mirrors the relay polling response:
// {"data":[...], "iterator":"...", "done":true}
type envelope struct {
	Data     []message `json:"data"`
	Iterator string    `json:"iterator"`
	Done     bool      `json:"done"`
}

// message is one delivery inside the envelope. The payload is the GitHub
// webhook body; the headers carry the original webhook headers.
type message struct {
	ID      string            `json:"id"`
	Payload pushPayload       `json:"payload"`
	Headers map[string]string `json:"headers"`
}

type pushPayload struct {
	Ref        string `json:"ref"`
	After      string `json:"after"`
	Repository struct {
		FullName string `json:"full_name"`
	} `json:"repository"`
}

func (m message) event() Event {
	typ := m.Headers["x-github-event"]
	if typ == "" {
		typ = m.Headers["X-GitHub-Event"]
	}
	return Event{
		ID:       m.ID,
		Type:     typ,
		Branch:   m.Payload.Ref,
		Repo:     m.Payload.Repository.FullName,
		Revision: m.Payload.After,
	}
}
