package media

// Kind says where an item came from. It decides how the fetch pipeline
// obtains the artifact and how errors are reported back to the requester.
type Kind int

const (
	KindSearch Kind = iota
	KindPlaylist
	KindUpload
)

func (k Kind) String() string {
	switch k {
	case KindSearch:
		return "search"
	case KindPlaylist:
		return "playlist"
	case KindUpload:
		return "upload"
	}
	return "unknown"
}

// Item is one queued media entry. It is owned by the queue slot holding
// it: mutation happens only on the chat's serialized worker.
type Item struct {
	ID          string
	Kind        Kind
	Title       string
	DurationSec int
	URL         string
	RequestedBy string
	Video       bool

	// Path is the local artifact, empty until fetched.
	Path string

	// MessageRef is the outbound status-message handle, cleaned up when
	// the item leaves the queue.
	MessageRef string

	// ElapsedSec is bumped by the elapsed-time ticker while the item is
	// the playing head.
	ElapsedSec int
}

// Descriptor is a resolver result, not yet queued.
type Descriptor struct {
	ID          string
	Title       string
	Uploader    string
	DurationSec int
	URL         string
	Live        bool
}

// Item converts a resolved descriptor into a queueable item.
func (d Descriptor) Item(kind Kind, requestedBy string, video bool) *Item {
	return &Item{
		ID:          d.ID,
		Kind:        kind,
		Title:       d.Title,
		DurationSec: d.DurationSec,
		URL:         d.URL,
		RequestedBy: requestedBy,
		Video:       video,
	}
}
