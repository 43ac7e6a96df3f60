package clinical

type NoticeKind string

const (
	NoticeUnclassified          NoticeKind = "unclassified-drug"
	NoticeInteractionIncomplete NoticeKind = "interaction-check-incomplete"
)

// Notice is a non-fatal message attached to a result. Unknown drugs and
// failed interaction look-ups surface here instead of as errors.
type Notice struct {
	Kind    NoticeKind `json:"kind"`
	Subject string     `json:"subject"`
	Message string     `json:"message"`
}
