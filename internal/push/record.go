package push

// Kind classifies a push record by its type field.
type Kind int

const (
	KindOther Kind = iota
	KindMirror
	KindDismissal
)

func (k Kind) String() string {
	switch k {
	case KindMirror:
		return "mirror"
	case KindDismissal:
		return "dismissal"
	default:
		return "other"
	}
}

// Record is a notification-bearing push as delivered by the stream or by the
// push history endpoint. Encrypted records carry only Ciphertext until resolved.
type Record struct {
	Type string `json:"type,omitempty"`
	Iden string `json:"iden,omitempty"`

	NotificationID  string `json:"notification_id,omitempty"`
	NotificationTag string `json:"notification_tag,omitempty"`
	PackageName     string `json:"package_name,omitempty"`
	SourceUserIden  string `json:"source_user_iden,omitempty"`

	ApplicationName string `json:"application_name,omitempty"`
	Title           string `json:"title,omitempty"`
	Body            string `json:"body,omitempty"`
	Icon            string `json:"icon,omitempty"`

	Dismissed  bool    `json:"dismissed,omitempty"`
	Modified   float64 `json:"modified,omitempty"`
	Encrypted  bool    `json:"encrypted,omitempty"`
	Ciphertext string  `json:"ciphertext,omitempty"`
}

func (r Record) Kind() Kind {
	switch r.Type {
	case "mirror":
		return KindMirror
	case "dismissal":
		return KindDismissal
	default:
		return KindOther
	}
}
