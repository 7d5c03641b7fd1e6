package notify

// JobKind selects the provider call a delivery job performs.
type JobKind string

const (
	JobWhatsAppTemplate JobKind = "wa_template"
	JobWhatsAppSession  JobKind = "wa_session"
	JobEmail            JobKind = "email"
	JobPush             JobKind = "push"
)

// DeliveryJob is the queue payload for one outbound send. The delivery
// record referenced by DeliveryID is authoritative for target and status;
// the job only carries the rendered content. Push jobs reference a
// subscription instead of a delivery record.
type DeliveryJob struct {
	Kind       JobKind `json:"kind"`
	DeliveryID int64   `json:"delivery_id,omitempty"`

	TemplateID   string   `json:"template_id,omitempty"`
	Params       []string `json:"params,omitempty"`
	Postbacks    []string `json:"postbacks,omitempty"`
	SessionText  string   `json:"session_text,omitempty"`
	ReplyOptions []string `json:"reply_options,omitempty"`

	Subject string `json:"subject,omitempty"`
	HTML    string `json:"html,omitempty"`

	SubscriptionID int64  `json:"subscription_id,omitempty"`
	PushPayload    string `json:"push_payload,omitempty"`
}
