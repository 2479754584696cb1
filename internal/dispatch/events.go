package dispatch

import "context"

// Kind enumerates the normalized inbound chat events the dispatcher
// understands. The transport layer is responsible for translating its
// wire format into these.
type Kind string

const (
	// KindStart is the conversation entry command (/start).
	KindStart Kind = "START"
	// KindMenu is an inline menu button press carrying a Data payload.
	KindMenu Kind = "MENU"
	// KindText is free-form text, used for the artifact description.
	KindText Kind = "TEXT"
	// KindPhoto is an uploaded photo, used as payment proof.
	KindPhoto Kind = "PHOTO"
)

// Event is one normalized inbound chat update.
type Event struct {
	Kind   Kind
	UserID string
	ChatID int64

	// Data is the menu callback payload for KindMenu events, e.g.
	// "cat:ART" or "var:Fantasy".
	Data string
	// Text is the message body for KindText events.
	Text string
	// PhotoRef is the transport's file handle for KindPhoto events.
	PhotoRef string
	// CallbackID, when set on a KindMenu event, must be acknowledged
	// so the chat client stops showing a spinner.
	CallbackID string
}

// Menu payload grammar. Selections carry their value after the prefix;
// actions are bare tokens.
const (
	dataCategoryPrefix = "cat:"
	dataVariantPrefix  = "var:"
	dataRegenerate     = "regen"
	dataDone           = "done"
)

// Button is one inline menu option.
type Button struct {
	Label string
	Data  string
}

// Transport delivers outbound instructions to the chat service. The
// dispatcher emits instructions only through this interface and holds
// no transport state of its own.
type Transport interface {
	SendText(ctx context.Context, chatID int64, text string) error
	SendMenu(ctx context.Context, chatID int64, text string, rows [][]Button) error
	// SendArtifact uploads a generated artifact by its opaque ref.
	SendArtifact(ctx context.Context, chatID int64, ref, caption string) error
	AckMenuChoice(ctx context.Context, callbackID string) error
}
