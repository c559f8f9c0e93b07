package streamrelay

// Kind tags a bus message.
type Kind string

const (
	KindDownload           Kind = "download"
	KindChunkData          Kind = "chunkData"
	KindConfirmedWriteSize Kind = "confirmedWriteSize"
	KindReadStarted        Kind = "readStarted"
	KindClientDoneSending  Kind = "clientDoneSending"
	KindCancel             Kind = "cancel"
	KindError              Kind = "error"
)

// Message is the tagged union exchanged on a session's bus channel. Only the
// field matching Kind is meaningful.
type Message struct {
	Kind               Kind   `json:"kind"`
	Download           string `json:"download,omitempty"`
	ChunkData          []byte `json:"chunkData,omitempty"`
	ConfirmedWriteSize int64  `json:"confirmedWriteSize,omitempty"`
	Reason             string `json:"reason,omitempty"`
}

func DownloadMessage(url string) Message {
	return Message{Kind: KindDownload, Download: url}
}

func ChunkMessage(data []byte) Message {
	return Message{Kind: KindChunkData, ChunkData: data}
}

func ConfirmedMessage(n int64) Message {
	return Message{Kind: KindConfirmedWriteSize, ConfirmedWriteSize: n}
}

func ReadStartedMessage() Message {
	return Message{Kind: KindReadStarted}
}

func ClientDoneSendingMessage() Message {
	return Message{Kind: KindClientDoneSending}
}

func CancelMessage() Message {
	return Message{Kind: KindCancel}
}

func ErrorMessage(reason string) Message {
	return Message{Kind: KindError, Reason: reason}
}

// clone copies the payload so no two contexts share a byte slice.
func (m Message) clone() Message {
	if m.ChunkData != nil {
		m.ChunkData = append([]byte(nil), m.ChunkData...)
	}
	return m
}
