package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"spotbot/internal/engine"
)

// Publisher is the subset of *nats.Conn used here.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATS publishes notifications on <prefix>.notify.<symbol> and cycle
// decisions on <prefix>.decisions.<symbol>.
type NATS struct {
	pub    Publisher
	prefix string
}

type natsMessage struct {
	Symbol string    `json:"symbol"`
	Text   string    `json:"text,omitempty"`
	Image  []byte    `json:"image,omitempty"`
	At     time.Time `json:"at"`
}

func ConnectNATS(url, prefix string) (*NATS, *nats.Conn, error) {
	nc, err := nats.Connect(url, nats.Name("spotbot"), nats.MaxReconnects(-1))
	if err != nil {
		return nil, nil, err
	}
	slog.Info("connected to nats", "url", url)
	return NewNATS(nc, prefix), nc, nil
}

func NewNATS(pub Publisher, prefix string) *NATS {
	if prefix == "" {
		prefix = "spotbot"
	}
	return &NATS{pub: pub, prefix: prefix}
}

func (n *NATS) Notify(_ context.Context, symbol, text string) {
	n.publish(n.prefix+".notify."+subjectToken(symbol), natsMessage{Symbol: symbol, Text: text, At: time.Now().UTC()})
}

func (n *NATS) SendImage(_ context.Context, symbol string, image []byte) {
	n.publish(n.prefix+".image."+subjectToken(symbol), natsMessage{Symbol: symbol, Image: image, At: time.Now().UTC()})
}

// Record implements engine.Recorder.
func (n *NATS) Record(_ context.Context, d engine.Decision) error {
	data, err := json.Marshal(d)
	if err != nil {
		return err
	}
	return n.pub.Publish(n.prefix+".decisions."+subjectToken(d.Symbol), data)
}

func (n *NATS) publish(subject string, msg natsMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		slog.Error("nats marshal failed", "subject", subject, "error", err)
		return
	}
	if err := n.pub.Publish(subject, data); err != nil {
		slog.Error("nats publish failed", "subject", subject, "error", err)
	}
}

func subjectToken(symbol string) string {
	if symbol == "" {
		return "_"
	}
	out := []rune(symbol)
	for i, r := range out {
		if r == '.' || r == '*' || r == '>' || r == ' ' || r == '/' {
			out[i] = '_'
		}
	}
	return string(out)
}
