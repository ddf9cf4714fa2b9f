package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

var ErrInvalidMessage = errors.New("message requires a recipient and a subject")

type Message struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	HTML    string `json:"html"`
	Text    string `json:"text"`
}

func (m Message) Validate() error {
	if m.To == "" || m.Subject == "" {
		return ErrInvalidMessage
	}
	return nil
}

type Notifier interface {
	Send(ctx context.Context, msg Message) error
}

// LogNotifier records messages in the log instead of delivering them.
type LogNotifier struct{}

func (LogNotifier) Send(_ context.Context, msg Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	log.Info().Str("to", msg.To).Str("subject", msg.Subject).Msg("notify: email delivery not configured, message logged")
	return nil
}

// Dispatcher sends messages in the background. Failures are logged and never
// reach the caller.
type Dispatcher struct {
	notifier Notifier
	timeout  time.Duration
	wg       sync.WaitGroup
}

func NewDispatcher(n Notifier, timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Dispatcher{notifier: n, timeout: timeout}
}

func (d *Dispatcher) Dispatch(msg Message) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer func() {
			if p := recover(); p != nil {
				log.Error().Interface("panic_value", p).Str("to", msg.To).Msg("notify: panic while sending message")
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()

		if err := d.notifier.Send(ctx, msg); err != nil {
			log.Error().Err(err).Str("to", msg.To).Str("subject", msg.Subject).Msg("notify: failed to send message")
			return
		}
		log.Debug().Str("to", msg.To).Str("subject", msg.Subject).Msg("notify: message sent")
	}()
}

// Wait blocks until every dispatched message has been attempted.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
