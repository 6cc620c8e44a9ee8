// Package rangefeed reads ranging measurements from a serial-attached
// UWB tag and fans them out to multiple subscribers. One Feed owns the
// port; every subscriber gets its own channel of parsed measurements.
package rangefeed

import (
	"bufio"
	"context"
	crand "crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"log"
	"sync"
	"time"
)

// ErrWriteFailed is returned when a command is only partially written.
var ErrWriteFailed = fmt.Errorf("failed to write to serial port")

// Porter is the minimal serial port surface the feed needs. The
// abstraction enables unit testing without real hardware.
type Porter interface {
	io.ReadWriter
	io.Closer
}

// subscriberBuffer absorbs short consumer stalls; a full buffer drops
// the measurement rather than blocking the reader.
const subscriberBuffer = 16

// Feed multiplexes one serial ranging device to many subscribers.
type Feed[T Porter] struct {
	port         T
	subscribers  map[string]chan Measurement
	subscriberMu sync.Mutex
	commandMu    sync.Mutex
	closing      bool
	closingMu    sync.Mutex

	statsMu  sync.Mutex
	badLines int64
	dropped  int64
}

// New creates a Feed backed by an open port.
func New[T Porter](port T) *Feed[T] {
	return &Feed[T]{
		port:        port,
		subscribers: make(map[string]chan Measurement),
	}
}

// randomID generates a random subscriber ID (8 byte random hex value).
func randomID() string {
	b := make([]byte, 8)
	crand.Read(b)
	return hex.EncodeToString(b)
}

// Subscribe creates a new channel for receiving measurements. The
// returned ID identifies the channel when unsubscribing.
func (f *Feed[T]) Subscribe() (string, chan Measurement) {
	id := randomID()
	ch := make(chan Measurement, subscriberBuffer)
	f.subscriberMu.Lock()
	defer f.subscriberMu.Unlock()
	f.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes and closes a subscriber channel.
func (f *Feed[T]) Unsubscribe(id string) {
	f.subscriberMu.Lock()
	defer f.subscriberMu.Unlock()
	if ch, ok := f.subscribers[id]; ok {
		close(ch)
		delete(f.subscribers, id)
	}
}

// Initialise puts the tag into streaming mode.
func (f *Feed[T]) Initialise() error {
	if err := f.SendCommand("les"); err != nil {
		return fmt.Errorf("failed to start ranging stream: %w", err)
	}
	return nil
}

// SendCommand writes one command line to the device.
func (f *Feed[T]) SendCommand(command string) error {
	f.commandMu.Lock()
	defer f.commandMu.Unlock()
	if len(command) == 0 || command[len(command)-1] != '\n' {
		command += "\n"
	}
	n, err := f.port.Write([]byte(command))
	if err != nil {
		return err
	}
	if n != len(command) {
		return ErrWriteFailed
	}
	return nil
}

// Monitor reads lines from the port, parses them, and sends the
// measurements to all subscribers until the port drains or the context
// is cancelled. Unparseable lines are counted, not fatal.
func (f *Feed[T]) Monitor(ctx context.Context) error {
	scan := bufio.NewScanner(f.port)

	lineChan := make(chan string)
	scanErrChan := make(chan error, 1)

	// The blocking scan.Scan runs in its own goroutine so the outer
	// loop can keep watching the context.
	go func() {
		defer close(lineChan)
		for scan.Scan() {
			select {
			case lineChan <- scan.Text():
			case <-ctx.Done():
				return
			}
		}
		if err := scan.Err(); err != nil {
			select {
			case scanErrChan <- err:
			case <-ctx.Done():
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-scanErrChan:
			return err

		case line, ok := <-lineChan:
			if !ok {
				// The reader goroutine parks any scan error before it
				// closes lineChan.
				select {
				case err := <-scanErrChan:
					return err
				default:
					return nil
				}
			}
			f.closingMu.Lock()
			if f.closing {
				f.closingMu.Unlock()
				return nil
			}
			f.closingMu.Unlock()

			m, err := ParseLine(line)
			if err == errSkippable {
				continue
			}
			if err != nil {
				f.statsMu.Lock()
				f.badLines++
				f.statsMu.Unlock()
				log.Printf("rangefeed: discarding line %q: %v", line, err)
				continue
			}
			m.At = time.Now()

			f.subscriberMu.Lock()
			for _, ch := range f.subscribers {
				select {
				case ch <- m:
				default:
					// A full subscriber must not block the port reader.
					f.statsMu.Lock()
					f.dropped++
					f.statsMu.Unlock()
				}
			}
			f.subscriberMu.Unlock()
		}
	}
}

// BadLines reports how many lines failed to parse.
func (f *Feed[T]) BadLines() int64 {
	f.statsMu.Lock()
	defer f.statsMu.Unlock()
	return f.badLines
}

// Dropped reports how many measurements were dropped on full
// subscriber channels.
func (f *Feed[T]) Dropped() int64 {
	f.statsMu.Lock()
	defer f.statsMu.Unlock()
	return f.dropped
}

// Close closes all subscriber channels and the port.
func (f *Feed[T]) Close() error {
	f.closingMu.Lock()
	f.closing = true
	f.closingMu.Unlock()

	f.subscriberMu.Lock()
	defer f.subscriberMu.Unlock()
	for id, ch := range f.subscribers {
		close(ch)
		delete(f.subscribers, id)
	}
	return f.port.Close()
}
