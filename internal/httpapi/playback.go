package httpapi

import (
	"context"
	"encoding/base64"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mkubicek/lektor/internal/voice"
)

// wsPlayback is one playback session on the browser side, implementing
// voice.PlaybackHandle. Completion is reported by the client's
// playback-ended ack, the same way Twilio-style media streams confirm audio
// with mark events; a timeout covers clients that never ack.
type wsPlayback struct {
	cs   *convSession
	id   string
	done chan error
	once sync.Once

	timer *time.Timer
}

func (p *wsPlayback) Done() <-chan error { return p.done }

// Stop tells the client to abandon the audio and releases the handle.
func (p *wsPlayback) Stop() {
	p.cs.send(serverMessage{Type: "playback-stop", ID: p.id})
	p.release(context.Canceled)
}

// release completes the handle exactly once.
func (p *wsPlayback) release(err error) {
	p.once.Do(func() {
		if p.timer != nil {
			p.timer.Stop()
		}
		p.done <- err

		p.cs.playMu.Lock()
		delete(p.cs.plays, p.id)
		p.cs.playMu.Unlock()
	})
}

// Play implements voice.Player: the audio is chunked to the client as base64
// messages sharing a playback ID, and the returned handle completes when the
// client acks the end of playback.
func (cs *convSession) Play(ctx context.Context, audio []byte) (voice.PlaybackHandle, error) {
	p := &wsPlayback{
		cs:   cs,
		id:   uuid.NewString(),
		done: make(chan error, 1),
	}
	p.timer = time.AfterFunc(playbackAckTimeout, func() {
		cs.logger.Printf("conversation_ws: playback %s never acked, releasing", p.id)
		p.release(nil)
	})

	cs.playMu.Lock()
	cs.plays[p.id] = p
	cs.playMu.Unlock()

	for off := 0; off < len(audio); off += audioChunkBytes {
		if ctx.Err() != nil {
			p.release(context.Canceled)
			return p, nil
		}
		end := off + audioChunkBytes
		if end > len(audio) {
			end = len(audio)
		}
		cs.send(serverMessage{
			Type:    "audio",
			ID:      p.id,
			Payload: base64.StdEncoding.EncodeToString(audio[off:end]),
			Final:   end == len(audio),
		})
	}
	if len(audio) == 0 {
		cs.send(serverMessage{Type: "audio", ID: p.id, Final: true})
	}

	return p, nil
}

// finishPlayback resolves a client playback-ended ack.
func (cs *convSession) finishPlayback(id string, err error) {
	cs.playMu.Lock()
	p := cs.plays[id]
	cs.playMu.Unlock()
	if p != nil {
		p.release(err)
	}
}
