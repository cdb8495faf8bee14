package dream

import (
	"bytes"
	"encoding/json"
	"log"
	"net/http"
	"time"
)

// Event reports progress of a run. Type is "step" after each ascent step and
// "octave" once an octave's steps are done. Octave counts processed octaves
// from 0 (coarsest); Level is the pyramid index (0 is full resolution).
type Event struct {
	Type       string        `json:"type"`
	Octave     int           `json:"octave"`
	Level      int           `json:"level"`
	NumOctaves int           `json:"num_octaves"`
	Step       int           `json:"step"`
	NumSteps   int           `json:"num_steps"`
	Height     int           `json:"height"`
	Width      int           `json:"width"`
	Loss       float64       `json:"loss"`
	Elapsed    time.Duration `json:"elapsed_ns"`
}

// Observer receives run events. Implementations are called synchronously
// from the run loop and must not block for long.
type Observer interface {
	OnStep(Event)
	OnOctave(Event)
}

// ObserverFunc adapts a plain function to Observer; it receives both kinds.
type ObserverFunc func(Event)

func (f ObserverFunc) OnStep(e Event)   { f(e) }
func (f ObserverFunc) OnOctave(e Event) { f(e) }

// ConsoleObserver logs a progress line every Every steps (and on the last
// step of each octave), plus a summary per octave.
type ConsoleObserver struct {
	Every int
}

func (o *ConsoleObserver) OnStep(e Event) {
	every := o.Every
	if every <= 0 {
		every = 10
	}
	if e.Step%every != 0 && e.Step != e.NumSteps {
		return
	}
	log.Printf("Octave %d/%d, step %d/%d, loss: %.4f",
		e.Octave+1, e.NumOctaves, e.Step, e.NumSteps, e.Loss)
}

func (o *ConsoleObserver) OnOctave(e Event) {
	log.Printf("✅ octave %d/%d done at %dx%d (loss %.4f, %v)",
		e.Octave+1, e.NumOctaves, e.Width, e.Height, e.Loss, e.Elapsed.Round(time.Millisecond))
}

// HTTPObserver posts events as JSON to URL, for live visualization.
type HTTPObserver struct {
	URL    string
	client *http.Client
}

func NewHTTPObserver(url string) *HTTPObserver {
	return &HTTPObserver{
		URL:    url,
		client: &http.Client{Timeout: 100 * time.Millisecond},
	}
}

func (o *HTTPObserver) OnStep(e Event)   { o.send(e) }
func (o *HTTPObserver) OnOctave(e Event) { o.send(e) }

func (o *HTTPObserver) send(e Event) {
	data, err := json.Marshal(e)
	if err != nil {
		return
	}

	// Fire and forget
	go func() {
		resp, err := o.client.Post(o.URL, "application/json", bytes.NewReader(data))
		if err == nil && resp != nil {
			resp.Body.Close()
		}
	}()
}

// ChannelObserver forwards events to a buffered channel, dropping them when
// the buffer is full.
type ChannelObserver struct {
	Events chan Event
}

func NewChannelObserver(bufferSize int) *ChannelObserver {
	return &ChannelObserver{Events: make(chan Event, bufferSize)}
}

func (o *ChannelObserver) OnStep(e Event)   { o.push(e) }
func (o *ChannelObserver) OnOctave(e Event) { o.push(e) }

func (o *ChannelObserver) push(e Event) {
	select {
	case o.Events <- e:
	default:
	}
}

type multiObserver []Observer

func (m multiObserver) OnStep(e Event) {
	for _, o := range m {
		o.OnStep(e)
	}
}

func (m multiObserver) OnOctave(e Event) {
	for _, o := range m {
		o.OnOctave(e)
	}
}
