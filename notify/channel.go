package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/casualjim/shuttle/pkg/slogx"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// ErrInvalidConfig is wrapped by every channel construction failure.
var ErrInvalidConfig = errors.New("invalid notification channel configuration")

// Channel delivers a notification body to one destination.
type Channel interface {
	// Name identifies the channel in logs and reports.
	Name() string
	// Fire renders and sends body, reporting whether delivery succeeded.
	Fire(ctx context.Context, body string) bool
}

// Report records the outcome per channel in the order the channels were called.
type Report struct {
	results *orderedmap.OrderedMap[string, bool]
}

func newReport() Report {
	return Report{results: orderedmap.New[string, bool]()}
}

// Get returns the outcome of the named channel.
func (r Report) Get(name string) (ok bool, found bool) {
	if r.results == nil {
		return false, false
	}
	return r.results.Get(name)
}

// Len is the number of channels that were called.
func (r Report) Len() int {
	if r.results == nil {
		return 0
	}
	return r.results.Len()
}

// Names lists the channels in call order.
func (r Report) Names() []string {
	var names []string
	if r.results == nil {
		return names
	}
	for pair := r.results.Oldest(); pair != nil; pair = pair.Next() {
		names = append(names, pair.Key)
	}
	return names
}

// Failed lists the channels that did not deliver, in call order.
func (r Report) Failed() []string {
	var failed []string
	if r.results == nil {
		return failed
	}
	for pair := r.results.Oldest(); pair != nil; pair = pair.Next() {
		if !pair.Value {
			failed = append(failed, pair.Key)
		}
	}
	return failed
}

// MarshalJSON renders the report as an object keyed by channel name.
func (r Report) MarshalJSON() ([]byte, error) {
	if r.results == nil {
		return []byte(`{}`), nil
	}
	return r.results.MarshalJSON()
}

// Notify sends text through every channel in order.
func Notify(ctx context.Context, channels []Channel, text string) Report {
	log := slog.Default().With(slogx.LoggerName("shuttle.notify"))
	report := newReport()

	for _, ch := range channels {
		if ch == nil {
			continue
		}
		name := uniqueName(report, ch.Name())
		ok := fire(ctx, log, name, ch, text)
		report.results.Set(name, ok)
		if !ok {
			log.Warn("notification failed", slogx.Channel(name))
			continue
		}
		log.Debug("notification sent", slogx.Channel(name))
	}
	return report
}

func fire(ctx context.Context, log *slog.Logger, name string, ch Channel, text string) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("notification channel panicked", slogx.Channel(name), slog.Any("panic", r))
			ok = false
		}
	}()
	return ch.Fire(ctx, text)
}

func uniqueName(report Report, name string) string {
	if _, exists := report.results.Get(name); !exists {
		return name
	}
	for i := 2; ; i++ {
		candidate := fmt.Sprintf("%s#%d", name, i)
		if _, exists := report.results.Get(candidate); !exists {
			return candidate
		}
	}
}
