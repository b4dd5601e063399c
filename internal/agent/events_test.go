package agent

import (
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ent0n29/interview-agent/internal/usage"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sttEvent(ms int) Event {
	return MetricsCollectedEvent{Metrics: usage.STTMetrics{AudioDuration: time.Duration(ms) * time.Millisecond}}
}

func TestDispatcherDeliversInOrder(t *testing.T) {
	d := newDispatcher(discardLogger(), nil)
	var seen []time.Duration
	d.on(EventMetricsCollected, func(ev Event) {
		seen = append(seen, ev.(MetricsCollectedEvent).Metrics.(usage.STTMetrics).AudioDuration)
	})
	for i := 1; i <= 5; i++ {
		d.emit(sttEvent(i))
	}
	d.close()

	if len(seen) != 5 {
		t.Fatalf("delivered = %d, want 5", len(seen))
	}
	for i := 1; i < len(seen); i++ {
		if seen[i] <= seen[i-1] {
			t.Fatalf("events out of order: %v", seen)
		}
	}
}

func TestDispatcherUnsubscribe(t *testing.T) {
	d := newDispatcher(discardLogger(), nil)
	var mu sync.Mutex
	count := 0
	unsubscribe := d.on(EventMetricsCollected, func(Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})
	d.emit(sttEvent(1))
	d.close()
	unsubscribe()
	unsubscribe()

	d2 := newDispatcher(discardLogger(), nil)
	unsubscribe2 := d2.on(EventMetricsCollected, func(Event) { t.Errorf("handler ran after unsubscribe") })
	unsubscribe2()
	d2.emit(sttEvent(1))
	d2.close()

	if count != 1 {
		t.Fatalf("count = %d, want 1", count)
	}
}

func TestDispatcherEmitAfterClose(t *testing.T) {
	d := newDispatcher(discardLogger(), nil)
	d.close()
	if d.emit(sttEvent(1)) {
		t.Fatalf("emit() after close = true, want false")
	}
	d.close()
}

func TestDispatcherHandlerPanic(t *testing.T) {
	var got error
	d := newDispatcher(discardLogger(), func(err error) { got = err })
	delivered := 0
	d.on(EventMetricsCollected, func(Event) { panic("boom") })
	d.on(EventMetricsCollected, func(Event) { delivered++ })
	d.emit(sttEvent(1))
	d.emit(sttEvent(2))
	d.close()

	if got == nil {
		t.Fatalf("onPanic not called")
	}
	if !strings.Contains(got.Error(), "boom") {
		t.Fatalf("panic error = %v, want it to mention the panic value", got)
	}
	if delivered != 2 {
		t.Fatalf("other handler delivered = %d, want 2", delivered)
	}
}
