package api

import (
    "sync"
)

type Event struct {
    Type string
    Data map[string]any
}

type Broker struct {
    mu   sync.Mutex
    subs map[string]map[chan Event]struct{} // groupCode -> set of channels
}

func NewBroker() *Broker {
    return &Broker{subs: map[string]map[chan Event]struct{}{}}
}

func (b *Broker) Subscribe(groupCode string) chan Event {
    ch := make(chan Event, 8)
    b.mu.Lock()
    if b.subs[groupCode] == nil { b.subs[groupCode] = map[chan Event]struct{}{} }
    b.subs[groupCode][ch] = struct{}{}
    b.mu.Unlock()
    return ch
}

func (b *Broker) Unsubscribe(groupCode string, ch chan Event) {
    b.mu.Lock()
    if m := b.subs[groupCode]; m != nil {
        delete(m, ch)
        if len(m) == 0 { delete(b.subs, groupCode) }
    }
    b.mu.Unlock()
    close(ch)
}

// Publish delivers the event to every live subscriber of the circle. Slow
// consumers are skipped rather than blocked on.
func (b *Broker) Publish(groupCode string, evt Event) {
    b.mu.Lock()
    m := b.subs[groupCode]
    for ch := range m {
        select { case ch <- evt: default: }
    }
    b.mu.Unlock()
}
