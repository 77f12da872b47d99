package sse

import (
	"context"
	"sync"

	"ms-seating/internal/models"
)

// SeatEventEmitter fans seat status changes out to the SSE clients watching
// an event's seat map.
type SeatEventEmitter struct {
	// key: eventID, value: client channels
	clients map[string][]chan models.SeatStatusChangeEvent
	mu      sync.RWMutex
}

func NewSeatEventEmitter() *SeatEventEmitter {
	return &SeatEventEmitter{
		clients: make(map[string][]chan models.SeatStatusChangeEvent),
	}
}

// Subscribe registers a client for an event until ctx is done. The channel is
// closed after the client is removed.
func (e *SeatEventEmitter) Subscribe(ctx context.Context, eventID string) <-chan models.SeatStatusChangeEvent {
	clientChan := make(chan models.SeatStatusChangeEvent, 16)

	e.mu.Lock()
	e.clients[eventID] = append(e.clients[eventID], clientChan)
	e.mu.Unlock()

	go func() {
		<-ctx.Done()
		e.remove(eventID, clientChan)
	}()

	return clientChan
}

// PublishSeatStatus broadcasts to every subscriber of the change's event.
// Slow clients miss updates instead of blocking the caller.
func (e *SeatEventEmitter) PublishSeatStatus(_ context.Context, change models.SeatStatusChangeEvent) error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, clientChan := range e.clients[change.EventID] {
		select {
		case clientChan <- change:
		default:
		}
	}
	return nil
}

func (e *SeatEventEmitter) remove(eventID string, clientChan chan models.SeatStatusChangeEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()

	clients := e.clients[eventID]
	for i, ch := range clients {
		if ch == clientChan {
			e.clients[eventID] = append(clients[:i], clients[i+1:]...)
			close(clientChan)
			break
		}
	}

	if len(e.clients[eventID]) == 0 {
		delete(e.clients, eventID)
	}
}

// ClientCount returns the number of clients subscribed to an event
func (e *SeatEventEmitter) ClientCount(eventID string) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.clients[eventID])
}
