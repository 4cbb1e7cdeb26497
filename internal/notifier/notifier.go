package notifier

import (
	"sync"

	"github.com/thanhnp/chain-bridge/internal/models"
)

// BlockHandler is called after a block is appended to a ledger
type BlockHandler func(block *models.Block)

// TransferHandler is called after a cross-chain transfer changes state
type TransferHandler func(transfer *models.Transfer)

// ChangeHandler is called after any state mutation in the named component
type ChangeHandler func(source string)

// Hub fans events out to registered handlers. A nil *Hub drops every event.
// Handlers run synchronously on the publishing goroutine and must not call
// back into the publisher.
type Hub struct {
	mu               sync.RWMutex
	blockHandlers    []BlockHandler
	transferHandlers []TransferHandler
	changeHandlers   []ChangeHandler
}

// New creates an empty Hub
func New() *Hub {
	return &Hub{}
}

// OnBlockSubmitted registers a handler for new blocks
func (h *Hub) OnBlockSubmitted(handler BlockHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.blockHandlers = append(h.blockHandlers, handler)
}

// OnTransferUpdated registers a handler for transfer state changes
func (h *Hub) OnTransferUpdated(handler TransferHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.transferHandlers = append(h.transferHandlers, handler)
}

// OnChange registers a handler for any state mutation
func (h *Hub) OnChange(handler ChangeHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.changeHandlers = append(h.changeHandlers, handler)
}

// BlockSubmitted publishes a new block
func (h *Hub) BlockSubmitted(block *models.Block) {
	if h == nil {
		return
	}
	h.mu.RLock()
	handlers := h.blockHandlers
	h.mu.RUnlock()

	for _, fn := range handlers {
		fn(block)
	}
	h.Changed("ledger:" + block.Chain.String())
}

// TransferUpdated publishes a transfer state change
func (h *Hub) TransferUpdated(transfer *models.Transfer) {
	if h == nil {
		return
	}
	h.mu.RLock()
	handlers := h.transferHandlers
	h.mu.RUnlock()

	for _, fn := range handlers {
		fn(transfer)
	}
	h.Changed("bridge")
}

// Changed publishes a generic mutation
func (h *Hub) Changed(source string) {
	if h == nil {
		return
	}
	h.mu.RLock()
	handlers := h.changeHandlers
	h.mu.RUnlock()

	for _, fn := range handlers {
		fn(source)
	}
}
