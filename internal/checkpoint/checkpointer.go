// Package checkpoint persists the network state to storage and restores it
// on startup.
package checkpoint

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/thanhnp/chain-bridge/internal/bootstrap"
	"github.com/thanhnp/chain-bridge/internal/models"
	"github.com/thanhnp/chain-bridge/internal/storage"
)

// Checkpointer saves the network whenever it changed, on a fixed interval
// and once more on Stop
type Checkpointer struct {
	network  *bootstrap.Network
	stores   *storage.NetworkStores
	interval time.Duration

	mu      sync.Mutex
	dirty   bool
	running bool
	cancel  context.CancelFunc
	done    chan struct{}

	// signalled when a block is appended or a transfer finalizes
	flush chan struct{}

	saveMu sync.Mutex
	// highest block number persisted per chain
	savedHeights map[models.ChainID]uint64
}

// New creates a Checkpointer and subscribes it to the network's changes
func New(network *bootstrap.Network, stores *storage.NetworkStores, interval time.Duration) *Checkpointer {
	c := &Checkpointer{
		network:      network,
		stores:       stores,
		interval:     interval,
		savedHeights: make(map[models.ChainID]uint64),
		flush:        make(chan struct{}, 1),
	}
	network.Hub.OnChange(func(string) { c.markDirty() })
	network.Hub.OnBlockSubmitted(func(*models.Block) { c.requestFlush() })
	network.Hub.OnTransferUpdated(func(t *models.Transfer) {
		if t.Status.Terminal() {
			c.requestFlush()
		}
	})
	return c
}

// requestFlush asks the running loop to save without waiting for the next tick
func (c *Checkpointer) requestFlush() {
	select {
	case c.flush <- struct{}{}:
	default:
	}
}

func (c *Checkpointer) markDirty() {
	c.mu.Lock()
	c.dirty = true
	c.mu.Unlock()
}

// Dirty reports whether there are unsaved changes
func (c *Checkpointer) Dirty() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dirty
}

// Restore loads the saved network. It returns false when the store holds no
// network yet. Ledgers missing from the store keep their genesis state.
func (c *Checkpointer) Restore() (bool, error) {
	c.saveMu.Lock()
	defer c.saveMu.Unlock()

	routerState, err := c.stores.Bridge.Get()
	if err != nil {
		return false, errors.Wrap(err, "load bridge state")
	}
	if routerState == nil {
		return false, nil
	}

	for _, id := range c.network.ChainIDs() {
		state, err := c.stores.Ledgers.Get(id)
		if err != nil {
			return false, errors.Wrapf(err, "load ledger %s", id)
		}
		if state == nil {
			log.Printf("[checkpoint] No saved state for chain %s, starting from genesis", id)
			continue
		}
		blocks, err := c.stores.Blocks.GetRange(id, 0)
		if err != nil {
			return false, errors.Wrapf(err, "load blocks of chain %s", id)
		}
		if err := c.network.Ledgers[id].Restore(state, blocks); err != nil {
			return false, err
		}
		c.savedHeights[id] = state.Height
		log.Printf("[checkpoint] Restored chain %s at height %d", id, state.Height)
	}

	validators, err := c.stores.Validators.GetAll()
	if err != nil {
		return false, errors.Wrap(err, "load validators")
	}
	if err := c.network.Registry.Restore(validators); err != nil {
		return false, err
	}

	if err := c.network.Router.Restore(routerState, c.network.BridgeLedgers()); err != nil {
		return false, err
	}

	log.Printf("[checkpoint] Restored %d validators, %d chains, %d transfers",
		len(validators), len(routerState.Chains), len(routerState.Transfers))

	c.mu.Lock()
	c.dirty = false
	c.mu.Unlock()
	return true, nil
}

// Save writes the whole network in one batch. Blocks already persisted are
// not rewritten.
func (c *Checkpointer) Save() error {
	c.saveMu.Lock()
	defer c.saveMu.Unlock()

	// changes made while saving mark the checkpointer dirty again
	c.mu.Lock()
	c.dirty = false
	c.mu.Unlock()

	batch := c.stores.DB.NewBatch()
	defer batch.Close()

	heights := make(map[models.ChainID]uint64)
	var snapErr error
	c.network.Router.Snapshot(func(routerState *models.RouterState) {
		if snapErr = c.stores.Bridge.PutBatch(batch, routerState); snapErr != nil {
			return
		}
		for _, id := range c.network.ChainIDs() {
			l := c.network.Ledgers[id]
			state := l.State()
			if snapErr = c.stores.Ledgers.PutBatch(batch, state); snapErr != nil {
				return
			}

			from := uint64(0)
			if h, ok := c.savedHeights[id]; ok {
				from = h + 1
			}
			for _, b := range l.Blocks(from) {
				if b.Number > state.Height {
					break
				}
				if snapErr = c.stores.Blocks.PutBatch(batch, b); snapErr != nil {
					return
				}
			}
			heights[id] = state.Height
		}
		for _, v := range c.network.Registry.Validators() {
			if snapErr = c.stores.Validators.PutBatch(batch, v); snapErr != nil {
				return
			}
		}
	})
	if snapErr == nil {
		snapErr = c.stores.Meta.PutSavedAtBatch(batch, time.Now())
	}
	if snapErr == nil {
		snapErr = batch.Commit()
	}
	if snapErr == nil {
		snapErr = c.stores.DB.Sync()
	}
	if snapErr != nil {
		c.markDirty()
		return errors.Wrap(snapErr, "checkpoint")
	}

	for id, h := range heights {
		c.savedHeights[id] = h
	}
	return nil
}

// Start begins periodic saving
func (c *Checkpointer) Start(ctx context.Context) {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return
	}
	c.running = true
	ctx, c.cancel = context.WithCancel(ctx)
	c.done = make(chan struct{})
	c.mu.Unlock()

	go c.loop(ctx)
}

func (c *Checkpointer) loop(ctx context.Context) {
	defer close(c.done)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.saveIfDirty("interval")
		case <-c.flush:
			c.saveIfDirty("flush")
		}
	}
}

func (c *Checkpointer) saveIfDirty(reason string) {
	if !c.Dirty() {
		return
	}
	if err := c.Save(); err != nil {
		log.Printf("[checkpoint] Warning: save failed: %v", err)
		return
	}
	log.Printf("[checkpoint] State saved (%s)", reason)
}

// Stop ends periodic saving and flushes unsaved changes
func (c *Checkpointer) Stop() error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = false
	c.cancel()
	done := c.done
	c.mu.Unlock()

	<-done

	if !c.Dirty() {
		return nil
	}
	log.Printf("[checkpoint] Flushing state before shutdown...")
	return c.Save()
}
