// Package bootstrap builds the ledgers, registry and router of a network
// and runs its first deployment.
package bootstrap

import (
	"log"
	"sort"

	"github.com/cockroachdb/errors"
	"github.com/holiman/uint256"

	"github.com/thanhnp/chain-bridge/internal/bridge"
	"github.com/thanhnp/chain-bridge/internal/config"
	"github.com/thanhnp/chain-bridge/internal/ledger"
	"github.com/thanhnp/chain-bridge/internal/models"
	"github.com/thanhnp/chain-bridge/internal/notifier"
	"github.com/thanhnp/chain-bridge/internal/validator"
	"github.com/thanhnp/chain-bridge/pkg/units"
)

// Network is every component of a running deployment
type Network struct {
	Registry *validator.Registry
	Router   *bridge.Router
	Ledgers  map[models.ChainID]*ledger.Ledger
	Hub      *notifier.Hub
}

// Ledger returns the ledger of chain
func (n *Network) Ledger(chain models.ChainID) (*ledger.Ledger, error) {
	l, ok := n.Ledgers[chain]
	if !ok {
		return nil, errors.Wrapf(bridge.ErrChainNotRegistered, "chain %s", chain)
	}
	return l, nil
}

// ChainIDs returns the ledger chain IDs in ascending order
func (n *Network) ChainIDs() []models.ChainID {
	ids := make([]models.ChainID, 0, len(n.Ledgers))
	for id := range n.Ledgers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// BridgeLedgers returns the ledgers as the router sees them
func (n *Network) BridgeLedgers() map[models.ChainID]bridge.Ledger {
	out := make(map[models.ChainID]bridge.Ledger, len(n.Ledgers))
	for id, l := range n.Ledgers {
		out[id] = l
	}
	return out
}

// New builds the registry, one ledger per genesis chain and an empty
// router, all wired to a single notifier hub. Chains are not registered
// with the router until Deploy runs.
func New(cfg *config.Config) (*Network, error) {
	minStake, err := units.ParseTokens(cfg.Ledger.MinStake)
	if err != nil {
		return nil, errors.Wrap(err, "ledger.min_stake")
	}

	var operator models.Principal
	if cfg.Bridge.Operator != "" {
		if operator, err = models.ParsePrincipal(cfg.Bridge.Operator); err != nil {
			return nil, errors.Wrap(err, "bridge.operator")
		}
	}

	var owner models.Principal
	if cfg.Genesis.Owner != "" {
		if owner, err = models.ParsePrincipal(cfg.Genesis.Owner); err != nil {
			return nil, errors.Wrap(err, "genesis.owner")
		}
	}

	hub := notifier.New()
	registry := validator.NewRegistry(minStake)
	registry.SetNotifier(hub)
	router := bridge.NewRouter(registry, operator)
	router.SetNotifier(hub)

	n := &Network{
		Registry: registry,
		Router:   router,
		Ledgers:  make(map[models.ChainID]*ledger.Ledger, len(cfg.Genesis.Chains)),
		Hub:      hub,
	}

	for _, spec := range cfg.Genesis.Chains {
		supply, err := units.ParseTokens(spec.Supply)
		if err != nil {
			return nil, errors.Wrapf(err, "genesis chain %d supply", spec.ID)
		}
		l := ledger.New(ledger.Config{
			Name:             "Node Token " + spec.Name,
			Symbol:           spec.Symbol,
			ChainID:          models.ChainID(spec.ID),
			TotalSupply:      supply,
			GenesisOwner:     owner,
			RetainUnincluded: cfg.Ledger.RetainUnincluded,
		}, registry)
		l.SetNotifier(hub)
		n.Ledgers[models.ChainID(spec.ID)] = l
	}

	return n, nil
}

type validatorPlan struct {
	address models.Principal
	stake   *uint256.Int
}

// Deploy runs the first deployment: register every chain with the router,
// give each validator every chain with its stake on each ledger, then let
// every validator confirm transfers between every ordered pair of chains.
// The confirmation thresholds are checked last.
func Deploy(n *Network, genesis config.GenesisConfig) error {
	var plans []validatorPlan
	for _, spec := range genesis.Validators {
		addr, err := models.ParsePrincipal(spec.Address)
		if err != nil {
			return errors.Wrap(err, "genesis validator")
		}
		stake, err := units.ParseTokens(spec.Stake)
		if err != nil {
			return errors.Wrapf(err, "genesis validator %s stake", spec.Address)
		}
		plans = append(plans, validatorPlan{address: addr, stake: stake})
	}

	for _, spec := range genesis.Chains {
		id := models.ChainID(spec.ID)
		if err := n.Router.RegisterChain(id, n.Ledgers[id], spec.Name, spec.RequiredConfirmations); err != nil {
			return err
		}
	}

	chains := n.ChainIDs()
	for _, p := range plans {
		for _, id := range chains {
			n.Registry.AddSupportedChain(p.address, id)
		}
		if err := n.Registry.DepositStake(p.address, p.stake); err != nil {
			return errors.Wrapf(err, "stake for %s", p.address.Hex())
		}
		for _, id := range chains {
			if err := n.Ledgers[id].AddValidator(p.address, p.stake); err != nil {
				return errors.Wrapf(err, "add validator %s to chain %s", p.address.Hex(), id)
			}
		}
		log.Printf("[bootstrap] Validator %s configured on %d chains", p.address.Hex(), len(chains))
	}

	for _, origin := range chains {
		for _, p := range plans {
			for _, dest := range chains {
				if dest != origin {
					n.Ledgers[dest].AddCrossChainValidator(origin, p.address)
				}
			}
		}
	}
	log.Printf("[bootstrap] Cross-chain validators configured for %d chains", len(chains))

	return n.Router.CheckThresholds()
}
