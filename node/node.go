package node

import (
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/harmony-one/bls/ffi/go/bls"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/shardcore/corenode/archival"
	"github.com/shardcore/corenode/block"
	"github.com/shardcore/corenode/bloom"
	"github.com/shardcore/corenode/byzantine"
	"github.com/shardcore/corenode/chainstore"
	"github.com/shardcore/corenode/coinbase"
	"github.com/shardcore/corenode/config"
	"github.com/shardcore/corenode/consensus"
	"github.com/shardcore/corenode/cryptoutil"
	"github.com/shardcore/corenode/ds"
	"github.com/shardcore/corenode/persistence"
	"github.com/shardcore/corenode/rpc"
	"github.com/shardcore/corenode/transport"
	"github.com/shardcore/corenode/viewchange"
)

// chainRingCapacity bounds how many recent blocks each chainstore.Store
// keeps resident before evicting to the persistence overflow tier.
const chainRingCapacity = 256

// dsGroupID is the sentinel shardID identifying the directory-service
// committee's own broadcast group, distinct from any real shard index.
const dsGroupID = ^uint32(0)

// Node wires every package this tree builds into the single control
// surface spec.md §2 describes: a ds.Machine driving state, a
// consensus.Coordinator running its two-round votes, a transport.Host
// moving frames, and chainstore/persistence/coinbase/byzantine backing
// the ledger and reward accounting those rounds produce. Grounded on the
// teacher's node.Node (which plays the same "everything meets here"
// role for core.BlockChain/TxPool/worker.Worker), generalized onto this
// module's own block/chainstore/coinbase/ds types.
type Node struct {
	cfg    config.NodeConfig
	logger zerolog.Logger

	selfKey   *bls.SecretKey
	selfPK    string
	selfIndex int

	host      *transport.Host
	machine   *ds.Machine
	consensus *consensus.Coordinator

	coinbaseTracker *coinbase.Tracker
	perf            *byzantine.PerformanceTracker
	registry        *committeeRegistry

	dsChain  *chainstore.Store
	txChains map[uint32]*shardChain
	reader   *chainReader
	accounts *AccountStore

	powPool  *ds.PoWPool
	gasPrice *ds.GasPriceController

	microBlocksMu sync.Mutex
	microBlocks   *ds.MicroBlockCollector

	viewChangeMu sync.Mutex
	viewChange   *viewchange.Controller

	txPool *txPool

	archiver *archival.Uploader
	rpcSrv   *rpc.Server

	shardID        uint32
	committeeOrder []byzantine.PublicKey
	numShards      int
}

// Deps bundles the collaborators New needs beyond plain configuration:
// the local replica's BLS identity, its position in the current
// committee, the full committee's public keys in canonical order, and
// the storage/archival backends to wire in.
type Deps struct {
	SelfKey        *bls.SecretKey
	SelfIndex      int
	ShardID        uint32
	CommitteeOrder []byzantine.PublicKey
	Overflow       persistence.KV
	Archiver       *archival.Uploader // nil disables archival
	Logger         zerolog.Logger
}

// New builds a fully-wired Node in POW_SUBMISSION state. Callers still
// need to call AttachHost to begin processing inbound frames.
func New(cfg config.NodeConfig, deps Deps) (*Node, error) {
	if err := cryptoutil.Init(); err != nil {
		return nil, errors.Wrap(err, "node: initialize bls library")
	}

	selfPK := deps.SelfKey.GetPublicKey().SerializeToHexStr()

	timeouts := ds.Timeouts{
		PoWSubmission:             time.Duration(cfg.Consensus.PoWSubmissionTimeoutMS) * time.Millisecond,
		FinalBlockConsensusObject: time.Duration(cfg.Consensus.FinalBlockConsensusTimeoutMS) * time.Millisecond,
		ConsensusObject:           time.Duration(cfg.Consensus.DSBlockConsensusTimeoutMS) * time.Millisecond,
		MicroBlock:                time.Duration(cfg.Consensus.ShardingConsensusTimeoutMS) * time.Millisecond,
	}
	machine := ds.NewMachine(0, 0, timeouts, deps.Logger)

	registry := newCommitteeRegistry()
	coordinator := consensus.NewCoordinator(
		deps.SelfKey, deps.SelfIndex, viewchange.Quorum,
		time.Duration(cfg.Consensus.DSBlockConsensusTimeoutMS)*time.Millisecond,
		registry.resolve,
	)

	dsChain := chainstore.New(chainRingCapacity, deps.Overflow, "dsblock", func(raw []byte) (chainstore.Block, error) {
		return block.DecodeDSBlockHeader(raw)
	})

	accounts := NewAccountStore(deps.Overflow)
	gasPrice := ds.NewGasPriceController(ds.DefaultGasPriceBounds(), big.NewInt(1))
	reader := newChainReader(accounts, gasPrice)

	txShard := chainstore.New(chainRingCapacity, deps.Overflow, "txblock", func(raw []byte) (chainstore.Block, error) {
		return block.DecodeTxBlockHeader(raw)
	})
	sc := newShardChain(txShard)
	reader.addShard(deps.ShardID, sc)

	seen := bloom.New(bloom.DefaultParameters().Compute())

	return &Node{
		cfg:             cfg,
		logger:          deps.Logger,
		selfKey:         deps.SelfKey,
		selfPK:          selfPK,
		selfIndex:       deps.SelfIndex,
		machine:         machine,
		consensus:       coordinator,
		coinbaseTracker: coinbase.NewTracker(nil),
		perf:            byzantine.NewPerformanceTracker(),
		registry:        registry,
		dsChain:         dsChain,
		txChains:        map[uint32]*shardChain{deps.ShardID: sc},
		reader:          reader,
		accounts:        accounts,
		powPool:         ds.NewPoWPool(0, newPoWVerifier(registry), publicAddressChecker{}),
		gasPrice:        gasPrice,
		microBlocks:     ds.NewMicroBlockCollector(uint32(cfg.Network.NumShards)),
		txPool:          newTxPool(seen),
		archiver:        deps.Archiver,
		rpcSrv:          rpc.NewServer(reader, cfg.Network.NetworkID, deps.Logger),
		shardID:         deps.ShardID,
		committeeOrder:  deps.CommitteeOrder,
		numShards:       cfg.Network.NumShards,
	}, nil
}

// AttachHost installs the transport.Host this node sends and receives
// frames through and registers the dispatch handlers described in
// §4.11/§6.1. Kept separate from New so tests can build a Node without
// any real networking.
func (n *Node) AttachHost(host *transport.Host) {
	n.host = host
	n.registerHandlers()
}

// currentMicroBlocks returns the collector for the final-block round
// presently in flight. Guarded separately from the machine's own state
// mutex since dispatch.go's network handlers read it concurrently with
// the leader loop replacing it between rounds.
func (n *Node) currentMicroBlocks() *ds.MicroBlockCollector {
	n.microBlocksMu.Lock()
	defer n.microBlocksMu.Unlock()
	return n.microBlocks
}

// resetMicroBlocks installs a fresh collector for the next final-block
// round.
func (n *Node) resetMicroBlocks(numShards int) {
	n.microBlocksMu.Lock()
	defer n.microBlocksMu.Unlock()
	n.microBlocks = ds.NewMicroBlockCollector(uint32(numShards))
}

// activeViewChange returns the Controller driving the view-change round
// presently in flight, or nil if none is running. Guarded the same way
// as currentMicroBlocks: dispatch.go's network handler reads it
// concurrently with runViewChange installing and clearing it.
func (n *Node) activeViewChange() *viewchange.Controller {
	n.viewChangeMu.Lock()
	defer n.viewChangeMu.Unlock()
	return n.viewChange
}

// setViewChange installs ctrl as the active view-change round.
func (n *Node) setViewChange(ctrl *viewchange.Controller) {
	n.viewChangeMu.Lock()
	defer n.viewChangeMu.Unlock()
	n.viewChange = ctrl
}

// clearViewChange removes the active view-change round once it
// finalizes or its caller gives up.
func (n *Node) clearViewChange() {
	n.viewChangeMu.Lock()
	defer n.viewChangeMu.Unlock()
	n.viewChange = nil
}

// RPCHandler returns the HTTP handler for this node's JSON-RPC front end.
func (n *Node) RPCHandler() http.Handler {
	return n.rpcSrv.Handler(n.cfg.RPC.CORSOrigins)
}

// Shutdown releases the node's held resources: the archival uploader's
// worker pool (if wired in) and the transport host.
func (n *Node) Shutdown() {
	if n.archiver != nil {
		n.archiver.Close()
	}
	if n.host != nil {
		if err := n.host.Close(); err != nil {
			n.logger.Warn().Err(err).Msg("node: error closing transport host")
		}
	}
}

// groupID names the gossipsub topic a shard or the DS committee
// broadcasts on, per §4.11.
func groupID(shardID uint32) string {
	if shardID == dsGroupID {
		return "ds-committee"
	}
	return "shard-" + itoa(shardID)
}

func itoa(v uint32) string {
	if v == 0 {
		return "0"
	}
	var digits [10]byte
	i := len(digits)
	for v > 0 {
		i--
		digits[i] = byte('0' + v%10)
		v /= 10
	}
	return string(digits[i:])
}
