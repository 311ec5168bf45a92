// Package rpc implements the JSON-RPC / Ethereum-compatible front end of
// spec.md §6.2 as thin handlers translating requests into reads against
// chainstore, persistence, and bloom, routed with gorilla/mux the way the
// pack's walletserver/xchainserver front ends are, with rs/cors and
// gorilla/handlers providing the cross-origin and access-log middleware
// the teacher's own RPC surface would need in production.
package rpc

import (
	"encoding/json"
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
)

// ChainReader is the narrow view of chainstore/persistence this front end
// needs: per-shard block lookups and the raw transaction/account reads
// eth_getTransactionByHash, eth_getBalance, and eth_getTransactionCount
// require.
type ChainReader interface {
	LatestBlockNumber(shardID uint32) (uint64, error)
	BlockByNumber(shardID uint32, num uint64) (BlockView, error)
	BlockByHash(shardID uint32, hash common.Hash) (BlockView, error)
	TransactionByHash(hash common.Hash) (TxView, error)
	Balance(addr common.Address) (*big.Int, error)
	Nonce(addr common.Address) (uint64, error)
	GasPrice() uint64
}

// BlockView is the JSON-facing projection of a TxBlock, independent of the
// concrete block.TxBlockHeader/chainstore.Store types so this package
// never needs to import chainstore's generic Store machinery directly.
type BlockView struct {
	Hash         common.Hash
	Number       uint64
	Transactions []common.Hash
}

// TxView is the JSON-facing projection of one transaction.
type TxView struct {
	Hash   common.Hash
	From   common.Address
	To     common.Address
	Amount *big.Int
	Nonce  uint64
}

// chainIDBase is the Zilliqa-style chain id base §6.2's eth_chainId ORs the
// configured network id into.
const chainIDBase = 0x8000

// Server is the HTTP front end. NetworkID is folded into eth_chainId;
// the allowed cross-origin callers are given to Handler, not stored here.
type Server struct {
	reader    ChainReader
	networkID uint16
	logger    zerolog.Logger
}

// NewServer builds an rpc.Server reading through reader and reporting
// networkID in eth_chainId.
func NewServer(reader ChainReader, networkID uint16, logger zerolog.Logger) *Server {
	return &Server{reader: reader, networkID: networkID, logger: logger}
}

// Handler builds the http.Handler for this server: gorilla/mux routing a
// single JSON-RPC POST endpoint, wrapped in rs/cors and a
// gorilla/handlers combined access log. corsOrigins lists allowed origins
// for browser-based callers (e.g. a wallet UI) and is passed to rs/cors
// as AllowedOrigins; rs/cors treats an empty list as allowing every
// origin.
func (s *Server) Handler(corsOrigins []string) http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/", s.handleRPC).Methods(http.MethodPost)

	c := cors.New(cors.Options{
		AllowedOrigins: corsOrigins,
		AllowedMethods: []string{http.MethodPost},
	})
	return handlers.CombinedLoggingHandler(zerologWriter{s.logger}, c.Handler(r))
}

// request is a JSON-RPC 2.0 request envelope.
type request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

// response is a JSON-RPC 2.0 response envelope; Error is omitted on
// success, Result is omitted on failure.
type response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  interface{}     `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// miscErrorCode is JSON-RPC's catch-all application error code, used by
// §6.2's eth_call Revert contract.
const miscErrorCode = -32000

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	var req request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed request body", http.StatusBadRequest)
		return
	}

	result, rpcErr := s.dispatch(req.Method, req.Params)
	resp := response{JSONRPC: "2.0", ID: req.ID}
	if rpcErr != nil {
		resp.Error = rpcErr
	} else {
		resp.Result = result
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *Server) dispatch(method string, params json.RawMessage) (interface{}, *rpcError) {
	switch method {
	case "eth_chainId":
		return hexU64(uint64(chainIDBase | s.networkID)), nil
	case "eth_blockNumber":
		num, err := s.reader.LatestBlockNumber(0)
		if err != nil {
			return nil, internalError(err)
		}
		return hexU64(num), nil
	case "eth_getBlockByNumber":
		return s.getBlockByNumber(params)
	case "eth_getBlockByHash":
		return s.getBlockByHash(params)
	case "eth_getTransactionByHash":
		return s.getTransactionByHash(params)
	case "eth_getTransactionCount":
		return s.getTransactionCount(params)
	case "eth_getBalance":
		return s.getBalance(params)
	case "eth_gasPrice":
		return hexU64(s.reader.GasPrice()), nil
	case "net_version":
		return "0x8001", nil
	case "web3_clientVersion":
		return "shardcore/v1", nil
	case "web3_sha3":
		return s.web3Sha3(params)
	case "eth_call", "eth_estimateGas", "eth_getLogs":
		// The EVM/Scilla executor these methods ultimately need is an
		// external IPC contract this module does not implement
		// (§6.4); callers get a typed error instead of a fabricated
		// answer.
		return nil, &rpcError{Code: miscErrorCode, Message: "executor backend not configured"}
	default:
		return nil, &rpcError{Code: -32601, Message: "method not found"}
	}
}

func internalError(err error) *rpcError {
	return &rpcError{Code: miscErrorCode, Message: err.Error()}
}

func hexU64(v uint64) string {
	return "0x" + big.NewInt(0).SetUint64(v).Text(16)
}

// zerologWriter adapts zerolog.Logger to io.Writer for
// gorilla/handlers.CombinedLoggingHandler, which expects a plain writer
// rather than a structured logger.
type zerologWriter struct{ logger zerolog.Logger }

func (z zerologWriter) Write(p []byte) (int, error) {
	z.logger.Info().Msg(string(p))
	return len(p), nil
}
