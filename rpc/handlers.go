package rpc

import (
	"encoding/json"
	"math/big"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/crypto/sha3"
)

// blockResult is the JSON shape returned for a block object, matching
// §6.2's "block object with hash, number, transactions" contract.
type blockResult struct {
	Hash         string   `json:"hash"`
	Number       string   `json:"number"`
	Transactions []string `json:"transactions"`
}

func toBlockResult(b BlockView) blockResult {
	txs := make([]string, len(b.Transactions))
	for i, h := range b.Transactions {
		txs[i] = h.Hex()
	}
	return blockResult{Hash: b.Hash.Hex(), Number: hexU64(b.Number), Transactions: txs}
}

// parseParams decodes a JSON-RPC params array into individual raw
// messages, tolerating an absent/empty params field.
func parseParams(params json.RawMessage) ([]json.RawMessage, error) {
	if len(params) == 0 {
		return nil, nil
	}
	var out []json.RawMessage
	if err := json.Unmarshal(params, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func paramString(args []json.RawMessage, idx int) (string, bool) {
	if idx >= len(args) {
		return "", false
	}
	var s string
	if err := json.Unmarshal(args[idx], &s); err != nil {
		return "", false
	}
	return s, true
}

func invalidParams() *rpcError {
	return &rpcError{Code: -32602, Message: "invalid params"}
}

// blockTagToNumber resolves a §6.2 block tag (hex number, "latest",
// "earliest", "pending") to a concrete block number. "earliest"/"pending"
// both resolve conservatively: earliest to 0, pending to the current tail
// since this module has no separate pending-block concept.
func blockTagToNumber(tag string, latest uint64) (uint64, bool) {
	switch tag {
	case "latest", "pending":
		return latest, true
	case "earliest":
		return 0, true
	default:
		trimmed := strings.TrimPrefix(tag, "0x")
		n, err := strconv.ParseUint(trimmed, 16, 64)
		if err != nil {
			return 0, false
		}
		return n, true
	}
}

func (s *Server) getBlockByNumber(params json.RawMessage) (interface{}, *rpcError) {
	args, err := parseParams(params)
	if err != nil || len(args) < 1 {
		return nil, invalidParams()
	}
	tag, ok := paramString(args, 0)
	if !ok {
		return nil, invalidParams()
	}
	latest, lerr := s.reader.LatestBlockNumber(0)
	if lerr != nil {
		return nil, internalError(lerr)
	}
	num, ok := blockTagToNumber(tag, latest)
	if !ok {
		return nil, invalidParams()
	}
	blk, berr := s.reader.BlockByNumber(0, num)
	if berr != nil {
		return nil, internalError(berr)
	}
	return toBlockResult(blk), nil
}

func (s *Server) getBlockByHash(params json.RawMessage) (interface{}, *rpcError) {
	args, err := parseParams(params)
	if err != nil || len(args) < 1 {
		return nil, invalidParams()
	}
	hashHex, ok := paramString(args, 0)
	if !ok || len(strings.TrimPrefix(hashHex, "0x")) != 64 {
		return nil, invalidParams()
	}
	blk, berr := s.reader.BlockByHash(0, common.HexToHash(hashHex))
	if berr != nil {
		return nil, internalError(berr)
	}
	return toBlockResult(blk), nil
}

func (s *Server) getTransactionByHash(params json.RawMessage) (interface{}, *rpcError) {
	args, err := parseParams(params)
	if err != nil || len(args) < 1 {
		return nil, invalidParams()
	}
	hashHex, ok := paramString(args, 0)
	if !ok {
		return nil, invalidParams()
	}
	tx, terr := s.reader.TransactionByHash(common.HexToHash(hashHex))
	if terr != nil {
		return nil, internalError(terr)
	}
	// Eth convention offset: nonce reported is stored-nonce minus one.
	var nonce uint64
	if tx.Nonce > 0 {
		nonce = tx.Nonce - 1
	}
	return struct {
		Hash   string `json:"hash"`
		From   string `json:"from"`
		To     string `json:"to"`
		Amount string `json:"value"`
		Nonce  string `json:"nonce"`
	}{
		Hash:   tx.Hash.Hex(),
		From:   tx.From.Hex(),
		To:     tx.To.Hex(),
		Amount: "0x" + tx.Amount.Text(16),
		Nonce:  hexU64(nonce),
	}, nil
}

func (s *Server) getTransactionCount(params json.RawMessage) (interface{}, *rpcError) {
	args, err := parseParams(params)
	if err != nil || len(args) < 1 {
		return nil, invalidParams()
	}
	addrHex, ok := paramString(args, 0)
	if !ok {
		return nil, invalidParams()
	}
	nonce, nerr := s.reader.Nonce(common.HexToAddress(addrHex))
	if nerr != nil {
		return nil, internalError(nerr)
	}
	return hexU64(nonce), nil
}

func (s *Server) getBalance(params json.RawMessage) (interface{}, *rpcError) {
	args, err := parseParams(params)
	if err != nil || len(args) < 1 {
		return nil, invalidParams()
	}
	addrHex, ok := paramString(args, 0)
	if !ok {
		return nil, invalidParams()
	}
	bal, berr := s.reader.Balance(common.HexToAddress(addrHex))
	if berr != nil {
		return nil, internalError(berr)
	}
	// Qa -> Eth scaling per §6.2: times 1,000,000.
	scaled := new(big.Int).Mul(bal, big.NewInt(1_000_000))
	return "0x" + scaled.Text(16), nil
}

func (s *Server) web3Sha3(params json.RawMessage) (interface{}, *rpcError) {
	args, err := parseParams(params)
	if err != nil || len(args) < 1 {
		return nil, invalidParams()
	}
	dataHex, ok := paramString(args, 0)
	if !ok {
		return nil, invalidParams()
	}
	raw := common.FromHex(dataHex)
	hasher := sha3.NewLegacyKeccak256()
	hasher.Write(raw)
	var h common.Hash
	hasher.Sum(h[:0])
	return h.Hex(), nil
}
