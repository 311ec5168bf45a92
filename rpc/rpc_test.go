package rpc

import (
	"bytes"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
)

type fakeReader struct {
	latest uint64
	blocks map[uint64]BlockView
	byHash map[common.Hash]BlockView
	txs    map[common.Hash]TxView
	bal    map[common.Address]*big.Int
	nonce  map[common.Address]uint64
	gas    uint64
}

func (f *fakeReader) LatestBlockNumber(shardID uint32) (uint64, error) { return f.latest, nil }
func (f *fakeReader) BlockByNumber(shardID uint32, num uint64) (BlockView, error) {
	return f.blocks[num], nil
}
func (f *fakeReader) BlockByHash(shardID uint32, hash common.Hash) (BlockView, error) {
	return f.byHash[hash], nil
}
func (f *fakeReader) TransactionByHash(hash common.Hash) (TxView, error) { return f.txs[hash], nil }
func (f *fakeReader) Balance(addr common.Address) (*big.Int, error)     { return f.bal[addr], nil }
func (f *fakeReader) Nonce(addr common.Address) (uint64, error)         { return f.nonce[addr], nil }
func (f *fakeReader) GasPrice() uint64                                  { return f.gas }

func newFakeServer() (*Server, *fakeReader) {
	r := &fakeReader{
		latest: 42,
		blocks: map[uint64]BlockView{42: {Hash: common.HexToHash("0xaa"), Number: 42}},
		byHash: map[common.Hash]BlockView{common.HexToHash("0xaa"): {Hash: common.HexToHash("0xaa"), Number: 42}},
		txs: map[common.Hash]TxView{
			common.HexToHash("0xbb"): {Hash: common.HexToHash("0xbb"), Nonce: 5, Amount: big.NewInt(100)},
		},
		bal:   map[common.Address]*big.Int{common.HexToAddress("0xcc"): big.NewInt(10)},
		nonce: map[common.Address]uint64{common.HexToAddress("0xcc"): 3},
		gas:   1000,
	}
	return NewServer(r, 1, zerolog.Nop()), r
}

func call(t *testing.T, s *Server, method string, params interface{}) response {
	t.Helper()
	paramsJSON, _ := json.Marshal(params)
	req := request{JSONRPC: "2.0", ID: json.RawMessage("1"), Method: method, Params: paramsJSON}
	body, _ := json.Marshal(req)

	rr := httptest.NewRecorder()
	httpReq := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	s.handleRPC(rr, httpReq)

	var resp response
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp
}

func TestEthChainID(t *testing.T) {
	s, _ := newFakeServer()
	resp := call(t, s, "eth_chainId", nil)
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}
	if resp.Result != "0x8001" {
		t.Fatalf("expected 0x8001, got %v", resp.Result)
	}
}

func TestEthBlockNumber(t *testing.T) {
	s, _ := newFakeServer()
	resp := call(t, s, "eth_blockNumber", nil)
	if resp.Result != "0x2a" {
		t.Fatalf("expected 0x2a, got %v", resp.Result)
	}
}

func TestEthGetBlockByNumberLatest(t *testing.T) {
	s, _ := newFakeServer()
	resp := call(t, s, "eth_getBlockByNumber", []interface{}{"latest", false})
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}
}

func TestEthGetTransactionByHashAppliesNonceOffset(t *testing.T) {
	s, _ := newFakeServer()
	resp := call(t, s, "eth_getTransactionByHash", []interface{}{"0xbb"})
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}
	m, ok := resp.Result.(map[string]interface{})
	if !ok {
		t.Fatalf("expected object result, got %T", resp.Result)
	}
	if m["nonce"] != "0x4" {
		t.Fatalf("expected nonce offset to 0x4, got %v", m["nonce"])
	}
}

func TestEthCallReturnsExecutorNotConfigured(t *testing.T) {
	s, _ := newFakeServer()
	resp := call(t, s, "eth_call", []interface{}{})
	if resp.Error == nil {
		t.Fatalf("expected an error for eth_call")
	}
}

func TestUnknownMethodReturnsMethodNotFound(t *testing.T) {
	s, _ := newFakeServer()
	resp := call(t, s, "totally_bogus_method", nil)
	if resp.Error == nil || resp.Error.Code != -32601 {
		t.Fatalf("expected method-not-found error, got %+v", resp.Error)
	}
}

func TestWeb3Sha3(t *testing.T) {
	s, _ := newFakeServer()
	resp := call(t, s, "web3_sha3", []interface{}{"0x"})
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}
	if resp.Result == "" {
		t.Fatalf("expected a non-empty hash")
	}
}
