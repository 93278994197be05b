package solana

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/swapbot/internal/domain"
	"github.com/alanyoungcy/swapbot/internal/platform/jupiter"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type builderFunc func(ctx context.Context, route domain.Route, wallet string) (jupiter.SwapTransaction, error)

func (f builderFunc) BuildSwap(ctx context.Context, route domain.Route, wallet string) (jupiter.SwapTransaction, error) {
	return f(ctx, route, wallet)
}

// rpcNode is a scripted JSON-RPC endpoint.
type rpcNode struct {
	sendCalls   atomic.Int32
	statusCalls atomic.Int32
	sent        atomic.Value // []byte
	status      func(call int32) string
	sendFail    int32 // number of leading sendTransaction calls answered with 500
}

func (n *rpcNode) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID     uint64            `json:"id"`
		Method string            `json:"method"`
		Params []json.RawMessage `json:"params"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	reply := func(result string) {
		_, _ = io.WriteString(w, `{"jsonrpc":"2.0","id":1,"result":`+result+`}`)
	}
	switch req.Method {
	case "sendTransaction":
		call := n.sendCalls.Add(1)
		if call <= n.sendFail {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		var encoded string
		_ = json.Unmarshal(req.Params[0], &encoded)
		tx, _ := base64.StdEncoding.DecodeString(encoded)
		n.sent.Store(tx)
		sig := base58.Encode(tx[1 : 1+signatureLen])
		reply(`"` + sig + `"`)
	case "getSignatureStatuses":
		call := n.statusCalls.Add(1)
		reply(`{"context":{"slot":1},"value":[` + n.status(call) + `]}`)
	case "getHealth":
		reply(`"ok"`)
	default:
		_, _ = io.WriteString(w, `{"jsonrpc":"2.0","id":1,"error":{"code":-32601,"message":"method not found"}}`)
	}
}

func fastRPC(url string) *RPCClient {
	return NewRPCClient(url, WithRetryDelay(time.Millisecond), WithMaxDelay(5*time.Millisecond))
}

func newTestExecutor(t *testing.T, node *rpcNode, cfg ExecutorConfig) (*SwapExecutor, ed25519.PublicKey) {
	t.Helper()
	key := testKey()
	pub := key.Public().(ed25519.PublicKey)
	signer, err := NewSigner(base58.Encode(key))
	require.NoError(t, err)

	srv := httptest.NewServer(node)
	t.Cleanup(srv.Close)

	builder := builderFunc(func(_ context.Context, _ domain.Route, wallet string) (jupiter.SwapTransaction, error) {
		assert.Equal(t, signer.PublicKey(), wallet)
		return jupiter.SwapTransaction{Tx: unsignedTx(pub, true), LastValidBlockHeight: 42}, nil
	})
	return NewSwapExecutor(builder, signer, fastRPC(srv.URL), cfg, discardLogger()), pub
}

func TestSwapExecutor_SendsSignedTransaction(t *testing.T) {
	node := &rpcNode{}
	exec, pub := newTestExecutor(t, node, ExecutorConfig{})

	res, err := exec.Execute(context.Background(), domain.Route{Venues: []string{"Orca"}})
	require.NoError(t, err)

	sent := node.sent.Load().([]byte)
	sig, err := base58.Decode(res.TxID)
	require.NoError(t, err)
	assert.True(t, ed25519.Verify(pub, sent[1+signatureLen:], sig))
	assert.EqualValues(t, 0, node.statusCalls.Load())
}

func TestSwapExecutor_WaitsForConfirmation(t *testing.T) {
	node := &rpcNode{status: func(call int32) string {
		if call < 3 {
			return `null`
		}
		return `{"slot":5,"confirmations":1,"err":null,"confirmationStatus":"confirmed"}`
	}}
	exec, _ := newTestExecutor(t, node, ExecutorConfig{ConfirmPoll: time.Millisecond, ConfirmTimeout: time.Second})

	res, err := exec.Execute(context.Background(), domain.Route{})
	require.NoError(t, err)
	assert.NotEmpty(t, res.TxID)
	assert.EqualValues(t, 3, node.statusCalls.Load())
}

func TestSwapExecutor_OnChainFailure(t *testing.T) {
	node := &rpcNode{status: func(int32) string {
		return `{"slot":5,"confirmations":null,"err":{"InstructionError":[2,{"Custom":6001}]},"confirmationStatus":"confirmed"}`
	}}
	exec, _ := newTestExecutor(t, node, ExecutorConfig{ConfirmPoll: time.Millisecond, ConfirmTimeout: time.Second})

	res, err := exec.Execute(context.Background(), domain.Route{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed on chain")
	assert.NotEmpty(t, res.TxID)
}

func TestSwapExecutor_ConfirmTimeout(t *testing.T) {
	node := &rpcNode{status: func(int32) string { return `null` }}
	exec, _ := newTestExecutor(t, node, ExecutorConfig{ConfirmPoll: time.Millisecond, ConfirmTimeout: 20 * time.Millisecond})

	_, err := exec.Execute(context.Background(), domain.Route{})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSwapExecutor_BuildFailureNeverBroadcasts(t *testing.T) {
	node := &rpcNode{}
	srv := httptest.NewServer(node)
	defer srv.Close()

	signer, err := NewSigner(base58.Encode(testKey()))
	require.NoError(t, err)
	boom := errors.New("router down")
	builder := builderFunc(func(context.Context, domain.Route, string) (jupiter.SwapTransaction, error) {
		return jupiter.SwapTransaction{}, boom
	})

	_, err = NewSwapExecutor(builder, signer, fastRPC(srv.URL), ExecutorConfig{}, discardLogger()).
		Execute(context.Background(), domain.Route{})
	assert.ErrorIs(t, err, boom)
	assert.EqualValues(t, 0, node.sendCalls.Load())
}

func TestRPCClient_RetriesTransportErrors(t *testing.T) {
	node := &rpcNode{sendFail: 2}
	srv := httptest.NewServer(node)
	defer srv.Close()

	tx := unsignedTx(testKey().Public().(ed25519.PublicKey), false)
	_, err := fastRPC(srv.URL).SendTransaction(context.Background(), tx)
	require.NoError(t, err)
	assert.EqualValues(t, 3, node.sendCalls.Load())
}

func TestRPCClient_RPCErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = io.WriteString(w, `{"jsonrpc":"2.0","id":1,"error":{"code":-32002,"message":"Transaction simulation failed"}}`)
	}))
	defer srv.Close()

	_, err := fastRPC(srv.URL).SendTransaction(context.Background(), []byte{1})
	var rpcErr *RPCError
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, -32002, rpcErr.Code)
	assert.EqualValues(t, 1, calls.Load())
}

func TestRPCClient_GetHealth(t *testing.T) {
	srv := httptest.NewServer(&rpcNode{})
	defer srv.Close()
	assert.NoError(t, fastRPC(srv.URL).GetHealth(context.Background()))
}

func TestDryRunExecutor(t *testing.T) {
	var built atomic.Int32
	builder := builderFunc(func(context.Context, domain.Route, string) (jupiter.SwapTransaction, error) {
		built.Add(1)
		return jupiter.SwapTransaction{Tx: []byte{1}}, nil
	})

	res, err := NewDryRunExecutor(builder, "Wallet111", discardLogger()).Execute(context.Background(), domain.Route{})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(res.TxID, DryRunPrefix))
	assert.EqualValues(t, 1, built.Load())

	res, err = NewDryRunExecutor(nil, "", discardLogger()).Execute(context.Background(), domain.Route{})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(res.TxID, DryRunPrefix))
}
