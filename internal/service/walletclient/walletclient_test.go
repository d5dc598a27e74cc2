package walletclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConnect(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, methodRequestAccounts, req.Method)

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":["0xabc","0xdef"]}`))
	}))
	defer srv.Close()

	account, err := NewWalletClient(srv.URL).Connect(context.Background())
	require.NoError(t, err)
	require.Equal(t, "0xabc", account)
}

func TestConnectErrors(t *testing.T) {
	_, err := NewWalletClient("").Connect(context.Background())
	require.ErrorIs(t, err, ErrNotDetected)

	rejected := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"jsonrpc":"2.0","id":1,"error":{"code":4001,"message":"User rejected the request."}}`))
	}))
	defer rejected.Close()
	_, err = NewWalletClient(rejected.URL).Connect(context.Background())
	var rpcErr *rpcError
	require.ErrorAs(t, err, &rpcErr)
	require.Equal(t, 4001, rpcErr.Code)

	empty := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":[]}`))
	}))
	defer empty.Close()
	_, err = NewWalletClient(empty.URL).Connect(context.Background())
	require.ErrorIs(t, err, ErrNoAccounts)

	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer broken.Close()
	_, err = NewWalletClient(broken.URL).Connect(context.Background())
	require.Error(t, err)
}
