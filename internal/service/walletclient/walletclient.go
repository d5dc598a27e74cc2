package walletclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-resty/resty/v2"
)

var (
	ErrNotDetected = errors.New("wallet not detected")
	ErrNoAccounts  = errors.New("wallet returned no accounts")
)

// JSON-RPC запрос к кошельку
type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

// JSON-RPC ответ кошелька
type rpcResponse struct {
	Result []string  `json:"result"`
	Error  *rpcError `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("wallet rpc error %d: %s", e.Code, e.Message)
}

const methodRequestAccounts = "eth_requestAccounts"

type WalletClient interface {
	Connect(ctx context.Context) (string, error)
}

type walletClient struct {
	serviceAddr string
}

func NewWalletClient(serviceAddr string) WalletClient {
	return walletClient{serviceAddr: serviceAddr}
}

// Connect запрашивает аккаунты у кошелька и возвращает первый.
func (client walletClient) Connect(ctx context.Context) (string, error) {
	if client.serviceAddr == "" {
		return "", ErrNotDetected
	}

	setreq := resty.New().R()
	setreq.SetContext(ctx)
	setreq.Method = http.MethodPost
	setreq.URL = client.serviceAddr
	setreq.SetHeader("Content-Type", "application/json")
	setreq.SetBody(rpcRequest{JSONRPC: "2.0", ID: 1, Method: methodRequestAccounts, Params: []any{}})
	setresp, err := setreq.Send()
	if err != nil {
		return "", err
	}

	switch setresp.StatusCode() {
	case http.StatusOK:
		var answer rpcResponse
		err = json.Unmarshal(setresp.Body(), &answer)
		if err != nil {
			return "", err
		}
		if answer.Error != nil {
			return "", answer.Error
		}
		if len(answer.Result) == 0 {
			return "", ErrNoAccounts
		}
		return answer.Result[0], nil
	default:
		return "", fmt.Errorf("wallet request status: %d", setresp.StatusCode())
	}
}
