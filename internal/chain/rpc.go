package chain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client reads balances and stakes from the ledger. All methods are
// read-only soft gates; callers decide what to do when they fail.
type Client interface {
	Balance(ctx context.Context, address, denom string) (int64, error)
	Stake(ctx context.Context, address string) (int64, error)
}

type RPCClient struct {
	baseURL string
	client  *http.Client
}

func NewRPCClient(baseURL string, timeout time.Duration) *RPCClient {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &RPCClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *RPCClient) Balance(ctx context.Context, address, denom string) (int64, error) {
	endpoint := c.baseURL + "/cosmos/bank/v1beta1/balances/" + url.PathEscape(address) +
		"/by_denom?denom=" + url.QueryEscape(denom)
	var resp balanceResponse
	if err := c.getJSON(ctx, endpoint, &resp); err != nil {
		return 0, err
	}
	return parseInt64(resp.Balance.Amount)
}

func (c *RPCClient) Stake(ctx context.Context, address string) (int64, error) {
	endpoint := c.baseURL + "/cosmos/staking/v1beta1/delegations/" + url.PathEscape(address)
	var resp delegationsResponse
	if err := c.getJSON(ctx, endpoint, &resp); err != nil {
		return 0, err
	}
	var total int64
	for _, d := range resp.DelegationResponses {
		amt, err := parseInt64(d.Balance.Amount)
		if err != nil {
			return 0, err
		}
		total += amt
	}
	return total, nil
}

func (c *RPCClient) getJSON(ctx context.Context, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		msg := strings.TrimSpace(string(body))
		if msg != "" {
			return fmt.Errorf("rpc http status %d: %s", resp.StatusCode, msg)
		}
		return fmt.Errorf("rpc http status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func parseInt64(v string) (int64, error) {
	if v == "" {
		return 0, errors.New("empty int string")
	}
	return strconv.ParseInt(v, 10, 64)
}

type coin struct {
	Denom  string `json:"denom"`
	Amount string `json:"amount"`
}

type balanceResponse struct {
	Balance coin `json:"balance"`
}

type delegationsResponse struct {
	DelegationResponses []struct {
		Balance coin `json:"balance"`
	} `json:"delegation_responses"`
}
