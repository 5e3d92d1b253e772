package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/rl1809/chain-custody/internal/adapter/handler"
	"github.com/rl1809/chain-custody/internal/core/validator"
)

// custodyAPI is the surface the simulation drives, over either transport.
type custodyAPI interface {
	Healthy(ctx context.Context) (bool, error)
	Register(ctx context.Context, p validator.RegisterPayload) (handler.MutationResponse, error)
	Transfer(ctx context.Context, p validator.TransferPayload) (handler.MutationResponse, error)
	Verify(ctx context.Context, productID, serial string) (handler.VerifyResponse, error)
	Close() error
}

type httpAPI struct {
	base   string
	client *http.Client
}

func newHTTPAPI(base string, timeout time.Duration) *httpAPI {
	return &httpAPI{base: base, client: &http.Client{Timeout: timeout}}
}

type apiError struct {
	Status  int
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *apiError) Error() string {
	return fmt.Sprintf("%d %s: %s", e.Status, e.Code, e.Message)
}

func (a *httpAPI) do(ctx context.Context, method, path string, body, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, a.base+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		apiErr := &apiError{Status: resp.StatusCode}
		_ = json.NewDecoder(resp.Body).Decode(apiErr)
		return apiErr
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (a *httpAPI) Healthy(ctx context.Context) (bool, error) {
	var out handler.HealthResponse
	if err := a.do(ctx, http.MethodGet, "/health", nil, &out); err != nil {
		return false, err
	}
	return out.BlockchainConnected, nil
}

func (a *httpAPI) Register(ctx context.Context, p validator.RegisterPayload) (handler.MutationResponse, error) {
	var out handler.MutationResponse
	err := a.do(ctx, http.MethodPost, "/product/register", p, &out)
	return out, err
}

func (a *httpAPI) Transfer(ctx context.Context, p validator.TransferPayload) (handler.MutationResponse, error) {
	var out handler.MutationResponse
	err := a.do(ctx, http.MethodPost, "/product/transfer", p, &out)
	return out, err
}

func (a *httpAPI) Verify(ctx context.Context, productID, serial string) (handler.VerifyResponse, error) {
	var out handler.VerifyResponse
	err := a.do(ctx, http.MethodGet, "/product/verify/"+productID+"/"+serial, nil, &out)
	return out, err
}

func (a *httpAPI) Close() error {
	a.client.CloseIdleConnections()
	return nil
}

type grpcAPI struct {
	conn   *grpc.ClientConn
	client *handler.CustodyClient
}

func newGRPCAPI(target string) (*grpcAPI, error) {
	conn, err := grpc.NewClient(target, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", target, err)
	}
	return &grpcAPI{conn: conn, client: handler.NewCustodyClient(conn)}, nil
}

// Healthy has no gRPC counterpart in the custody service; a verify of an
// unknown product that comes back NotFound proves the ledger answered.
func (a *grpcAPI) Healthy(ctx context.Context) (bool, error) {
	_, err := a.client.Verify(ctx, &handler.VerifyRequest{ProductID: "__health__", SerialNumber: "__health__"})
	if err == nil || isNotFound(err) {
		return true, nil
	}
	return false, err
}

func (a *grpcAPI) Register(ctx context.Context, p validator.RegisterPayload) (handler.MutationResponse, error) {
	out, err := a.client.Register(ctx, &p)
	if err != nil {
		return handler.MutationResponse{}, err
	}
	return *out, nil
}

func (a *grpcAPI) Transfer(ctx context.Context, p validator.TransferPayload) (handler.MutationResponse, error) {
	out, err := a.client.Transfer(ctx, &p)
	if err != nil {
		return handler.MutationResponse{}, err
	}
	return *out, nil
}

func (a *grpcAPI) Verify(ctx context.Context, productID, serial string) (handler.VerifyResponse, error) {
	out, err := a.client.Verify(ctx, &handler.VerifyRequest{ProductID: productID, SerialNumber: serial})
	if err != nil {
		return handler.VerifyResponse{}, err
	}
	return *out, nil
}

func (a *grpcAPI) Close() error {
	return a.conn.Close()
}
