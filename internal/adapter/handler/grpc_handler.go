package handler

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"github.com/rl1809/chain-custody/internal/core/domain"
	"github.com/rl1809/chain-custody/internal/core/validator"
	"github.com/rl1809/chain-custody/internal/port"
)

const (
	CustodyServiceName = "custody.v1.Custody"
	// JSONCodecName is the content subtype clients must request.
	JSONCodecName = "json"
)

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return JSONCodecName }

type VerifyRequest struct {
	ProductID    string `json:"product_id"`
	SerialNumber string `json:"serial_number"`
}

type CustodyServer interface {
	Register(ctx context.Context, req *validator.RegisterPayload) (*MutationResponse, error)
	Transfer(ctx context.Context, req *validator.TransferPayload) (*MutationResponse, error)
	Verify(ctx context.Context, req *VerifyRequest) (*VerifyResponse, error)
}

type GRPCHandler struct {
	deps Deps
	log  zerolog.Logger
}

func NewGRPCHandler(deps Deps) *GRPCHandler {
	return &GRPCHandler{
		deps: deps,
		log:  deps.Logger.With().Str("component", "grpc").Logger(),
	}
}

func (h *GRPCHandler) Register(ctx context.Context, req *validator.RegisterPayload) (*MutationResponse, error) {
	in, err := validator.ValidateRegister(*req)
	if err != nil {
		return nil, grpcError(err)
	}
	receipt, err := h.deps.Registration.Register(ctx, in)
	if err != nil {
		return nil, grpcError(err)
	}
	resp := newMutationResponse(receipt)
	return &resp, nil
}

func (h *GRPCHandler) Transfer(ctx context.Context, req *validator.TransferPayload) (*MutationResponse, error) {
	in, err := validator.ValidateTransfer(*req)
	if err != nil {
		return nil, grpcError(err)
	}
	receipt, err := h.deps.Transfers.Transfer(ctx, in)
	if err != nil {
		return nil, grpcError(err)
	}
	resp := newMutationResponse(receipt)
	return &resp, nil
}

func (h *GRPCHandler) Verify(ctx context.Context, req *VerifyRequest) (*VerifyResponse, error) {
	key, err := validator.ValidateKey(req.ProductID, req.SerialNumber)
	if err != nil {
		return nil, grpcError(err)
	}
	view, err := h.deps.Verification.Verify(ctx, key)
	if err != nil {
		return nil, grpcError(err)
	}
	resp := newVerifyResponse(view)
	return &resp, nil
}

func grpcError(err error) error {
	code := codes.Internal
	switch {
	case domain.IsValidation(err):
		code = codes.InvalidArgument
	case errors.Is(err, domain.ErrNotFound):
		code = codes.NotFound
	case errors.Is(err, domain.ErrNotOwner):
		code = codes.PermissionDenied
	case errors.Is(err, domain.ErrAlreadyRegistered):
		code = codes.AlreadyExists
	case errors.Is(err, domain.ErrSequenceConflict),
		errors.Is(err, domain.ErrRegistrationInProgress),
		errors.Is(err, domain.ErrRejected):
		code = codes.Aborted
	case errors.Is(err, domain.ErrLedgerUnavailable):
		code = codes.Unavailable
	case errors.Is(err, domain.ErrConfirmationTimeout):
		code = codes.DeadlineExceeded
	case errors.Is(err, domain.ErrFailed):
		code = codes.FailedPrecondition
	}
	return status.Error(code, domain.ErrorCode(err)+": "+err.Error())
}

func (h *GRPCHandler) unaryLogger(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := next(ctx, req)
	code := status.Code(err)

	event := h.log.Info()
	if code == codes.Internal || code == codes.Unknown {
		event = h.log.Error().Err(err)
	} else if err != nil {
		event = h.log.Warn().Err(err)
	}
	event.
		Str("method", info.FullMethod).
		Str("code", code.String()).
		Dur("duration", time.Since(start)).
		Msg("grpc request completed")
	return resp, err
}

// NewGRPCServer registers the custody and health services. The health
// status starts as NOT_SERVING until MonitorLedger reports a connected ledger.
func NewGRPCServer(deps Deps, opts ...grpc.ServerOption) (*grpc.Server, *health.Server) {
	h := NewGRPCHandler(deps)
	opts = append(opts, grpc.ChainUnaryInterceptor(h.unaryLogger))
	srv := grpc.NewServer(opts...)

	RegisterCustodyServer(srv, h)

	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	hs.SetServingStatus(CustodyServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	healthpb.RegisterHealthServer(srv, hs)

	return srv, hs
}

// MonitorLedger keeps the health status in step with ledger connectivity
// until ctx is done.
func MonitorLedger(ctx context.Context, ledger port.LedgerClient, hs *health.Server, interval time.Duration, log zerolog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last := healthpb.HealthCheckResponse_UNKNOWN
	for {
		serving := healthpb.HealthCheckResponse_NOT_SERVING
		if st, err := ledger.Status(ctx); err == nil && st.Connected {
			serving = healthpb.HealthCheckResponse_SERVING
		}
		if serving != last {
			hs.SetServingStatus("", serving)
			hs.SetServingStatus(CustodyServiceName, serving)
			log.Info().Str("status", serving.String()).Msg("ledger health changed")
			last = serving
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func RegisterCustodyServer(s grpc.ServiceRegistrar, srv CustodyServer) {
	s.RegisterService(&custodyServiceDesc, srv)
}

var custodyServiceDesc = grpc.ServiceDesc{
	ServiceName: CustodyServiceName,
	HandlerType: (*CustodyServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Register", Handler: registerHandler},
		{MethodName: "Transfer", Handler: transferHandler},
		{MethodName: "Verify", Handler: verifyHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "custody/v1/custody",
}

func registerHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(validator.RegisterPayload)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CustodyServer).Register(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + CustodyServiceName + "/Register"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(CustodyServer).Register(ctx, req.(*validator.RegisterPayload))
	}
	return interceptor(ctx, in, info, handler)
}

func transferHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(validator.TransferPayload)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CustodyServer).Transfer(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + CustodyServiceName + "/Transfer"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(CustodyServer).Transfer(ctx, req.(*validator.TransferPayload))
	}
	return interceptor(ctx, in, info, handler)
}

func verifyHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(VerifyRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CustodyServer).Verify(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + CustodyServiceName + "/Verify"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(CustodyServer).Verify(ctx, req.(*VerifyRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// CustodyClient calls the custody service with the JSON codec.
type CustodyClient struct {
	cc grpc.ClientConnInterface
}

func NewCustodyClient(cc grpc.ClientConnInterface) *CustodyClient {
	return &CustodyClient{cc: cc}
}

func (c *CustodyClient) Register(ctx context.Context, req *validator.RegisterPayload, opts ...grpc.CallOption) (*MutationResponse, error) {
	out := new(MutationResponse)
	if err := c.invoke(ctx, "Register", req, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *CustodyClient) Transfer(ctx context.Context, req *validator.TransferPayload, opts ...grpc.CallOption) (*MutationResponse, error) {
	out := new(MutationResponse)
	if err := c.invoke(ctx, "Transfer", req, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *CustodyClient) Verify(ctx context.Context, req *VerifyRequest, opts ...grpc.CallOption) (*VerifyResponse, error) {
	out := new(VerifyResponse)
	if err := c.invoke(ctx, "Verify", req, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *CustodyClient) invoke(ctx context.Context, method string, in, out any, opts []grpc.CallOption) error {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(JSONCodecName)}, opts...)
	return c.cc.Invoke(ctx, "/"+CustodyServiceName+"/"+method, in, out, opts...)
}
