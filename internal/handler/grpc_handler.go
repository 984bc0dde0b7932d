package handler

import (
	"context"
	"runtime/debug"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"

	"github.com/pesio-ai/be-expense-approvals/internal/repository"
	"github.com/pesio-ai/be-expense-approvals/internal/service"
	"github.com/pesio-ai/be-expense-approvals/internal/workflow"
	"github.com/pesio-ai/be-expense-approvals/pkg/auth"
	"github.com/pesio-ai/be-expense-approvals/pkg/errors"
)

// GRPCServiceName is the name reported by the gRPC health service.
const GRPCServiceName = "expense-approvals"

// userIDMetadataKey carries the caller on gRPC, mirroring the HTTP header.
var userIDMetadataKey = strings.ToLower(auth.UserIDHeader)

// GRPCServer hosts the expense service next to the standard health and
// reflection services.
type GRPCServer struct {
	server *grpc.Server
	health *health.Server
	logger zerolog.Logger
}

// NewGRPCServer creates a gRPC server with logging, recovery and caller
// propagation interceptors. Health starts NOT_SERVING until SetServing(true).
func NewGRPCServer(logger zerolog.Logger, opts ...grpc.ServerOption) *GRPCServer {
	s := &GRPCServer{
		health: health.NewServer(),
		logger: logger.With().Str("handler", "grpc").Logger(),
	}

	opts = append(opts, grpc.ChainUnaryInterceptor(
		s.recoverUnary,
		s.logUnary,
		propagateUser,
	))
	s.server = grpc.NewServer(opts...)

	healthpb.RegisterHealthServer(s.server, s.health)
	reflection.Register(s.server)
	s.SetServing(false)
	return s
}

// Server returns the underlying grpc.Server.
func (s *GRPCServer) Server() *grpc.Server {
	return s.server
}

// SetServing flips the overall and per-service health status.
func (s *GRPCServer) SetServing(serving bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(GRPCServiceName, st)
}

// GracefulStop marks the server NOT_SERVING and drains in-flight calls.
func (s *GRPCServer) GracefulStop() {
	s.health.Shutdown()
	s.server.GracefulStop()
}

// propagateUser copies the x-user-id metadata into the auth context.
func propagateUser(ctx context.Context, req interface{}, _ *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if ids := md.Get(userIDMetadataKey); len(ids) > 0 && strings.TrimSpace(ids[0]) != "" {
			ctx = auth.WithUser(ctx, auth.UserContext{UserID: strings.TrimSpace(ids[0])})
		}
	}
	return handler(ctx, req)
}

func (s *GRPCServer) logUnary(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
	start := time.Now()
	resp, err := handler(ctx, req)

	event := s.logger.Debug()
	if err != nil {
		event = s.logger.Warn().Err(err)
	}
	event.
		Str("method", info.FullMethod).
		Str("code", status.Code(err).String()).
		Dur("duration", time.Since(start)).
		Msg("gRPC call")
	return resp, err
}

func (s *GRPCServer) recoverUnary(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().
				Interface("panic", r).
				Str("method", info.FullMethod).
				Bytes("stack", debug.Stack()).
				Msg("gRPC handler panicked")
			err = status.Error(codes.Internal, "internal error")
		}
	}()
	return handler(ctx, req)
}

// GRPCHandler implements ExpenseApprovalsServer
type GRPCHandler struct {
	approvals *service.ApprovalService
	logger    zerolog.Logger
}

// NewGRPCHandler creates a new gRPC handler
func NewGRPCHandler(approvals *service.ApprovalService, logger zerolog.Logger) *GRPCHandler {
	return &GRPCHandler{
		approvals: approvals,
		logger:    logger.With().Str("handler", "grpc").Logger(),
	}
}

// userID extracts the authenticated user ID from context, or returns empty string.
func userID(ctx context.Context) string {
	if uc, err := auth.GetUserContext(ctx); err == nil {
		return uc.UserID
	}
	return ""
}

var errMissingCaller = status.Error(codes.Unauthenticated, "missing "+userIDMetadataKey+" metadata")

// SubmitExpense submits an expense on behalf of the caller
func (h *GRPCHandler) SubmitExpense(ctx context.Context, req *service.SubmitExpenseRequest) (*workflow.Expense, error) {
	caller := userID(ctx)
	if caller == "" {
		return nil, errMissingCaller
	}
	h.logger.Info().
		Str("user_id", caller).
		Str("currency", req.Currency).
		Msg("gRPC SubmitExpense called")

	req.UserID = caller
	expense, err := h.approvals.SubmitExpense(ctx, *req)
	if err != nil {
		return nil, h.mapErrorToGRPC(err)
	}
	return expense, nil
}

// Decide records the caller's decision on the current step
func (h *GRPCHandler) Decide(ctx context.Context, req *DecisionRequest) (*workflow.Expense, error) {
	caller := userID(ctx)
	if caller == "" {
		return nil, errMissingCaller
	}
	h.logger.Info().
		Str("expense_id", req.ExpenseID).
		Str("approver_id", caller).
		Str("action", req.Action).
		Msg("gRPC Decide called")

	expense, err := h.approvals.Decide(ctx, service.DecideRequest{
		ExpenseID:  req.ExpenseID,
		ApproverID: caller,
		Action:     req.Action,
		Comment:    req.Comment,
	})
	if err != nil {
		return nil, h.mapErrorToGRPC(err)
	}
	return expense, nil
}

// GetExpense returns one expense
func (h *GRPCHandler) GetExpense(ctx context.Context, req *GetExpenseRequest) (*workflow.Expense, error) {
	if userID(ctx) == "" {
		return nil, errMissingCaller
	}
	expense, err := h.approvals.GetExpense(ctx, req.ExpenseID)
	if err != nil {
		return nil, h.mapErrorToGRPC(err)
	}
	return expense, nil
}

// ListPendingApprovals returns the expenses waiting on the caller
func (h *GRPCHandler) ListPendingApprovals(ctx context.Context, _ *ListPendingApprovalsRequest) (*ExpenseList, error) {
	caller := userID(ctx)
	if caller == "" {
		return nil, errMissingCaller
	}
	expenses, err := h.approvals.ListPendingApprovals(ctx, caller)
	if err != nil {
		return nil, h.mapErrorToGRPC(err)
	}
	return &ExpenseList{Items: expenses, Total: len(expenses)}, nil
}

// mapErrorToGRPC translates coded errors. Internal details stay in the log.
func (h *GRPCHandler) mapErrorToGRPC(err error) error {
	msg := err.Error()

	switch errors.CodeOf(err) {
	case errors.ErrCodeNotFound:
		return status.Error(codes.NotFound, msg)
	case errors.ErrCodeInvalidInput:
		return status.Error(codes.InvalidArgument, msg)
	case errors.ErrCodeConflict:
		if errors.Is(err, repository.ErrConcurrentDecision) {
			return status.Error(codes.Aborted, msg)
		}
		return status.Error(codes.FailedPrecondition, msg)
	case errors.ErrCodeForbidden:
		return status.Error(codes.PermissionDenied, msg)
	case errors.ErrCodeUnauthorized:
		return status.Error(codes.Unauthenticated, msg)
	case errors.ErrCodeUnprocessable:
		return status.Error(codes.FailedPrecondition, msg)
	default:
		h.logger.Error().Err(err).Msg("gRPC request failed")
		return status.Error(codes.Internal, "internal error")
	}
}
