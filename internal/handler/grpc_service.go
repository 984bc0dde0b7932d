package handler

import (
	"context"
	"encoding/json"

	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"

	"github.com/pesio-ai/be-expense-approvals/internal/service"
	"github.com/pesio-ai/be-expense-approvals/internal/workflow"
)

// ExpenseApprovalsServiceName is the fully qualified gRPC service name.
const ExpenseApprovalsServiceName = "expenseapprovals.v1.ExpenseApprovals"

// JSONCodecName is the content-subtype of the expense service
// (application/grpc+json). Clients select it with grpc.CallContentSubtype.
const JSONCodecName = "json"

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// jsonCodec carries the service messages as JSON.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return JSONCodecName }

// DecisionRequest is the gRPC body of Decide. The approver is the caller.
type DecisionRequest struct {
	ExpenseID string `json:"expense_id"`
	Action    string `json:"action"`
	Comment   string `json:"comment,omitempty"`
}

// GetExpenseRequest names one expense.
type GetExpenseRequest struct {
	ExpenseID string `json:"expense_id"`
}

// ListPendingApprovalsRequest lists the caller's queue.
type ListPendingApprovalsRequest struct{}

// ExpenseList is a list reply.
type ExpenseList struct {
	Items []*workflow.Expense `json:"items"`
	Total int                 `json:"total"`
}

// ExpenseApprovalsServer is the server API of the expense service.
type ExpenseApprovalsServer interface {
	SubmitExpense(context.Context, *service.SubmitExpenseRequest) (*workflow.Expense, error)
	Decide(context.Context, *DecisionRequest) (*workflow.Expense, error)
	GetExpense(context.Context, *GetExpenseRequest) (*workflow.Expense, error)
	ListPendingApprovals(context.Context, *ListPendingApprovalsRequest) (*ExpenseList, error)
}

// RegisterExpenseApprovalsServer registers srv on s.
func RegisterExpenseApprovalsServer(s grpc.ServiceRegistrar, srv ExpenseApprovalsServer) {
	s.RegisterService(&expenseApprovalsServiceDesc, srv)
}

var expenseApprovalsServiceDesc = grpc.ServiceDesc{
	ServiceName: ExpenseApprovalsServiceName,
	HandlerType: (*ExpenseApprovalsServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "SubmitExpense", Handler: unaryHandler("SubmitExpense", ExpenseApprovalsServer.SubmitExpense)},
		{MethodName: "Decide", Handler: unaryHandler("Decide", ExpenseApprovalsServer.Decide)},
		{MethodName: "GetExpense", Handler: unaryHandler("GetExpense", ExpenseApprovalsServer.GetExpense)},
		{MethodName: "ListPendingApprovals", Handler: unaryHandler("ListPendingApprovals", ExpenseApprovalsServer.ListPendingApprovals)},
	},
	Streams: []grpc.StreamDesc{},
}

func unaryHandler[Req, Resp any](method string, call func(ExpenseApprovalsServer, context.Context, *Req) (Resp, error)) grpc.MethodHandler {
	fullMethod := "/" + ExpenseApprovalsServiceName + "/" + method
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		server := srv.(ExpenseApprovalsServer)
		if interceptor == nil {
			return call(server, ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
			return call(server, ctx, req.(*Req))
		})
	}
}
