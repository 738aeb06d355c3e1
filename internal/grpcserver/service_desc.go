package grpcserver

import (
	"context"

	"google.golang.org/grpc"
)

// ServiceName is the fully-qualified admin service name.
const ServiceName = "visitpay.admin.v1.AdminService"

const (
	methodGetBalance         = "GetBalance"
	methodListEntries        = "ListEntries"
	methodAdjustBalance      = "AdjustBalance"
	methodListRefundRequests = "ListRefundRequests"
	methodDecideRefund       = "DecideRefund"
	methodReportOutcome      = "ReportOutcome"
	methodSettleStaleVisits  = "SettleStaleVisits"
	methodAudit              = "Audit"
)

// RegisterAdminServer registers the admin service on registrar.
func RegisterAdminServer(registrar grpc.ServiceRegistrar, server AdminServer) {
	registrar.RegisterService(&adminServiceDesc, server)
}

var adminServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*AdminServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: methodGetBalance, Handler: unaryHandler(methodGetBalance, AdminServer.GetBalance)},
		{MethodName: methodListEntries, Handler: unaryHandler(methodListEntries, AdminServer.ListEntries)},
		{MethodName: methodAdjustBalance, Handler: unaryHandler(methodAdjustBalance, AdminServer.AdjustBalance)},
		{MethodName: methodListRefundRequests, Handler: unaryHandler(methodListRefundRequests, AdminServer.ListRefundRequests)},
		{MethodName: methodDecideRefund, Handler: unaryHandler(methodDecideRefund, AdminServer.DecideRefund)},
		{MethodName: methodReportOutcome, Handler: unaryHandler(methodReportOutcome, AdminServer.ReportOutcome)},
		{MethodName: methodSettleStaleVisits, Handler: unaryHandler(methodSettleStaleVisits, AdminServer.SettleStaleVisits)},
		{MethodName: methodAudit, Handler: unaryHandler(methodAudit, AdminServer.Audit)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "visitpay/admin/v1/admin.json",
}

func fullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

func unaryHandler[Request any, Response any](
	method string,
	call func(AdminServer, context.Context, *Request) (*Response, error),
) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(server any, ctx context.Context, decode func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		request := new(Request)
		if err := decode(request); err != nil {
			return nil, err
		}
		adminServer := server.(AdminServer)
		if interceptor == nil {
			return call(adminServer, ctx, request)
		}
		info := &grpc.UnaryServerInfo{Server: server, FullMethod: fullMethod(method)}
		return interceptor(ctx, request, info, func(ctx context.Context, decoded any) (any, error) {
			return call(adminServer, ctx, decoded.(*Request))
		})
	}
}
