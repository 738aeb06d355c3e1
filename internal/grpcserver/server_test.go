package grpcserver

import (
	"context"
	"net"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MarkoPoloResearchLab/visitpay/internal/store/gormstore"
	"github.com/MarkoPoloResearchLab/visitpay/pkg/ledger"
	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/crypto/bcrypt"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	bufconnSize    = 1 << 20
	testCode       = "123456"
	testCustomerID = "customer-1"
	testStartUnix  = int64(1_700_000_000)
)

type discardSender struct{}

func (discardSender) SendCode(ctx context.Context, delivery ledger.CodeDelivery) error {
	return nil
}

type adminFixture struct {
	client  *Client
	service *ledger.Service
	now     *atomic.Int64
	logs    *observer.ObservedLogs
}

func newAdminFixture(test *testing.T) *adminFixture {
	test.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(test.TempDir(), "visitpay.db")), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		test.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		test.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	test.Cleanup(func() { _ = sqlDB.Close() })
	if err := gormstore.AutoMigrate(db); err != nil {
		test.Fatalf("migrate: %v", err)
	}

	now := &atomic.Int64{}
	now.Store(testStartUnix)
	service, err := ledger.NewService(
		gormstore.New(db),
		now.Load,
		ledger.WithCodeHashCost(bcrypt.MinCost),
		ledger.WithCodeGenerator(func() (ledger.OneTimeCode, error) { return ledger.ParseOneTimeCode(testCode) }),
		ledger.WithCodeSender(discardSender{}),
	)
	if err != nil {
		test.Fatalf("service: %v", err)
	}

	core, logs := observer.New(zap.InfoLevel)
	listener := bufconn.Listen(bufconnSize)
	grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(LoggingInterceptor(zap.New(core))))
	RegisterAdminServer(grpcServer, NewAdminServiceServer(service))
	go func() {
		if serveErr := grpcServer.Serve(listener); serveErr != nil {
			test.Logf("gRPC server error: %v", serveErr)
		}
	}()
	test.Cleanup(grpcServer.Stop)

	dialer := func(ctx context.Context, _ string) (net.Conn, error) {
		return listener.Dial()
	}
	conn, err := grpc.NewClient("passthrough:///bufnet", grpc.WithContextDialer(dialer), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		test.Fatalf("gRPC client: %v", err)
	}
	test.Cleanup(func() { _ = conn.Close() })
	return &adminFixture{client: NewClient(conn), service: service, now: now, logs: logs}
}

func testContext(test *testing.T) context.Context {
	test.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	test.Cleanup(cancel)
	return ctx
}

func requireCode(test *testing.T, err error, code codes.Code, message string) {
	test.Helper()
	st, ok := status.FromError(err)
	if !ok {
		test.Fatalf("expected gRPC status, got %v", err)
	}
	if st.Code() != code || st.Message() != message {
		test.Fatalf("expected %s/%s, got %s/%s", code, message, st.Code(), st.Message())
	}
}

func TestAdminAdjustBalanceAndHistory(test *testing.T) {
	test.Parallel()
	fixture := newAdminFixture(test)
	ctx := testContext(test)

	entry, err := fixture.client.AdjustBalance(ctx, &AdjustBalanceRequest{
		CustomerID:  testCustomerID,
		Amount:      50000,
		ReferenceID: "topup-1",
		Description: "cash deposit",
	})
	if err != nil {
		test.Fatalf("adjust: %v", err)
	}
	if entry.Type != "admin_adjustment" || entry.BalanceAfter != 50000 || entry.Sequence != 1 {
		test.Fatalf("unexpected entry %+v", entry)
	}

	_, err = fixture.client.AdjustBalance(ctx, &AdjustBalanceRequest{
		CustomerID:  testCustomerID,
		Amount:      50000,
		ReferenceID: "topup-1",
	})
	requireCode(test, err, codes.AlreadyExists, errorDuplicateEntry)

	_, err = fixture.client.AdjustBalance(ctx, &AdjustBalanceRequest{
		CustomerID:  testCustomerID,
		Amount:      -60000,
		ReferenceID: "debit-1",
	})
	requireCode(test, err, codes.FailedPrecondition, errorInsufficientBalance)

	balance, err := fixture.client.GetBalance(ctx, &BalanceRequest{CustomerID: testCustomerID})
	if err != nil {
		test.Fatalf("balance: %v", err)
	}
	if balance.Balance != 50000 || balance.Currency != "GNF" {
		test.Fatalf("unexpected balance %+v", balance)
	}

	history, err := fixture.client.ListEntries(ctx, &ListEntriesRequest{CustomerID: testCustomerID, Limit: 10})
	if err != nil {
		test.Fatalf("history: %v", err)
	}
	if len(history.Entries) != 1 || history.Entries[0].ReferenceID != "topup-1" {
		test.Fatalf("unexpected history %+v", history.Entries)
	}

	audit, err := fixture.client.Audit(ctx)
	if err != nil {
		test.Fatalf("audit: %v", err)
	}
	if len(audit.Mismatches) != 0 {
		test.Fatalf("expected consistent ledger, got %+v", audit.Mismatches)
	}
}

func TestAdminRefundDecision(test *testing.T) {
	test.Parallel()
	fixture := newAdminFixture(test)
	ctx := testContext(test)

	if _, err := fixture.client.AdjustBalance(ctx, &AdjustBalanceRequest{CustomerID: testCustomerID, Amount: 30000, ReferenceID: "topup-1"}); err != nil {
		test.Fatalf("adjust: %v", err)
	}
	customerID, err := ledger.NewCustomerID(testCustomerID)
	if err != nil {
		test.Fatalf("customer id: %v", err)
	}
	refund, err := fixture.service.RequestRefund(ctx, customerID, ledger.Amount(20000), "moving away")
	if err != nil {
		test.Fatalf("request refund: %v", err)
	}

	pending, err := fixture.client.ListRefundRequests(ctx, &ListRefundRequestsRequest{Status: "pending", Limit: 10})
	if err != nil {
		test.Fatalf("list refunds: %v", err)
	}
	if len(pending.RefundRequests) != 1 || pending.RefundRequests[0].RequestID != refund.RequestID.String() {
		test.Fatalf("unexpected pending refunds %+v", pending.RefundRequests)
	}

	decided, err := fixture.client.DecideRefund(ctx, &DecideRefundRequest{
		RequestID: refund.RequestID.String(),
		Decision:  "approved",
		AdminNote: "ok",
		AdminID:   "ops-1",
	})
	if err != nil {
		test.Fatalf("decide: %v", err)
	}
	if decided.Status != "approved" || decided.DecidedBy != "ops-1" {
		test.Fatalf("unexpected decision %+v", decided)
	}

	_, err = fixture.client.DecideRefund(ctx, &DecideRefundRequest{RequestID: refund.RequestID.String(), Decision: "rejected"})
	requireCode(test, err, codes.FailedPrecondition, errorAlreadyDecided)

	balance, err := fixture.client.GetBalance(ctx, &BalanceRequest{CustomerID: testCustomerID})
	if err != nil {
		test.Fatalf("balance: %v", err)
	}
	if balance.Balance != 10000 {
		test.Fatalf("expected 10000 after refund, got %d", balance.Balance)
	}
}

func TestAdminReportOutcomeAndSettle(test *testing.T) {
	test.Parallel()
	fixture := newAdminFixture(test)
	ctx := testContext(test)

	createVisit := func(targetID string) ledger.VisitRequest {
		test.Helper()
		customerID, _ := ledger.NewCustomerID(testCustomerID)
		target, _ := ledger.NewTargetID(targetID)
		phone, _ := ledger.NewPhoneNumber("620000000")
		attempt, err := fixture.service.Initiate(ctx, ledger.PaymentIntent{
			CustomerID:  customerID,
			TargetID:    target,
			Amount:      ledger.Amount(100000),
			Currency:    fixture.service.Currency(),
			PhoneNumber: phone,
			Method:      ledger.PaymentMethodOrangeMoney,
		})
		if err != nil {
			test.Fatalf("initiate: %v", err)
		}
		if _, err := fixture.service.Verify(ctx, customerID, attempt.AttemptID, testCode); err != nil {
			test.Fatalf("verify: %v", err)
		}
		visit, err := fixture.service.CreateVisitRequest(ctx, customerID, attempt.AttemptID)
		if err != nil {
			test.Fatalf("visit: %v", err)
		}
		return visit
	}

	rejected := createVisit("target-1")
	visit, err := fixture.client.ReportOutcome(ctx, &ReportOutcomeRequest{RequestID: rejected.RequestID.String(), Outcome: "rejected_by_target"})
	if err != nil {
		test.Fatalf("report outcome: %v", err)
	}
	if visit.Outcome != "rejected_by_target" || visit.ResolvedUnixUTC != testStartUnix {
		test.Fatalf("unexpected visit %+v", visit)
	}
	_, err = fixture.client.ReportOutcome(ctx, &ReportOutcomeRequest{RequestID: rejected.RequestID.String(), Outcome: "fulfilled"})
	requireCode(test, err, codes.FailedPrecondition, errorAlreadyFinalized)

	createVisit("target-2")
	fixture.now.Add(3600)
	settled, err := fixture.client.SettleStaleVisits(ctx, &SettleStaleVisitsRequest{WindowSeconds: 60, Limit: 10})
	if err != nil {
		test.Fatalf("settle: %v", err)
	}
	if settled.Settled != 1 {
		test.Fatalf("expected one settled visit, got %d", settled.Settled)
	}

	audit, err := fixture.client.Audit(ctx)
	if err != nil {
		test.Fatalf("audit: %v", err)
	}
	if len(audit.Mismatches) != 0 {
		test.Fatalf("expected consistent ledger, got %+v", audit.Mismatches)
	}
}

func TestAdminErrorMapping(test *testing.T) {
	test.Parallel()
	fixture := newAdminFixture(test)
	ctx := testContext(test)

	testCases := []struct {
		name    string
		call    func() error
		code    codes.Code
		message string
	}{
		{
			name: "blank customer",
			call: func() error {
				_, err := fixture.client.GetBalance(ctx, &BalanceRequest{CustomerID: " "})
				return err
			},
			code:    codes.InvalidArgument,
			message: errorInvalidCustomerID,
		},
		{
			name: "unknown customer",
			call: func() error {
				_, err := fixture.client.GetBalance(ctx, &BalanceRequest{CustomerID: "nobody"})
				return err
			},
			code:    codes.NotFound,
			message: errorUnknownCustomer,
		},
		{
			name: "unknown visit",
			call: func() error {
				_, err := fixture.client.ReportOutcome(ctx, &ReportOutcomeRequest{RequestID: "missing", Outcome: "fulfilled"})
				return err
			},
			code:    codes.NotFound,
			message: errorUnknownVisitRequest,
		},
		{
			name: "bad outcome",
			call: func() error {
				_, err := fixture.client.ReportOutcome(ctx, &ReportOutcomeRequest{RequestID: "missing", Outcome: "maybe"})
				return err
			},
			code:    codes.InvalidArgument,
			message: errorInvalidOutcome,
		},
		{
			name: "bad refund status filter",
			call: func() error {
				_, err := fixture.client.ListRefundRequests(ctx, &ListRefundRequestsRequest{Status: "archived"})
				return err
			},
			code:    codes.InvalidArgument,
			message: errorInvalidRefundStatus,
		},
		{
			name: "bad decision",
			call: func() error {
				_, err := fixture.client.DecideRefund(ctx, &DecideRefundRequest{RequestID: "refund-1", Decision: "maybe"})
				return err
			},
			code:    codes.InvalidArgument,
			message: errorInvalidDecision,
		},
	}
	for _, testCase := range testCases {
		test.Run(testCase.name, func(test *testing.T) {
			requireCode(test, testCase.call(), testCase.code, testCase.message)
		})
	}

	if fixture.logs.FilterMessage("admin rpc failed").Len() != len(testCases) {
		test.Fatalf("expected %d failure logs, got %d", len(testCases), fixture.logs.FilterMessage("admin rpc failed").Len())
	}
}
