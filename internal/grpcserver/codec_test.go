package grpcserver

import (
	"math"
	"testing"

	"google.golang.org/grpc/encoding"
)

func TestJSONCodecKeepsMinorUnitPrecision(test *testing.T) {
	test.Parallel()
	codec := encoding.GetCodec(CodecName)
	if codec == nil {
		test.Fatalf("codec %q not registered", CodecName)
	}

	testCases := []struct {
		name   string
		amount int64
	}{
		{name: "above float64 integer range", amount: 1<<53 + 1},
		{name: "maximum", amount: math.MaxInt64},
		{name: "negative adjustment", amount: -(1<<62 + 3)},
	}
	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			payload, err := codec.Marshal(&AdjustBalanceRequest{CustomerID: testCustomerID, Amount: testCase.amount, ReferenceID: "ref-1"})
			if err != nil {
				test.Fatalf("marshal: %v", err)
			}
			var decoded AdjustBalanceRequest
			if err := codec.Unmarshal(payload, &decoded); err != nil {
				test.Fatalf("unmarshal: %v", err)
			}
			if decoded.Amount != testCase.amount {
				test.Fatalf("amount %d decoded as %d from %s", testCase.amount, decoded.Amount, payload)
			}
		})
	}
}

func TestJSONCodecDecodesWireNumbersExactly(test *testing.T) {
	test.Parallel()
	codec := encoding.GetCodec(CodecName)
	payload := []byte(`{"entries":[{"sequence":9007199254740993,"amount":-9007199254740993,"balance_after":9223372036854775807}]}`)
	var decoded ListEntriesResponse
	if err := codec.Unmarshal(payload, &decoded); err != nil {
		test.Fatalf("unmarshal: %v", err)
	}
	if len(decoded.Entries) != 1 {
		test.Fatalf("expected one entry, got %d", len(decoded.Entries))
	}
	entry := decoded.Entries[0]
	if entry.Sequence != 9007199254740993 || entry.Amount != -9007199254740993 || entry.BalanceAfter != math.MaxInt64 {
		test.Fatalf("unexpected entry %+v", entry)
	}
}
