package request

import (
	"testing"

	"github.com/danmuck/integractl/internal/protocol"
	"github.com/danmuck/integractl/internal/protocol/schema"
	"github.com/danmuck/integractl/internal/protocol/tags"
	"github.com/danmuck/integractl/internal/testutil/testlog"
	"github.com/stretchr/testify/require"
)

func TestGroupsAndIntrospection(t *testing.T) {
	testlog.Start(t)
	require.Equal(t, []string{GroupSettlement, GroupData, GroupStatus, GroupInquiry}, GroupList())
	require.Equal(t, []string{TypeSale, TypeRefund}, ListForGroup(GroupSettlement))
	require.Equal(t, []string{TypeEftCheckStatus, TypeEftCheckLineStatus}, ListForGroup(GroupStatus))
	require.Len(t, List(), 6)

	keys, err := OptionsFor(TypeEftData)
	require.NoError(t, err)
	require.Equal(t, []string{KeyRequest, KeyRequesterTransRefNum}, keys)

	keys, err = OptionsFor("Sale")
	require.NoError(t, err)
	require.Equal(t, []string{KeyRequest, KeyRequesterTransRefNum, KeyAmount}, keys)

	_, err = OptionsFor("Teleport")
	require.Equal(t, protocol.UnknownType, protocol.KindOf(err))
}

func TestValidateOptionsNamesFirstMissingTag(t *testing.T) {
	testlog.Start(t)
	err := ValidateOptions(map[string]string{KeyRequest: TypeSale, KeyAmount: "10.00"})
	var missing *schema.MissingOptionError
	require.ErrorAs(t, err, &missing)
	require.Equal(t, KeyRequesterTransRefNum, missing.Key)
	require.Equal(t, protocol.InvalidOptions, protocol.KindOf(err))

	err = ValidateOptions(map[string]string{KeyRequest: TypeSale, KeyRequesterTransRefNum: "r"})
	require.ErrorAs(t, err, &missing)
	require.Equal(t, KeyAmount, missing.Key)

	err = ValidateOptions(map[string]string{KeyAmount: "1"})
	require.ErrorAs(t, err, &missing)
	require.Equal(t, KeyRequest, missing.Key)
}

func TestInquiryConditionalTags(t *testing.T) {
	testlog.Start(t)
	base := map[string]string{KeyRequest: TypeEftTransactionInquiry}

	cases := []struct {
		eftType string
		extra   map[string]string
		missing string
	}{
		{EftTypeLast, nil, KeyRequesterTransRefNum},
		{EftTypeLast, map[string]string{KeyRequesterTransRefNum: "r"}, ""},
		{EftTypeSeqNum, map[string]string{KeyRequesterTransRefNum: "r"}, KeyOriginalSeqNumber},
		{EftTypeSeqNum, map[string]string{KeyOriginalSeqNumber: "12"}, ""},
		{EftTypeStatus, nil, KeyOriginalPaymentReferenceID},
		{EftTypeList, map[string]string{KeyOriginalPaymentReferenceID: "p"}, ""},
		{EftTypeStatus, map[string]string{KeyRequesterTransRefNum: "r"}, ""},
	}
	for _, tc := range cases {
		opts := schema.Copy(base)
		opts[KeyEftType] = tc.eftType
		for k, v := range tc.extra {
			opts[k] = v
		}
		err := ValidateOptions(opts)
		if tc.missing == "" {
			require.NoError(t, err, tc.eftType)
			continue
		}
		var missing *schema.MissingOptionError
		require.ErrorAs(t, err, &missing, tc.eftType)
		require.Equal(t, tc.missing, missing.Key)
	}

	opts := schema.Copy(base)
	opts[KeyEftType] = "Everything"
	var invalid *schema.InvalidValueError
	require.ErrorAs(t, ValidateOptions(opts), &invalid)
}

func TestRequestIsImmutable(t *testing.T) {
	testlog.Start(t)
	bag := map[string]string{KeyRequesterTransRefNum: "00001-00001", KeyAmount: "10.00"}
	req, err := NewRequest("Sale", bag)
	require.NoError(t, err)
	require.Equal(t, TypeSale, req.Type())
	require.Equal(t, GroupSettlement, req.Group())

	bag[KeyAmount] = "99.99"
	got := req.Tags()
	require.Equal(t, "10.00", got[KeyAmount])
	require.Equal(t, TypeSale, got[KeyRequest])
	got[KeyAmount] = "0"
	v, _ := req.Tag(KeyAmount)
	require.Equal(t, "10.00", v)

	seq := req.WithSequence(7)
	v, _ = seq.Tag(KeySequenceNumber)
	require.Equal(t, "7", v)
	_, ok := req.Tag(KeySequenceNumber)
	require.False(t, ok)
}

func TestUnvalidatedRequestAndPayload(t *testing.T) {
	testlog.Start(t)
	req := Of(TypeEftData, map[string]string{})
	var missing *schema.MissingOptionError
	require.ErrorAs(t, req.Validate(), &missing)
	require.Equal(t, KeyRequesterTransRefNum, missing.Key)

	req = Of(TypeEftData, map[string]string{KeyRequesterTransRefNum: "r-9"}).WithSequence(0)
	b, err := req.Payload()
	require.NoError(t, err)
	bag, err := tags.Unmarshal(b)
	require.NoError(t, err)
	require.Equal(t, tags.ClassRequest, tags.Classify(bag))
	require.Equal(t, "0", bag[KeySequenceNumber])
	require.Equal(t, TypeEftData, bag[KeyRequest])
}

func TestResponseAndStatusAccessorsCopy(t *testing.T) {
	testlog.Start(t)
	bag := map[string]string{"Result": "A", tags.KeyStatusMessage: "Terminal ready"}
	resp := NewResponse(TypeEftData, 3, bag)
	status := NewStatusUpdate(bag)
	bag["Result"] = "D"

	v, _ := resp.Tag("Result")
	require.Equal(t, "A", v)
	require.Equal(t, uint64(3), resp.SequenceNumber())
	require.Equal(t, TypeEftData, resp.Type())
	require.Equal(t, "Terminal ready", status.Message())
	require.Equal(t, "A", status.Tags()["Result"])
}
