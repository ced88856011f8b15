package request

import (
	"fmt"

	"github.com/danmuck/integractl/internal/protocol/schema"
)

// Registered request type names.
const (
	TypeSale                  = "Sale-Terminal"
	TypeRefund                = "Refund-Terminal"
	TypeEftData               = "EftData"
	TypeEftCheckStatus        = "EftCheckStatus"
	TypeEftCheckLineStatus    = "EftCheckLineStatus"
	TypeEftTransactionInquiry = "EftTransactionInquiry"
)

// Request groups.
const (
	GroupSettlement = "Settlement"
	GroupData       = "Data"
	GroupStatus     = "Status"
	GroupInquiry    = "Inquiry"
)

// EftType values accepted by EftTransactionInquiry.
const (
	EftTypeLast   = "Last"
	EftTypeSeqNum = "SeqNum"
	EftTypeStatus = "Status"
	EftTypeList   = "List"
)

var factory = schema.NewRegistry[Request]("request", KeyRequest)

func init() {
	build := func(opts map[string]string) (Request, error) {
		return Of("", opts), nil
	}
	settlement := []string{KeyRequest, KeyRequesterTransRefNum, KeyAmount}
	factory.MustRegister(schema.Descriptor[Request]{
		Name:     TypeSale,
		Aliases:  []string{"Sale"},
		Group:    GroupSettlement,
		Required: settlement,
		Optional: []string{KeyCurrency},
		New:      build,
	})
	factory.MustRegister(schema.Descriptor[Request]{
		Name:     TypeRefund,
		Aliases:  []string{"Refund"},
		Group:    GroupSettlement,
		Required: settlement,
		Optional: []string{KeyCurrency},
		New:      build,
	})
	factory.MustRegister(schema.Descriptor[Request]{
		Name:     TypeEftData,
		Group:    GroupData,
		Required: []string{KeyRequest, KeyRequesterTransRefNum},
		New:      build,
	})
	factory.MustRegister(schema.Descriptor[Request]{
		Name:     TypeEftCheckStatus,
		Group:    GroupStatus,
		Required: []string{KeyRequest, KeyRequesterTransRefNum},
		New:      build,
	})
	factory.MustRegister(schema.Descriptor[Request]{
		Name:     TypeEftCheckLineStatus,
		Group:    GroupStatus,
		Required: []string{KeyRequest, KeyRequesterTransRefNum},
		New:      build,
	})
	factory.MustRegister(schema.Descriptor[Request]{
		Name:     TypeEftTransactionInquiry,
		Group:    GroupInquiry,
		Required: []string{KeyRequest, KeyEftType},
		Optional: []string{KeyRequesterTransRefNum, KeyOriginalSeqNumber, KeyOriginalPaymentReferenceID, KeyOriginalRequestID},
		Validate: validateInquiry,
		New:      build,
	})
}

func validateInquiry(opts map[string]string) error {
	eftType := schema.String(opts, KeyEftType, "")
	switch eftType {
	case EftTypeLast:
		return schema.Require(TypeEftTransactionInquiry, opts, []string{KeyRequesterTransRefNum})
	case EftTypeSeqNum:
		return schema.Require(TypeEftTransactionInquiry, opts, []string{KeyOriginalSeqNumber})
	case EftTypeStatus, EftTypeList:
		if schema.String(opts, KeyRequesterTransRefNum, "") != "" {
			return nil
		}
		return schema.Require(TypeEftTransactionInquiry, opts, []string{KeyOriginalPaymentReferenceID})
	default:
		return &schema.InvalidValueError{
			Key:    KeyEftType,
			Value:  eftType,
			Reason: fmt.Sprintf("expected %s, %s, %s or %s", EftTypeLast, EftTypeSeqNum, EftTypeStatus, EftTypeList),
		}
	}
}

// List returns the registered request types.
func List() []string { return factory.List() }

// GroupList returns the request groups in registration order.
func GroupList() []string { return factory.Groups() }

// ListForGroup returns the request types of group.
func ListForGroup(group string) []string { return factory.ListForGroup(group) }

// OptionsFor returns the required tags of a request type in declared order.
func OptionsFor(typ string) ([]string, error) { return factory.OptionsFor(typ) }

// OptionalFor returns the optional tags of a request type.
func OptionalFor(typ string) ([]string, error) { return factory.OptionalFor(typ) }

// TypeOf returns the canonical request type named by opts.
func TypeOf(opts map[string]string) (string, error) { return factory.TypeOf(opts) }

// ValidateOptions reports the first missing required tag in declared order.
func ValidateOptions(opts map[string]string) error { return factory.ValidateOptions(opts) }

// New validates opts and builds the request they describe.
func New(opts map[string]string) (Request, error) { return factory.New(opts) }

// NewRequest is New with the type given separately from the tags.
func NewRequest(typ string, bag map[string]string) (Request, error) {
	opts := schema.Copy(bag)
	opts[KeyRequest] = typ
	return factory.New(opts)
}
