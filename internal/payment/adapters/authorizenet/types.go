package authorizenet

import (
	"strings"

	"github.com/shopspring/decimal"
)

type merchantAuthentication struct {
	Name           string `json:"name"`
	TransactionKey string `json:"transactionKey"`
}

type setting struct {
	SettingName  string `json:"settingName"`
	SettingValue string `json:"settingValue"`
}

type hostedPaymentSettings struct {
	Setting []setting `json:"setting"`
}

type orderInfo struct {
	InvoiceNumber string `json:"invoiceNumber,omitempty"`
	Description   string `json:"description,omitempty"`
}

type opaqueData struct {
	DataDescriptor string `json:"dataDescriptor"`
	DataValue      string `json:"dataValue"`
}

type creditCard struct {
	CardNumber     string `json:"cardNumber"`
	ExpirationDate string `json:"expirationDate"`
	CardType       string `json:"cardType,omitempty"`
}

type payment struct {
	CreditCard *creditCard `json:"creditCard,omitempty"`
	OpaqueData *opaqueData `json:"opaqueData,omitempty"`
}

type paymentProfileRef struct {
	PaymentProfileID string `json:"paymentProfileId"`
}

type profileRef struct {
	CustomerProfileID string            `json:"customerProfileId"`
	PaymentProfile    paymentProfileRef `json:"paymentProfile"`
}

// transactionRequest fields follow the order of the XML schema.
type transactionRequest struct {
	TransactionType string      `json:"transactionType"`
	Amount          string      `json:"amount,omitempty"`
	Payment         *payment    `json:"payment,omitempty"`
	Profile         *profileRef `json:"profile,omitempty"`
	RefTransID      string      `json:"refTransId,omitempty"`
	Order           *orderInfo  `json:"order,omitempty"`
}

type hostedPageRequest struct {
	MerchantAuthentication merchantAuthentication `json:"merchantAuthentication"`
	RefID                  string                 `json:"refId,omitempty"`
	TransactionRequest     transactionRequest     `json:"transactionRequest"`
	HostedPaymentSettings  *hostedPaymentSettings `json:"hostedPaymentSettings,omitempty"`
}

type createTransactionRequest struct {
	MerchantAuthentication merchantAuthentication `json:"merchantAuthentication"`
	RefID                  string                 `json:"refId,omitempty"`
	TransactionRequest     transactionRequest     `json:"transactionRequest"`
}

type transactionDetailsRequest struct {
	MerchantAuthentication merchantAuthentication `json:"merchantAuthentication"`
	TransID                string                 `json:"transId"`
}

type arbIntervalSpec struct {
	Length int    `json:"length"`
	Unit   string `json:"unit"`
}

type paymentSchedule struct {
	Interval         arbIntervalSpec `json:"interval"`
	StartDate        string          `json:"startDate"`
	TotalOccurrences int             `json:"totalOccurrences"`
}

type arbProfile struct {
	CustomerProfileID        string `json:"customerProfileId"`
	CustomerPaymentProfileID string `json:"customerPaymentProfileId"`
}

type arbSubscription struct {
	Name            string          `json:"name,omitempty"`
	PaymentSchedule paymentSchedule `json:"paymentSchedule"`
	Amount          string          `json:"amount"`
	Profile         *arbProfile     `json:"profile,omitempty"`
}

type arbCreateRequest struct {
	MerchantAuthentication merchantAuthentication `json:"merchantAuthentication"`
	RefID                  string                 `json:"refId,omitempty"`
	Subscription           arbSubscription        `json:"subscription"`
}

type arbCancelRequest struct {
	MerchantAuthentication merchantAuthentication `json:"merchantAuthentication"`
	SubscriptionID         string                 `json:"subscriptionId"`
}

type messages struct {
	ResultCode string `json:"resultCode"`
	Message    []struct {
		Code string `json:"code"`
		Text string `json:"text"`
	} `json:"message"`
}

func (m messages) ok() bool {
	return strings.EqualFold(m.ResultCode, "Ok")
}

func (m messages) first() (string, string) {
	if len(m.Message) == 0 {
		return "", "authorize.net returned " + m.ResultCode
	}
	return m.Message[0].Code, m.Message[0].Text
}

type basicResponse struct {
	RefID    string   `json:"refId"`
	Messages messages `json:"messages"`
}

type hostedPageResponse struct {
	Token    string   `json:"token"`
	Messages messages `json:"messages"`
}

type transactionResponse struct {
	ResponseCode  string `json:"responseCode"`
	AuthCode      string `json:"authCode"`
	TransID       string `json:"transId"`
	AccountNumber string `json:"accountNumber"`
	AccountType   string `json:"accountType"`
	Messages      []struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	} `json:"messages"`
	Errors []struct {
		ErrorCode string `json:"errorCode"`
		ErrorText string `json:"errorText"`
	} `json:"errors"`
}

func (t *transactionResponse) errorText() string {
	if len(t.Errors) > 0 {
		return t.Errors[0].ErrorText
	}
	if len(t.Messages) > 0 {
		return t.Messages[0].Description
	}
	return ""
}

type transactionResponseEnvelope struct {
	TransactionResponse *transactionResponse `json:"transactionResponse"`
	RefID               string               `json:"refId"`
	Messages            messages             `json:"messages"`
}

type transactionDetails struct {
	TransID           string          `json:"transId"`
	TransactionStatus string          `json:"transactionStatus"`
	AuthAmount        decimal.Decimal `json:"authAmount"`
	SettleAmount      decimal.Decimal `json:"settleAmount"`
	Payment           *payment        `json:"payment"`
	Order             *orderInfo      `json:"order"`
}

type transactionDetailsResponse struct {
	Transaction *transactionDetails `json:"transaction"`
	Messages    messages            `json:"messages"`
}

type arbCreateResponse struct {
	SubscriptionID string   `json:"subscriptionId"`
	Messages       messages `json:"messages"`
}
