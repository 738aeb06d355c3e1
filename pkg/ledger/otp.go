package ledger

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"golang.org/x/crypto/bcrypt"
)

var oneTimeCodeSpace = big.NewInt(1_000_000)

// AuthorizationPolicy bounds the one-time code protocol.
type AuthorizationPolicy struct {
	CodeTTLSeconds        int64
	ResendCooldownSeconds int64
	MaxResends            int
	MaxVerifyAttempts     int
}

// DefaultAuthorizationPolicy returns a 60 second code lifetime and cooldown with three resends and three guesses.
func DefaultAuthorizationPolicy() AuthorizationPolicy {
	return AuthorizationPolicy{
		CodeTTLSeconds:        defaultCodeTTLSeconds,
		ResendCooldownSeconds: defaultResendCooldown,
		MaxResends:            defaultMaxResends,
		MaxVerifyAttempts:     defaultMaxVerifyAttempts,
	}
}

func (policy AuthorizationPolicy) validate() error {
	if policy.CodeTTLSeconds <= 0 {
		return fmt.Errorf("%w: code ttl must be positive", ErrInvalidServiceConfig)
	}
	if policy.ResendCooldownSeconds < 0 {
		return fmt.Errorf("%w: resend cooldown must not be negative", ErrInvalidServiceConfig)
	}
	if policy.MaxResends < 0 {
		return fmt.Errorf("%w: max resends must not be negative", ErrInvalidServiceConfig)
	}
	if policy.MaxVerifyAttempts <= 0 {
		return fmt.Errorf("%w: max verify attempts must be positive", ErrInvalidServiceConfig)
	}
	return nil
}

// CodeDelivery is handed to a CodeSender after the issuing transaction commits.
type CodeDelivery struct {
	AttemptID      AttemptID
	PhoneNumber    PhoneNumber
	Method         PaymentMethod
	Code           OneTimeCode
	ExpiresUnixUTC int64
}

// CodeSender delivers a one-time code out of band.
type CodeSender interface {
	SendCode(ctx context.Context, delivery CodeDelivery) error
}

func generateOneTimeCode() (OneTimeCode, error) {
	value, err := rand.Int(rand.Reader, oneTimeCodeSpace)
	if err != nil {
		return OneTimeCode{}, err
	}
	return ParseOneTimeCode(fmt.Sprintf("%06d", value.Int64()))
}

// issueCode returns a fresh code together with its bcrypt hash.
func (service *Service) issueCode() (OneTimeCode, string, error) {
	code, err := service.generateCode()
	if err != nil {
		return OneTimeCode{}, "", WrapError(errorOperationService, errorSubjectCode, errorCodeGenerate, err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(code.String()), service.hashCost)
	if err != nil {
		return OneTimeCode{}, "", WrapError(errorOperationService, errorSubjectCode, errorCodeHash, err)
	}
	return code, string(hash), nil
}

func codeMatches(hash string, code OneTimeCode) (bool, error) {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(code.String()))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return false, nil
	}
	return false, WrapError(errorOperationService, errorSubjectCode, errorCodeCompare, err)
}

// deliverCode never fails the caller; failures surface through the operation logger.
func (service *Service) deliverCode(ctx context.Context, customerID CustomerID, delivery CodeDelivery) {
	var deliveryError error
	if service.sender == nil {
		deliveryError = fmt.Errorf("%w: no code sender configured", ErrCodeDelivery)
	} else {
		deliveryContext, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Duration(service.deliveryTimeoutSeconds)*time.Second)
		defer cancel()
		if err := service.sender.SendCode(deliveryContext, delivery); err != nil {
			deliveryError = fmt.Errorf("%w: %v", ErrCodeDelivery, err)
		}
	}
	service.logOperation(ctx, OperationLog{
		Operation:   OperationDeliverCode,
		CustomerID:  customerID,
		ReferenceID: delivery.AttemptID.String(),
		Error:       deliveryError,
	})
}
