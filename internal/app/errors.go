package app

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/Djonahuti/u-bank/internal/domain"
)

var (
	ErrCustomerNotFound       = errors.New("customer not found")
	ErrBankNotFound           = errors.New("bank account not found")
	ErrProfileIncomplete      = errors.New("Customer profile not completed. Please complete your profile before linking a bank account.")
	ErrProfileExists          = errors.New("customer profile already exists")
	ErrForbidden              = errors.New("customer does not belong to the authenticated user")
	ErrLinkToken              = errors.New("failed to create link token")
	ErrExchange               = errors.New("failed to exchange public token")
	ErrAccountNotFound        = errors.New("Account not found")
	ErrRemoteProvisioning     = errors.New("payment network did not provision the resource")
	ErrProcessorToken         = fmt.Errorf("failed to create processor token: %w", ErrRemoteProvisioning)
	ErrTransferRejected       = fmt.Errorf("transfer rejected by payment network: %w", ErrRemoteProvisioning)
	ErrRemoteTimeout          = errors.New("remote provider did not respond in time; please try again")
	ErrPersistence            = errors.New("failed to persist record after remote success")
	ErrConcurrentProvisioning = errors.New("payment network customer was provisioned concurrently")
)

// InconsistencyError reports that a remote side effect succeeded but the local
// record of it could not be written. RemoteRef carries the remote identifier
// or locator needed to reconcile by hand.
type InconsistencyError struct {
	Kind             domain.ReconciliationKind
	RemoteRef        string
	ReconciliationID string
	Err              error
}

func (e *InconsistencyError) Error() string {
	return fmt.Sprintf("local %s record missing for remote %s: %v", e.Kind, e.RemoteRef, e.Err)
}

func (e *InconsistencyError) Unwrap() error {
	return e.Err
}

// Is lets callers match any inconsistency with errors.Is(err, ErrPersistence).
func (e *InconsistencyError) Is(target error) bool {
	return target == ErrPersistence
}

// RemoteDetailError carries the network-provided message for a declined request.
type RemoteDetailError struct {
	Detail string
	Err    error
}

func (e *RemoteDetailError) Error() string {
	return fmt.Sprintf("%v: %s", e.Err, e.Detail)
}

func (e *RemoteDetailError) Unwrap() error {
	return e.Err
}

// classifyRemote maps context deadline expiry onto ErrRemoteTimeout and wraps
// everything else in sentinel.
func classifyRemote(err error, sentinel error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%w: %w", ErrRemoteTimeout, err)
	}
	return fmt.Errorf("%w: %w", sentinel, err)
}
