package service

import "errors"

// Expected business outcomes, distinct from infrastructure faults which are
// returned as wrapped errors.
var (
	ErrAlreadyAdded         = errors.New("content already added")
	ErrContentNotFound      = errors.New("content not found")
	ErrCompanyNotFound      = errors.New("company not found")
	ErrCompanyExists        = errors.New("company already registered")
	ErrSubscriptionInactive = errors.New("base subscription not active")
)
