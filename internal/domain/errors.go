/**
 * @description
 * Error taxonomy shared by the referral engine, the store and the API layer.
 * Every error is locally recoverable; callers test for them with errors.Is.
 */
package domain

import "errors"

var (
	ErrNotFound            = errors.New("not found")
	ErrSelfReference       = errors.New("self reference")
	ErrInvalidDepth        = errors.New("invalid depth")
	ErrInvalidPeriod       = errors.New("invalid settlement period")
	ErrInvalidTier         = errors.New("invalid tier")
	ErrInvalidStatus       = errors.New("invalid status")
	ErrTierCapped          = errors.New("already at maximum tier")
	ErrPeriodSettled       = errors.New("settlement period already completed")
	ErrSettlementBusy      = errors.New("settlement for period is already running")
	ErrDuplicateMobile     = errors.New("mobile already registered")
	ErrReferralCodeTaken   = errors.New("referral code already taken")
	ErrInvalidCounter      = errors.New("invalid ledger counter")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInvalidMobile       = errors.New("invalid mobile")
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrNotInTeam           = errors.New("user is not in the beneficiary's team at that layer")
	ErrRewardRecorded      = errors.New("reward already recorded for order")
)
