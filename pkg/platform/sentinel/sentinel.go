package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores and infrastructure layers return
// these (optionally wrapped) so services can translate them into domain errors.
//
// These represent factual states about resources, not validation failures:
// - ErrNotFound: entity does not exist in store
// - ErrConflict: unique constraint violated outside the upsert path
// - ErrNotReady: record exists but is not in a state that allows the operation
// - ErrInvalidState: requested status transition is not an allowed one
// - ErrExpired: download token past its expiry instant
// - ErrUnavailable: external collaborator temporarily unreachable
//
// For validation errors (bad input, missing fields), use pkg/domain-errors directly.
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrNotReady     = errors.New("not ready")
	ErrInvalidState = errors.New("invalid state")
	ErrExpired      = errors.New("expired")
	ErrUnavailable  = errors.New("unavailable")
)
