package engine

import (
	"regexp"

	"github.com/mozilla-services/syncstorage-go/pkg/syncerr"
	"github.com/mozilla-services/syncstorage-go/pkg/types"
)

// bsoIDPattern matches the urlsafe-base64 alphabet Sync 1.5 ids are drawn
// from, 1 to 64 characters long.
var bsoIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)

const (
	minSortIndex = -999999999
	maxSortIndex = 999999999

	minTTL = 0
	maxTTL = 999999999 // ~31 years, in seconds
)

func validateBSOID(id string) error {
	if !bsoIDPattern.MatchString(id) {
		return syncerr.New(syncerr.Invalid, "bso id is empty, too long, or contains invalid characters")
	}
	return nil
}

func validateSortIndex(sortIndex *int64) error {
	if sortIndex == nil {
		return nil
	}
	if *sortIndex < minSortIndex || *sortIndex > maxSortIndex {
		return syncerr.New(syncerr.Invalid, "sortindex out of range")
	}
	return nil
}

func validateTTL(ttl *int64) error {
	if ttl == nil {
		return nil
	}
	if *ttl < minTTL || *ttl > maxTTL {
		return syncerr.New(syncerr.Invalid, "ttl out of range")
	}
	return nil
}

func (e *Engine) validatePayload(payload *string) error {
	if payload == nil {
		return nil
	}
	if int64(len(*payload)) > e.limits.MaxRecordPayloadBytes {
		return syncerr.New(syncerr.TooLarge, "bso payload exceeds the per-record size limit")
	}
	return nil
}

func (e *Engine) validateInput(input types.BSOInput) error {
	if err := validateBSOID(input.ID); err != nil {
		return err
	}
	if input.Payload == nil && input.SortIndex == nil && input.TTL == nil {
		return syncerr.New(syncerr.Invalid, "bso input must set payload, sortindex, or ttl")
	}
	if err := validateSortIndex(input.SortIndex); err != nil {
		return err
	}
	if err := validateTTL(input.TTL); err != nil {
		return err
	}
	return e.validatePayload(input.Payload)
}
