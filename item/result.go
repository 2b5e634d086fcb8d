package item

import (
	"encoding/json"
	"strconv"

	"github.com/BranchIntl/couponqueue/errors"
)

// Action tags what kind of bulk run is in progress
type Action string

const (
	ActionGenerate      Action = "generate"
	ActionImport        Action = "import"
	ActionGenerateEmail Action = "generate_email"
	ActionImportEmail   Action = "import_email"
)

// Valid reports whether a is one of the known actions
func (a Action) Valid() bool {
	switch a {
	case ActionGenerate, ActionImport, ActionGenerateEmail, ActionImportEmail:
		return true
	}
	return false
}

// Title is the heading shown for a finished run
func (a Action) Title() string {
	switch a {
	case ActionImport, ActionImportEmail:
		return "Coupon import"
	default:
		return "Coupon bulk generation"
	}
}

// Verb describes what happened to the coupons of a finished run
func (a Action) Verb() string {
	switch a {
	case ActionImportEmail, ActionGenerateEmail:
		return "added & emailed"
	default:
		return "added"
	}
}

// Progressive describes what is happening to coupons while a run is active
func (a Action) Progressive() string {
	switch a {
	case ActionImport, ActionImportEmail:
		return "imported"
	default:
		return "generated"
	}
}

// RunResult is the summary persisted once when a run completes
type RunResult struct {
	Action     Action `json:"action"`
	Successful int64  `json:"successful"`
}

// Message renders the one-time completion banner text
func (r RunResult) Message() string {
	noun := "coupons"
	if r.Successful == 1 {
		noun = "coupon"
	}
	return r.Action.Title() + ": Successfully " + r.Action.Verb() + " " +
		strconv.FormatInt(r.Successful, 10) + " " + noun + "."
}

// EncodeResult serializes a run result
func EncodeResult(r RunResult) ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, errors.NewSerializationError(format, err)
	}
	return data, nil
}

// DecodeResult deserializes a run result
func DecodeResult(data []byte) (RunResult, error) {
	var r RunResult
	if err := json.Unmarshal(data, &r); err != nil {
		return RunResult{}, errors.NewSerializationError(format, err)
	}
	return r, nil
}
