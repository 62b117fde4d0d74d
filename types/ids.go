package types

import "github.com/google/uuid"

// NewStepID returns a fresh observed-step identifier.
func NewStepID() string { return "stp_" + uuid.NewString() }

// NewInstanceID returns a fresh workflow-instance identifier.
func NewInstanceID() string { return "ins_" + uuid.NewString() }

// NewTemplateID returns a fresh workflow-template identifier.
func NewTemplateID() string { return "tpl_" + uuid.NewString() }

// NewRunID returns a fresh workflow-run identifier.
func NewRunID() string { return "run_" + uuid.NewString() }
