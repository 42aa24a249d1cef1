// Package configflow validates user-supplied plug credentials against the
// device and turns them into a stored config entry.
package configflow

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"tapop105/internal/config"
	"tapop105/internal/tapocli"

	"go.uber.org/zap"
)

// StepUser is the only step of the flow.
const StepUser = "user"

// Form field names.
const (
	FieldIPAddress = "ip_address"
	FieldUsername  = "username"
	FieldPassword  = "password"
)

// Error keys keyed under FieldBase or a field name.
const (
	FieldBase = "base"
	FieldIP   = "ip"

	ErrorRequired = "required"
	ErrorResponse = "response_error"
	ErrorIP       = "ip_error"
	ErrorConnect  = "connect_error"
	ErrorAuth     = "auth_error"
	ErrorUnknown  = "unknown_error"

	AbortAlreadyConfigured = "already_configured"
)

// Schema lists the form fields in display order. All are required strings.
var Schema = []string{FieldIPAddress, FieldUsername, FieldPassword}

// ResultType says how a step ended.
type ResultType string

const (
	ResultForm        ResultType = "form"
	ResultCreateEntry ResultType = "create_entry"
	ResultAbort       ResultType = "abort"
)

// Input is the submitted form.
type Input struct {
	IPAddress string
	Username  string
	Password  string
}

// Result is what the user sees after a step.
type Result struct {
	Type   ResultType
	StepID string
	Schema []string
	// Errors maps a field (or "base") to an error key.
	Errors map[string]string
	// Reason is set for aborts.
	Reason string
	Title  string
	Entry  config.Entry
}

// InfoClient fetches a device's status.
type InfoClient interface {
	Info(ctx context.Context) (tapocli.DeviceStatus, error)
}

// ClientFactory builds an InfoClient for the submitted credentials.
type ClientFactory func(creds tapocli.Credentials) InfoClient

// EntryStore persists config entries.
type EntryStore interface {
	FindByUniqueID(uniqueID string) (config.Entry, bool)
	Add(entry config.Entry) (config.Entry, error)
}

// Flow runs the setup step.
type Flow struct {
	store     EntryStore
	newClient ClientFactory
	logger    *zap.Logger
}

// New creates a flow.
func New(store EntryStore, newClient ClientFactory, logger *zap.Logger) *Flow {
	return &Flow{
		store:     store,
		newClient: newClient,
		logger:    logger.Named("configflow"),
	}
}

// Step handles the user step. A nil input shows the empty form. The error
// return is reserved for failures to persist the entry; device problems are
// reported through Result.Errors.
func (f *Flow) Step(ctx context.Context, input *Input) (Result, error) {
	if input == nil {
		return f.form(nil), nil
	}

	in := Input{
		IPAddress: strings.TrimSpace(input.IPAddress),
		Username:  strings.TrimSpace(input.Username),
		Password:  input.Password,
	}
	if errs := validate(in); len(errs) > 0 {
		return f.form(errs), nil
	}

	client := f.newClient(tapocli.Credentials{
		Address:  in.IPAddress,
		Username: in.Username,
		Password: in.Password,
	})

	status, err := client.Info(ctx)
	if err != nil {
		field, key := FormError(err)
		f.logger.Info("Device validation failed",
			zap.String("ip_address", in.IPAddress),
			zap.String("error", key),
			zap.Error(err))
		return f.form(map[string]string{field: key}), nil
	}
	if err := status.Validate(); err != nil {
		f.logger.Info("Device returned incomplete status",
			zap.String("ip_address", in.IPAddress),
			zap.Error(err))
		return f.form(map[string]string{FieldBase: ErrorResponse}), nil
	}

	uniqueID := status.DeviceID()
	if _, exists := f.store.FindByUniqueID(uniqueID); exists {
		f.logger.Info("Device already configured", zap.String("unique_id", uniqueID))
		return Result{Type: ResultAbort, StepID: StepUser, Reason: AbortAlreadyConfigured}, nil
	}

	entry, err := f.store.Add(config.Entry{
		UniqueID: uniqueID,
		Title:    status.Nickname(),
		Data: config.EntryData{
			IPAddress: in.IPAddress,
			Username:  in.Username,
			Password:  in.Password,
		},
	})
	if err != nil {
		return Result{}, fmt.Errorf("failed to save config entry: %w", err)
	}

	return Result{
		Type:   ResultCreateEntry,
		StepID: StepUser,
		Title:  entry.Title,
		Entry:  entry,
	}, nil
}

func (f *Flow) form(errs map[string]string) Result {
	if errs == nil {
		errs = map[string]string{}
	}
	return Result{
		Type:   ResultForm,
		StepID: StepUser,
		Schema: Schema,
		Errors: errs,
	}
}

func validate(in Input) map[string]string {
	errs := map[string]string{}
	if in.IPAddress == "" {
		errs[FieldIPAddress] = ErrorRequired
	}
	if in.Username == "" {
		errs[FieldUsername] = ErrorRequired
	}
	if in.Password == "" {
		errs[FieldPassword] = ErrorRequired
	}
	return errs
}

// FormError maps an adapter error to the form field and error key shown to
// the user.
func FormError(err error) (field, key string) {
	switch {
	case errors.Is(err, tapocli.ErrInvalidResponse):
		return FieldBase, ErrorResponse
	case errors.Is(err, tapocli.ErrInvalidAddress):
		return FieldIP, ErrorIP
	case errors.Is(err, tapocli.ErrCannotConnect):
		return FieldBase, ErrorConnect
	case errors.Is(err, tapocli.ErrAuthenticationFailed):
		return FieldBase, ErrorAuth
	default:
		return FieldBase, ErrorUnknown
	}
}
