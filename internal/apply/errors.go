package apply

import (
	"context"
	"errors"
	"fmt"

	"github.com/lance13c/uimap/internal/browser"
	"github.com/lance13c/uimap/internal/types"
)

// FailureClass decides whether a failed attempt is retried
type FailureClass string

const (
	Transient FailureClass = "transient"
	Terminal  FailureClass = "terminal"
)

// InputError is a target value the control cannot take
type InputError struct {
	SettingID string
	PageID    string
	Value     any
	Reason    string
}

func (e *InputError) Error() string {
	if e.PageID == "" {
		return fmt.Sprintf("invalid value %v for setting %s: %s", e.Value, e.SettingID, e.Reason)
	}
	return fmt.Sprintf("invalid value %v for setting %s on page %s: %s", e.Value, e.SettingID, e.PageID, e.Reason)
}

// SchemaError rejects a map before any page is touched
type SchemaError struct {
	Version   string
	Supported []string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("map schema version %q is not supported (want one of %v)", e.Version, e.Supported)
}

// CheckSchema is the plan-time gate on the map's schema version
func CheckSchema(m *types.UiMap) error {
	if !types.IsSupportedSchema(m.Meta.SchemaVersion) {
		return &SchemaError{Version: m.Meta.SchemaVersion, Supported: types.SupportedSchemaVersions}
	}
	return nil
}

// errNotApplied means the control still reads the old value after acting
var errNotApplied = errors.New("value did not take effect")

// Classify sorts an attempt failure. Unknown errors are terminal so a bug
// is never retried into a device.
func Classify(err error) FailureClass {
	var ie *InputError
	var se *SchemaError
	switch {
	case err == nil:
		return Terminal
	case errors.As(err, &ie), errors.As(err, &se):
		return Terminal
	case errors.Is(err, context.Canceled):
		return Terminal
	case errors.Is(err, errNotApplied), browser.IsTransient(err):
		return Transient
	}
	return Terminal
}
