package states

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/ktheindifferent/lifx-api-server/internal/color"
	"github.com/ktheindifferent/lifx-api-server/internal/device"
)

// MaxDuration is the longest transition accepted, in seconds (100 years).
const MaxDuration = 3_155_760_000

// ErrInvalidRequest is wrapped by every ValidationError.
var ErrInvalidRequest = errors.New("states: invalid request")

// Update is a partial light state, as sent in one element of "states" or as
// the "defaults" object. Nil fields are unset.
type Update struct {
	Selector   string   `json:"selector,omitempty"`
	Power      *string  `json:"power,omitempty"`
	Color      *string  `json:"color,omitempty"`
	Brightness *float64 `json:"brightness,omitempty"`
	Duration   *float64 `json:"duration,omitempty"`
	Infrared   *float64 `json:"infrared,omitempty"`
	Fast       *bool    `json:"fast,omitempty"`
}

// Request is the body of PUT /v1/lights/states.
type Request struct {
	States   []Update `json:"states"`
	Defaults *Update  `json:"defaults,omitempty"`
}

// ValidationError describes the first invalid field of a request.
type ValidationError struct {
	// Field is the JSON path, such as "states[2].brightness".
	Field  string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// Unwrap exposes ErrInvalidRequest and, when present, the underlying parse
// error such as device.ErrInvalidSelector.
func (e *ValidationError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrInvalidRequest, e.Err}
	}
	return []error{ErrInvalidRequest}
}

// mergeDefaults fills every unset field of u from d. The selector is never
// inherited.
func mergeDefaults(u Update, d *Update) Update {
	if d == nil {
		return u
	}
	if u.Power == nil {
		u.Power = d.Power
	}
	if u.Color == nil {
		u.Color = d.Color
	}
	if u.Brightness == nil {
		u.Brightness = d.Brightness
	}
	if u.Duration == nil {
		u.Duration = d.Duration
	}
	if u.Infrared == nil {
		u.Infrared = d.Infrared
	}
	if u.Fast == nil {
		u.Fast = d.Fast
	}
	return u
}

// plan is a validated Update ready to apply.
type plan struct {
	selector device.Selector
	change   device.Change
	fast     bool
}

// validateFields checks the value fields of u. prefix is the JSON path of
// u, used in error messages.
func validateFields(prefix string, u Update) error {
	invalid := func(field, reason string, err error) error {
		return &ValidationError{Field: prefix + "." + field, Reason: reason, Err: err}
	}

	if u.Power != nil {
		switch *u.Power {
		case "on", "off":
		default:
			return invalid("power", fmt.Sprintf("must be \"on\" or \"off\", got %q", *u.Power), nil)
		}
	}
	if u.Brightness != nil && !inRange(*u.Brightness, 0, 1) {
		return invalid("brightness", "must be between 0 and 1", nil)
	}
	if u.Infrared != nil && !inRange(*u.Infrared, 0, 1) {
		return invalid("infrared", "must be between 0 and 1", nil)
	}
	if u.Duration != nil && !inRange(*u.Duration, 0, MaxDuration) {
		return invalid("duration", fmt.Sprintf("must be between 0 and %d seconds", MaxDuration), nil)
	}
	if u.Color != nil {
		if _, err := color.Parse(*u.Color); err != nil {
			return invalid("color", err.Error(), err)
		}
	}
	return nil
}

func inRange(v, lo, hi float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v >= lo && v <= hi
}

// buildPlan validates one merged Update and converts it to a device.Change.
func buildPlan(prefix string, u Update) (plan, error) {
	if u.Selector == "" {
		return plan{}, &ValidationError{Field: prefix + ".selector", Reason: "is required"}
	}
	sel, err := device.ParseSelector(u.Selector)
	if err != nil {
		return plan{}, &ValidationError{Field: prefix + ".selector", Reason: err.Error(), Err: err}
	}
	if err := validateFields(prefix, u); err != nil {
		return plan{}, err
	}

	var c device.Change
	if u.Power != nil {
		on := *u.Power == "on"
		c.Power = &on
	}
	if u.Color != nil {
		c.Color, _ = color.Parse(*u.Color)
	}
	if u.Brightness != nil {
		c.Color = c.Color.WithBrightness(color.FromFraction(*u.Brightness))
	}
	if u.Infrared != nil {
		ir := color.FromFraction(*u.Infrared)
		c.Infrared = &ir
	}
	if u.Duration != nil {
		c.Transition = secondsToDuration(*u.Duration)
	}
	fast := u.Fast != nil && *u.Fast
	c.NoAck = fast

	if c.IsZero() {
		return plan{}, &ValidationError{Field: prefix, Reason: "sets none of power, color, brightness or infrared"}
	}
	return plan{selector: sel, change: c, fast: fast}, nil
}

// secondsToDuration converts fractional seconds, saturating at
// device.MaxTransition.
func secondsToDuration(s float64) time.Duration {
	d := s * float64(time.Second)
	if d >= float64(device.MaxTransition) {
		return device.MaxTransition
	}
	return time.Duration(d)
}

// validate checks the whole request and returns one plan per state, in
// input order. Nothing is sent when it fails.
func (r Request) validate() ([]plan, error) {
	if len(r.States) == 0 {
		return nil, &ValidationError{Field: "states", Reason: "must contain at least one state"}
	}
	if r.Defaults != nil {
		if err := validateFields("defaults", *r.Defaults); err != nil {
			return nil, err
		}
	}

	plans := make([]plan, 0, len(r.States))
	for i, u := range r.States {
		p, err := buildPlan(fmt.Sprintf("states[%d]", i), mergeDefaults(u, r.Defaults))
		if err != nil {
			return nil, err
		}
		plans = append(plans, p)
	}
	return plans, nil
}
