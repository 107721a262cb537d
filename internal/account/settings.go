package account

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
)

// Presets offered by the settings menu.
var (
	HourPresets  = []float64{1, 3, 5, 8, 12, 24}
	DelayPresets = []float64{1, 2, 3.5, 5, 10}
)

var ErrInvalidNumber = errors.New("not a number")

// RangeError reports a setting outside its bounds.
type RangeError struct {
	Field    string
	Min, Max float64
	Unit     string
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("%s must be between %s and %s %s", e.Field, fmtNum(e.Min), fmtNum(e.Max), e.Unit)
}

func fmtNum(f float64) string { return strconv.FormatFloat(f, 'f', -1, 64) }

// Settings is the user-facing form of the campaign timing: duration in
// hours and per-message delay in minutes.
type Settings struct {
	Hours        float64 `json:"hours" validate:"gte=0.1,lte=24"`
	DelayMinutes float64 `json:"delay_minutes" validate:"gte=0.1,lte=60"`
}

// SettingsOf converts the stored durations of a.
func SettingsOf(a Account) Settings {
	return Settings{
		Hours:        a.Duration.Hours(),
		DelayMinutes: a.Delay.Minutes(),
	}
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func settingsValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Validate checks the bounds (0.1..24 hours, 0.1..60 minutes).
func (s Settings) Validate() error {
	if err := settingsValidator().Struct(s); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			switch verrs[0].Field() {
			case "Hours":
				return &RangeError{Field: "duration", Min: 0.1, Max: 24, Unit: "hours"}
			case "DelayMinutes":
				return &RangeError{Field: "delay", Min: 0.1, Max: 60, Unit: "minutes"}
			}
		}
		return err
	}
	return nil
}

// Patch converts validated settings into a store patch.
func (s Settings) Patch() Patch {
	return Patch{
		Duration: Dur(time.Duration(s.Hours * float64(time.Hour))),
		Delay:    Dur(time.Duration(s.DelayMinutes * float64(time.Minute))),
	}
}

// ParseNumber accepts "3.5" and "3,5".
func ParseNumber(raw string) (float64, error) {
	f, err := strconv.ParseFloat(strings.ReplaceAll(strings.TrimSpace(raw), ",", "."), 64)
	if err != nil {
		return 0, ErrInvalidNumber
	}
	return f, nil
}
