package protocol

import (
	"fmt"
	"strings"
)

const (
	TagSet  = "SET"
	TagGet  = "GET"
	TagAck  = "ACK"
	TagNack = "NACK"
	TagCal  = "CAL"
	TagRec  = "REC"

	AttrID    = "ID"
	AttrState = "STATE"
)

// Command and notification IDs.
const (
	IDCalibResult    = "CALIB_RESULT"
	IDCalibrateShow  = "CALIBRATE_SHOW"
	IDCalibrateStart = "CALIBRATE_START"
	IDEnableSendData = "ENABLE_SEND_DATA"
	IDTimeTickFreq   = "TIME_TICK_FREQUENCY"
	IDEnableCounter  = "ENABLE_SEND_COUNTER"
	IDEnableEyeLeft  = "ENABLE_SEND_EYE_LEFT"
	IDEnableEyeRight = "ENABLE_SEND_EYE_RIGHT"
	IDEnablePOGLeft  = "ENABLE_SEND_POG_LEFT"
	IDEnablePOGRight = "ENABLE_SEND_POG_RIGHT"
	IDEnablePOGBest  = "ENABLE_SEND_POG_BEST"
	IDEnablePupilL   = "ENABLE_SEND_PUPIL_LEFT"
	IDEnablePupilR   = "ENABLE_SEND_PUPIL_RIGHT"
	IDEnablePOGFix   = "ENABLE_SEND_POG_FIX"
	IDEnableTime     = "ENABLE_SEND_TIME"
)

const (
	stateOn  = "1"
	stateOff = "0"
)

// DefaultEnableIDs is the set of streams switched on at session start.
func DefaultEnableIDs() []string {
	return []string{
		IDEnableSendData,
		IDEnableCounter,
		IDEnableEyeLeft,
		IDEnableEyeRight,
		IDEnablePOGLeft,
		IDEnablePOGRight,
		IDEnablePOGBest,
		IDEnablePupilL,
		IDEnablePupilR,
		IDEnablePOGFix,
		IDEnableTime,
	}
}

// Set renders <SET ID="id" STATE="1|0" />.
func Set(id string, on bool) (string, error) {
	state := stateOff
	if on {
		state = stateOn
	}
	return SetValue(id, state)
}

// SetValue renders a SET with an arbitrary STATE value.
func SetValue(id, state string) (string, error) {
	if err := validateID(id); err != nil {
		return "", err
	}
	return Message{Tag: TagSet, Attrs: []Attr{
		{Name: AttrID, Value: id},
		{Name: AttrState, Value: state},
	}}.String(), nil
}

// Get renders <GET ID="id" />.
func Get(id string) (string, error) {
	if err := validateID(id); err != nil {
		return "", err
	}
	return Message{Tag: TagGet, Attrs: []Attr{{Name: AttrID, Value: id}}}.String(), nil
}

// EnableCommands renders one SET ... STATE="1" per id, in order.
func EnableCommands(ids []string) ([]string, error) {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		cmd, err := Set(id, true)
		if err != nil {
			return nil, err
		}
		out = append(out, cmd)
	}
	return out, nil
}

// CalibrationStartCommands shows the calibration overlay and starts a pass.
func CalibrationStartCommands() []string {
	show, _ := Set(IDCalibrateShow, true)
	start, _ := Set(IDCalibrateStart, true)
	return []string{show, start}
}

// HideCalibrationCommand removes the calibration overlay.
func HideCalibrationCommand() string {
	cmd, _ := Set(IDCalibrateShow, false)
	return cmd
}

// IsCalibrationResult reports whether m announces a finished calibration pass.
func IsCalibrationResult(m Message) bool {
	id, ok := m.Get(AttrID)
	return ok && id == IDCalibResult
}

// IsCalibrationRow reports whether m is a calibration summary record.
func IsCalibrationRow(m Message) bool {
	return m.Tag == TagCal
}

// IsRecord reports whether m is a telemetry data record.
func IsRecord(m Message) bool {
	return m.Tag == TagRec
}

func validateID(id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("%w: empty", ErrInvalidCommandID)
	}
	if strings.ContainsAny(id, "<>\"\r\n ") {
		return fmt.Errorf("%w: %q", ErrInvalidCommandID, id)
	}
	return nil
}
