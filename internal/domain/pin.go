package domain

import (
	"errors"
	"fmt"
)

const (
	MinPINLength = 4
	MaxPINLength = 8
)

var ErrWeakPIN = errors.New("weak PIN")

var knownWeakPINs = map[string]bool{
	"1212": true, "1122": true, "6969": true, "2580": true,
	"121212": true, "112233": true, "123123": true, "696969": true,
	"12341234": true, "11223344": true,
}

// CheckPIN accepts 4 to 8 digits that are not all the same digit, not a
// straight run up or down, and not on the common-PIN list.
func CheckPIN(pin string) error {
	if len(pin) < MinPINLength || len(pin) > MaxPINLength {
		return fmt.Errorf("%w: PIN must be %d to %d digits", ErrWeakPIN, MinPINLength, MaxPINLength)
	}
	for i := 0; i < len(pin); i++ {
		if pin[i] < '0' || pin[i] > '9' {
			return fmt.Errorf("%w: PIN must contain digits only", ErrWeakPIN)
		}
	}
	if knownWeakPINs[pin] {
		return fmt.Errorf("%w: common PIN not allowed", ErrWeakPIN)
	}

	allSame := true
	ascending, descending := true, true
	for i := 1; i < len(pin); i++ {
		if pin[i] != pin[0] {
			allSame = false
		}
		diff := int(pin[i]) - int(pin[i-1])
		if diff != 1 {
			ascending = false
		}
		if diff != -1 {
			descending = false
		}
	}
	if allSame {
		return fmt.Errorf("%w: all-same-digit PIN not allowed", ErrWeakPIN)
	}
	if ascending || descending {
		return fmt.Errorf("%w: sequential PIN not allowed", ErrWeakPIN)
	}
	return nil
}
