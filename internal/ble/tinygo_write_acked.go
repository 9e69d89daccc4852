//go:build darwin || windows

package ble

import (
	"encoding/base64"
	"fmt"
	"time"
)

// CoreBluetooth and WinRT acknowledge each write, so chunks need no extra
// spacing beyond the configured delay.
const writePacing time.Duration = 0

func (c *tinyGoCharacteristic) Write(encoded string) error {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return fmt.Errorf("decode chunk: %w", err)
	}
	_, err = c.char.Write(data)
	return err
}
