//go:build !darwin && !windows

package ble

import (
	"encoding/base64"
	"fmt"
	"time"
)

// BlueZ writes in this version of tinygo bluetooth are unacknowledged
// (WriteWithoutResponse only), so a returned Write does not mean the
// peripheral has the chunk. writePacing spaces chunks so each one is taken
// off the peripheral's receive buffer before the next arrives.
const writePacing = 20 * time.Millisecond

func (c *tinyGoCharacteristic) Write(encoded string) error {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return fmt.Errorf("decode chunk: %w", err)
	}
	_, err = c.char.WriteWithoutResponse(data)
	return err
}
