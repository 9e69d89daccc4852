package syncer

import (
	"errors"

	"github.com/holyx-app/holyx-sync/internal/ble"
	"github.com/holyx-app/holyx-sync/internal/directory"
)

// Hint maps an interactive failure to text telling the user what to do.
func Hint(err error) string {
	var se *directory.StatusError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ble.ErrPermissionDenied):
		return "Bluetooth is off or this program is not allowed to use it. Turn Bluetooth on and grant access in your system's privacy settings, then try again."
	case errors.Is(err, ble.ErrScanTimeout):
		return "No HOLYX device was found nearby. Make sure it is powered on and within a few meters, then try again."
	case errors.Is(err, ble.ErrScanFailed):
		return "Scanning for devices failed. Check that the Bluetooth adapter is working and try again."
	case errors.Is(err, ble.ErrConnectFailed):
		return "The device was found but the connection failed. Move closer to it and try again."
	case errors.Is(err, ble.ErrWriteFailed):
		return "The connection dropped while sending. Keep the device close and try again."
	case errors.Is(err, ErrSyncInProgress), errors.Is(err, ble.ErrBusy):
		return "Another sync is talking to the device right now. Wait a minute and try again."
	case errors.Is(err, ErrNotProvisioned):
		return "No device is set up yet. Run 'holyx-sync provision <device-id>' first."
	case errors.Is(err, directory.ErrProviderLocked):
		return "Your current provider does not allow switching to another provider."
	case errors.As(err, &se) && se.Code == 404:
		return "This device id is not registered. Check the QR code and try again."
	case errors.Is(err, ErrNoImage):
		return "The provider's content could not be downloaded. Check your internet connection and try again."
	default:
		return "Something went wrong. Try again, and run with --verbose for details."
	}
}
