// internal/ble/protocol/frame.go
package protocol

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	blecrypto "github.com/holyx-app/holyx-sync/internal/ble/crypto"
)

// Wire markers the firmware scans for.
const (
	StartMarker = "STARTSEND"
	EndMarker   = "ENDSEND"
	Separator   = "____"
)

const (
	// NonceHexLen is the nonce length in hex characters (8 random bytes).
	NonceHexLen = 16
	// MaxScheduleChars bounds the compact schedule the firmware will parse.
	MaxScheduleChars = 100
)

// ErrHashMismatch is returned by ParseFrame when the transmitted hash does not
// match the one recomputed from the received fields.
var ErrHashMismatch = errors.New("protocol: authentication hash mismatch")

// Transaction holds the fields of one payload delivery. Scheduled
// transactions carry Next and Schedule; provisioning transactions sent right
// after a QR scan leave them empty.
type Transaction struct {
	Nonce     string
	Timestamp int64 // epoch seconds at send time
	Next      int64 // epoch seconds of the following due time
	Schedule  string
	Image     string // base64
	DeviceID  string
	Scheduled bool
}

// NewNonce returns a fresh random hex nonce.
func NewNonce() (string, error) {
	return blecrypto.RandomHex(NonceHexLen)
}

// NewScheduled builds a scheduled-sync transaction with a fresh nonce.
func NewScheduled(deviceID, image string, sent, next time.Time, times []string) (Transaction, error) {
	nonce, err := NewNonce()
	if err != nil {
		return Transaction{}, err
	}
	return Transaction{
		Nonce:     nonce,
		Timestamp: sent.Unix(),
		Next:      next.Unix(),
		Schedule:  CompactSchedule(times),
		Image:     image,
		DeviceID:  deviceID,
		Scheduled: true,
	}, nil
}

// NewProvisioning builds a first-contact transaction with a fresh nonce.
func NewProvisioning(deviceID, image string, sent time.Time) (Transaction, error) {
	nonce, err := NewNonce()
	if err != nil {
		return Transaction{}, err
	}
	return Transaction{
		Nonce:     nonce,
		Timestamp: sent.Unix(),
		Image:     image,
		DeviceID:  deviceID,
	}, nil
}

// CompactSchedule concatenates times with every ',' and ':' removed and
// truncates the result to MaxScheduleChars: ["09:00","18:30"] -> "09001830".
func CompactSchedule(times []string) string {
	s := strings.NewReplacer(",", "", ":", "").Replace(strings.Join(times, ""))
	if len(s) > MaxScheduleChars {
		s = s[:MaxScheduleChars]
	}
	return s
}

// Fields returns the hashed fields in wire order.
func (tx Transaction) Fields() []string {
	fields := []string{tx.Nonce, strconv.FormatInt(tx.Timestamp, 10)}
	if tx.Scheduled {
		fields = append(fields, strconv.FormatInt(tx.Next, 10), tx.Schedule)
	}
	return append(fields, tx.Image)
}

// Hash is the SHA-256 hex digest of the separator-joined fields followed by
// the device id.
func (tx Transaction) Hash() (string, error) {
	return blecrypto.Digest(blecrypto.SHA256, strings.Join(tx.Fields(), Separator)+tx.DeviceID)
}

// BuildFrame returns the strings to write, in order:
//
//	STARTSEND<nonce>____<hash>
//	<timestamp>
//	<next>            (scheduled only)
//	<schedule>        (scheduled only)
//	<image>ENDSEND
func BuildFrame(tx Transaction) ([]string, error) {
	hash, err := tx.Hash()
	if err != nil {
		return nil, fmt.Errorf("protocol: hash: %w", err)
	}
	frames := []string{
		StartMarker + tx.Nonce + Separator + hash,
		strconv.FormatInt(tx.Timestamp, 10),
	}
	if tx.Scheduled {
		frames = append(frames, strconv.FormatInt(tx.Next, 10), tx.Schedule)
	}
	return append(frames, tx.Image+EndMarker), nil
}

// ParseFrame reverses BuildFrame the way the firmware does: it strips the
// markers, recovers the fields and checks the hash against deviceID.
func ParseFrame(frames []string, deviceID string) (Transaction, error) {
	if len(frames) != 3 && len(frames) != 5 {
		return Transaction{}, fmt.Errorf("protocol: expected 3 or 5 frames, got %d", len(frames))
	}

	head, ok := strings.CutPrefix(frames[0], StartMarker)
	if !ok {
		return Transaction{}, fmt.Errorf("protocol: first frame lacks %s", StartMarker)
	}
	nonce, hash, ok := strings.Cut(head, Separator)
	if !ok {
		return Transaction{}, fmt.Errorf("protocol: first frame lacks separator")
	}
	image, ok := strings.CutSuffix(frames[len(frames)-1], EndMarker)
	if !ok {
		return Transaction{}, fmt.Errorf("protocol: last frame lacks %s", EndMarker)
	}
	ts, err := strconv.ParseInt(frames[1], 10, 64)
	if err != nil {
		return Transaction{}, fmt.Errorf("protocol: timestamp: %w", err)
	}

	tx := Transaction{Nonce: nonce, Timestamp: ts, Image: image, DeviceID: deviceID}
	if len(frames) == 5 {
		next, err := strconv.ParseInt(frames[2], 10, 64)
		if err != nil {
			return Transaction{}, fmt.Errorf("protocol: next timestamp: %w", err)
		}
		tx.Next, tx.Schedule, tx.Scheduled = next, frames[3], true
	}

	want, err := tx.Hash()
	if err != nil {
		return Transaction{}, err
	}
	if hash != want {
		return Transaction{}, ErrHashMismatch
	}
	return tx, nil
}
