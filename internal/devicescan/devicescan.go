// Package devicescan auto-locates the motion and fixture serial
// devices by udev vendor/product properties, so an operator doesn't
// have to hand-type /dev/ttyUSB* paths. It is strictly optional: the
// server falls back to the paths configured by the operator whenever
// --auto-detect isn't passed (§4.L).
package devicescan

import (
	"fmt"

	"github.com/jochenvg/go-udev"
)

// Match narrows a udev "tty" subsystem scan to one device.
type Match struct {
	VendorID  string
	ProductID string
	// Serial, if set, further narrows by ID_SERIAL_SHORT.
	Serial string
}

// Candidate is one serial device udev reports matching a Match.
type Candidate struct {
	DevNode   string
	VendorID  string
	ProductID string
	Serial    string
}

// Find enumerates tty devices visible to udev and returns every one
// matching m. VendorID/ProductID are required; Serial, if non-empty,
// must also match.
func Find(m Match) ([]Candidate, error) {
	u := udev.Udev{}
	e := u.NewEnumerate()

	if err := e.AddMatchSubsystem("tty"); err != nil {
		return nil, fmt.Errorf("devicescan: не удалось задать фильтр подсистемы: %w", err)
	}
	if m.VendorID != "" {
		if err := e.AddMatchProperty("ID_VENDOR_ID", m.VendorID); err != nil {
			return nil, fmt.Errorf("devicescan: не удалось задать фильтр vendor id: %w", err)
		}
	}
	if m.ProductID != "" {
		if err := e.AddMatchProperty("ID_MODEL_ID", m.ProductID); err != nil {
			return nil, fmt.Errorf("devicescan: не удалось задать фильтр product id: %w", err)
		}
	}

	devices, err := e.Devices()
	if err != nil {
		return nil, fmt.Errorf("devicescan: ошибка перечисления устройств: %w", err)
	}

	var out []Candidate
	for _, d := range devices {
		if d.Devnode() == "" {
			continue
		}
		serial := d.PropertyValue("ID_SERIAL_SHORT")
		if m.Serial != "" && serial != m.Serial {
			continue
		}
		out = append(out, Candidate{
			DevNode:   d.Devnode(),
			VendorID:  d.PropertyValue("ID_VENDOR_ID"),
			ProductID: d.PropertyValue("ID_MODEL_ID"),
			Serial:    serial,
		})
	}
	return out, nil
}

// FindOne is Find narrowed to exactly one result; it errors if zero
// or more than one device matches, since the caller needs a single
// unambiguous device path to open.
func FindOne(m Match) (Candidate, error) {
	candidates, err := Find(m)
	if err != nil {
		return Candidate{}, err
	}
	switch len(candidates) {
	case 0:
		return Candidate{}, fmt.Errorf("devicescan: устройство не найдено (vendor=%s, product=%s)", m.VendorID, m.ProductID)
	case 1:
		return candidates[0], nil
	default:
		return Candidate{}, fmt.Errorf("devicescan: найдено несколько устройств (vendor=%s, product=%s): %d совпадений", m.VendorID, m.ProductID, len(candidates))
	}
}
