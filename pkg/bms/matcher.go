package bms

import (
	"bytes"
	"path"

	"tinygo.org/x/bluetooth"
)

// Advertisement is a host-neutral view of one BLE discovery record, carrying
// just the fields matchers inspect.
type Advertisement struct {
	Address          string
	LocalName        string
	RSSI             int16
	Connectable      bool
	ServiceUUIDs     []bluetooth.UUID
	ServiceData      map[bluetooth.UUID][]byte
	ManufacturerData map[uint16][]byte
}

// AdvertisementFromScan converts a live scan result. The tinygo payload does
// not enumerate advertised service class UUIDs, so ServiceUUIDs carries the
// service-data UUIDs; hosts with richer discovery records fill in the rest
// themselves.
func AdvertisementFromScan(res bluetooth.ScanResult) Advertisement {
	adv := Advertisement{
		Address:          res.Address.String(),
		LocalName:        res.LocalName(),
		RSSI:             res.RSSI,
		Connectable:      true,
		ServiceData:      make(map[bluetooth.UUID][]byte),
		ManufacturerData: make(map[uint16][]byte),
	}
	for _, e := range res.ManufacturerData() {
		adv.ManufacturerData[e.CompanyID] = e.Data
	}
	for _, e := range res.ServiceData() {
		adv.ServiceData[e.UUID] = e.Data
		adv.ServiceUUIDs = append(adv.ServiceUUIDs, e.UUID)
	}
	return adv
}

// Matcher constrains advertisement fields identifying one supported device
// model. Nil/empty fields are unconstrained; the set fields must all hold for
// the matcher to accept an advertisement.
type Matcher struct {
	// LocalName is an exact name or a glob pattern (e.g. "SIMBMS*").
	LocalName string
	// ServiceUUID must appear among the advertised service UUIDs.
	ServiceUUID *bluetooth.UUID
	// ServiceDataUUID must have a service-data entry.
	ServiceDataUUID *bluetooth.UUID
	// ManufacturerID must have a manufacturer-data entry.
	ManufacturerID *uint16
	// ManufacturerDataStart is a required prefix of the manufacturer data.
	// Only meaningful together with ManufacturerID.
	ManufacturerDataStart []byte
	// Connectable, when set, must equal the advertisement's connectable flag.
	Connectable *bool
}

// Matches reports whether every set constraint holds for adv.
func (m Matcher) Matches(adv Advertisement) bool {
	if m.LocalName != "" {
		if ok, err := path.Match(m.LocalName, adv.LocalName); err != nil || !ok {
			return false
		}
	}
	if m.ServiceUUID != nil {
		found := false
		for _, u := range adv.ServiceUUIDs {
			if u == *m.ServiceUUID {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if m.ServiceDataUUID != nil {
		if _, ok := adv.ServiceData[*m.ServiceDataUUID]; !ok {
			return false
		}
	}
	if m.ManufacturerID != nil {
		data, ok := adv.ManufacturerData[*m.ManufacturerID]
		if !ok {
			return false
		}
		if len(m.ManufacturerDataStart) > 0 && !bytes.HasPrefix(data, m.ManufacturerDataStart) {
			return false
		}
	}
	if m.Connectable != nil && *m.Connectable != adv.Connectable {
		return false
	}
	return true
}

// Supported reports whether adv satisfies any one of the matchers. An empty
// matcher list supports nothing.
func Supported(matchers []Matcher, adv Advertisement) bool {
	for _, m := range matchers {
		if m.Matches(adv) {
			return true
		}
	}
	return false
}

// UUID16 returns a pointer to the 16-bit Bluetooth SIG UUID, for matcher
// literals.
func UUID16(id uint16) *bluetooth.UUID {
	u := bluetooth.New16BitUUID(id)
	return &u
}

// Uint16 returns a pointer to v, for matcher literals.
func Uint16(v uint16) *uint16 { return &v }

// Bool returns a pointer to b, for matcher literals.
func Bool(b bool) *bool { return &b }
