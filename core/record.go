package core

import "github.com/signalsfoundry/constellation-comms/model"

// AntennaRecord carries the persisted fields of one antenna. Pointer
// fields are nil in records written before the field existed.
type AntennaRecord struct {
	HardwareID   model.HardwareID `msgpack:"hardware_id"`
	Frequency    *model.Frequency `msgpack:"frequency,omitempty"`
	OptionalName string           `msgpack:"optional_name,omitempty"`
	InUse        *bool            `msgpack:"in_use,omitempty"`
}

// NodeRecord is everything persisted for one node. The power table is
// stored as parallel key and value sequences in table order.
type NodeRecord struct {
	NodeID          string                 `msgpack:"node_id"`
	FrequencyKeys   []model.Frequency      `msgpack:"freq_keys"`
	FrequencyPowers []float64              `msgpack:"freq_values"`
	Policy          model.ListUpdatePolicy `msgpack:"policy"`
	Membership      bool                   `msgpack:"membership"`
	Antennas        []AntennaRecord        `msgpack:"antennas,omitempty"`

	// Extra holds keys this version does not model; obsolete ones are
	// dropped by UpgradeRecord.
	Extra map[string]string `msgpack:"extra,omitempty"`
}

var obsoleteRecordKeys = []string{"radioFrequency", "communicationMembershipFlag"}

// UpgradeRecord brings a record written by an older version forward:
// antennas without a stored frequency move to the public frequency and
// default to in use, and obsolete node keys are removed. It reports
// whether anything changed.
func UpgradeRecord(rec *NodeRecord, public model.Frequency) bool {
	if rec == nil {
		return false
	}
	changed := false
	for i := range rec.Antennas {
		a := &rec.Antennas[i]
		if a.Frequency == nil {
			f := public
			a.Frequency = &f
			changed = true
		}
		if a.InUse == nil {
			inUse := true
			a.InUse = &inUse
			changed = true
		}
	}
	for _, k := range obsoleteRecordKeys {
		if _, ok := rec.Extra[k]; ok {
			delete(rec.Extra, k)
			changed = true
		}
	}
	return changed
}
